package models

import "strings"

// Markers the backend writes into error_message when it does not send
// duplicate_kind.
const (
	DuplicateInFileMarker     = "Duplicate in file"
	DuplicateInDatabaseMarker = "Duplicate in database"
)

// DuplicateKind is the structured duplicate classification returned by the backend.
type DuplicateKind string

const (
	DuplicateNone DuplicateKind = "none"
	DuplicateFile DuplicateKind = "file"
	DuplicateDB   DuplicateKind = "db"
)

// UploadRow is one spreadsheet row as parsed and validated by the backend.
// RowNumber is the 1-based position in the source file and identifies the row
// for the whole session.
type UploadRow struct {
	RowNumber int `json:"row_number"`

	Customer        string `json:"customer"`
	Service         string `json:"service"`
	VehicleType     string `json:"vehicle_type"`
	Vehicle         string `json:"vehicle"`
	Driver          string `json:"driver"`
	Contractor      string `json:"contractor"`
	PickupDate      string `json:"pickup_date"`
	PickupTime      string `json:"pickup_time"`
	PickupLocation  string `json:"pickup_location"`
	DropoffLocation string `json:"dropoff_location"`
	PassengerName   string `json:"passenger_name"`
	Remarks         string `json:"remarks"`

	// Resolved reference ids, set when an operator picks a value from a dropdown.
	CustomerID    *int `json:"customer_id,omitempty"`
	ServiceID     *int `json:"service_id,omitempty"`
	VehicleTypeID *int `json:"vehicle_type_id,omitempty"`
	VehicleID     *int `json:"vehicle_id,omitempty"`
	DriverID      *int `json:"driver_id,omitempty"`
	ContractorID  *int `json:"contractor_id,omitempty"`

	IsValid       bool          `json:"is_valid"`
	ErrorMessage  string        `json:"error_message"`
	DuplicateKind DuplicateKind `json:"duplicate_kind,omitempty"`
	IsRejected    bool          `json:"is_rejected"`
	JobID         *int          `json:"job_id,omitempty"`
}

// ErrorMessages splits the backend's ';'-separated error string.
func (r UploadRow) ErrorMessages() []string {
	var out []string
	for _, part := range strings.Split(r.ErrorMessage, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Created reports whether the backend already created a job for this row.
func (r UploadRow) Created() bool {
	return r.JobID != nil
}

// Clone returns a copy that shares no pointers with r.
func (r UploadRow) Clone() UploadRow {
	c := r
	c.CustomerID = cloneInt(r.CustomerID)
	c.ServiceID = cloneInt(r.ServiceID)
	c.VehicleTypeID = cloneInt(r.VehicleTypeID)
	c.VehicleID = cloneInt(r.VehicleID)
	c.DriverID = cloneInt(r.DriverID)
	c.ContractorID = cloneInt(r.ContractorID)
	c.JobID = cloneInt(r.JobID)
	return c
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CloneRows copies a row slice element by element.
func CloneRows(rows []UploadRow) []UploadRow {
	if rows == nil {
		return nil
	}
	out := make([]UploadRow, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// PreviewData is the backend's answer to a spreadsheet upload.
type PreviewData struct {
	Rows          []UploadRow       `json:"rows"`
	ValidCount    int               `json:"valid_count"`
	ErrorCount    int               `json:"error_count"`
	ColumnMapping map[string]string `json:"column_mapping"`
}

// CreatedJob links a spreadsheet row to the job the backend created for it.
type CreatedJob struct {
	RowNumber int `json:"row_number"`
	JobID     int `json:"job_id"`
}

// ConfirmUploadRequest is the body of the confirm-upload call.
type ConfirmUploadRequest struct {
	Rows        []UploadRow `json:"rows"`
	ForceCreate bool        `json:"force_create,omitempty"`
}

// ConfirmUploadResult is the backend's answer to a confirm-upload call.
type ConfirmUploadResult struct {
	Message        string       `json:"message,omitempty"`
	ProcessedCount int          `json:"processed_count"`
	SkippedCount   int          `json:"skipped_count"`
	CreatedJobs    []CreatedJob `json:"created_jobs"`
}

// RevalidateRequest is the body of the batch and single-row validation calls.
type RevalidateRequest struct {
	ColumnMapping map[string]string `json:"column_mapping"`
	Rows          []UploadRow       `json:"rows"`
}

// FileDownload is a file streamed back to the browser.
type FileDownload struct {
	Name        string
	ContentType string
	Data        []byte
}
