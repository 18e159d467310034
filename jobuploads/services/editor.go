package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"fleet-console-backend/db/models"
	reference "fleet-console-backend/reference/services"

	"go.uber.org/zap"
)

// NameResolver maps dropdown labels to reference ids for a session.
type NameResolver interface {
	ResolveByName(sessionID string, kind models.ReferenceKind, name string) (int, bool)
	LabelByID(sessionID string, kind models.ReferenceKind, id int) (string, bool)
}

// SaveOutcome tells the caller whether a saved edit was re-validated.
type SaveOutcome string

const (
	SavedValidated   SaveOutcome = "saved_validated"
	SavedUnvalidated SaveOutcome = "saved_unvalidated"
	SaveFailed       SaveOutcome = "failed"
)

// Verdict is the backend's opinion of an edited row.
type Verdict struct {
	IsValid       bool                 `json:"is_valid"`
	ErrorMessage  string               `json:"error_message"`
	DuplicateKind models.DuplicateKind `json:"duplicate_kind,omitempty"`
}

// SaveResult describes a SaveEdit call. Row is the row as stored. Verdict is
// the fresh validation result, informational only: it does not move the row.
type SaveResult struct {
	Outcome SaveOutcome      `json:"outcome"`
	Row     models.UploadRow `json:"row"`
	Verdict *Verdict         `json:"verdict,omitempty"`
	Warning string           `json:"warning,omitempty"`
	Cause   error            `json:"-"`
}

// Editor patches rows through a per-row edit buffer.
type Editor struct {
	backend  JobUploadBackend
	resolver NameResolver
	logger   *zap.Logger
}

func NewEditor(backend JobUploadBackend, resolver NameResolver, logger *zap.Logger) *Editor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Editor{backend: backend, resolver: resolver, logger: logger}
}

// StartEdit copies the row into the edit buffer and returns the copy.
func (e *Editor) StartEdit(s *Session, rowNumber int) (models.UploadRow, error) {
	row, ok := s.Row(rowNumber)
	if !ok {
		return models.UploadRow{}, ErrRowNotFound
	}
	if row.Created() {
		return models.UploadRow{}, ErrRowAlreadyCreated
	}
	s.setEditBuffer(row)
	return row, nil
}

// UpdateField changes one field of the buffered row. Reference fields accept
// either the display name (resolved to an id when unambiguous) or, through
// the *_id variants, the id picked from a dropdown.
func (e *Editor) UpdateField(s *Session, rowNumber int, field, value string) (models.UploadRow, error) {
	row, ok := s.editBuffer(rowNumber)
	if !ok {
		return models.UploadRow{}, ErrNoActiveEdit
	}
	if !reference.CanViewField(field, s.Owner.Role) {
		return models.UploadRow{}, fmt.Errorf("%w: %s", ErrFieldNotEditable, field)
	}
	if err := e.applyField(s.ID, &row, field, value); err != nil {
		return models.UploadRow{}, err
	}
	s.setEditBuffer(row)
	return row, nil
}

func (e *Editor) applyField(sessionID string, row *models.UploadRow, field, value string) error {
	value = strings.TrimSpace(value)

	switch field {
	case "pickup_date":
		row.PickupDate = value
	case "pickup_time":
		row.PickupTime = value
	case "pickup_location":
		row.PickupLocation = value
	case "dropoff_location":
		row.DropoffLocation = value
	case "passenger_name":
		row.PassengerName = value
	case "remarks":
		row.Remarks = value
	default:
		kind, ok := reference.FieldKind(field)
		if !ok {
			return fmt.Errorf("%w: %s", ErrFieldNotEditable, field)
		}
		name, id := referenceField(row, kind)
		if strings.HasSuffix(field, "_id") {
			return e.applyID(sessionID, kind, value, name, id)
		}
		*name = value
		*id = nil
		if e.resolver != nil {
			if resolved, ok := e.resolver.ResolveByName(sessionID, kind, value); ok {
				*id = &resolved
			}
		}
	}
	return nil
}

func (e *Editor) applyID(sessionID string, kind models.ReferenceKind, value string, name *string, id **int) error {
	if value == "" {
		*id = nil
		*name = ""
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%w: %s id must be a number", ErrFieldNotEditable, kind)
	}
	*id = &n
	if e.resolver != nil {
		if label, ok := e.resolver.LabelByID(sessionID, kind, n); ok {
			*name = label
		}
	}
	return nil
}

func referenceField(row *models.UploadRow, kind models.ReferenceKind) (*string, **int) {
	switch kind {
	case models.RefCustomers:
		return &row.Customer, &row.CustomerID
	case models.RefServices:
		return &row.Service, &row.ServiceID
	case models.RefVehicleTypes:
		return &row.VehicleType, &row.VehicleTypeID
	case models.RefVehicles:
		return &row.Vehicle, &row.VehicleID
	case models.RefDrivers:
		return &row.Driver, &row.DriverID
	default:
		return &row.Contractor, &row.ContractorID
	}
}

// SaveEdit re-validates the buffered row and writes it back. The row keeps
// the validation state it had before the edit, so it stays in its bucket
// until a bucket upload moves it. If the backend cannot be reached the raw
// edit is stored and the result says it was not re-validated.
func (e *Editor) SaveEdit(ctx context.Context, s *Session, rowNumber int) (*SaveResult, error) {
	buffered, ok := s.editBuffer(rowNumber)
	if !ok {
		return &SaveResult{Outcome: SaveFailed, Cause: ErrNoActiveEdit}, ErrNoActiveEdit
	}

	req := models.RevalidateRequest{
		ColumnMapping: s.ColumnMapping(),
		Rows:          []models.UploadRow{buffered},
	}
	validated, verr := e.backend.ValidateRow(ctx, req)

	result := &SaveResult{Outcome: SavedValidated}
	merged := buffered
	if verr != nil || validated == nil {
		if verr == nil {
			verr = fmt.Errorf("empty validation response")
		}
		e.logger.Warn("Row re-validation failed, saving without validation",
			zap.String("session_id", s.ID), zap.Int("row_number", rowNumber), zap.Error(verr))
		result.Outcome = SavedUnvalidated
		result.Cause = fmt.Errorf("%w: %w", ErrRevalidationFailure, verr)
		result.Warning = "Saved without re-validation: " + UserMessage(verr)
	} else {
		merged = mergeValidated(buffered, *validated)
		result.Verdict = &Verdict{
			IsValid:       validated.IsValid,
			ErrorMessage:  validated.ErrorMessage,
			DuplicateKind: validated.DuplicateKind,
		}
	}

	err := s.update(func(rows []models.UploadRow) ([]models.UploadRow, error) {
		for i, row := range rows {
			if row.RowNumber != rowNumber {
				continue
			}
			if row.Created() {
				return nil, ErrRowAlreadyCreated
			}
			// Runs under the session lock; rows of the bucket in flight are
			// owned by the upload until it finishes.
			if b, ok := BucketOf(row); ok && b == s.loading {
				return nil, ErrUploadInProgress
			}
			rows[i] = freezeValidation(merged, row)
			result.Row = rows[i].Clone()
			return rows, nil
		}
		return nil, ErrRowNotFound
	})
	if err != nil {
		return &SaveResult{Outcome: SaveFailed, Cause: err}, err
	}

	s.dropEditBuffer(rowNumber)
	e.logger.Info("Row edit saved",
		zap.String("session_id", s.ID),
		zap.Int("row_number", rowNumber),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

// CancelEdit throws the buffer away.
func (e *Editor) CancelEdit(s *Session, rowNumber int) error {
	if !s.dropEditBuffer(rowNumber) {
		return ErrNoActiveEdit
	}
	return nil
}

// RejectRow excludes a row from every bucket without deleting it.
func (e *Editor) RejectRow(s *Session, rowNumber int) (models.UploadRow, error) {
	return e.setRejected(s, rowNumber, true)
}

// RestoreRow undoes RejectRow.
func (e *Editor) RestoreRow(s *Session, rowNumber int) (models.UploadRow, error) {
	return e.setRejected(s, rowNumber, false)
}

func (e *Editor) setRejected(s *Session, rowNumber int, rejected bool) (models.UploadRow, error) {
	var out models.UploadRow
	err := s.update(func(rows []models.UploadRow) ([]models.UploadRow, error) {
		for i := range rows {
			if rows[i].RowNumber == rowNumber {
				rows[i].IsRejected = rejected
				out = rows[i].Clone()
				return rows, nil
			}
		}
		return nil, ErrRowNotFound
	})
	return out, err
}

// mergeValidated takes the backend's normalised fields but keeps the identity
// and any ids the operator resolved that the backend did not echo.
func mergeValidated(buffered, validated models.UploadRow) models.UploadRow {
	merged := validated.Clone()
	merged.RowNumber = buffered.RowNumber
	merged.IsRejected = buffered.IsRejected
	merged.JobID = nil

	if merged.CustomerID == nil {
		merged.CustomerID = buffered.CustomerID
	}
	if merged.ServiceID == nil {
		merged.ServiceID = buffered.ServiceID
	}
	if merged.VehicleTypeID == nil {
		merged.VehicleTypeID = buffered.VehicleTypeID
	}
	if merged.VehicleID == nil {
		merged.VehicleID = buffered.VehicleID
	}
	if merged.DriverID == nil {
		merged.DriverID = buffered.DriverID
	}
	if merged.ContractorID == nil {
		merged.ContractorID = buffered.ContractorID
	}
	return merged
}

// freezeValidation copies the validation state of current onto edited.
func freezeValidation(edited, current models.UploadRow) models.UploadRow {
	out := edited.Clone()
	out.IsValid = current.IsValid
	out.ErrorMessage = current.ErrorMessage
	out.DuplicateKind = current.DuplicateKind
	out.IsRejected = current.IsRejected
	out.JobID = nil
	return out
}
