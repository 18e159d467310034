package services

import (
	"context"
	"errors"
	"io"
	"sync"

	"fleet-console-backend/db/models"
)

// fakeBackend records every call and answers from its fields.
type fakeBackend struct {
	mu sync.Mutex

	preview     *models.PreviewData
	parseErr    error
	parsedBytes int64

	revalidated   []models.UploadRow
	revalidateErr error
	revalidateReq []models.RevalidateRequest

	validated   *models.UploadRow
	validateErr error

	confirmResult *models.ConfirmUploadResult
	confirmErr    error
	confirmReqs   []models.ConfirmUploadRequest
	confirmHook   func()

	calls int
}

func (f *fakeBackend) ParseUpload(_ context.Context, _, _ string, file io.Reader) (*models.PreviewData, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	n, _ := io.Copy(io.Discard, file)
	f.parsedBytes = n
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.preview, nil
}

func (f *fakeBackend) DownloadTemplate(context.Context) (*models.FileDownload, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &models.FileDownload{Name: "template.xlsx", ContentType: MIMETypeXLSX, Data: []byte("xlsx")}, nil
}

func (f *fakeBackend) RevalidateRows(_ context.Context, req models.RevalidateRequest) ([]models.UploadRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.revalidateReq = append(f.revalidateReq, req)
	if f.revalidateErr != nil {
		return nil, f.revalidateErr
	}
	return models.CloneRows(f.revalidated), nil
}

func (f *fakeBackend) ValidateRow(_ context.Context, req models.RevalidateRequest) (*models.UploadRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	if f.validated != nil {
		row := f.validated.Clone()
		return &row, nil
	}
	if len(req.Rows) == 0 {
		return nil, errors.New("no rows")
	}
	row := req.Rows[0].Clone()
	return &row, nil
}

func (f *fakeBackend) ConfirmUpload(_ context.Context, req models.ConfirmUploadRequest) (*models.ConfirmUploadResult, error) {
	f.mu.Lock()
	f.calls++
	f.confirmReqs = append(f.confirmReqs, models.ConfirmUploadRequest{Rows: models.CloneRows(req.Rows), ForceCreate: req.ForceCreate})
	hook := f.confirmHook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	if f.confirmResult != nil {
		return f.confirmResult, nil
	}

	// Default: every submitted row becomes job 1000+row_number.
	out := &models.ConfirmUploadResult{ProcessedCount: len(req.Rows), CreatedJobs: []models.CreatedJob{}}
	for _, row := range req.Rows {
		out.CreatedJobs = append(out.CreatedJobs, models.CreatedJob{RowNumber: row.RowNumber, JobID: 1000 + row.RowNumber})
	}
	return out, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordedBatches struct {
	mu   sync.Mutex
	logs []*models.UploadBatchLog
}

func (r *recordedBatches) RecordBatch(_ context.Context, log *models.UploadBatchLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func intPtr(v int) *int { return &v }

func validRow(n int) models.UploadRow {
	return models.UploadRow{RowNumber: n, Customer: "Acme", Service: "Airport", PickupDate: "2024-01-01", IsValid: true}
}

func errorRow(n int, msg string) models.UploadRow {
	return models.UploadRow{RowNumber: n, Customer: "Acme", Service: "Airport", PickupDate: "2024-01-01", ErrorMessage: msg}
}

func fileDupRow(n int, customer, service, date string) models.UploadRow {
	return models.UploadRow{RowNumber: n, Customer: customer, Service: service, PickupDate: date, ErrorMessage: models.DuplicateInFileMarker}
}

func dbDupRow(n int) models.UploadRow {
	return models.UploadRow{RowNumber: n, Customer: "Acme", Service: "Airport", PickupDate: "2024-01-01", ErrorMessage: models.DuplicateInDatabaseMarker}
}

// previewSession returns a session already in the preview stage.
func previewSession(rows ...models.UploadRow) *Session {
	s := NewSession(models.Principal{Email: "ops@example.com", Role: models.RoleStaff})
	s.LoadPreview("jobs.xlsx", &models.PreviewData{
		Rows:          rows,
		ColumnMapping: map[string]string{"A": "customer"},
	})
	return s
}
