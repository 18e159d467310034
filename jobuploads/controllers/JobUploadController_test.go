package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"fleet-console-backend/db/models"
	"fleet-console-backend/jobuploads/controllers"
	"fleet-console-backend/jobuploads/routes"
	"fleet-console-backend/jobuploads/services"
	"fleet-console-backend/middleware"
	"fleet-console-backend/token"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	preview  *models.PreviewData
	confirms int
	// started and release hold ConfirmUpload open when set.
	started chan struct{}
	release chan struct{}
}

func (b *stubBackend) ParseUpload(_ context.Context, _, _ string, file io.Reader) (*models.PreviewData, error) {
	_, _ = io.Copy(io.Discard, file)
	return b.preview, nil
}

func (b *stubBackend) DownloadTemplate(context.Context) (*models.FileDownload, error) {
	return &models.FileDownload{Name: "template.xlsx", ContentType: services.MIMETypeXLSX, Data: []byte("xlsx")}, nil
}

func (b *stubBackend) RevalidateRows(_ context.Context, req models.RevalidateRequest) ([]models.UploadRow, error) {
	return req.Rows, nil
}

func (b *stubBackend) ValidateRow(_ context.Context, req models.RevalidateRequest) (*models.UploadRow, error) {
	row := req.Rows[0]
	return &row, nil
}

func (b *stubBackend) ConfirmUpload(_ context.Context, req models.ConfirmUploadRequest) (*models.ConfirmUploadResult, error) {
	b.confirms++
	if b.started != nil {
		close(b.started)
		<-b.release
	}
	out := &models.ConfirmUploadResult{ProcessedCount: len(req.Rows)}
	for _, row := range req.Rows {
		out.CreatedJobs = append(out.CreatedJobs, models.CreatedJob{RowNumber: row.RowNumber, JobID: 500 + row.RowNumber})
	}
	return out, nil
}

type harness struct {
	app        *fiber.App
	backend    *stubBackend
	controller *controllers.JobUploadController
	token      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	maker, err := token.NewPasetoMaker("12345678901234567890123456789012")
	require.NoError(t, err)
	tok, err := maker.CreateToken(models.Principal{Email: "ops@example.com", Role: models.RoleStaff}, time.Hour)
	require.NoError(t, err)

	fb := &stubBackend{preview: &models.PreviewData{
		Rows: []models.UploadRow{
			{RowNumber: 1, Customer: "Acme", IsValid: true},
			{RowNumber: 2, Customer: "Acme", ErrorMessage: "Unknown service"},
			{RowNumber: 3, Customer: "Acme", ErrorMessage: models.DuplicateInDatabaseMarker},
		},
		ValidCount: 1,
		ErrorCount: 2,
	}}

	controller := &controllers.JobUploadController{
		Sessions: services.NewSessionManager(time.Hour, nil),
		Intake:   services.NewIntake(fb, nil),
		Editor:   services.NewEditor(fb, nil, nil),
		Uploader: services.NewUploader(fb, services.NewLocalLocker(), nil, services.DefaultUploaderConfig(), nil),
	}

	app := fiber.New()
	routes.JobUploadRouterInit(app, middleware.ProtectedRoute(&middleware.AppContext{PasetoMaker: maker}), controller)
	return &harness{app: app, backend: fb, controller: controller, token: tok}
}

func (h *harness) do(t *testing.T, method, path, contentType string, body io.Reader) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+h.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func (h *harness) createSession(t *testing.T) string {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/api/job-uploads/sessions", "", nil)
	require.Equal(t, http.StatusCreated, status)
	return body["data"].(map[string]interface{})["id"].(string)
}

func multipartFile(t *testing.T, name, contentType string, content []byte) (string, io.Reader) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, _ = part.Write(content)
	require.NoError(t, w.Close())
	return w.FormDataContentType(), &buf
}

func (h *harness) uploadFile(t *testing.T, id string) {
	t.Helper()
	ct, body := multipartFile(t, "jobs.xlsx", services.MIMETypeXLSX, []byte("xlsx"))
	status, _ := h.do(t, http.MethodPost, "/api/job-uploads/sessions/"+id+"/file", ct, body)
	require.Equal(t, http.StatusOK, status)
}

func TestRequiresToken(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/api/job-uploads/sessions", nil)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadFileRejectsCSV(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	ct, body := multipartFile(t, "jobs.csv", "text/csv", []byte("a,b"))
	status, resp := h.do(t, http.MethodPost, "/api/job-uploads/sessions/"+id+"/file", ct, body)

	assert.Equal(t, http.StatusUnsupportedMediaType, status)
	assert.Equal(t, "unsupported_file_type", resp["code"])
}

func TestUploadFileShowsBuckets(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	ct, body := multipartFile(t, "jobs.xlsx", services.MIMETypeXLSX, []byte("xlsx"))
	status, resp := h.do(t, http.MethodPost, "/api/job-uploads/sessions/"+id+"/file", ct, body)
	require.Equal(t, http.StatusOK, status)

	summary := resp["data"].(map[string]interface{})["summary"].(map[string]interface{})
	assert.EqualValues(t, 1, summary["valid"])
	assert.EqualValues(t, 1, summary["error"])
	assert.EqualValues(t, 1, summary["db_duplicate"])
}

func TestUploadBucketEmptySelection(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)
	h.uploadFile(t, id)

	status, resp := h.do(t, http.MethodPost, "/api/job-uploads/sessions/"+id+"/buckets/valid/upload",
		fiber.MIMEApplicationJSON, strings.NewReader(`{"row_numbers":[]}`))

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "no_rows_selected", resp["code"])
	assert.Zero(t, h.backend.confirms)
}

func TestUploadDBDuplicatesNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)
	h.uploadFile(t, id)
	path := "/api/job-uploads/sessions/" + id + "/buckets/db_duplicate/upload"

	status, resp := h.do(t, http.MethodPost, path, fiber.MIMEApplicationJSON, strings.NewReader(`{"row_numbers":[3]}`))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "not_confirmed", resp["status"])
	assert.Zero(t, h.backend.confirms)

	status, resp = h.do(t, http.MethodPost, path, fiber.MIMEApplicationJSON,
		strings.NewReader(`{"row_numbers":[3],"confirm_force_create":true}`))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, 1, h.backend.confirms)
}

func TestOtherOperatorsCannotSeeSession(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	maker, err := token.NewPasetoMaker("12345678901234567890123456789012")
	require.NoError(t, err)
	h.token, err = maker.CreateToken(models.Principal{Email: "other@example.com", Role: models.RoleStaff}, time.Hour)
	require.NoError(t, err)

	status, resp := h.do(t, http.MethodGet, "/api/job-uploads/sessions/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "session_not_found", resp["code"])
}

func TestEmailErrorReportWithoutQueue(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	status, resp := h.do(t, http.MethodPost, "/api/job-uploads/sessions/"+id+"/error-report", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "reports_unavailable", resp["code"])
}

type fakeBatches struct {
	sessionID string
	batches   []models.UploadBatchLog
}

func (f *fakeBatches) ListBySession(_ context.Context, sessionID string) ([]models.UploadBatchLog, error) {
	f.sessionID = sessionID
	return f.batches, nil
}

func TestListBatches(t *testing.T) {
	h := newHarness(t)
	batches := &fakeBatches{batches: []models.UploadBatchLog{
		{SessionID: "s", Bucket: models.BucketValid, Submitted: 2, CreatedCount: 2},
	}}
	h.controller.Batches = batches
	id := h.createSession(t)

	status, resp := h.do(t, http.MethodGet, "/api/job-uploads/sessions/"+id+"/batches", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, batches.sessionID)
	assert.Len(t, resp["data"], 1)
}

func TestListBatchesWithoutRepository(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	status, resp := h.do(t, http.MethodGet, "/api/job-uploads/sessions/"+id+"/batches", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, resp["data"])
}

func TestResetRejectedWhileUploading(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)
	h.uploadFile(t, id)
	h.backend.started = make(chan struct{})
	h.backend.release = make(chan struct{})

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/job-uploads/sessions/"+id+"/buckets/valid/upload",
			strings.NewReader(`{"row_numbers":[1]}`))
		req.Header.Set("Authorization", "Bearer "+h.token)
		req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
		resp, err := h.app.Test(req, -1)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-h.backend.started

	status, resp := h.do(t, http.MethodPost, "/api/job-uploads/sessions/"+id+"/reset", "", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "upload_in_progress", resp["code"])

	close(h.backend.release)
	assert.Equal(t, http.StatusOK, <-done)

	status, resp = h.do(t, http.MethodGet, "/api/job-uploads/sessions/"+id, "", nil)
	require.Equal(t, http.StatusOK, status)
	rows := resp["data"].(map[string]interface{})["rows"].([]interface{})
	assert.Len(t, rows, 3)
}
