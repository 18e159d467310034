package controllers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fleet-console-backend/config"
	"fleet-console-backend/db/models"
	backend "fleet-console-backend/internal/services"
	"fleet-console-backend/jobuploads/services"
	"fleet-console-backend/middleware"
	reference "fleet-console-backend/reference/services"
	"fleet-console-backend/tasks"
	"fleet-console-backend/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// BatchHistory lists the recorded confirm-upload attempts of a session.
type BatchHistory interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.UploadBatchLog, error)
}

type JobUploadController struct {
	Sessions   *services.SessionManager
	Intake     *services.Intake
	Editor     *services.Editor
	Uploader   *services.Uploader
	References *reference.Cache
	Reports    *tasks.ReportQueue
	Batches    BatchHistory
}

type sessionView struct {
	services.Snapshot
	Buckets services.Buckets `json:"buckets"`
	Summary services.Summary `json:"summary"`
}

func viewOf(s *services.Session) sessionView {
	snap := s.Snapshot()
	return sessionView{
		Snapshot: snap,
		Buckets:  services.Categorize(snap.Rows),
		Summary:  services.Summarize(snap.Rows),
	}
}

// requestContext carries the operator's token to the backend.
func requestContext(c *fiber.Ctx) context.Context {
	return backend.WithBearerToken(c.UserContext(), middleware.AccessToken(c))
}

func (jc *JobUploadController) session(c *fiber.Ctx) (*services.Session, error) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		return nil, services.ErrSessionNotFound
	}
	return jc.Sessions.Get(c.Params("id"), principal)
}

func rowNumberParam(c *fiber.Ctx) (int, error) {
	n, err := strconv.Atoi(c.Params("row"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", services.ErrRowNotFound, c.Params("row"))
	}
	return n, nil
}

func (jc *JobUploadController) CreateSession(c *fiber.Ctx) error {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Unauthorized", "error": "Authentication required"})
	}
	s := jc.Sessions.Create(principal)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Upload session created",
		"data":    viewOf(s),
	})
}

func (jc *JobUploadController) DeleteSession(c *fiber.Ctx) error {
	principal, _ := middleware.CurrentPrincipal(c)
	if err := jc.Sessions.Delete(c.Params("id"), principal); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Upload session discarded"})
}

func (jc *JobUploadController) GetSession(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": viewOf(s)})
}

func (jc *JobUploadController) DownloadTemplate(c *fiber.Ctx) error {
	file, err := jc.Intake.DownloadTemplate(requestContext(c))
	if err != nil {
		config.Logger.Error("Template download failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"message": services.UserMessage(err),
			"error":   err.Error(),
			"code":    "template_unavailable",
		})
	}
	return sendFile(c, file.Name, file.ContentType, file.Data)
}

func sendFile(c *fiber.Ctx, name, contentType string, data []byte) error {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Send(data)
}

// UploadFile parses the multipart "file" into the session.
func (jc *JobUploadController) UploadFile(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Failed to get file", "error": err.Error(), "code": "missing_file"})
	}

	file := services.SpreadsheetFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Size:        fh.Size,
	}
	// Guards run before the file is opened.
	if err := services.ValidateFile(file); err != nil {
		return respondError(c, err)
	}

	content, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to read file", "error": err.Error(), "code": "unreadable_file"})
	}
	defer content.Close()
	file.Content = content

	preview, err := jc.Intake.SelectFile(requestContext(c), s, file)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":     "File parsed",
		"valid_count": preview.ValidCount,
		"error_count": preview.ErrorCount,
		"data":        viewOf(s),
	})
}

func (jc *JobUploadController) ResetSession(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	if s.LoadingCategory() != "" {
		return respondError(c, services.ErrUploadInProgress)
	}
	s.Reset()
	return c.JSON(fiber.Map{"message": "Ready for another file", "data": viewOf(s)})
}

func (jc *JobUploadController) StartEdit(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	rowNumber, err := rowNumberParam(c)
	if err != nil {
		return respondError(c, err)
	}

	// Dropdowns need the reference lists; a failed load only disables name resolution.
	if jc.References != nil {
		if _, err := jc.References.Load(requestContext(c), s.ID, s.Owner); err != nil {
			config.Logger.Warn("Reference data unavailable for edit", zap.String("session_id", s.ID), zap.Error(err))
		}
	}

	row, err := jc.Editor.StartEdit(s, rowNumber)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": row})
}

type updateFieldsRequest struct {
	Field  string            `json:"field"`
	Value  string            `json:"value"`
	Fields map[string]string `json:"fields"`
}

func (jc *JobUploadController) UpdateEdit(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	rowNumber, err := rowNumberParam(c)
	if err != nil {
		return respondError(c, err)
	}

	var req updateFieldsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request body", "error": err.Error(), "code": "invalid_body"})
	}
	fields := req.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	if req.Field != "" {
		fields[req.Field] = req.Value
	}
	if len(fields) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "No fields to update", "code": "invalid_body"})
	}

	var row models.UploadRow
	for field, value := range fields {
		if row, err = jc.Editor.UpdateField(s, rowNumber, field, value); err != nil {
			return respondError(c, err)
		}
	}
	return c.JSON(fiber.Map{"data": row})
}

func (jc *JobUploadController) SaveEdit(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	rowNumber, err := rowNumberParam(c)
	if err != nil {
		return respondError(c, err)
	}

	result, err := jc.Editor.SaveEdit(requestContext(c), s, rowNumber)
	if err != nil {
		return respondError(c, err)
	}

	message := "Row saved"
	if result.Outcome == services.SavedUnvalidated {
		message = result.Warning
	}
	return c.JSON(fiber.Map{"message": message, "data": result})
}

func (jc *JobUploadController) CancelEdit(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	rowNumber, err := rowNumberParam(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := jc.Editor.CancelEdit(s, rowNumber); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Edit cancelled"})
}

func (jc *JobUploadController) RejectRow(c *fiber.Ctx) error {
	return jc.toggleRejected(c, true)
}

func (jc *JobUploadController) RestoreRow(c *fiber.Ctx) error {
	return jc.toggleRejected(c, false)
}

func (jc *JobUploadController) toggleRejected(c *fiber.Ctx, rejected bool) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	rowNumber, err := rowNumberParam(c)
	if err != nil {
		return respondError(c, err)
	}

	var row models.UploadRow
	if rejected {
		row, err = jc.Editor.RejectRow(s, rowNumber)
	} else {
		row, err = jc.Editor.RestoreRow(s, rowNumber)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": row})
}

type uploadBucketRequest struct {
	RowNumbers         []int `json:"row_numbers"`
	ConfirmForceCreate bool  `json:"confirm_force_create"`
}

// UploadBucket submits the selected rows of one bucket. Database duplicates
// need confirm_force_create, otherwise nothing is sent.
func (jc *JobUploadController) UploadBucket(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	bucket, err := models.ParseBucket(c.Params("bucket"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": err.Error(), "code": "unknown_bucket"})
	}

	var req uploadBucketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request body", "error": err.Error(), "code": "invalid_body"})
		}
	}

	confirm := func(context.Context, []models.UploadRow) bool { return req.ConfirmForceCreate }
	outcome, err := jc.Uploader.Upload(requestContext(c), s, bucket, req.RowNumbers, confirm)
	if err != nil {
		if errors.Is(err, services.ErrDBDuplicateNotConfirmed) {
			return c.JSON(fiber.Map{
				"status":  "not_confirmed",
				"message": "Confirm to create jobs that already exist in the database",
				"data":    viewOf(s),
			})
		}
		return respondError(c, err)
	}

	message := outcome.Message
	if message == "" {
		message = fmt.Sprintf("%d jobs created", len(outcome.CreatedJobs))
	}
	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": message,
		"result":  outcome,
		"data":    viewOf(s),
	})
}

func (jc *JobUploadController) ExportBucket(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	bucket, err := models.ParseBucket(c.Params("bucket"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": err.Error(), "code": "unknown_bucket"})
	}

	rows := services.Categorize(s.Rows()).Get(bucket)
	data, err := utils.RowsToXLSX(services.BucketSheetName(bucket), rows)
	if err != nil {
		return respondError(c, err)
	}
	name := fmt.Sprintf("job_upload_%s_%s.xlsx", bucket, time.Now().Format("20060102_150405"))
	return sendFile(c, name, services.MIMETypeXLSX, data)
}

type errorReportRequest struct {
	Email string `json:"email"`
}

// EmailErrorReport queues an e-mail with the rows that were not uploaded.
func (jc *JobUploadController) EmailErrorReport(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	if jc.Reports == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"message": "E-mail reports are not configured", "code": "reports_unavailable"})
	}

	var req errorReportRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request body", "error": err.Error(), "code": "invalid_body"})
		}
	}
	recipient := req.Email
	if recipient == "" {
		recipient = s.Owner.Email
	}

	snap := s.Snapshot()
	names, sheets := services.ReportSheets(snap.Rows)
	if len(names) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"message": "There are no rows to report", "code": "nothing_to_report"})
	}

	taskID, err := jc.Reports.Enqueue(c.UserContext(), tasks.ErrorReportPayload{
		SessionID:   s.ID,
		Recipient:   recipient,
		FileName:    snap.FileName,
		SheetOrder:  names,
		Sheets:      sheets,
		RequestedAt: time.Now(),
	})
	if err != nil {
		return respondError(c, err)
	}

	config.Logger.Info("Error report queued", zap.String("session_id", s.ID), zap.String("task_id", taskID))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "The error report will be e-mailed to " + recipient,
		"task_id": taskID,
	})
}

// ListBatches returns the upload audit history of the session.
func (jc *JobUploadController) ListBatches(c *fiber.Ctx) error {
	s, err := jc.session(c)
	if err != nil {
		return respondError(c, err)
	}
	if jc.Batches == nil {
		return c.JSON(fiber.Map{"data": []models.UploadBatchLog{}})
	}

	batches, err := jc.Batches.ListBySession(c.UserContext(), s.ID)
	if err != nil {
		config.Logger.Error("Failed to list upload batches", zap.String("session_id", s.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to load upload history", "error": err.Error(), "code": "internal_error"})
	}
	if batches == nil {
		batches = []models.UploadBatchLog{}
	}
	return c.JSON(fiber.Map{"data": batches})
}
