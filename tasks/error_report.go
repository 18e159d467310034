package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleet-console-backend/db/models"
	"fleet-console-backend/utils"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeErrorReport = "job_upload:error_report"

// ErrorReportPayload carries the rows to mail. Sheets is keyed by sheet name
// and SheetOrder fixes the tab order.
type ErrorReportPayload struct {
	SessionID   string                        `json:"session_id"`
	Recipient   string                        `json:"recipient"`
	FileName    string                        `json:"file_name"`
	SheetOrder  []string                      `json:"sheet_order"`
	Sheets      map[string][]models.UploadRow `json:"sheets"`
	RequestedAt time.Time                     `json:"requested_at"`
}

func NewErrorReportTask(p ErrorReportPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode error report payload: %w", err)
	}
	return asynq.NewTask(TypeErrorReport, payload, asynq.MaxRetry(3), asynq.Timeout(2*time.Minute)), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ReportQueue schedules error report e-mails.
type ReportQueue struct {
	client Enqueuer
	queue  string
}

func NewReportQueue(client Enqueuer, queue string) *ReportQueue {
	if queue == "" {
		queue = "default"
	}
	return &ReportQueue{client: client, queue: queue}
}

// Enqueue schedules the report and returns the task id.
func (q *ReportQueue) Enqueue(ctx context.Context, p ErrorReportPayload) (string, error) {
	task, err := NewErrorReportTask(p)
	if err != nil {
		return "", err
	}
	info, err := q.client.EnqueueContext(ctx, task, asynq.Queue(q.queue))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue error report: %w", err)
	}
	return info.ID, nil
}

// EmailSender delivers a message with an optional attachment.
type EmailSender func(to, subject, message, attachmentPath string) error

// EmailLogger records delivered e-mails.
type EmailLogger interface {
	LogEmailSent(ctx context.Context, emailLog *models.EmailLog) error
}

// ErrorReportHandler writes the workbook, mails it and records the e-mail.
type ErrorReportHandler struct {
	send      EmailSender
	emailLogs EmailLogger
	logger    *zap.Logger
}

func NewErrorReportHandler(send EmailSender, emailLogs EmailLogger, logger *zap.Logger) *ErrorReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorReportHandler{send: send, emailLogs: emailLogs, logger: logger}
}

func (h *ErrorReportHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ErrorReportPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid error report payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.Recipient == "" {
		return fmt.Errorf("error report has no recipient: %w", asynq.SkipRetry)
	}

	path, err := utils.SaveRowsWorkbook("job_upload_errors", p.SheetOrder, p.Sheets)
	if err != nil {
		h.logger.Error("Failed to generate error report workbook", zap.String("session_id", p.SessionID), zap.Error(err))
		return err
	}

	total := 0
	for _, rows := range p.Sheets {
		total += len(rows)
	}
	subject := "Job Upload Errors - " + p.RequestedAt.Format("2006-01-02 15:04:05")
	message := fmt.Sprintf("Please find attached the %d rows of %q that were not uploaded.", total, p.FileName)

	if err := h.send(p.Recipient, subject, message, path); err != nil {
		return err
	}

	if h.emailLogs != nil {
		active := true
		emailLog := &models.EmailLog{
			ID:             uuid.New().String(),
			Recipient:      p.Recipient,
			Subject:        subject,
			Message:        message,
			SentAt:         time.Now(),
			Active:         &active,
			AttachmentPath: path,
		}
		if err := h.emailLogs.LogEmailSent(ctx, emailLog); err != nil {
			h.logger.Warn("Failed to log email", zap.String("recipient", p.Recipient), zap.Error(err))
		}
	}

	h.logger.Info("Error report sent",
		zap.String("session_id", p.SessionID),
		zap.String("recipient", p.Recipient),
		zap.Int("rows", total))
	return nil
}

// NewServeMux routes task types to their handlers.
func NewServeMux(reports *ErrorReportHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeErrorReport, reports)
	return mux
}
