package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"fleet-console-backend/db/models"

	"go.uber.org/zap"
)

// MaxUploadSize is the largest spreadsheet accepted (10 MiB).
const MaxUploadSize int64 = 10 * 1024 * 1024

const (
	MIMETypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMETypeXLS  = "application/vnd.ms-excel"
)

// JobUploadBackend is the part of the fleet REST backend the workflow needs.
type JobUploadBackend interface {
	ParseUpload(ctx context.Context, filename, contentType string, file io.Reader) (*models.PreviewData, error)
	DownloadTemplate(ctx context.Context) (*models.FileDownload, error)
	RevalidateRows(ctx context.Context, req models.RevalidateRequest) ([]models.UploadRow, error)
	ValidateRow(ctx context.Context, req models.RevalidateRequest) (*models.UploadRow, error)
	ConfirmUpload(ctx context.Context, req models.ConfirmUploadRequest) (*models.ConfirmUploadResult, error)
}

// SpreadsheetFile is a file picked by the operator.
type SpreadsheetFile struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// ValidateFile applies the type and size guards. It never touches the network.
func ValidateFile(f SpreadsheetFile) error {
	mediaType := strings.ToLower(strings.TrimSpace(f.ContentType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if mediaType != MIMETypeXLSX && mediaType != MIMETypeXLS {
		return fmt.Errorf("%w: %q", ErrUnsupportedFileType, f.ContentType)
	}
	if f.Size > MaxUploadSize {
		return fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, f.Size)
	}
	return nil
}

// Intake hands spreadsheets to the backend parser.
type Intake struct {
	backend JobUploadBackend
	logger  *zap.Logger
}

func NewIntake(backend JobUploadBackend, logger *zap.Logger) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Intake{backend: backend, logger: logger}
}

// SelectFile validates f, sends it to the backend and installs the preview in
// the session. A failure leaves the session as it was; the operator has to
// pick the file again.
func (i *Intake) SelectFile(ctx context.Context, s *Session, f SpreadsheetFile) (*models.PreviewData, error) {
	if err := ValidateFile(f); err != nil {
		return nil, err
	}
	if s.LoadingCategory() != "" {
		return nil, ErrUploadInProgress
	}

	// The size header can lie; never forward more than the limit.
	content := io.LimitReader(f.Content, MaxUploadSize+1)
	counted := &countingReader{r: content}

	preview, err := i.backend.ParseUpload(ctx, f.Name, f.ContentType, counted)
	if counted.n > MaxUploadSize {
		return nil, fmt.Errorf("%w (more than %d bytes)", ErrFileTooLarge, MaxUploadSize)
	}
	if err != nil {
		i.logger.Error("Spreadsheet parse failed", zap.String("session_id", s.ID), zap.String("file", f.Name), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUploadParseFailure, err)
	}
	if preview == nil {
		return nil, fmt.Errorf("%w: empty response", ErrUploadParseFailure)
	}

	s.LoadPreview(f.Name, preview)
	i.logger.Info("Spreadsheet parsed",
		zap.String("session_id", s.ID),
		zap.String("file", f.Name),
		zap.Int("rows", len(preview.Rows)),
		zap.Int("valid_count", preview.ValidCount),
		zap.Int("error_count", preview.ErrorCount))

	return preview, nil
}

// DownloadTemplate returns the backend's spreadsheet template.
func (i *Intake) DownloadTemplate(ctx context.Context) (*models.FileDownload, error) {
	return i.backend.DownloadTemplate(ctx)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
