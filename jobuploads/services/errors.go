package services

import (
	"errors"

	backend "fleet-console-backend/internal/services"
)

var (
	ErrUnsupportedFileType     = errors.New("unsupported file type: upload an Excel file (.xlsx or .xls)")
	ErrFileTooLarge            = errors.New("file too large: the maximum upload size is 10 MB")
	ErrUploadParseFailure      = errors.New("the uploaded file could not be parsed")
	ErrNoRowsSelected          = errors.New("no rows selected for upload")
	ErrRevalidationFailure     = errors.New("re-validation failed")
	ErrConfirmUploadFailure    = errors.New("failed to upload jobs")
	ErrDBDuplicateNotConfirmed = errors.New("force-create of database duplicates was not confirmed")
	ErrUploadInProgress        = errors.New("another upload is already in progress")
	ErrSessionReplaced         = errors.New("the rows were replaced while the upload was in flight")

	ErrSessionNotFound   = errors.New("upload session not found")
	ErrNoPreview         = errors.New("no file has been uploaded in this session")
	ErrRowNotFound       = errors.New("row not found")
	ErrNoActiveEdit      = errors.New("row is not being edited")
	ErrFieldNotEditable  = errors.New("field cannot be edited")
	ErrRowAlreadyCreated = errors.New("a job has already been created for this row")
)

// GenericConfirmFailureMessage is shown when the backend gave no message.
const GenericConfirmFailureMessage = "Failed to upload jobs. Please try again."

// BackendMessage returns the backend's own message carried by err, or "".
func BackendMessage(err error) string {
	var be *backend.BackendError
	if errors.As(err, &be) {
		return be.Message
	}
	return ""
}

// UserMessage is the text a toast should show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := BackendMessage(err); msg != "" {
		return msg
	}
	if errors.Is(err, ErrConfirmUploadFailure) {
		return GenericConfirmFailureMessage
	}
	return err.Error()
}
