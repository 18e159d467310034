package controllers

import (
	"errors"

	"fleet-console-backend/config"
	"fleet-console-backend/jobuploads/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrUnsupportedFileType, fiber.StatusUnsupportedMediaType, "unsupported_file_type"},
	{services.ErrFileTooLarge, fiber.StatusRequestEntityTooLarge, "file_too_large"},
	{services.ErrUploadParseFailure, fiber.StatusBadRequest, "upload_parse_failure"},
	{services.ErrNoRowsSelected, fiber.StatusUnprocessableEntity, "no_rows_selected"},
	{services.ErrUploadInProgress, fiber.StatusConflict, "upload_in_progress"},
	{services.ErrSessionNotFound, fiber.StatusNotFound, "session_not_found"},
	{services.ErrRowNotFound, fiber.StatusNotFound, "row_not_found"},
	{services.ErrNoPreview, fiber.StatusConflict, "no_preview"},
	{services.ErrNoActiveEdit, fiber.StatusConflict, "no_active_edit"},
	{services.ErrRowAlreadyCreated, fiber.StatusConflict, "row_already_created"},
	{services.ErrFieldNotEditable, fiber.StatusBadRequest, "field_not_editable"},
	{services.ErrRevalidationFailure, fiber.StatusBadGateway, "revalidation_failure"},
	{services.ErrConfirmUploadFailure, fiber.StatusBadGateway, "confirm_upload_failure"},
}

// respondError writes err as the {"message","error","code"} body.
func respondError(c *fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "internal_error"
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			status, code = e.status, e.code
			break
		}
	}

	if status >= fiber.StatusInternalServerError {
		config.Logger.Error("Job upload request failed",
			zap.String("path", c.Path()),
			zap.String("code", code),
			zap.Error(err))
	}

	return c.Status(status).JSON(fiber.Map{
		"message": services.UserMessage(err),
		"error":   err.Error(),
		"code":    code,
	})
}
