package routes

import (
	"fleet-console-backend/jobuploads/controllers"

	"github.com/gofiber/fiber/v2"
)

func JobUploadRouterInit(app *fiber.App, protected fiber.Handler, jobUploadController *controllers.JobUploadController) {
	jobUploadRoutes := app.Group("/api/job-uploads", protected)

	jobUploadRoutes.Get("/template", jobUploadController.DownloadTemplate)

	jobUploadRoutes.Post("/sessions", jobUploadController.CreateSession)
	jobUploadRoutes.Get("/sessions/:id", jobUploadController.GetSession)
	jobUploadRoutes.Delete("/sessions/:id", jobUploadController.DeleteSession)
	jobUploadRoutes.Post("/sessions/:id/file", jobUploadController.UploadFile)
	jobUploadRoutes.Post("/sessions/:id/reset", jobUploadController.ResetSession)

	jobUploadRoutes.Post("/sessions/:id/rows/:row/edit", jobUploadController.StartEdit)
	jobUploadRoutes.Patch("/sessions/:id/rows/:row/edit", jobUploadController.UpdateEdit)
	jobUploadRoutes.Delete("/sessions/:id/rows/:row/edit", jobUploadController.CancelEdit)
	jobUploadRoutes.Post("/sessions/:id/rows/:row/save", jobUploadController.SaveEdit)
	jobUploadRoutes.Post("/sessions/:id/rows/:row/reject", jobUploadController.RejectRow)
	jobUploadRoutes.Post("/sessions/:id/rows/:row/restore", jobUploadController.RestoreRow)

	jobUploadRoutes.Post("/sessions/:id/buckets/:bucket/upload", jobUploadController.UploadBucket)
	jobUploadRoutes.Get("/sessions/:id/buckets/:bucket/export", jobUploadController.ExportBucket)
	jobUploadRoutes.Post("/sessions/:id/error-report", jobUploadController.EmailErrorReport)
	jobUploadRoutes.Get("/sessions/:id/batches", jobUploadController.ListBatches)
}
