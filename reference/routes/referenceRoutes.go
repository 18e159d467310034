package routes

import (
	"fleet-console-backend/reference/controllers"

	"github.com/gofiber/fiber/v2"
)

func ReferenceRouterInit(app *fiber.App, protected fiber.Handler, referenceController *controllers.ReferenceController) {
	referenceRoutes := app.Group("/api/reference", protected)
	referenceRoutes.Get("/sessions/:id", referenceController.GetReferenceData)
	referenceRoutes.Get("/sessions/:id/search", referenceController.Search)
}
