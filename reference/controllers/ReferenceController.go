package controllers

import (
	"errors"

	"fleet-console-backend/config"
	"fleet-console-backend/db/models"
	backend "fleet-console-backend/internal/services"
	jobuploads "fleet-console-backend/jobuploads/services"
	"fleet-console-backend/middleware"
	"fleet-console-backend/reference/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ReferenceController struct {
	Sessions *jobuploads.SessionManager
	Cache    *services.Cache
}

func (rc *ReferenceController) session(c *fiber.Ctx) (*jobuploads.Session, error) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		return nil, jobuploads.ErrSessionNotFound
	}
	return rc.Sessions.Get(c.Params("id"), principal)
}

func notFound(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "Upload session not found", "error": err.Error(), "code": "session_not_found"})
}

// GetReferenceData returns the dropdown lists the operator may see, loading
// them on first use.
func (rc *ReferenceController) GetReferenceData(c *fiber.Ctx) error {
	s, err := rc.session(c)
	if err != nil {
		return notFound(c, err)
	}

	ctx := backend.WithBearerToken(c.UserContext(), middleware.AccessToken(c))
	data, err := rc.Cache.Load(ctx, s.ID, s.Owner)
	if err != nil {
		config.Logger.Error("Reference data load failed", zap.String("session_id", s.ID), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"message": "Failed to load reference data", "error": err.Error(), "code": "reference_unavailable"})
	}

	canView := make(map[models.ReferenceKind]bool, len(models.ReferenceKinds))
	for _, kind := range models.ReferenceKinds {
		canView[kind] = services.CanView(kind, s.Owner.Role)
	}
	return c.JSON(fiber.Map{"data": data, "can_view": canView})
}

// Search is the typeahead over one reference list.
func (rc *ReferenceController) Search(c *fiber.Ctx) error {
	s, err := rc.session(c)
	if err != nil {
		return notFound(c, err)
	}

	kind := models.ReferenceKind(c.Query("kind"))
	if _, known := services.DefaultPaths[kind]; !known {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Unknown reference kind", "code": "unknown_kind"})
	}
	if !services.CanView(kind, s.Owner.Role) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "Not allowed to view " + string(kind), "code": "forbidden"})
	}

	items, err := rc.Cache.Search(s.ID, kind, c.Query("q"), c.QueryInt("limit", 20))
	if errors.Is(err, services.ErrNotLoaded) {
		ctx := backend.WithBearerToken(c.UserContext(), middleware.AccessToken(c))
		if _, err = rc.Cache.Load(ctx, s.ID, s.Owner); err == nil {
			items, err = rc.Cache.Search(s.ID, kind, c.Query("q"), c.QueryInt("limit", 20))
		}
	}
	if err != nil {
		config.Logger.Error("Reference search failed", zap.String("session_id", s.ID), zap.String("kind", string(kind)), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"message": "Search failed", "error": err.Error(), "code": "search_failed"})
	}
	return c.JSON(fiber.Map{"data": items})
}
