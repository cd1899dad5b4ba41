package http

import (
	"context"
	"fmt"
	"io"
	"time"

	"docgateway/internal/datastore/adapter/persistence"
	"docgateway/internal/datastore/domain/model"
	"docgateway/internal/datastore/usecase"
	apperrors "docgateway/internal/shared/errors"
	"docgateway/internal/shared/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	importField       = "toimport"
	defaultEventCount = 50
	maxEventCount     = 1000
	healthTimeout     = 5 * time.Second
)

// ActionExecutor runs gateway actions.
type ActionExecutor interface {
	Execute(ctx context.Context, a *model.Action) (*usecase.Result, error)
}

// EventReader reads a tenant's change feed.
type EventReader interface {
	RecentEvents(ctx context.Context, tenant string, count int64) ([]persistence.StoredEvent, error)
}

// HealthChecker reports whether the shared database is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler exposes the gateway over HTTP.
type Handler struct {
	Gateway ActionExecutor
	Events  EventReader
	Health  HealthChecker
	Log     logger.Logger
}

// NewHandler creates a handler. events and health may be nil.
func NewHandler(gateway ActionExecutor, events EventReader, health HealthChecker, log logger.Logger) *Handler {
	if log == nil {
		log = logger.WithComponent("http")
	}
	return &Handler{Gateway: gateway, Events: events, Health: health, Log: log}
}

// RegisterRoutes mounts the API on router. auth guards the /v1 group.
func (h *Handler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	router.Get("/health", h.HealthCheck)
	router.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := router.Group("/v1", auth)
	v1.Post("/actions", h.PostAction)

	tenants := v1.Group("/tenants/:tenantId")
	tenants.Get("/export", h.ExportTenant)
	tenants.Post("/import", h.ImportTenant)
	tenants.Get("/events", h.TenantEvents)
}

// PostAction executes one action given as a flat JSON object.
func (h *Handler) PostAction(c *fiber.Ctx) error {
	var action model.Action
	if err := json.Unmarshal(c.Body(), &action); err != nil {
		return writeError(c, apperrors.NewValidationError("invalid action body").WithCause(err))
	}
	if err := authorize(c, action.TenantID, action.Act); err != nil {
		return writeError(c, err)
	}

	res, err := h.Gateway.Execute(c.UserContext(), &action)
	if err != nil {
		return writeError(c, err)
	}
	if res.Action == model.ActionExport {
		return sendArchive(c, action.TenantID, res.Archive)
	}
	return c.JSON(res.Body())
}

func tenantContext(c *fiber.Ctx) model.TenantContext {
	return model.TenantContext{
		TenantID:       c.Params("tenantId"),
		PerAppDatabase: c.QueryBool("perAppDatabase", false),
	}
}

// ExportTenant streams every collection of the tenant as a zip archive.
func (h *Handler) ExportTenant(c *fiber.Ctx) error {
	tenant := tenantContext(c)
	if err := authorize(c, tenant.TenantID, model.ActionExport); err != nil {
		return writeError(c, err)
	}
	res, err := h.Gateway.Execute(c.UserContext(), &model.Action{TenantContext: tenant, Act: model.ActionExport})
	if err != nil {
		return writeError(c, err)
	}
	return sendArchive(c, tenant.TenantID, res.Archive)
}

func sendArchive(c *fiber.Ctx, tenantID string, archive []byte) error {
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.zip"`, tenantID))
	return c.Send(archive)
}

// ImportTenant loads an uploaded archive (multipart field "toimport").
func (h *Handler) ImportTenant(c *fiber.Ctx) error {
	tenant := tenantContext(c)
	if err := authorize(c, tenant.TenantID, model.ActionImport); err != nil {
		return writeError(c, err)
	}

	file, err := c.FormFile(importField)
	if err != nil {
		return writeError(c, apperrors.NewValidationError("missing upload field "+importField).WithCause(err))
	}
	f, err := file.Open()
	if err != nil {
		return writeError(c, apperrors.NewValidationError("unreadable upload").WithCause(err))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return writeError(c, apperrors.NewValidationError("unreadable upload").WithCause(err))
	}

	res, err := h.Gateway.Execute(c.UserContext(), &model.Action{
		TenantContext: tenant,
		Act:           model.ActionImport,
		Archive:       data,
	})
	if err != nil {
		return writeError(c, err)
	}
	h.Log.WithContext(c.UserContext()).WithFields(map[string]interface{}{
		"tenant":   tenant.TenantID,
		"file":     file.Filename,
		"imported": len(res.Imported),
		"skipped":  len(res.Skipped),
	}).Info("archive imported")
	return c.JSON(res.Body())
}

// TenantEvents returns the newest change events of a tenant, newest first.
func (h *Handler) TenantEvents(c *fiber.Ctx) error {
	tenant := tenantContext(c)
	if err := authorize(c, tenant.TenantID, model.ActionList); err != nil {
		return writeError(c, err)
	}
	if h.Events == nil {
		return writeError(c, apperrors.NewNotFoundError("change feed"))
	}
	if err := usecase.ValidateTenantID(tenant.TenantID); err != nil {
		return writeError(c, err)
	}

	count := c.QueryInt("count", defaultEventCount)
	if count <= 0 || count > maxEventCount {
		return writeError(c, apperrors.NewValidationError(fmt.Sprintf("count must be between 1 and %d", maxEventCount)))
	}
	events, err := h.Events.RecentEvents(c.UserContext(), tenant.TenantID, int64(count))
	if err != nil {
		return writeError(c, err)
	}
	if events == nil {
		events = []persistence.StoredEvent{}
	}
	return c.JSON(fiber.Map{"count": len(events), "events": events})
}

// HealthCheck pings the shared database.
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
		defer cancel()
		if err := h.Health.Ping(ctx); err != nil {
			h.Log.Warnf("health check failed: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "UNHEALTHY",
				"error":  "database unavailable",
			})
		}
	}
	return c.JSON(fiber.Map{
		"status":    "HEALTHY",
		"timestamp": time.Now().UTC(),
	})
}
