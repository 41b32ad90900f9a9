// internal/api/v2/units.go
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/cora-robotics/cora-server/internal/datastore"
	"github.com/cora-robotics/cora-server/internal/errors"
)

var payloadValidator = validator.New()

// initUnitRoutes registers the unit registry endpoints. Everything here is a
// query or management operation, so the whole group sits behind auth.
func (c *Controller) initUnitRoutes() {
	units := c.Group.Group("/units", c.AuthMiddleware)

	units.GET("", c.ListUnits)
	units.GET("/active", c.ListActiveUnits)
	units.POST("", c.CreateUnit)
	units.POST("/reconcile", c.ReconcileUnits)
	units.GET("/:unitId", c.GetUnit)
	units.PUT("/:unitId", c.UpdateUnit)
	units.PATCH("/:unitId", c.UpdateUnit)
	units.DELETE("/:unitId", c.DeleteUnit)
	units.GET("/:unitId/summary", c.GetUnitSummary)
}

// UnitPayload is the management request body for creating or updating units.
type UnitPayload struct {
	UnitID     string   `json:"unit_id" validate:"omitempty,max=128"`
	UnitName   string   `json:"unit_name" validate:"omitempty,max=256"`
	StreamURIs []string `json:"stream_uris" validate:"omitempty,dive,uri"`
	Status     string   `json:"status" validate:"omitempty,oneof=online offline error"`
}

// ActiveUnit decorates a unit with its activity flag for the active listing.
type ActiveUnit struct {
	datastore.Unit
	IsActive bool `json:"is_active"`
}

// UnitList is the data payload of a paginated unit listing.
type UnitList struct {
	Units []datastore.Unit `json:"units"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// ListUnits handles GET /api/v2/units with optional status, page and limit
// query parameters.
func (c *Controller) ListUnits(ctx echo.Context) error {
	page, err := intQueryParam(ctx, "page", 1, 1, 1_000_000)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid page parameter")
	}
	limit, err := intQueryParam(ctx, "limit", 10, 1, 100)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid limit parameter")
	}

	status := ctx.QueryParam("status")
	if status != "" && status != datastore.StatusOnline &&
		status != datastore.StatusOffline && status != datastore.StatusError {
		return c.HandleError(ctx, badRequest("unrecognized status"), "Invalid status parameter")
	}

	units, total, err := c.DS.ListUnits(datastore.UnitFilter{Status: status, Page: page, Limit: limit})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list units")
	}

	return c.RespondSuccess(ctx, http.StatusOK, "Units retrieved", UnitList{
		Units: units,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// ListActiveUnits handles GET /api/v2/units/active, returning units seen
// within the activity window, most recent first. The configured window can
// be overridden with an hours query parameter.
func (c *Controller) ListActiveUnits(ctx echo.Context) error {
	window := time.Duration(c.Settings.Ingest.ActiveMinutes) * time.Minute
	if ctx.QueryParam("hours") != "" {
		hours, err := intQueryParam(ctx, "hours", 0, 1, maxQueryHours)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid hours parameter")
		}
		window = time.Duration(hours) * time.Hour
	}

	units, err := c.DS.ListActiveUnits(window)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list active units")
	}

	items := make([]ActiveUnit, 0, len(units))
	for i := range units {
		items = append(items, ActiveUnit{
			Unit:     units[i],
			IsActive: units[i].IsActive(window),
		})
	}

	return c.RespondSuccess(ctx, http.StatusOK, "Active units retrieved", map[string]any{
		"units":          items,
		"count":          len(items),
		"window_minutes": int(window.Minutes()),
	})
}

// GetUnit handles GET /api/v2/units/:unitId.
func (c *Controller) GetUnit(ctx echo.Context) error {
	unit, err := c.DS.GetUnit(ctx.Param("unitId"))
	if err != nil {
		return c.HandleError(ctx, err, "Unit not found")
	}
	return c.RespondSuccess(ctx, http.StatusOK, "Unit retrieved", unit)
}

// CreateUnit handles POST /api/v2/units, the management path for registering
// a unit ahead of its first batch.
func (c *Controller) CreateUnit(ctx echo.Context) error {
	var payload UnitPayload
	if err := ctx.Bind(&payload); err != nil {
		return c.HandleError(ctx, badRequest("malformed request body"), "Invalid request body")
	}
	if payload.UnitID == "" {
		return c.HandleError(ctx, badRequest("unit_id is required"), "Missing unit_id")
	}
	if err := payloadValidator.Struct(&payload); err != nil {
		return c.HandleError(ctx, badRequest(err.Error()), "Invalid unit payload")
	}

	unit, err := c.DS.CreateUnit(payload.UnitID, datastore.UnitPatch{
		DisplayName: payload.UnitName,
		StreamURIs:  payload.StreamURIs,
		Status:      payload.Status,
	})
	if err != nil {
		if errors.Is(err, datastore.ErrUnitExists) {
			return c.HandleError(ctx, err, "Unit ID already exists")
		}
		return c.HandleError(ctx, err, "Failed to create unit")
	}

	return c.RespondSuccess(ctx, http.StatusCreated, "Unit created", unit)
}

// UpdateUnit handles PATCH /api/v2/units/:unitId. Absent fields are left
// untouched.
func (c *Controller) UpdateUnit(ctx echo.Context) error {
	var payload UnitPayload
	if err := ctx.Bind(&payload); err != nil {
		return c.HandleError(ctx, badRequest("malformed request body"), "Invalid request body")
	}
	if err := payloadValidator.Struct(&payload); err != nil {
		return c.HandleError(ctx, badRequest(err.Error()), "Invalid unit payload")
	}

	unit, err := c.DS.UpdateUnit(ctx.Param("unitId"), datastore.UnitPatch{
		DisplayName: payload.UnitName,
		StreamURIs:  payload.StreamURIs,
		Status:      payload.Status,
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update unit")
	}

	return c.RespondSuccess(ctx, http.StatusOK, "Unit updated", unit)
}

// DeleteUnit handles DELETE /api/v2/units/:unitId, removing the unit and all
// of its stored detections.
func (c *Controller) DeleteUnit(ctx echo.Context) error {
	unitID := ctx.Param("unitId")
	if err := c.DS.DeleteUnit(unitID); err != nil {
		return c.HandleError(ctx, err, "Failed to delete unit")
	}

	c.invalidateSummaries(unitID)
	return c.RespondSuccess(ctx, http.StatusOK, "Unit deleted", map[string]string{"unit_id": unitID})
}

// UnitSummary is the data payload of the summary endpoint: unit metadata,
// the cached rolling aggregates and the window stats recomputed for the
// caller's window.
type UnitSummary struct {
	Unit        *datastore.Unit        `json:"unit"`
	WindowStats *datastore.WindowStats `json:"window_stats"`
}

// GetUnitSummary handles GET /api/v2/units/:unitId/summary. Summaries are
// cached briefly; this endpoint backs dashboards that poll aggressively.
func (c *Controller) GetUnitSummary(ctx echo.Context) error {
	unitID := ctx.Param("unitId")

	hours, err := intQueryParam(ctx, "hours", defaultQueryHours, 1, maxQueryHours)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid hours parameter")
	}

	cacheKey := unitID + ":" + strconv.Itoa(hours)
	if cached, found := c.summaryCache.Get(cacheKey); found {
		return c.RespondSuccess(ctx, http.StatusOK, "Unit summary retrieved", cached)
	}

	unit, err := c.DS.GetUnit(unitID)
	if err != nil {
		return c.HandleError(ctx, err, "Unit not found")
	}

	stats, err := c.DS.WindowStats(unitID, time.Duration(hours)*time.Hour)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to compute unit summary")
	}

	summary := UnitSummary{Unit: unit, WindowStats: stats}
	c.summaryCache.SetDefault(cacheKey, summary)
	return c.RespondSuccess(ctx, http.StatusOK, "Unit summary retrieved", summary)
}

// invalidateSummaries drops every cached summary for the unit, whatever the
// window. Called on ingest and delete so cached reads never outlive a write
// by more than the lookup itself.
func (c *Controller) invalidateSummaries(unitID string) {
	prefix := unitID + ":"
	for key := range c.summaryCache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.summaryCache.Delete(key)
		}
	}
}

// ReconcileUnits handles POST /api/v2/units/reconcile, the manual recovery
// path for duplicate unit records.
func (c *Controller) ReconcileUnits(ctx echo.Context) error {
	report, err := c.DS.ReconcileUnits()
	if err != nil {
		return c.HandleError(ctx, err, "Reconciliation failed")
	}
	return c.RespondSuccess(ctx, http.StatusOK, "Reconciliation complete", report)
}
