// internal/api/v2/detections.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cora-robotics/cora-server/internal/datastore"
	"github.com/cora-robotics/cora-server/internal/detection"
	"github.com/cora-robotics/cora-server/internal/errors"
	"github.com/cora-robotics/cora-server/internal/observability/metrics"
)

// Query parameter defaults and caps for detection listings.
const (
	defaultQueryHours = 24
	maxQueryHours     = 24 * 30
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// initDetectionRoutes registers the ingestion and query endpoints. Ingestion
// is open: remote units carry no credentials. Queries go through the auth
// middleware.
func (c *Controller) initDetectionRoutes() {
	c.Group.POST("/detections", c.IngestBatch)
	c.Group.POST("/units/:unitId/detections", c.IngestDetection)

	protected := c.Group.Group("", c.AuthMiddleware)
	protected.GET("/units/:unitId/detections", c.GetUnitDetections)
}

// IngestResult is the data payload returned for an accepted batch.
type IngestResult struct {
	UnitID              string               `json:"unit_id"`
	UnitName            string               `json:"unit_name"`
	ProcessedDetections int                  `json:"processed_detections"`
	TotalDetections     int                  `json:"total_detections"`
	Stats               datastore.StatsCache `json:"stats"`
}

// IngestBatch handles POST /api/v2/detections. Invalid events inside an
// otherwise well-formed batch are dropped, not fatal; the batch only fails
// when nothing survives validation.
func (c *Controller) IngestBatch(ctx echo.Context) error {
	start := time.Now()

	var req detection.BatchRequest
	if err := ctx.Bind(&req); err != nil {
		c.recordBatch(metrics.OutcomeRejected, 0, 0, 0)
		return c.HandleError(ctx, badRequest("malformed request body"), "Invalid request body")
	}

	if maxBatch := c.Settings.Ingest.MaxBatchSize; maxBatch > 0 && len(req.Detections) > maxBatch {
		c.recordBatch(metrics.OutcomeRejected, len(req.Detections), 0, 0)
		return c.HandleError(ctx, badRequest("batch exceeds maximum size"), "Batch too large")
	}

	batch, err := detection.ValidateBatch(&req)
	if err != nil {
		c.recordBatch(metrics.OutcomeRejected, len(req.Detections), 0, len(req.Detections))
		return c.HandleError(ctx, err, validationMessage(err))
	}

	unit, err := c.DS.AppendBatch(batch)
	if err != nil {
		c.recordBatch(metrics.OutcomeError, batch.Submitted(), 0, batch.Rejected)
		return c.HandleError(ctx, err, "Failed to store detections")
	}

	outcome := metrics.OutcomeAccepted
	if batch.Rejected > 0 {
		outcome = metrics.OutcomePartial
	}
	c.recordBatch(outcome, batch.Submitted(), len(batch.Events), batch.Rejected)
	if c.metrics != nil {
		c.metrics.Ingest.RecordDuration(time.Since(start).Seconds())
	}
	c.invalidateSummaries(unit.UnitID)

	return c.RespondSuccess(ctx, http.StatusCreated, "Detection data processed successfully", IngestResult{
		UnitID:              unit.UnitID,
		UnitName:            unit.DisplayName,
		ProcessedDetections: len(batch.Events),
		TotalDetections:     batch.Submitted(),
		Stats:               unit.Stats,
	})
}

// IngestDetection handles POST /api/v2/units/:unitId/detections, appending a
// single event to an already registered unit.
func (c *Controller) IngestDetection(ctx echo.Context) error {
	unitID := ctx.Param("unitId")

	var payload detection.EventPayload
	if err := ctx.Bind(&payload); err != nil {
		return c.HandleError(ctx, badRequest("malformed request body"), "Invalid request body")
	}

	event, err := detection.ValidateEvent(&payload)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid detection event")
	}

	unit, err := c.DS.AppendDetection(unitID, event)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to store detection")
	}

	c.recordBatch(metrics.OutcomeAccepted, 1, 1, 0)
	c.invalidateSummaries(unit.UnitID)

	return c.RespondSuccess(ctx, http.StatusCreated, "Detection stored", IngestResult{
		UnitID:              unit.UnitID,
		UnitName:            unit.DisplayName,
		ProcessedDetections: 1,
		TotalDetections:     1,
		Stats:               unit.Stats,
	})
}

// DetectionList is the data payload of a detection query.
type DetectionList struct {
	UnitID        string                `json:"unit_id"`
	WindowHours   int                   `json:"window_hours"`
	Count         int                   `json:"count"`
	AvgConfidence float64               `json:"avg_confidence"`
	ActionCounts  map[string]int        `json:"action_counts"`
	Detections    []datastore.Detection `json:"detections"`
}

// GetUnitDetections handles GET /api/v2/units/:unitId/detections.
// Supported query parameters: hours, limit, action_type.
func (c *Controller) GetUnitDetections(ctx echo.Context) error {
	unitID := ctx.Param("unitId")

	hours, err := intQueryParam(ctx, "hours", defaultQueryHours, 1, maxQueryHours)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid hours parameter")
	}

	limit, err := intQueryParam(ctx, "limit", defaultQueryLimit, 1, maxQueryLimit)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid limit parameter")
	}

	actionType := ctx.QueryParam("action_type")
	if actionType != "" && !detection.ActionType(actionType).IsValid() {
		return c.HandleError(ctx, badRequest("unrecognized action type"), "Invalid action_type parameter")
	}

	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	rows, err := c.DS.DetectionsInRange(unitID, start, end, actionType, limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to query detections")
	}

	list := DetectionList{
		UnitID:       unitID,
		WindowHours:  hours,
		Count:        len(rows),
		ActionCounts: make(map[string]int),
		Detections:   rows,
	}
	var confidenceSum float64
	for i := range rows {
		list.ActionCounts[rows[i].ActionType]++
		confidenceSum += rows[i].Confidence
	}
	if len(rows) > 0 {
		list.AvgConfidence = confidenceSum / float64(len(rows))
	}

	return c.RespondSuccess(ctx, http.StatusOK, "Detections retrieved", list)
}

// recordBatch feeds the ingest metrics when metrics are wired.
func (c *Controller) recordBatch(outcome string, submitted, stored, dropped int) {
	if c.metrics != nil {
		c.metrics.Ingest.RecordBatch(outcome, submitted, stored, dropped)
	}
}

// badRequest builds a categorized validation error for malformed requests.
func badRequest(message string) error {
	return errors.Newf("%s", message).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// validationMessage distinguishes the all-events-invalid failure from other
// validation failures in the operator-facing message.
func validationMessage(err error) string {
	if errors.Is(err, detection.ErrNoValidDetections) {
		return "No valid detection records in batch"
	}
	return "Invalid detection batch"
}

// intQueryParam parses an optional integer query parameter, clamping nothing:
// out-of-range values are an error, not silently adjusted.
func intQueryParam(ctx echo.Context, name string, defaultValue, minValue, maxValue int) (int, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < minValue || value > maxValue {
		return 0, badRequest(name + " must be an integer between " +
			strconv.Itoa(minValue) + " and " + strconv.Itoa(maxValue))
	}
	return value, nil
}
