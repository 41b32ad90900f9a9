// api_test.go: Package api provides tests for API v2 endpoints.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cora-robotics/cora-server/internal/api/auth"
	"github.com/cora-robotics/cora-server/internal/conf"
	"github.com/cora-robotics/cora-server/internal/datastore"
	"github.com/cora-robotics/cora-server/internal/detection"
)

// setupTestAPI builds a controller backed by an in-memory SQLite store.
func setupTestAPI(t *testing.T, settings *conf.Settings) (*echo.Echo, *Controller, datastore.Interface) {
	t.Helper()

	if settings == nil {
		settings = testSettings(false)
	}

	store := datastore.New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	e := echo.New()
	controller, err := New(e, store, settings, auth.NewJWTService(settings), nil)
	require.NoError(t, err)
	t.Cleanup(controller.Shutdown)

	return e, controller, store
}

func testSettings(authEnabled bool) *conf.Settings {
	s := &conf.Settings{}
	s.Main.Name = "CORA-Test"
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = ":memory:"
	s.Auth.Enabled = authEnabled
	s.Auth.Secret = "test-secret"
	s.Auth.TokenTTL = 60
	s.Ingest.MaxBatchSize = 1000
	s.Ingest.ActiveMinutes = 1440
	return s
}

// performRequest routes the request through the full echo stack, middleware
// included.
func performRequest(e *echo.Echo, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope parses the uniform response envelope.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Contains(t, envelope, "success")
	require.Contains(t, envelope, "message")
	require.Contains(t, envelope, "timestamp")
	return envelope
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

// validPayload builds one well-formed detection event.
func validPayload(action string, ts time.Time, confidence float64) detection.EventPayload {
	return detection.EventPayload{
		Timestamp:   ts.Format(time.RFC3339),
		ActionType:  action,
		Confidence:  floatPtr(confidence),
		PersonID:    intPtr(7),
		FrameNumber: intPtr(1234),
		NormalizedBBox: &detection.BoundingBox{
			X: 0.1, Y: 0.2, Width: 0.25, Height: 0.5, Confidence: confidence,
		},
	}
}

func validBatchRequest(unitID string, payloads ...detection.EventPayload) detection.BatchRequest {
	return detection.BatchRequest{
		UnitID:     unitID,
		UnitName:   "Test Unit",
		StreamURIs: []string{"rtsp://cam.local/stream1"},
		Timestamp:  time.Now().Format(time.RFC3339),
		Detections: payloads,
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	e, controller, _ := setupTestAPI(t, nil)
	controller.Settings.Version = "1.2.3"

	rec := performRequest(e, http.MethodGet, "/api/v2/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope["success"])

	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "up", data["status"])
	assert.Equal(t, "1.2.3", data["version"])
}

func TestIngestBatch(t *testing.T) {
	t.Parallel()
	e, _, _ := setupTestAPI(t, nil)

	now := time.Now()
	body := validBatchRequest("unit-ingest-1",
		validPayload("walking", now, 0.92),
		validPayload("sitting", now.Add(-time.Minute), 0.81),
	)

	rec := performRequest(e, http.MethodPost, "/api/v2/detections", body, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope["success"])

	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "unit-ingest-1", data["unit_id"])
	assert.InDelta(t, 2, data["processed_detections"], 0.01)
	assert.InDelta(t, 2, data["total_detections"], 0.01)

	stats, ok := data["stats"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 2, stats["total_detections"], 0.01)
}

func TestIngestBatchPartial(t *testing.T) {
	t.Parallel()
	e, _, _ := setupTestAPI(t, nil)

	now := time.Now()
	invalid := validPayload("walking", now, 0.9)
	invalid.Confidence = floatPtr(1.7) // out of range, event dropped

	body := validBatchRequest("unit-ingest-2",
		validPayload("walking", now, 0.9),
		invalid,
		validPayload("standing", now, 0.8),
	)

	rec := performRequest(e, http.MethodPost, "/api/v2/detections", body, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.InDelta(t, 2, data["processed_detections"], 0.01)
	assert.InDelta(t, 3, data["total_detections"], 0.01)
}

func TestIngestBatchRejections(t *testing.T) {
	t.Parallel()
	e, _, _ := setupTestAPI(t, nil)

	now := time.Now()

	t.Run("missing unit_id", func(t *testing.T) {
		body := validBatchRequest("", validPayload("walking", now, 0.9))
		rec := performRequest(e, http.MethodPost, "/api/v2/detections", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, false, decodeEnvelope(t, rec)["success"])
	})

	t.Run("empty detections", func(t *testing.T) {
		body := validBatchRequest("unit-x")
		body.Detections = []detection.EventPayload{}
		rec := performRequest(e, http.MethodPost, "/api/v2/detections", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no valid detections", func(t *testing.T) {
		bad := validPayload("walking", now, 0.9)
		bad.PersonID = nil
		body := validBatchRequest("unit-x", bad)
		rec := performRequest(e, http.MethodPost, "/api/v2/detections", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		envelope := decodeEnvelope(t, rec)
		assert.Contains(t, envelope["message"], "No valid detection records")
	})

	t.Run("batch too large", func(t *testing.T) {
		payloads := make([]detection.EventPayload, 0, 1001)
		for range 1001 {
			payloads = append(payloads, validPayload("walking", now, 0.9))
		}
		body := validBatchRequest("unit-x", payloads...)
		rec := performRequest(e, http.MethodPost, "/api/v2/detections", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetUnitDetections(t *testing.T) {
	t.Parallel()
	e, _, _ := setupTestAPI(t, nil)

	now := time.Now()
	body := validBatchRequest("unit-query-1",
		validPayload("walking", now.Add(-time.Minute), 0.9),
		validPayload("walking", now.Add(-2*time.Minute), 0.7),
		validPayload("sitting", now.Add(-3*time.Minute), 0.8),
	)
	rec := performRequest(e, http.MethodPost, "/api/v2/detections", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("all detections", func(t *testing.T) {
		rec := performRequest(e, http.MethodGet, "/api/v2/units/unit-query-1/detections", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		data := decodeEnvelope(t, rec)["data"].(map[string]any)
		assert.InDelta(t, 3, data["count"], 0.01)
		assert.InDelta(t, 0.8, data["avg_confidence"], 0.001)

		actionCounts := data["action_counts"].(map[string]any)
		assert.InDelta(t, 2, actionCounts["walking"], 0.01)
	})

	t.Run("action filter", func(t *testing.T) {
		rec := performRequest(e, http.MethodGet, "/api/v2/units/unit-query-1/detections?action_type=sitting", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		data := decodeEnvelope(t, rec)["data"].(map[string]any)
		assert.InDelta(t, 1, data["count"], 0.01)
	})

	t.Run("invalid action filter", func(t *testing.T) {
		rec := performRequest(e, http.MethodGet, "/api/v2/units/unit-query-1/detections?action_type=flying", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid hours", func(t *testing.T) {
		rec := performRequest(e, http.MethodGet, "/api/v2/units/unit-query-1/detections?hours=-1", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown unit", func(t *testing.T) {
		rec := performRequest(e, http.MethodGet, "/api/v2/units/ghost/detections", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, false, decodeEnvelope(t, rec)["success"])
	})
}

func TestUnitManagement(t *testing.T) {
	t.Parallel()
	e, _, _ := setupTestAPI(t, nil)

	create := UnitPayload{
		UnitID:     "unit-mgmt-1",
		UnitName:   "Warehouse Bot",
		StreamURIs: []string{"rtsp://cam.local/wh1"},
		Status:     datastore.StatusOffline,
	}

	rec := performRequest(e, http.MethodPost, "/api/v2/units", create, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("duplicate create rejected", func(t *testing.T) {
		rec := performRequest(e, http.MethodPost, "/api/v2/units", create, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeEnvelope(t, rec)["message"], "already exists")
	})

	t.Run("get unit", func(t *testing.T) {
		rec := performRequest(e, http.MethodGet, "/api/v2/units/unit-mgmt-1", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		data := decodeEnvelope(t, rec)["data"].(map[string]any)
		assert.Equal(t, "Warehouse Bot", data["unit_name"])
	})

	t.Run("update unit", func(t *testing.T) {
		patch := UnitPayload{UnitName: "Warehouse Bot Mk2", Status: datastore.StatusOnline}
		rec := performRequest(e, http.MethodPatch, "/api/v2/units/unit-mgmt-1", patch, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		data := decodeEnvelope(t, rec)["data"].(map[string]any)
		assert.Equal(t, "Warehouse Bot Mk2", data["unit_name"])
		assert.Equal(t, datastore.StatusOnline, data["status"])
	})

	t.Run("invalid status rejected", func(t *testing.T) {
		rec := performRequest(e, http.MethodPatch, "/api/v2/units/unit-mgmt-1",
			UnitPayload{Status: "hibernating"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete unit", func(t *testing.T) {
		rec := performRequest(e, http.MethodDelete, "/api/v2/units/unit-mgmt-1", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = performRequest(e, http.MethodGet, "/api/v2/units/unit-mgmt-1", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListActiveUnits(t *testing.T) {
	t.Parallel()
	e, _, _ := setupTestAPI(t, nil)

	for i := range 3 {
		body := validBatchRequest(fmt.Sprintf("unit-active-%d", i),
			validPayload("walking", time.Now(), 0.9))
		rec := performRequest(e, http.MethodPost, "/api/v2/detections", body, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := performRequest(e, http.MethodGet, "/api/v2/units/active", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.InDelta(t, 3, data["count"], 0.01)

	units := data["units"].([]any)
	require.Len(t, units, 3)
	for _, item := range units {
		assert.Equal(t, true, item.(map[string]any)["is_active"])
	}
}

func TestUnitSummary(t *testing.T) {
	t.Parallel()
	e, _, _ := setupTestAPI(t, nil)

	now := time.Now()
	body := validBatchRequest("unit-summary-1",
		validPayload("walking", now.Add(-10*time.Minute), 0.9),
		validPayload("walking", now.Add(-20*time.Minute), 0.7),
		validPayload("jumping", now.Add(-30*time.Minute), 0.5),
	)
	rec := performRequest(e, http.MethodPost, "/api/v2/detections", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = performRequest(e, http.MethodGet, "/api/v2/units/unit-summary-1/summary", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	data := decodeEnvelope(t, rec)["data"].(map[string]any)

	unit := data["unit"].(map[string]any)
	assert.Equal(t, "unit-summary-1", unit["unit_id"])
	statsCache := unit["stats_cache"].(map[string]any)
	assert.Equal(t, "walking", statsCache["most_common_action"])

	stats := data["window_stats"].(map[string]any)
	assert.Equal(t, "walking", stats["most_common_action"])
	assert.InDelta(t, 3, stats["window_detections"], 0.01)

	distribution := stats["confidence_distribution"].(map[string]any)
	assert.InDelta(t, 1, distribution["low"], 0.01)
	assert.InDelta(t, 1, distribution["medium"], 0.01)
	assert.InDelta(t, 1, distribution["high"], 0.01)

	// second request is served from cache and must agree
	rec = performRequest(e, http.MethodGet, "/api/v2/units/unit-summary-1/summary", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	cached := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, data["unit"].(map[string]any)["unit_id"],
		cached["unit"].(map[string]any)["unit_id"])

	// a new batch invalidates the cached summary
	rec = performRequest(e, http.MethodPost, "/api/v2/detections",
		validBatchRequest("unit-summary-1", validPayload("sitting", now, 0.6)), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = performRequest(e, http.MethodGet, "/api/v2/units/unit-summary-1/summary", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	refreshed := decodeEnvelope(t, rec)["data"].(map[string]any)["window_stats"].(map[string]any)
	assert.InDelta(t, 4, refreshed["window_detections"], 0.01)
}

func TestAuthGatesReadsButNotIngestion(t *testing.T) {
	t.Parallel()
	settings := testSettings(true)
	e, _, _ := setupTestAPI(t, settings)

	body := validBatchRequest("unit-auth-1", validPayload("walking", time.Now(), 0.9))

	// ingestion stays open without credentials
	rec := performRequest(e, http.MethodPost, "/api/v2/detections", body, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// reads require a token
	rec = performRequest(e, http.MethodGet, "/api/v2/units/unit-auth-1/detections", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, decodeEnvelope(t, rec)["success"])

	svc := auth.NewJWTService(settings)
	token, err := svc.IssueToken("operator")
	require.NoError(t, err)

	rec = performRequest(e, http.MethodGet, "/api/v2/units/unit-auth-1/detections", nil,
		map[string]string{echo.HeaderAuthorization: "Bearer " + token})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	t.Parallel()
	e, _, _ := setupTestAPI(t, nil)

	rec := performRequest(e, http.MethodPost, "/api/v2/units/reconcile", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.InDelta(t, 0, data["duplicate_groups"], 0.01)
}
