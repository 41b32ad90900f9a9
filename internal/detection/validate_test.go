package detection

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cora-robotics/cora-server/internal/errors"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

// validPayload returns a payload that passes every per-event check.
func validPayload() EventPayload {
	return EventPayload{
		Timestamp:   "2026-03-01T10:00:00Z",
		ActionType:  "standing",
		Confidence:  floatPtr(0.9),
		PersonID:    intPtr(1),
		FrameNumber: intPtr(42),
		NormalizedBBox: &BoundingBox{
			X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4, Confidence: 0.95,
		},
	}
}

func TestValidateBatchMissingFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		req  *BatchRequest
	}{
		{"nil request", nil},
		{"missing unit id", &BatchRequest{UnitName: "Lab Bot", Detections: []EventPayload{validPayload()}}},
		{"missing unit name", &BatchRequest{UnitID: "robot-01", Detections: []EventPayload{validPayload()}}},
		{"nil detections", &BatchRequest{UnitID: "robot-01", UnitName: "Lab Bot"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ValidateBatch(tc.req)
			require.Error(t, err)
			assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
		})
	}
}

func TestValidateBatchEmptyDetections(t *testing.T) {
	t.Parallel()

	_, err := ValidateBatch(&BatchRequest{
		UnitID:     "robot-01",
		UnitName:   "Lab Bot",
		Detections: []EventPayload{},
	})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
}

func TestValidateBatchPartialTolerance(t *testing.T) {
	t.Parallel()

	// 5 events, 2 with out-of-range confidence, must yield 3 survivors
	bad1 := validPayload()
	bad1.Confidence = floatPtr(1.5)
	bad2 := validPayload()
	bad2.Confidence = floatPtr(-0.1)

	req := &BatchRequest{
		UnitID:   "robot-01",
		UnitName: "Lab Bot",
		Detections: []EventPayload{
			validPayload(), bad1, validPayload(), bad2, validPayload(),
		},
	}

	batch, err := ValidateBatch(req)
	require.NoError(t, err)
	assert.Len(t, batch.Events, 3)
	assert.Equal(t, 2, batch.Rejected)
	assert.Equal(t, 5, batch.Submitted())
}

func TestValidateBatchAllInvalid(t *testing.T) {
	t.Parallel()

	bad := validPayload()
	bad.NormalizedBBox = &BoundingBox{X: 2.0, Y: 0.1, Width: 0.1, Height: 0.1, Confidence: 0.5}

	_, err := ValidateBatch(&BatchRequest{
		UnitID:     "robot-01",
		UnitName:   "Lab Bot",
		Detections: []EventPayload{bad, bad},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoValidDetections))
	assert.Equal(t, errors.CategoryNoValidRecords, errors.CategoryOf(err))
}

func TestValidateEventDropsOnMissingRequiredFields(t *testing.T) {
	t.Parallel()

	mutations := map[string]func(*EventPayload){
		"no timestamp":    func(p *EventPayload) { p.Timestamp = "" },
		"no action type":  func(p *EventPayload) { p.ActionType = "" },
		"no confidence":   func(p *EventPayload) { p.Confidence = nil },
		"no person id":    func(p *EventPayload) { p.PersonID = nil },
		"no frame number": func(p *EventPayload) { p.FrameNumber = nil },
		"no bbox":         func(p *EventPayload) { p.NormalizedBBox = nil },
		"bad timestamp":   func(p *EventPayload) { p.Timestamp = "yesterday" },
		"negative person": func(p *EventPayload) { p.PersonID = intPtr(-1) },
		"negative frame":  func(p *EventPayload) { p.FrameNumber = intPtr(-5) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := validPayload()
			mutate(&p)
			_, ok := validateEvent(&p)
			assert.False(t, ok)
		})
	}
}

func TestValidateEventCoercesUnknownAction(t *testing.T) {
	t.Parallel()

	p := validPayload()
	p.ActionType = "backflip"

	event, ok := validateEvent(&p)
	require.True(t, ok, "unrecognized action must be normalized, not dropped")
	assert.Equal(t, ActionUnknown, event.ActionType)
}

func TestValidateEventBoundingBoxComponents(t *testing.T) {
	t.Parallel()

	for i := range 5 {
		t.Run(fmt.Sprintf("component %d out of range", i), func(t *testing.T) {
			t.Parallel()
			box := BoundingBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.1, Confidence: 0.1}
			switch i {
			case 0:
				box.X = 1.01
			case 1:
				box.Y = -0.01
			case 2:
				box.Width = 7
			case 3:
				box.Height = -3
			case 4:
				box.Confidence = 1.2
			}
			p := validPayload()
			p.NormalizedBBox = &box
			_, ok := validateEvent(&p)
			assert.False(t, ok)
		})
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	for _, raw := range []string{
		"2026-03-01T10:30:00Z",
		"2026-03-01T10:30:00.000Z",
		"2026-03-01T10:30:00",
		"2026-03-01 10:30:00",
	} {
		ts, ok := ParseTimestamp(raw)
		require.True(t, ok, "layout %q must parse", raw)
		assert.True(t, ts.Equal(want), "layout %q parsed to %v", raw, ts)
	}

	_, ok := ParseTimestamp("03/01/2026")
	assert.False(t, ok)
}

func TestNormalizeActionType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ActionWalking, NormalizeActionType("walking"))
	assert.Equal(t, ActionUnknown, NormalizeActionType("cartwheel"))
	assert.Equal(t, ActionUnknown, NormalizeActionType(""))
}

func TestActionTypesDeclarationOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []ActionType{
		ActionSittingDown, ActionGettingUp, ActionSitting,
		ActionStanding, ActionWalking, ActionJumping, ActionUnknown,
	}, ActionTypes())
}
