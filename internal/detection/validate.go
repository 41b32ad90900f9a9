package detection

import (
	"time"

	"github.com/cora-robotics/cora-server/internal/errors"
)

// ErrNoValidDetections is returned when every event in a batch failed
// validation. Distinct from the missing-fields batch error so callers can
// tell the two apart.
var ErrNoValidDetections = errors.NewStd("no valid detections found in batch")

// timestampLayouts are tried in order when parsing event timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an event timestamp in any of the accepted layouts.
func ParseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ValidateBatch applies the ingestion validation policy to a raw batch.
// It is a pure function over the request payload and performs no I/O.
//
// Batch-level failures (missing unit_id, unit_name or detections, or an
// empty detections array) reject the whole batch. Per-event failures drop
// the individual event and never abort the rest of the batch; an event with
// an out-of-enum action type is coerced to unknown rather than dropped.
// A batch where nothing survives fails with ErrNoValidDetections.
func ValidateBatch(req *BatchRequest) (*ValidBatch, error) {
	if req == nil || req.UnitID == "" || req.UnitName == "" || req.Detections == nil {
		return nil, errors.Newf("missing required fields: unit_id, unit_name, detections").
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}

	if len(req.Detections) == 0 {
		return nil, errors.Newf("detections must be a non-empty array").
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}

	batch := &ValidBatch{
		UnitID:     req.UnitID,
		UnitName:   req.UnitName,
		StreamURIs: req.StreamURIs,
		Events:     make([]Event, 0, len(req.Detections)),
	}

	for i := range req.Detections {
		event, ok := validateEvent(&req.Detections[i])
		if !ok {
			batch.Rejected++
			continue
		}
		batch.Events = append(batch.Events, event)
	}

	if len(batch.Events) == 0 {
		return nil, errors.New(ErrNoValidDetections).
			Component("detection").
			Category(errors.CategoryNoValidRecords).
			Context("submitted", len(req.Detections)).
			Build()
	}

	return batch, nil
}

// ValidateEvent applies the per-event policy to a single payload submitted
// outside a batch. Unlike batch ingestion there is nothing to fall back on,
// so a failing event is an error rather than a silent drop.
func ValidateEvent(p *EventPayload) (*Event, error) {
	if p == nil {
		return nil, errors.Newf("missing detection payload").
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}

	event, ok := validateEvent(p)
	if !ok {
		return nil, errors.Newf("detection event failed validation").
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}
	return &event, nil
}

// validateEvent checks a single payload against the per-event policy and
// converts it to a domain Event. Returns false when the event must be
// dropped.
func validateEvent(p *EventPayload) (Event, bool) {
	if p.Timestamp == "" || p.ActionType == "" ||
		p.Confidence == nil || p.PersonID == nil ||
		p.FrameNumber == nil || p.NormalizedBBox == nil {
		return Event{}, false
	}

	ts, ok := ParseTimestamp(p.Timestamp)
	if !ok {
		return Event{}, false
	}

	if *p.Confidence < 0 || *p.Confidence > 1 {
		return Event{}, false
	}

	if *p.PersonID < 0 || *p.FrameNumber < 0 {
		return Event{}, false
	}

	if !p.NormalizedBBox.InRange() {
		return Event{}, false
	}

	event := Event{
		Timestamp:   ts,
		ActionType:  NormalizeActionType(p.ActionType),
		Confidence:  *p.Confidence,
		PersonID:    *p.PersonID,
		FrameNumber: *p.FrameNumber,
		BBox:        *p.NormalizedBBox,
		Thumbnail:   p.Thumbnail,
	}

	if p.TrackingInfo != nil {
		event.Tracking = *p.TrackingInfo
	}
	if p.PoseScores != nil {
		event.PoseScores = *p.PoseScores
	}

	return event, true
}
