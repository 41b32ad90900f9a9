// Package detection defines the domain types for person activity
// observations submitted by robot units, and the pure validation layer
// applied to incoming batches.
package detection

import "time"

// BoundingBox is a normalized rectangle, all components in [0,1].
type BoundingBox struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// InRange reports whether every component is within [0,1].
func (b BoundingBox) InRange() bool {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height, b.Confidence} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// TrackingInfo carries the per-frame tracker state for an observation.
type TrackingInfo struct {
	IsTracked   bool `json:"is_tracked"`
	TrackingAge int  `json:"tracking_age"`
}

// PoseScores holds the raw per-action classifier scores.
type PoseScores struct {
	SittingDown float64 `json:"sitting_down"`
	GettingUp   float64 `json:"getting_up"`
	Sitting     float64 `json:"sitting"`
	Standing    float64 `json:"standing"`
	Walking     float64 `json:"walking"`
	Jumping     float64 `json:"jumping"`
}

// Event is one validated observation. Events are immutable once stored and
// owned by exactly one unit.
type Event struct {
	Timestamp   time.Time
	ActionType  ActionType
	Confidence  float64
	PersonID    int
	FrameNumber int
	BBox        BoundingBox
	Thumbnail   string // optional base64-encoded image
	Tracking    TrackingInfo
	PoseScores  PoseScores
}

// EventPayload is the wire shape of a single detection inside a batch.
// Required scalar fields are pointers so that absent fields can be told
// apart from zero values.
type EventPayload struct {
	Timestamp      string        `json:"timestamp"`
	ActionType     string        `json:"action_type"`
	Confidence     *float64      `json:"confidence"`
	PersonID       *int          `json:"person_id"`
	FrameNumber    *int          `json:"frame_number"`
	NormalizedBBox *BoundingBox  `json:"normalized_bbox"`
	Thumbnail      string        `json:"thumbnail,omitempty"`
	TrackingInfo   *TrackingInfo `json:"tracking_info,omitempty"`
	PoseScores     *PoseScores   `json:"pose_scores,omitempty"`
}

// BatchRequest is the wire shape of one ingestion request from a robot unit.
type BatchRequest struct {
	UnitID     string         `json:"unit_id"`
	UnitName   string         `json:"unit_name"`
	StreamURIs []string       `json:"stream_uris"`
	Timestamp  string         `json:"timestamp"`
	Detections []EventPayload `json:"detections"`
}

// ValidBatch is the result of validating a BatchRequest: the surviving
// events plus the count of individually rejected ones.
type ValidBatch struct {
	UnitID     string
	UnitName   string
	StreamURIs []string
	Events     []Event
	Rejected   int
}

// Submitted returns the total number of detections in the original request.
func (vb *ValidBatch) Submitted() int {
	return len(vb.Events) + vb.Rejected
}
