// model.go this code defines the data model for the application
package datastore

import (
	"time"

	"github.com/cora-robotics/cora-server/internal/detection"
)

// Unit status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusError   = "error"
)

// StatsCache holds the derived rolling aggregates stored on each unit row.
// It is refreshed in the same transaction that appends detections, so a
// committed read never observes stats older than the latest append.
type StatsCache struct {
	TotalDetections   int64     `gorm:"column:total_detections" json:"total_detections"`
	Last24hDetections int64     `gorm:"column:last_24h_detections" json:"last_24h_detections"`
	MostCommonAction  string    `gorm:"column:most_common_action" json:"most_common_action"`
	AvgConfidence     float64   `gorm:"column:avg_confidence" json:"avg_confidence"`
	LastUpdatedAt     time.Time `gorm:"column:last_updated_at" json:"last_updated"`
}

// Unit represents a physical robot unit submitting detection batches.
type Unit struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	UnitID      string     `gorm:"uniqueIndex:idx_units_unit_id;not null" json:"unit_id"`
	DisplayName string     `json:"unit_name"`
	StreamURIs  []string   `gorm:"serializer:json" json:"stream_uris"`
	Status      string     `gorm:"index:idx_units_status" json:"status"`
	LastSeenAt  time.Time  `gorm:"index:idx_units_last_seen" json:"last_seen"`
	Stats       StatsCache `gorm:"embedded;embeddedPrefix:stats_" json:"stats_cache"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsActive reports whether the unit has been seen within the given window.
func (u *Unit) IsActive(window time.Duration) bool {
	return time.Since(u.LastSeenAt) <= window
}

// Detection represents one stored observation. Rows are append-only:
// never updated in place, never reassigned to another unit. The primary key
// doubles as the insertion sequence number used as the deterministic
// secondary sort key for equal timestamps.
type Detection struct {
	ID          uint                   `gorm:"primaryKey" json:"-"`
	UnitRef     uint                   `gorm:"not null;index:idx_detections_unit_time,priority:1" json:"-"`
	Timestamp   time.Time              `gorm:"not null;index:idx_detections_unit_time,priority:2" json:"timestamp"`
	ActionType  string                 `gorm:"index:idx_detections_action" json:"action_type"`
	Confidence  float64                `json:"confidence"`
	PersonID    int                    `json:"person_id"`
	FrameNumber int                    `json:"frame_number"`
	BBox        detection.BoundingBox  `gorm:"embedded;embeddedPrefix:bbox_" json:"normalized_bbox"`
	Thumbnail   string                 `gorm:"type:text" json:"thumbnail,omitempty"`
	Tracking    detection.TrackingInfo `gorm:"embedded;embeddedPrefix:tracking_" json:"tracking_info"`
	PoseScores  detection.PoseScores   `gorm:"embedded;embeddedPrefix:pose_" json:"pose_scores"`
	CreatedAt   time.Time              `json:"-"`
}

// newDetectionRow converts a validated domain event into a storable row.
func newDetectionRow(unitRef uint, event *detection.Event) Detection {
	return Detection{
		UnitRef:     unitRef,
		Timestamp:   event.Timestamp,
		ActionType:  string(event.ActionType),
		Confidence:  event.Confidence,
		PersonID:    event.PersonID,
		FrameNumber: event.FrameNumber,
		BBox:        event.BBox,
		Thumbnail:   event.Thumbnail,
		Tracking:    event.Tracking,
		PoseScores:  event.PoseScores,
	}
}
