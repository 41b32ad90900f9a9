package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/cora-robotics/cora-server/internal/detection"
)

// Confidence bucket boundaries for the distribution reported by WindowStats.
const (
	confidenceMediumMin = 0.6
	confidenceHighMin   = 0.8
)

// WindowStats holds the aggregates computed over a query window for one unit.
type WindowStats struct {
	UnitID                 string                 `json:"unit_id"`
	WindowHours            float64                `json:"window_hours"`
	TotalDetections        int64                  `json:"total_detections"`
	WindowDetections       int64                  `json:"window_detections"`
	LastHourDetections     int64                  `json:"last_hour_detections"`
	ActionCounts           map[string]int64       `json:"action_counts"`
	MostCommonAction       string                 `json:"most_common_action"`
	AvgConfidence          float64                `json:"avg_confidence"`
	ConfidenceDistribution ConfidenceDistribution `json:"confidence_distribution"`
	HourlyBreakdown        []HourCount            `json:"hourly_breakdown"`
}

// ConfidenceDistribution buckets window detections by confidence.
type ConfidenceDistribution struct {
	Low    int64 `json:"low"`    // < 0.6
	Medium int64 `json:"medium"` // 0.6 to 0.8
	High   int64 `json:"high"`   // >= 0.8
}

// HourCount is the number of window detections observed in one hour of day.
type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

type actionCountRow struct {
	ActionType string
	Count      int64
}

// pickMostCommonAction resolves the dominant action from grouped counts.
// Ties are broken by action type declaration order, so the result is stable
// across runs and databases. Returns "" when there are no counts.
func pickMostCommonAction(rows []actionCountRow) string {
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.ActionType] += row.Count
	}

	var best string
	var bestCount int64
	for _, action := range detection.ActionTypes() {
		if c, ok := counts[string(action)]; ok && c > bestCount {
			best = string(action)
			bestCount = c
		}
	}
	return best
}

// refreshStatsCache recomputes the unit's cached aggregates from the stored
// detections and writes them onto the unit row. Called inside the same
// transaction that appends detections so the cache is never stale relative
// to committed data.
func refreshStatsCache(tx *gorm.DB, unitRef uint, now time.Time) error {
	dayAgo := now.Add(-24 * time.Hour)

	var total int64
	if err := tx.Model(&Detection{}).Where("unit_ref = ?", unitRef).Count(&total).Error; err != nil {
		return err
	}

	var last24h int64
	err := tx.Model(&Detection{}).
		Where("unit_ref = ? AND timestamp >= ?", unitRef, dayAgo).
		Count(&last24h).Error
	if err != nil {
		return err
	}

	var avgConfidence float64
	err = tx.Model(&Detection{}).
		Where("unit_ref = ? AND timestamp >= ?", unitRef, dayAgo).
		Select("COALESCE(AVG(confidence), 0)").
		Scan(&avgConfidence).Error
	if err != nil {
		return err
	}

	var actionRows []actionCountRow
	err = tx.Model(&Detection{}).
		Where("unit_ref = ? AND timestamp >= ?", unitRef, dayAgo).
		Select("action_type, COUNT(*) as count").
		Group("action_type").
		Scan(&actionRows).Error
	if err != nil {
		return err
	}

	return tx.Model(&Unit{}).Where("id = ?", unitRef).Updates(map[string]any{
		"stats_total_detections":    total,
		"stats_last_24h_detections": last24h,
		"stats_most_common_action":  pickMostCommonAction(actionRows),
		"stats_avg_confidence":      avgConfidence,
		"stats_last_updated_at":     now,
	}).Error
}

// WindowStats computes aggregates over the trailing window for the unit.
// Unlike the per-unit stats cache this is computed on demand, so arbitrary
// windows are supported.
func (ds *DataStore) WindowStats(unitID string, window time.Duration) (*WindowStats, error) {
	unit, err := ds.GetUnit(unitID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	since := now.Add(-window)
	hourAgo := now.Add(-time.Hour)

	stats := &WindowStats{
		UnitID:       unitID,
		WindowHours:  window.Hours(),
		ActionCounts: make(map[string]int64),
	}

	err = ds.DB.Model(&Detection{}).Where("unit_ref = ?", unit.ID).
		Count(&stats.TotalDetections).Error
	if err != nil {
		return nil, dbError(err, "window_stats", "unit_id", unitID)
	}

	windowed := func() *gorm.DB {
		return ds.DB.Model(&Detection{}).
			Where("unit_ref = ? AND timestamp >= ?", unit.ID, since)
	}

	if err := windowed().Count(&stats.WindowDetections).Error; err != nil {
		return nil, dbError(err, "window_stats", "unit_id", unitID)
	}

	err = ds.DB.Model(&Detection{}).
		Where("unit_ref = ? AND timestamp >= ?", unit.ID, hourAgo).
		Count(&stats.LastHourDetections).Error
	if err != nil {
		return nil, dbError(err, "window_stats", "unit_id", unitID)
	}

	err = windowed().
		Select("COALESCE(AVG(confidence), 0)").
		Scan(&stats.AvgConfidence).Error
	if err != nil {
		return nil, dbError(err, "window_stats", "unit_id", unitID)
	}

	var actionRows []actionCountRow
	err = windowed().
		Select("action_type, COUNT(*) as count").
		Group("action_type").
		Scan(&actionRows).Error
	if err != nil {
		return nil, dbError(err, "window_stats", "unit_id", unitID)
	}
	for _, row := range actionRows {
		stats.ActionCounts[row.ActionType] = row.Count
	}
	stats.MostCommonAction = pickMostCommonAction(actionRows)

	var buckets struct {
		Low    int64
		Medium int64
		High   int64
	}
	err = windowed().
		Select("COALESCE(SUM(CASE WHEN confidence < ? THEN 1 ELSE 0 END), 0) as low, "+
			"COALESCE(SUM(CASE WHEN confidence >= ? AND confidence < ? THEN 1 ELSE 0 END), 0) as medium, "+
			"COALESCE(SUM(CASE WHEN confidence >= ? THEN 1 ELSE 0 END), 0) as high",
			confidenceMediumMin, confidenceMediumMin, confidenceHighMin, confidenceHighMin).
		Scan(&buckets).Error
	if err != nil {
		return nil, dbError(err, "window_stats", "unit_id", unitID)
	}
	stats.ConfidenceDistribution = ConfidenceDistribution{
		Low:    buckets.Low,
		Medium: buckets.Medium,
		High:   buckets.High,
	}

	hourFormat := ds.GetHourFormat()
	if hourFormat != "" {
		var hourRows []HourCount
		err = windowed().
			Select(hourFormat + " as hour, COUNT(*) as count").
			Group("hour").
			Order("hour").
			Scan(&hourRows).Error
		if err != nil {
			return nil, dbError(err, "window_stats", "unit_id", unitID)
		}
		stats.HourlyBreakdown = hourRows
	}

	return stats, nil
}
