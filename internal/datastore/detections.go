package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/cora-robotics/cora-server/internal/detection"
	"github.com/cora-robotics/cora-server/internal/errors"
)

// insertBatchSize bounds a single INSERT statement during bulk appends.
const insertBatchSize = 100

// AppendBatch persists a validated batch in one transaction: the unit is
// upserted, the detections are appended as individual rows, and the unit's
// stats cache is recomputed before commit. Because detections are append-only
// rows rather than an embedded array, concurrent batches for the same unit
// commute and none of them can overwrite another's events.
func (ds *DataStore) AppendBatch(batch *detection.ValidBatch) (*Unit, error) {
	if batch == nil || len(batch.Events) == 0 {
		return nil, validationError("batch contains no events to append", "unit_id", "")
	}

	now := time.Now()
	var unit Unit

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		patch := UnitPatch{
			DisplayName: batch.UnitName,
			StreamURIs:  batch.StreamURIs,
			Status:      StatusOnline,
		}
		if err := upsertUnitTx(tx, batch.UnitID, patch, now); err != nil {
			if !isDuplicateKeyError(err) {
				return err
			}
			if uerr := applyUnitPatch(tx, batch.UnitID, patch, now, true); uerr != nil {
				return conflictError(err, "append_batch", "unit_id", batch.UnitID)
			}
		}

		if err := tx.Where("unit_id = ?", batch.UnitID).First(&unit).Error; err != nil {
			return err
		}

		rows := make([]Detection, 0, len(batch.Events))
		for i := range batch.Events {
			rows = append(rows, newDetectionRow(unit.ID, &batch.Events[i]))
		}
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return err
		}

		if err := refreshStatsCache(tx, unit.ID, now); err != nil {
			return err
		}

		// re-read so callers see the refreshed cache
		return tx.Where("id = ?", unit.ID).First(&unit).Error
	})
	if err != nil {
		var enhanced *errors.EnhancedError
		if errors.As(err, &enhanced) {
			return nil, err
		}
		return nil, dbError(err, "append_batch", "unit_id", batch.UnitID)
	}

	ds.Logger.Info("Appended detection batch",
		"unit_id", batch.UnitID,
		"events", len(batch.Events),
		"rejected", batch.Rejected)

	return &unit, nil
}

// AppendDetection appends a single event to an existing unit. The unit must
// already be registered; single-event appends never create units.
func (ds *DataStore) AppendDetection(unitID string, event *detection.Event) (*Unit, error) {
	if event == nil {
		return nil, validationError("detection event must not be nil", "unit_id", unitID)
	}

	unit, err := ds.GetUnit(unitID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = ds.DB.Transaction(func(tx *gorm.DB) error {
		row := newDetectionRow(unit.ID, event)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := refreshStatsCache(tx, unit.ID, now); err != nil {
			return err
		}
		return tx.Model(&Unit{}).Where("id = ?", unit.ID).
			Update("last_seen_at", gorm.Expr("CASE WHEN last_seen_at > ? THEN last_seen_at ELSE ? END", now, now)).Error
	})
	if err != nil {
		return nil, dbError(err, "append_detection", "unit_id", unitID)
	}

	return ds.GetUnit(unitID)
}

// DetectionsInRange returns detections for the unit whose timestamps fall in
// [start, end], newest first. Ties on timestamp are broken by insertion order,
// latest insert first, so repeated queries always return the same order.
// actionType filters when non-empty; limit <= 0 means no limit.
func (ds *DataStore) DetectionsInRange(unitID string, start, end time.Time, actionType string, limit int) ([]Detection, error) {
	unit, err := ds.GetUnit(unitID)
	if err != nil {
		return nil, err
	}

	query := ds.DB.Where("unit_ref = ? AND timestamp >= ? AND timestamp <= ?", unit.ID, start, end)
	if actionType != "" {
		query = query.Where("action_type = ?", actionType)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []Detection
	if err := query.Order("timestamp DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, dbError(err, "detections_in_range", "unit_id", unitID)
	}

	return rows, nil
}

// CountDetections returns the total number of stored detections for the unit.
func (ds *DataStore) CountDetections(unitID string) (int64, error) {
	unit, err := ds.GetUnit(unitID)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := ds.DB.Model(&Detection{}).Where("unit_ref = ?", unit.ID).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_detections", "unit_id", unitID)
	}

	return count, nil
}
