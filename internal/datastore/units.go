package datastore

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cora-robotics/cora-server/internal/errors"
)

// ErrUnitExists is returned by CreateUnit when the unit ID is already taken.
var ErrUnitExists = errors.NewStd("unit ID already exists")

// UpsertUnit atomically inserts or updates the unit keyed by unitID.
// Concurrent upserts for the same new unitID converge on a single record:
// the insert-or-update is a single native conflict-resolving statement, not
// a find-then-save cycle. Should a duplicate-key error still escape the
// upsert, the operation transparently retries once as a plain update; a
// second failure is surfaced as a conflict requiring ReconcileUnits.
func (ds *DataStore) UpsertUnit(unitID string, patch UnitPatch) (*Unit, error) {
	if unitID == "" {
		return nil, validationError("unit ID must not be empty", "unit_id", unitID)
	}

	now := time.Now()
	if err := upsertUnitTx(ds.DB, unitID, patch, now); err != nil {
		if !isDuplicateKeyError(err) {
			return nil, dbError(err, "upsert_unit", "unit_id", unitID)
		}
		if uerr := applyUnitPatch(ds.DB, unitID, patch, now, true); uerr != nil {
			ds.Logger.Error("Unit upsert retry failed, registry needs reconciliation",
				"unit_id", unitID, "error", uerr)
			return nil, conflictError(err, "upsert_unit", "unit_id", unitID)
		}
	}

	return ds.GetUnit(unitID)
}

// upsertUnitTx performs the conflict-resolving insert inside tx. The
// last-seen column only ever advances: an older write can never regress it.
func upsertUnitTx(tx *gorm.DB, unitID string, patch UnitPatch, now time.Time) error {
	status := patch.Status
	if status == "" {
		status = StatusOnline
	}

	unit := &Unit{
		UnitID:      unitID,
		DisplayName: patch.DisplayName,
		StreamURIs:  patch.StreamURIs,
		Status:      status,
		LastSeenAt:  now,
	}

	columns := []string{"display_name", "status", "updated_at"}
	if patch.StreamURIs != nil {
		columns = append(columns, "stream_uris")
	}

	assignments := clause.AssignmentColumns(columns)
	assignments = append(assignments, clause.Assignment{
		Column: clause.Column{Name: "last_seen_at"},
		Value:  gorm.Expr("CASE WHEN last_seen_at > ? THEN last_seen_at ELSE ? END", now, now),
	})

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "unit_id"}},
		DoUpdates: assignments,
	}).Create(unit).Error
}

// applyUnitPatch updates an existing unit row in place. Used as the
// duplicate-key fallback and by the management update operation. Only the
// ingest paths advance last_seen_at: a management edit must not make a
// silent unit look active.
func applyUnitPatch(tx *gorm.DB, unitID string, patch UnitPatch, now time.Time, advanceLastSeen bool) error {
	updates := map[string]any{
		"updated_at": now,
	}
	if advanceLastSeen {
		updates["last_seen_at"] = gorm.Expr("CASE WHEN last_seen_at > ? THEN last_seen_at ELSE ? END", now, now)
	}
	if patch.DisplayName != "" {
		updates["display_name"] = patch.DisplayName
	}
	if patch.Status != "" {
		updates["status"] = patch.Status
	}
	if patch.StreamURIs != nil {
		// map-based updates bypass the gorm field serializer
		encoded, err := json.Marshal(patch.StreamURIs)
		if err != nil {
			return err
		}
		updates["stream_uris"] = string(encoded)
	}

	result := tx.Model(&Unit{}).Where("unit_id = ?", unitID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetUnit retrieves a unit by its external unit ID.
func (ds *DataStore) GetUnit(unitID string) (*Unit, error) {
	var unit Unit
	if err := ds.DB.Where("unit_id = ?", unitID).First(&unit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("unit", unitID)
		}
		return nil, dbError(err, "get_unit", "unit_id", unitID)
	}
	return &unit, nil
}

// CreateUnit inserts a new unit via the management API. Unlike UpsertUnit it
// treats an existing unit ID as an error.
func (ds *DataStore) CreateUnit(unitID string, patch UnitPatch) (*Unit, error) {
	if unitID == "" {
		return nil, validationError("unit ID must not be empty", "unit_id", unitID)
	}

	status := patch.Status
	if status == "" {
		status = StatusOffline
	}

	unit := &Unit{
		UnitID:      unitID,
		DisplayName: patch.DisplayName,
		StreamURIs:  patch.StreamURIs,
		Status:      status,
		LastSeenAt:  time.Now(),
	}

	if err := ds.DB.Create(unit).Error; err != nil {
		if isDuplicateKeyError(err) {
			return nil, errors.New(ErrUnitExists).
				Component("datastore").
				Category(errors.CategoryValidation).
				Context("unit_id", unitID).
				Build()
		}
		return nil, dbError(err, "create_unit", "unit_id", unitID)
	}

	return unit, nil
}

// UpdateUnit applies the patch to an existing unit without creating one.
func (ds *DataStore) UpdateUnit(unitID string, patch UnitPatch) (*Unit, error) {
	if err := applyUnitPatch(ds.DB, unitID, patch, time.Now(), false); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("unit", unitID)
		}
		return nil, dbError(err, "update_unit", "unit_id", unitID)
	}
	return ds.GetUnit(unitID)
}

// DeleteUnit removes a unit and all of its detections. Detections are never
// deleted by the ingestion path; this is an explicit management operation.
func (ds *DataStore) DeleteUnit(unitID string) error {
	unit, err := ds.GetUnit(unitID)
	if err != nil {
		return err
	}

	err = ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("unit_ref = ?", unit.ID).Delete(&Detection{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Unit{}, unit.ID).Error
	})
	if err != nil {
		return dbError(err, "delete_unit", "unit_id", unitID)
	}
	return nil
}

// ListUnits returns a page of units ordered by most recently seen, plus the
// total count matching the filter.
func (ds *DataStore) ListUnits(filter UnitFilter) ([]Unit, int64, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	query := ds.DB.Model(&Unit{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, dbError(err, "list_units")
	}

	var units []Unit
	err := query.Order("last_seen_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&units).Error
	if err != nil {
		return nil, 0, dbError(err, "list_units")
	}

	return units, total, nil
}

// ListActiveUnits returns units seen within the given window, sorted by
// last-seen descending.
func (ds *DataStore) ListActiveUnits(since time.Duration) ([]Unit, error) {
	threshold := time.Now().Add(-since)

	var units []Unit
	err := ds.DB.Where("last_seen_at >= ?", threshold).
		Order("last_seen_at DESC").
		Find(&units).Error
	if err != nil {
		return nil, dbError(err, "list_active_units")
	}

	return units, nil
}

// ReconcileUnits is the manual recovery path for registry inconsistencies:
// for every unit_id held by more than one row, detections are merged into
// the earliest record and the later duplicates are removed. Normal operation
// never produces duplicates; this handles rows predating the unique index
// or left behind by external writes.
func (ds *DataStore) ReconcileUnits() (*ReconcileReport, error) {
	report := &ReconcileReport{}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var dupIDs []string
		err := tx.Model(&Unit{}).
			Group("unit_id").
			Having("COUNT(*) > 1").
			Pluck("unit_id", &dupIDs).Error
		if err != nil {
			return err
		}

		for _, unitID := range dupIDs {
			var rows []Unit
			if err := tx.Where("unit_id = ?", unitID).Order("id ASC").Find(&rows).Error; err != nil {
				return err
			}
			if len(rows) < 2 {
				continue
			}

			keeper := rows[0]
			lastSeen := keeper.LastSeenAt

			for i := 1; i < len(rows); i++ {
				dup := rows[i]
				moved := tx.Model(&Detection{}).
					Where("unit_ref = ?", dup.ID).
					Update("unit_ref", keeper.ID)
				if moved.Error != nil {
					return moved.Error
				}
				report.DetectionsMoved += moved.RowsAffected

				if dup.LastSeenAt.After(lastSeen) {
					lastSeen = dup.LastSeenAt
				}

				if err := tx.Delete(&Unit{}, dup.ID).Error; err != nil {
					return err
				}
				report.UnitsRemoved++
			}

			err = tx.Model(&Unit{}).Where("id = ?", keeper.ID).
				Update("last_seen_at", lastSeen).Error
			if err != nil {
				return err
			}

			if err := refreshStatsCache(tx, keeper.ID, time.Now()); err != nil {
				return err
			}

			report.DuplicateGroups++
		}

		return nil
	})
	if err != nil {
		return nil, dbError(err, "reconcile_units")
	}

	if report.DuplicateGroups > 0 {
		ds.Logger.Warn("Registry reconciliation merged duplicate units",
			"groups", report.DuplicateGroups,
			"units_removed", report.UnitsRemoved,
			"detections_moved", report.DetectionsMoved)
	}

	return report, nil
}
