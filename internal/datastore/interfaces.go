// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"log"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cora-robotics/cora-server/internal/conf"
	"github.com/cora-robotics/cora-server/internal/detection"
)

// Interface abstracts the underlying database implementation and defines the
// operations of the unit registry, detection store and statistics cache.
type Interface interface {
	Open() error
	Close() error

	// unit registry
	UpsertUnit(unitID string, patch UnitPatch) (*Unit, error)
	GetUnit(unitID string) (*Unit, error)
	ListUnits(filter UnitFilter) ([]Unit, int64, error)
	ListActiveUnits(since time.Duration) ([]Unit, error)
	CreateUnit(unitID string, patch UnitPatch) (*Unit, error)
	UpdateUnit(unitID string, patch UnitPatch) (*Unit, error)
	DeleteUnit(unitID string) error
	ReconcileUnits() (*ReconcileReport, error)

	// detection store
	AppendBatch(batch *detection.ValidBatch) (*Unit, error)
	AppendDetection(unitID string, event *detection.Event) (*Unit, error)
	DetectionsInRange(unitID string, start, end time.Time, actionType string, limit int) ([]Detection, error)
	CountDetections(unitID string) (int64, error)

	// statistics
	WindowStats(unitID string, window time.Duration) (*WindowStats, error)
}

// UnitPatch carries the mutable unit fields applied by upsert/update.
// A nil StreamURIs retains the existing value.
type UnitPatch struct {
	DisplayName string
	StreamURIs  []string
	Status      string
}

// UnitFilter controls paginated unit listings.
type UnitFilter struct {
	Status string // optional status filter
	Page   int    // 1-based page number
	Limit  int    // page size
}

// ReconcileReport summarizes a manual registry reconciliation run.
type ReconcileReport struct {
	DuplicateGroups int   `json:"duplicate_groups"`
	UnitsRemoved    int64 `json:"units_removed"`
	DetectionsMoved int64 `json:"detections_moved"`
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB     *gorm.DB     // GORM database instance
	Logger *slog.Logger // structured logger for store operations
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			DataStore: DataStore{Logger: getLogger()},
			Settings:  settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			DataStore: DataStore{Logger: getLogger()},
			Settings:  settings,
		}
	default:
		return nil
	}
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Unit{}, &Detection{}); err != nil {
		return dbError(err, "auto_migrate", "db_type", dbType)
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}

	return nil
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Warn,
			Colorful:      true,
		},
	)
}

// GetHourFormat returns the database-specific SQL fragment for extracting
// the hour from the detection timestamp column.
func (ds *DataStore) GetHourFormat() string {
	switch ds.DB.Dialector.Name() {
	case "sqlite":
		return "CAST(strftime('%H', timestamp) AS INTEGER)"
	case "mysql":
		return "HOUR(timestamp)"
	default:
		return ""
	}
}
