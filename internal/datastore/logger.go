package datastore

import (
	"log/slog"
	"sync"

	"github.com/cora-robotics/cora-server/internal/logging"
)

var (
	storeLogger     *slog.Logger
	storeLoggerOnce sync.Once
)

// getLogger returns the shared datastore service logger.
func getLogger() *slog.Logger {
	storeLoggerOnce.Do(func() {
		storeLogger = logging.ForService("datastore")
		if storeLogger == nil {
			storeLogger = slog.Default().With("service", "datastore")
		}
	})
	return storeLogger
}
