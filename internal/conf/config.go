// config.go: settings struct and loading for the CORA server
package conf

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// WebServerSettings contains settings for the HTTP server.
type WebServerSettings struct {
	Debug   bool   // true to enable debug mode
	Port    string // port for HTTP server
	LogPath string // path to the API request log file
}

// SQLiteSettings contains settings for the SQLite database.
type SQLiteSettings struct {
	Enabled bool   // true to enable SQLite
	Path    string // path to the database file
}

// MySQLSettings contains settings for the MySQL database.
type MySQLSettings struct {
	Enabled  bool   // true to enable MySQL
	Username string // MySQL username
	Password string // MySQL password
	Database string // MySQL database name
	Host     string // MySQL host
	Port     string // MySQL port
}

// OutputSettings selects the persistence backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// AuthSettings configures the token service gating the query endpoints.
// Ingestion from robot units is always open.
type AuthSettings struct {
	Enabled  bool   // false bypasses authentication entirely (LAN deployments)
	Secret   string // HMAC signing secret for bearer tokens
	TokenTTL int    // token lifetime in minutes
}

// IngestSettings tunes the detection ingestion path.
type IngestSettings struct {
	MaxBatchSize  int // maximum detections accepted per batch, 0 for unlimited
	ActiveMinutes int // default "active unit" window in minutes
}

// Settings contains all runtime configuration for the server.
type Settings struct {
	Debug bool // true to enable debug logging

	Main struct {
		Name string // instance name used in log attributes
	}

	WebServer WebServerSettings
	Output    OutputSettings
	Auth      AuthSettings
	Ingest    IngestSettings

	Version   string // build version, injected at link time
	BuildDate string // build date, injected at link time
}

var (
	settingsInstance *Settings
	settingsOnce     sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads configuration from the given file (empty for defaults plus
// environment overrides) and returns the populated Settings.
func Load(configPath string) (*Settings, error) {
	setDefaultConfig()

	viper.SetEnvPrefix("cora")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}

	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// Setting returns the current global settings, loading defaults if Load has
// not been called yet.
func Setting() *Settings {
	settingsOnce.Do(func() {
		settingsMutex.RLock()
		loaded := settingsInstance != nil
		settingsMutex.RUnlock()
		if !loaded {
			if _, err := Load(""); err != nil {
				panic(fmt.Sprintf("error loading default settings: %v", err))
			}
		}
	})

	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
