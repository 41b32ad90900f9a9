package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cora-robotics/cora-server/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "CORA-Server", settings.Main.Name)
	assert.Equal(t, "8080", settings.WebServer.Port)
	assert.True(t, settings.Output.SQLite.Enabled)
	assert.False(t, settings.Output.MySQL.Enabled)
	assert.Equal(t, 1000, settings.Ingest.MaxBatchSize)
	assert.Equal(t, 1440, settings.Ingest.ActiveMinutes)
}

func TestSettingReturnsLoadedInstance(t *testing.T) {
	settings, err := Load("")
	require.NoError(t, err)

	// Setting() must hand back the instance Load stored, not reload.
	got := Setting()
	require.NotNil(t, got)
	assert.Same(t, settings, got)
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	base := func() *Settings {
		s := &Settings{}
		s.Output.SQLite.Enabled = true
		s.Output.SQLite.Path = "cora.db"
		s.Auth.TokenTTL = 60
		return s
	}

	t.Run("valid defaults", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validateSettings(base()))
	})

	t.Run("no database enabled", func(t *testing.T) {
		t.Parallel()
		s := base()
		s.Output.SQLite.Enabled = false
		err := validateSettings(s)
		require.Error(t, err)
		assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
	})

	t.Run("both databases enabled", func(t *testing.T) {
		t.Parallel()
		s := base()
		s.Output.MySQL.Enabled = true
		assert.Error(t, validateSettings(s))
	})

	t.Run("auth enabled without secret", func(t *testing.T) {
		t.Parallel()
		s := base()
		s.Auth.Enabled = true
		assert.Error(t, validateSettings(s))
	})

	t.Run("auth enabled with secret", func(t *testing.T) {
		t.Parallel()
		s := base()
		s.Auth.Enabled = true
		s.Auth.Secret = "test-secret"
		assert.NoError(t, validateSettings(s))
	})
}
