package conf

import (
	"github.com/cora-robotics/cora-server/internal/errors"
)

// validateSettings checks that loaded settings are internally consistent.
func validateSettings(settings *Settings) error {
	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return errors.Newf("no database output enabled, enable output.sqlite or output.mysql").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		return errors.Newf("only one database output may be enabled at a time").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		return errors.Newf("output.sqlite.path must not be empty").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Auth.Enabled && settings.Auth.Secret == "" {
		return errors.Newf("auth.secret must be set when auth is enabled").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Auth.TokenTTL <= 0 {
		return errors.Newf("auth.tokenttl must be a positive number of minutes").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Ingest.MaxBatchSize < 0 {
		return errors.Newf("ingest.maxbatchsize must not be negative").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return nil
}
