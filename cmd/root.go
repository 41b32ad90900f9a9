package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cora-robotics/cora-server/cmd/reconcile"
	"github.com/cora-robotics/cora-server/cmd/serve"
	"github.com/cora-robotics/cora-server/cmd/token"
	"github.com/cora-robotics/cora-server/internal/conf"
)

// RootCommand creates and returns the root command. Version and build date
// are injected at link time and carried into the loaded settings. Loading
// populates the conf.Setting() singleton the subcommands read from.
func RootCommand(version, buildDate string) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "cora-server",
		Short: "CORA detection ingestion and query server",
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		settings, err := conf.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		settings.Version = version
		settings.BuildDate = buildDate
		return nil
	}

	rootCmd.AddCommand(
		serve.Command(),
		reconcile.Command(),
		token.Command(),
	)

	return rootCmd
}
