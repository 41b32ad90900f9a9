// Package reconcile implements the registry reconciliation command.
package reconcile

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cora-robotics/cora-server/internal/conf"
	"github.com/cora-robotics/cora-server/internal/datastore"
)

// Command returns the reconcile subcommand. It merges duplicate unit records
// offline, without needing the HTTP server to be up.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Merge duplicate unit records in the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := datastore.New(conf.Setting())
			if store == nil {
				return fmt.Errorf("no database backend enabled in configuration")
			}
			if err := store.Open(); err != nil {
				return fmt.Errorf("opening datastore: %w", err)
			}
			defer func() { _ = store.Close() }()

			report, err := store.ReconcileUnits()
			if err != nil {
				return fmt.Errorf("reconciliation failed: %w", err)
			}

			cmd.Printf("duplicate groups: %d\nunits removed: %d\ndetections moved: %d\n",
				report.DuplicateGroups, report.UnitsRemoved, report.DetectionsMoved)
			return nil
		},
	}
}
