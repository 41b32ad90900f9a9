// Package token implements the operator token issuing command.
package token

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cora-robotics/cora-server/internal/api/auth"
	"github.com/cora-robotics/cora-server/internal/conf"
)

// Command returns the token subcommand. Tokens are minted offline with the
// configured signing secret; there is no HTTP login endpoint.
func Command() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the query endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := conf.Setting()
			if !s.Auth.Enabled {
				return fmt.Errorf("authentication is disabled in configuration")
			}

			token, err := auth.NewJWTService(s).IssueToken(subject)
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}

			cmd.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "operator", "token subject identity")
	return cmd
}
