package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kitoko/packline/internal/auth"
)

// NewOperatorCommand creates the operator command group.
func NewOperatorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage operator credentials",
	}
	cmd.AddCommand(newOperatorAddCommand(rootOpts))
	return cmd
}

func newOperatorAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <email>",
		Short: "Add an operator to the credential file",
		Long: `Add an operator to the credential file named by the config. The
password is read from the PACKLINE_PASSWORD environment variable.

Example:
  PACKLINE_PASSWORD=secret packline operator add packer@example.com`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configureLogging(rootOpts.Verbose)

			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			password := os.Getenv("PACKLINE_PASSWORD")
			if password == "" {
				return NewExitError(ExitCommandError, "PACKLINE_PASSWORD must be set")
			}

			session, err := auth.NewFileAuthenticator(cfg.Credentials).Register(args[0], password)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to add operator", err)
			}

			slog.Info("operator added", "email", session.Email, "uid", session.UID)
			fmt.Fprintf(cmd.OutOrStdout(), "Added operator %s (%s).\n", session.Email, session.UID)
			return nil
		},
	}
}
