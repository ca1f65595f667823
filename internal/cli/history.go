package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List packed orders",
		Long: `List the packed orders recorded in the station database, newest first.

Example:
  packline history
  packline history --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, cmd)
		},
	}
	return cmd
}

func runHistory(opts *RootOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, led, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	history, err := led.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read history", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if formatter.Format == "json" {
		return formatter.Success(history)
	}

	if len(history) == 0 {
		fmt.Fprintln(formatter.Writer, "No packed orders.")
		return nil
	}
	for _, o := range history {
		fmt.Fprintf(formatter.Writer, "%s  %s  %s  (%d items)\n",
			o.OrderID, o.FormattedTimestamp(), o.OperatorEmail, len(o.Items))
	}
	return nil
}
