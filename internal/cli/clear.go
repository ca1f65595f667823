package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	*RootOptions
	Yes bool
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Wipe packing history and the blocked set",
		Long: `Delete all packed-order history and the blocked order-ID set.
Cleared orders become packable again. This cannot be undone; --yes is
required.

Example:
  packline clear --yes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm deletion")

	return cmd
}

func runClear(opts *ClearOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	if !opts.Yes {
		return NewExitError(ExitCommandError, "refusing to clear history without --yes")
	}

	cfg, err := loadConfig(opts.RootOptions)
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
	if err := led.Clear(ctx); err != nil {
		return WrapExitError(ExitFailure, "clear failed", err)
	}

	slog.Info("history cleared")
	fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
	return nil
}
