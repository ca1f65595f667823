package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kitoko/packline/internal/report"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Out string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export packing history as CSV",
		Long: `Export the packing history as CSV, one row per packed item, oldest
order first.

Example:
  packline export
  packline export --out packed_orders.csv`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "", "write CSV to this file instead of stdout")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

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
	history, err := led.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read history", err)
	}

	csv := report.BuildCSV(history)

	if opts.Out == "" {
		fmt.Fprint(cmd.OutOrStdout(), csv)
		return nil
	}
	if err := os.WriteFile(opts.Out, []byte(csv), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write CSV", err)
	}
	slog.Info("history exported", "path", opts.Out, "orders", len(history))
	return nil
}
