package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kitoko/packline/internal/order"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore packing history from a JSON file",
		Long: `Replace the packing history with the orders in the given JSON file.
The file holds a JSON array of packed-order records, the same shape the
history command prints with --format json. The blocked set is rebuilt to
exactly the imported order IDs.

Example:
  packline import backup.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runImport(opts *RootOptions, cmd *cobra.Command, path string) error {
	configureLogging(opts.Verbose)

	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read import file", err)
	}
	var orders []order.PackedOrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse import file", err)
	}

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
	if err := led.Import(ctx, orders); err != nil {
		return WrapExitError(ExitFailure, "import failed", err)
	}

	slog.Info("history imported", "path", path, "orders", len(orders))
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d orders.\n", len(orders))
	return nil
}
