package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kitoko/packline/internal/order"
	"github.com/kitoko/packline/internal/payload"
)

// NewEncodeCommand creates the encode command group for label generators.
func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Produce scannable payloads",
	}
	cmd.AddCommand(newEncodeInvoiceCommand(rootOpts))
	cmd.AddCommand(newEncodeItemCommand(rootOpts))
	return cmd
}

func newEncodeInvoiceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invoice <order-id> <sku>=<quantity>...",
		Short: "Encode an invoice payload",
		Long: `Encode an order manifest as a scannable invoice payload.

Example:
  packline encode invoice A1 WIDGET-X=2 WIDGET-Y=1`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest := order.Manifest{OrderID: args[0]}
			for _, arg := range args[1:] {
				sku, qtyStr, ok := strings.Cut(arg, "=")
				if !ok || sku == "" {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid line %q: want <sku>=<quantity>", arg))
				}
				qty, err := strconv.Atoi(qtyStr)
				if err != nil || qty < 1 {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid quantity in %q: want a positive integer", arg))
				}
				manifest.Lines = append(manifest.Lines, order.Line{SKU: sku, Quantity: qty})
			}
			if manifest.HasDuplicateSKUs() {
				return NewExitError(ExitCommandError, "duplicate SKU in manifest")
			}
			fmt.Fprintln(cmd.OutOrStdout(), payload.EncodeInvoice(manifest))
			return nil
		},
	}
}

func newEncodeItemCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "item <sku>",
		Short: "Encode a packet payload",
		Long: `Encode a SKU as a scannable packet payload.

Example:
  packline encode item WIDGET-X`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), payload.EncodeItem(args[0]))
			return nil
		},
	}
}
