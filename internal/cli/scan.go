package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kitoko/packline/internal/engine"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Email string
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan [payload...]",
		Short: "Feed scans through the station once",
		Long: `Process raw scan payloads against the station database and print the
resulting events. Payloads come from the arguments, or from stdin one per
line when no arguments are given.

The operator password is read from the PACKLINE_PASSWORD environment
variable.

Example:
  packline scan --email packer@example.com "PKG1:eyJvIjoiQTEiLCJpIjpbWyJYIiwyXV19"
  cat scans.txt | packline scan --email packer@example.com`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "operator email (required)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runScan(opts *ScanOptions, cmd *cobra.Command, args []string) error {
	configureLogging(opts.Verbose)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	session, err := signIn(cfg, opts.Email)
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
	b, err := newBridge(cfg)
	if err != nil {
		return err
	}

	eng := engine.New(led, b, session)
	events, cancelSub := eng.Subscribe()
	defer cancelSub()

	// Events are collected on their own goroutine while the engine runs.
	// The subscriber buffer drops oldest when it fills, so draining only
	// after Run returns would lose the earliest events of a long batch.
	var transcript []engine.Event
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for ev := range events {
			transcript = append(transcript, ev)
		}
	}()

	scans := args
	if len(scans) == 0 {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			scans = append(scans, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return WrapExitError(ExitCommandError, "failed to read stdin", err)
		}
	}
	for _, raw := range scans {
		eng.Scan(raw)
	}
	eng.Stop()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	if err := eng.Run(parentCtx); err != nil {
		return WrapExitError(ExitFailure, "scan processing failed", err)
	}
	cancelSub()
	<-collected

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	rejected := false
	for _, ev := range transcript {
		if ev.Kind == engine.KindRejected {
			rejected = true
		}
		if err := printEvent(formatter, ev); err != nil {
			return err
		}
	}

	if rejected {
		return NewExitError(ExitFailure, "one or more scans were rejected")
	}
	return nil
}

func printEvent(f *OutputFormatter, ev engine.Event) error {
	if f.Format == "json" {
		return f.Success(ev)
	}
	switch ev.Kind {
	case engine.KindRejected:
		fmt.Fprintf(f.Writer, "rejected [%s] %s\n", ev.Reason, ev.Message)
	default:
		fmt.Fprintf(f.Writer, "%s %s\n", ev.Kind, ev.Message)
	}
	return nil
}
