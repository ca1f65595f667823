package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kitoko/packline/internal/api"
	"github.com/kitoko/packline/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Email string

	// Tokens allows overriding the event ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Tokens engine.TokenGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the packing station",
		Long: `Start the packing station engine and its HTTP facade.

The engine opens the station database (creating it if it doesn't exist),
signs in the operator, and starts the single-writer scan loop. Scans arrive
over HTTP at POST /scan; completed orders are recorded locally and uploaded
to the configured sync endpoint in the background.

The operator password is read from the PACKLINE_PASSWORD environment
variable.

Example:
  packline run --email packer@example.com
  packline run --config /etc/packline/station.yaml --email packer@example.com --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStation(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "operator email (required)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runStation(opts *RunOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	session, err := signIn(cfg, opts.Email)
	if err != nil {
		return err
	}
	slog.Info("operator signed in", "email", session.Email)

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

	engOpts := []engine.Option{}
	if opts.Tokens != nil {
		engOpts = append(engOpts, engine.WithTokens(opts.Tokens))
	}
	eng := engine.New(led, b, session, engOpts...)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Log notices so the operator sees sync advisories on an unattended
	// station.
	go func() {
		for {
			select {
			case n := <-eng.Notices():
				slog.Warn("notice", "text", n.Text)
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Station started. Listening for scans on", cfg.Listen)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return api.NewServer(eng, led).Serve(gctx, cfg.Listen)
	})

	if err := g.Wait(); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "station error", err)
	}

	slog.Info("station stopped gracefully")
	return nil
}
