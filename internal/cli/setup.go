package cli

import (
	"log/slog"
	"os"

	"github.com/kitoko/packline/internal/auth"
	"github.com/kitoko/packline/internal/bridge"
	"github.com/kitoko/packline/internal/config"
	"github.com/kitoko/packline/internal/ledger"
	"github.com/kitoko/packline/internal/store"
)

// configureLogging routes slog to stderr so JSON output on stdout stays
// machine-readable.
func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads the config file named by the --config flag.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openLedger opens the station database and wraps it in a Ledger.
// The caller owns the returned store and must Close it.
func openLedger(cfg config.Config) (*store.Store, *ledger.Ledger, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, ledger.New(st), nil
}

// newBridge builds the sync bridge from config. Sync disabled means Nop.
func newBridge(cfg config.Config) (bridge.Bridge, error) {
	if !cfg.Sync.Enabled {
		return bridge.Nop{}, nil
	}
	b, err := bridge.NewHTTP(cfg.Sync.BaseURL, cfg.Sync.Timeout())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid sync base_url", err)
	}
	return b, nil
}

// signIn resolves the operator session for scan-processing commands.
// The password comes from PACKLINE_PASSWORD; passwords never appear in argv.
func signIn(cfg config.Config, email string) (auth.Session, error) {
	password := os.Getenv("PACKLINE_PASSWORD")
	session, err := auth.NewFileAuthenticator(cfg.Credentials).SignIn(email, password)
	if err != nil {
		return auth.Session{}, WrapExitError(ExitCommandError, "sign-in failed", err)
	}
	return session, nil
}
