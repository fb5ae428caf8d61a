package cli

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sortd/sortd/internal/cache"
	"github.com/sortd/sortd/internal/collection"
	"github.com/sortd/sortd/internal/engine"
	"github.com/sortd/sortd/internal/library"
	"github.com/sortd/sortd/internal/quota"
	"github.com/sortd/sortd/internal/store"
)

// Deps are the external collaborators the engine mutates through. Zero
// fields fall back to the local library adapter; tests inject fakes, and an
// alternative main can link a remote service without touching the commands.
type Deps struct {
	Service collection.Service
	Oracle  collection.Oracle
	Tokens  collection.TokenProvider
}

// app is the assembled runtime behind every subcommand: config, durable
// store, quota ledger, read cache, and the batch processor wired together.
type app struct {
	cfg   *Config
	store *store.Store
	proc  *engine.BatchProcessor
	out   *OutputFormatter
}

// newApp loads config, opens the database, and assembles the processor.
// The returned app must be closed.
func newApp(cmd *cobra.Command, opts *RootOptions, deps Deps) (*app, error) {
	setupLogging(opts.Verbose)

	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	if deps.Service == nil {
		svc, err := library.Open(cfg.Library)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open library", err)
		}
		deps.Service = svc
	}
	if deps.Oracle == nil {
		deps.Oracle = library.KeywordOracle{}
	}
	if deps.Tokens == nil {
		deps.Tokens = library.StaticTokens{}
	}

	zone, err := cfg.Zone()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "bad reset_zone", err)
	}

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	rc := cache.New(cache.WithTTL(time.Duration(cfg.CacheTTLSeconds) * time.Second))
	if cfg.CacheSnapshot != "" {
		if err := rc.Load(cfg.CacheSnapshot); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("cache snapshot unreadable, starting cold", "path", cfg.CacheSnapshot, "error", err)
		}
	}

	caller := engine.NewRetryingCaller(deps.Tokens)
	caller.MaxAttempts = cfg.Retry.MaxAttempts
	caller.BaseDelay = time.Duration(cfg.Retry.BaseDelaySeconds) * time.Second
	caller.MaxDelay = time.Duration(cfg.Retry.MaxDelaySeconds) * time.Second

	return &app{
		cfg:   cfg,
		store: st,
		proc: &engine.BatchProcessor{
			Service: deps.Service,
			Oracle:  deps.Oracle,
			Ledger:  quota.NewLedger(cfg.Budget, quota.WithZone(zone)),
			Cache:   rc,
			Caller:  caller,
		},
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}, nil
}

// close persists the cache snapshot and releases the database.
func (a *app) close() {
	if a.cfg.CacheSnapshot != "" {
		if err := a.proc.Cache.Save(a.cfg.CacheSnapshot); err != nil {
			slog.Warn("cache snapshot save failed", "path", a.cfg.CacheSnapshot, "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
	if a.out.Verbose {
		st := a.proc.Cache.Stats()
		a.out.VerboseLog("cache: %d hits, %d misses, %d expired", st.Hits, st.Misses, st.Expired)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
