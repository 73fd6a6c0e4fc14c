package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/quakecache/internal/backfill"
	"github.com/roach88/quakecache/internal/config"
	"github.com/roach88/quakecache/internal/event"
	"github.com/roach88/quakecache/internal/feed"
	"github.com/roach88/quakecache/internal/store"
	"github.com/roach88/quakecache/internal/store/mongostore"
	"github.com/roach88/quakecache/internal/store/pgstore"
)

// cacheStore is what every backend provides.
type cacheStore interface {
	backfill.MarkerStore
	ReadRange(ctx context.Context, start, end time.Time) ([]event.Record, error)
	Close() error
}

// Backend names returned by storeKind.
const (
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"
	backendMongo    = "mongo"
)

// storeKind picks a backend from the URL scheme. Anything that is not
// mongodb:// or postgres:// is a SQLite path, optionally sqlite://-prefixed.
func storeKind(url string) (kind, target string) {
	switch {
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		return backendMongo, url
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return backendPostgres, url
	case strings.HasPrefix(url, "sqlite://"):
		return backendSQLite, strings.TrimPrefix(url, "sqlite://")
	default:
		return backendSQLite, url
	}
}

// openStore opens the backend selected by url. The caller owns the handle.
// logger receives the network backends' connection diagnostics.
func openStore(ctx context.Context, url, mongoDatabase string, logger *slog.Logger) (cacheStore, error) {
	kind, target := storeKind(url)
	switch kind {
	case backendMongo:
		s, err := mongostore.Open(ctx, target, mongoDatabase, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case backendPostgres:
		s, err := pgstore.Open(ctx, target, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := store.Open(target)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// app bundles the collaborators one command invocation needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    cacheStore
	feed     *feed.Client
	orch     *backfill.Orchestrator
	registry *prometheus.Registry
	metrics  *backfill.Metrics
}

// newLogger returns a text handler on w; debug level when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves the config path and applies the --db override.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(opts.ConfigPath))
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database.URL = opts.Database
	}
	return cfg, nil
}

// newApp loads config and opens the store. withFeed additionally builds the
// feed client and orchestrator. Failures are returned as *ExitError after
// being reported through the formatter.
func newApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions, withFeed bool) (*app, error) {
	out := opts.formatter(cmd)

	logWriter := opts.LogWriter
	if logWriter == nil {
		logWriter = cmd.ErrOrStderr()
	}
	logger := newLogger(logWriter, opts.Verbose)

	cfg, err := loadConfig(opts)
	if err != nil {
		_ = out.Error(ErrCodeConfig, "failed to load config", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	kind, _ := storeKind(cfg.Database.URL)
	logger.Debug("opening store", "backend", kind)
	st, err := openStore(ctx, cfg.Database.URL, cfg.Database.Name, logger)
	if err != nil {
		_ = out.Error(ErrCodeStore, "failed to open store", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	a := &app{cfg: cfg, logger: logger, store: st}
	if !withFeed {
		return a, nil
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = backfill.NewMetrics(a.registry)

	a.feed, err = feed.New(feed.Config{
		BaseURL:    cfg.Feed.BaseURL,
		UserAgent:  cfg.Feed.UserAgent,
		PageSize:   cfg.Feed.PageSize,
		Timeout:    cfg.Feed.Timeout,
		Attempts:   cfg.Feed.MaxRetries,
		Backoff:    cfg.Feed.Backoff,
		MaxBackoff: cfg.Feed.MaxBackoff,
		HTTPClient: opts.HTTPClient,
		OnRequest:  a.metrics.ObserveFeedRequest,
		Logger:     logger,
	})
	if err != nil {
		a.close()
		_ = out.Error(ErrCodeFeed, "failed to build feed client", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to build feed client", err)
	}

	mode, err := backfill.ParseCompletionMode(cfg.Backfill.Completion)
	if err != nil {
		a.close()
		_ = out.Error(ErrCodeConfig, "invalid completion mode", err.Error())
		return nil, WrapExitError(ExitCommandError, "invalid completion mode", err)
	}

	orchOpts := []backfill.Option{
		backfill.WithLogger(logger),
		backfill.WithWorkers(cfg.Backfill.Workers),
		backfill.WithCompletion(mode),
		backfill.WithMaxRangeDays(cfg.Backfill.MaxRangeDays),
		backfill.WithMetrics(a.metrics),
	}
	if opts.RunIDs != nil {
		orchOpts = append(orchOpts, backfill.WithRunIDs(opts.RunIDs))
	}
	if opts.Now != nil {
		orchOpts = append(orchOpts, backfill.WithClock(opts.Now))
	}
	a.orch, err = backfill.New(a.store, a.feed, orchOpts...)
	if err != nil {
		a.close()
		_ = out.Error(ErrCodeConfig, "failed to build orchestrator", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to build orchestrator", err)
	}
	return a, nil
}

// announce reports the range about to be ensured when --verbose is set.
func (a *app) announce(out *OutputFormatter, start, end time.Time) {
	out.VerboseLog("ensuring %s..%s (completion %s, %d workers)",
		event.StartOfDay(start).Format(event.DayLayout),
		event.StartOfDay(end).Format(event.DayLayout),
		a.orch.Mode(), a.cfg.Backfill.Workers)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing store", "error", err)
	}
}

// parseRange parses --from/--to as UTC days or instants.
func parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := event.ParseDay(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
	}
	end, err := event.ParseDay(to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
	}
	return start, end, nil
}

// commandContext returns the command's context or Background.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
