package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/quakecache/internal/backfill"
	"github.com/roach88/quakecache/internal/event"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Once        bool
	Interval    time.Duration // overrides watch.interval when > 0
	MetricsAddr string        // overrides watch.metrics_addr when set
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the last N completed UTC days cached",
		Long: `Periodically backfill the completed UTC days in
[today - watch.lookback_days, yesterday]. Today is never included: it is
still receiving events and would be judged cached too early.

With watch.metrics_addr (or --metrics-addr) set, serves Prometheus metrics
on /metrics and liveness on /healthz.

Example:
  quakecache watch --interval 10m --metrics-addr :9102
  quakecache watch --once`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single cycle and exit")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "time between cycles (default from config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "listen address for /metrics and /healthz")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	a, err := newApp(ctx, cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.close()

	interval := a.cfg.Watch.Interval
	if opts.Interval > 0 {
		interval = opts.Interval
	}
	addr := a.cfg.Watch.MetricsAddr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}

	var healthy atomic.Bool
	healthy.Store(true)

	if addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = out.Error(ErrCodeGeneric, "failed to listen for metrics", err.Error())
			return WrapExitError(ExitCommandError, "failed to listen for metrics", err)
		}
		srv := &http.Server{
			Handler:      newMetricsMux(a.registry, &healthy),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			a.logger.Info("serving metrics", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	lookback := a.cfg.Watch.LookbackDays
	cycle := func() (*backfill.Summary, error) {
		from, to := watchWindow(opts.now(), lookback)
		sum, err := a.orch.EnsureRange(ctx, from, to)
		healthy.Store(!backfill.IsNoProgress(err))
		if sum != nil && ctx.Err() == nil {
			a.logger.Info("watch cycle finished",
				"run_id", sum.RunID,
				"from", from.Format(event.DayLayout),
				"to", to.Format(event.DayLayout),
				"inserted", sum.Inserted,
				"failed", len(sum.Failures),
				"duration", formatDuration(sum.Duration))
		}
		return sum, err
	}

	a.logger.Info("watch started",
		"interval", interval.String(),
		"lookback_days", lookback,
		"completion", a.orch.Mode())
	sum, err := cycle()
	if opts.Once {
		return reportEnsure(out, sum, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("watch stopped", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			_, _ = cycle()
		}
	}
}

// watchWindow returns the completed days [today-lookback, today-1].
func watchWindow(now time.Time, lookback int) (from, to time.Time) {
	today := event.StartOfDay(now)
	return today.AddDate(0, 0, -lookback), today.AddDate(0, 0, -1)
}

// newMetricsMux serves /metrics from reg and /healthz from healthy.
func newMetricsMux(reg *prometheus.Registry, healthy *atomic.Bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("last backfill made no progress"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
