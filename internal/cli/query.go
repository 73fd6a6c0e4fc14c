package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/quakecache/internal/backfill"
	"github.com/roach88/quakecache/internal/event"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	From       string
	To         string
	NoBackfill bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print cached events for a range of UTC days",
		Long: `Backfill the range (unless --no-backfill) and print every stored event
from the start of --from through the end of --to, ordered by time.

Backfill failures are logged; whatever is cached is still printed.

Example:
  quakecache query --from 2024-04-01 --to 2024-04-02
  quakecache query --from 2024-04-01 --to 2024-04-01 --no-backfill --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "first day, YYYY-MM-DD or RFC 3339 (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "last day, inclusive (required)")
	cmd.Flags().BoolVar(&opts.NoBackfill, "no-backfill", false, "read the store only, never contact the feed")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	start, end, err := parseRange(opts.From, opts.To)
	if err != nil {
		_ = out.Error(ErrCodeInvalidRange, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid range", err)
	}
	if event.StartOfDay(end).Before(event.StartOfDay(start)) {
		_ = out.Error(ErrCodeInvalidRange, "--to is before --from", nil)
		return NewExitError(ExitCommandError, "invalid range: --to is before --from")
	}

	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	a, err := newApp(ctx, cmd, opts.RootOptions, !opts.NoBackfill)
	if err != nil {
		return err
	}
	defer a.close()

	runID := ""
	if !opts.NoBackfill {
		a.announce(out, start, end)
		sum, err := a.orch.EnsureRange(ctx, start, end)
		switch {
		case sum == nil:
			_ = out.Error(ErrCodeInvalidRange, err.Error(), nil)
			return WrapExitError(ExitCommandError, "invalid range", err)
		case ctx.Err() != nil:
			return reportEnsure(out, sum, err)
		case err != nil || !sum.Complete():
			a.logger.Warn("range only partially cached",
				"run_id", sum.RunID,
				"failed", len(sum.Failures),
				"error", err)
		}
		runID = sum.RunID
		if backfill.IsNoProgress(err) {
			a.logger.Warn("no bucket could be fetched; printing what is cached")
		}
	}

	window := event.Span(start, end)
	records, err := a.store.ReadRange(ctx, window.Start, window.End)
	if err != nil {
		_ = out.Error(ErrCodeStore, "failed to read range", err.Error())
		return WrapExitError(ExitCommandError, "failed to read range", err)
	}

	view := make(recordsView, len(records))
	for i, r := range records {
		view[i] = newRecordView(r)
	}
	return out.SuccessWithRun(view, runID)
}
