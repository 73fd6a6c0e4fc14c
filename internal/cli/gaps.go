package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/quakecache/internal/backfill"
	"github.com/roach88/quakecache/internal/event"
)

// GapsOptions holds flags for the gaps command.
type GapsOptions struct {
	*RootOptions
	From string
	To   string
}

// NewGapsCommand creates the gaps command.
func NewGapsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GapsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Show which UTC days in a range are cached",
		Long: `Report, per UTC day, how many records are stored, whether a completion
marker exists, and whether the configured completion mode considers the
day cached. Never contacts the feed.

Example:
  quakecache gaps --from 2024-04-01 --to 2024-04-30`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGaps(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "first day (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "last day, inclusive (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runGaps(opts *GapsOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	start, end, err := parseRange(opts.From, opts.To)
	if err != nil {
		_ = out.Error(ErrCodeInvalidRange, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid range", err)
	}

	ctx := commandContext(cmd)
	a, err := newApp(ctx, cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer a.close()

	mode, err := backfill.ParseCompletionMode(a.cfg.Backfill.Completion)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid completion mode", err)
	}

	buckets, err := event.DayBuckets(start, end, a.cfg.Backfill.MaxRangeDays)
	if err != nil {
		_ = out.Error(ErrCodeInvalidRange, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid range", err)
	}

	view := gapsView{Mode: string(mode), Days: make([]gapView, 0, len(buckets))}
	for _, b := range buckets {
		n, err := a.store.CountInRange(ctx, b.Start, b.End)
		if err != nil {
			_ = out.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to count bucket", err)
		}
		marked, err := a.store.BucketComplete(ctx, b)
		if err != nil {
			_ = out.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read marker", err)
		}

		cached := n > 0
		if mode == backfill.ModeMarker {
			cached = marked
		}
		if !cached {
			view.Missing++
		}
		view.Days = append(view.Days, gapView{Day: b.String(), Count: n, Marked: marked, Cached: cached})
	}

	return out.Success(view)
}
