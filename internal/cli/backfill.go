package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/quakecache/internal/backfill"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	From string
	To   string
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Cache every UTC day in a range",
		Long: `Make sure every UTC day from --from through --to (inclusive) is cached,
fetching only the days that are missing. Days whose fetch fails are
reported and left uncached for the next run.

Example:
  quakecache backfill --from 2024-04-01 --to 2024-04-30
  quakecache backfill --db postgres://localhost/quakes --from 2024-01-01 --to 2024-01-07 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "first day, YYYY-MM-DD or RFC 3339 (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "last day, inclusive (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runBackfill(opts *BackfillOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	start, end, err := parseRange(opts.From, opts.To)
	if err != nil {
		_ = out.Error(ErrCodeInvalidRange, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid range", err)
	}

	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	a, err := newApp(ctx, cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.close()

	a.announce(out, start, end)
	sum, err := a.orch.EnsureRange(ctx, start, end)
	return reportEnsure(out, sum, err)
}

// reportEnsure prints the summary (when there is one) and maps the
// orchestrator's error onto exit codes.
func reportEnsure(out *OutputFormatter, sum *backfill.Summary, err error) error {
	if sum == nil {
		// Range rejected before any work.
		_ = out.Error(ErrCodeInvalidRange, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid range", err)
	}

	view := newSummaryView(sum)
	switch {
	case err == nil:
		return out.SuccessWithRun(view, sum.RunID)
	case backfill.IsNoProgress(err):
		_ = out.Error(ErrCodeNoProgress, err.Error(), view)
		return WrapExitError(ExitFailure, "backfill made no progress", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		_ = out.Error(ErrCodeInterrupted, "backfill interrupted", view)
		return WrapExitError(ExitFailure, "backfill interrupted", err)
	default:
		_ = out.Error(ErrCodeGeneric, err.Error(), view)
		return WrapExitError(ExitFailure, "backfill failed", err)
	}
}
