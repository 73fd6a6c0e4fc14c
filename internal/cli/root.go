package cli

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/quakecache/internal/backfill"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides database.url from config and env

	// RunIDs overrides the backfill run ID generator (for testing).
	// If nil, defaults to backfill.UUIDv7Generator.
	RunIDs backfill.RunIDGenerator

	// Now overrides the wall clock (for testing). If nil, time.Now.
	Now func() time.Time

	// HTTPClient overrides the feed HTTP client (for testing).
	HTTPClient *http.Client

	// LogWriter receives structured logs. If nil, the command's stderr.
	LogWriter io.Writer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the quakecache CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "quakecache",
		Short: "quakecache - local backfill cache for seismic events",
		Long: `Keep a local store populated with earthquake records from an FDSN event
service (the USGS catalog by default), fetching only the UTC days that are
not cached yet.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return WrapExitError(ExitCommandError, "invalid flags",
					fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config (default $QUAKECACHE_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "store URL or SQLite path (overrides config and $DATABASE_URL)")

	// Add subcommands
	cmd.AddCommand(NewBackfillCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewGapsCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
