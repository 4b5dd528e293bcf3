package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pgEdge/pgedge-pmdw/internal/config"
	"github.com/pgEdge/pgedge-pmdw/internal/logging"
	"github.com/pgEdge/pgedge-pmdw/internal/metrics"
	"github.com/pgEdge/pgedge-pmdw/internal/pipeline"
)

var (
	runMode       string
	runStrategy   string
	runDryRun     bool
	runJSON       bool
	runMarginDays int
	runMaxConns   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the warehouse from the operational database",
	Long: `Run one load of the warehouse. A full run rebuilds every dimension and
fact table; an incremental run reloads only records changed since the last
successful run. Either way the whole run commits in one transaction, and a
failed or interrupted run leaves the warehouse exactly as it was.

A dry run extracts and transforms but writes nothing.

The command exits non-zero when the run fails.

Example:
  pgedge-pmdw run --mode full
  pgedge-pmdw run --mode incremental --profile distributed
  pgedge-pmdw run --mode full --dry-run --json`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "",
		"run mode: full or incremental")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "",
		"transform strategy: in-process or database")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false,
		"extract and transform without writing to the warehouse")
	runCmd.Flags().BoolVar(&runJSON, "json", false,
		"print the run summary as JSON")
	runCmd.Flags().IntVar(&runMarginDays, "margin-days", 0,
		"days of time dimension padding around the data (0 disables padding)")
	runCmd.Flags().IntVar(&runMaxConns, "max-conns", 0,
		"maximum connections per database pool")
}

// applyRunFlags overrides c with the run flags the user set. An explicit
// --margin-days 0 disables padding.
func applyRunFlags(flags *pflag.FlagSet, c *config.Config) {
	if runMode != "" {
		c.Run.Mode = runMode
	}
	if runStrategy != "" {
		c.Run.Strategy = runStrategy
	}
	if flags.Changed("margin-days") {
		c.Run.MarginDays = runMarginDays
	}
	if runMaxConns > 0 {
		c.Run.MaxConns = runMaxConns
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd.Flags(), cfg)

	// Validate configuration
	if err := cfg.ValidateRun(); err != nil {
		return err
	}
	mode, err := pipeline.ParseMode(cfg.Run.Mode)
	if err != nil {
		return err
	}
	p, err := cfg.Selected()
	if err != nil {
		return err
	}

	logging.Info().
		Str("profile", cfg.Profile).
		Str("source", p.Source.Redacted()).
		Str("destination", p.Destination.Redacted()).
		Str("mode", string(mode)).
		Str("strategy", cfg.Run.Strategy).
		Bool("dry_run", runDryRun).
		Msg("Starting warehouse run")

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	m := metrics.New()
	pl := pipeline.New(&pipeline.PostgresConnector{
		SourceConn:      p.Source.ConnectionString(),
		DestinationConn: p.Destination.ConnectionString(),
		Destination:     cfg.Profile + "/" + p.Destination.Database,
		Strategy:        cfg.Run.Strategy,
		MaxConns:        int32(cfg.Run.MaxConns),
		ConnectTimeout:  connectTimeout(),
	})

	summary, runErr := pl.Run(ctx, pipeline.Options{
		Mode:       mode,
		DryRun:     runDryRun,
		MarginDays: cfg.Run.MarginDays,
		Logger:     logging.Component("pipeline"),
		Metrics:    m,
	})

	if cfg.Metrics.PushURL != "" {
		// The run context may already be cancelled; the push must still
		// report the failed run.
		pushCtx, pushCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := m.Push(pushCtx, cfg.Metrics.PushURL, cfg.Metrics.Job); err != nil {
			logging.Warn().Err(err).Msg("Failed to push metrics")
		}
		pushCancel()
	}

	out := cmd.OutOrStdout()
	if runJSON {
		if err := writeSummaryJSON(out, summary); err != nil {
			return err
		}
	} else {
		writeSummary(out, summary)
	}

	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", summary.RunID, runErr)
	}
	return nil
}

func writeSummaryJSON(w io.Writer, s *pipeline.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func writeSummary(w io.Writer, s *pipeline.Summary) {
	fmt.Fprintf(w, "Run %s\n", s.RunID)
	fmt.Fprintf(w, "  Mode:     %s", s.Mode)
	if s.DryRun {
		fmt.Fprint(w, " (dry run)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Strategy: %s\n", s.Strategy)
	fmt.Fprintf(w, "  State:    %s\n", s.State)
	fmt.Fprintf(w, "  Elapsed:  %s\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Skipped:  %d\n", s.Skipped)

	if len(s.Processed) > 0 {
		tables := make([]string, 0, len(s.Processed))
		for t := range s.Processed {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		fmt.Fprintln(w, "  Processed:")
		for _, t := range tables {
			fmt.Fprintf(w, "    %-16s %d\n", t, s.Processed[t])
		}
	}
	if s.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", s.Error)
	}
}
