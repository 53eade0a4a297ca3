// Package main provides the CLI entrypoint for keygram.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/keygram/internal/config"
	"github.com/verte-zerg/keygram/internal/extract"
	"github.com/verte-zerg/keygram/internal/ingest"
	"github.com/verte-zerg/keygram/internal/logging"
	"github.com/verte-zerg/keygram/internal/model"
	"github.com/verte-zerg/keygram/internal/query"
	"github.com/verte-zerg/keygram/internal/store"
	"github.com/verte-zerg/keygram/internal/summary"
)

var (
	dbPath      string
	debug       bool
	decayFactor float64
	maxSamples  int
	targetMs    = model.DefaultTargetMsPerKeystroke

	queryUser     string
	queryKeyboard string
	querySizes    string
	queryMin      int64
	queryChars    string
	queryLimit    int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "keygram",
		Short:         "N-gram performance engine for typing telemetry",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDBPath(), "path to the SQLite database")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Float64Var(&decayFactor, "decay", 0.9, "decay factor for rolling averages (0-1]")
	rootCmd.PersistentFlags().IntVar(&maxSamples, "max-samples", 20, "most recent samples per rolling average")

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newSummarizeCmd())
	rootCmd.AddCommand(newCatchupCmd())
	rootCmd.AddCommand(newHeatmapCmd())
	rootCmd.AddCommand(newSlowestCmd())
	rootCmd.AddCommand(newErrorsCmd())
	rootCmd.AddCommand(newCompareCmd())
	rootCmd.AddCommand(newTrendCmd())

	return rootCmd
}

func setup(cmd *cobra.Command) (*store.Store, *slog.Logger, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFloatConfig(cmd, "decay", &decayFactor, fileCfg.Engine.DecayFactor)
	applyIntConfig(cmd, "max-samples", &maxSamples, fileCfg.Engine.MaxSamples)
	applyBoolConfig(cmd, "debug", &debug, fileCfg.Engine.Debug)
	if fileCfg.Engine.TargetMs != nil && *fileCfg.Engine.TargetMs > 0 {
		targetMs = *fileCfg.Engine.TargetMs
	}

	logger := logging.New(nil, debug)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, logger, nil
}

func newUpdater(st *store.Store, logger *slog.Logger) *summary.Updater {
	updater := summary.NewUpdater(st, logger)
	updater.DecayFactor = decayFactor
	updater.MaxSamples = maxSamples
	return updater
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <session.json> [more.json...]",
		Short: "Ingest recorded sessions and extract their n-grams",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closeStore(st)

			for _, path := range args {
				if err := ingestFile(cmd, st, logger, path); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			return nil
		},
	}
}

func ingestFile(cmd *cobra.Command, st *store.Store, logger *slog.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			// Best-effort file close.
			_ = cerr
		}
	}()

	session, keystrokes, kb, err := ingest.Load(f)
	if err != nil {
		return err
	}
	res, err := extract.Extract(session, keystrokes)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if kb != nil {
		if err := st.UpsertKeyboard(ctx, *kb); err != nil {
			return err
		}
	} else {
		existing, err := st.GetKeyboard(ctx, session.KeyboardID)
		if err != nil {
			return err
		}
		// Documents without a target still get a keyboard row so later
		// documents cannot silently change the target mid-history.
		if existing == nil {
			seeded := model.Keyboard{ID: session.KeyboardID, TargetMsPerKeystroke: targetMs}
			if err := st.UpsertKeyboard(ctx, seeded); err != nil {
				return err
			}
		}
	}
	if err := st.InsertSession(ctx, session, keystrokes, res.Speed, res.Errors); err != nil {
		return err
	}
	logger.Info("session ingested",
		"session_id", session.ID,
		"speed_ngrams", len(res.Speed),
		"error_ngrams", len(res.Errors))
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d speed, %d error n-grams\n", session.ID, len(res.Speed), len(res.Errors))
	return nil
}

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Summarize every session not yet summarized",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closeStore(st)

			summarizer := summary.NewSummarizer(st, newUpdater(st, logger), logger)
			results, err := summarizer.SummarizeNew(cmd.Context())
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: FAILED: %v\n", r.SessionID, r.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d summary rows\n", r.SessionID, r.RowsInserted)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sessions failed", failed, len(results))
			}
			return nil
		},
	}
}

func newCatchupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catchup",
		Short: "Replay rolling-average recomputes over all sessions chronologically",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closeStore(st)

			results, err := newUpdater(st, logger).CatchUp(cmd.Context())
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: FAILED: %v\n", r.SessionID, r.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d current, %d history rows\n", r.SessionID, r.Counts.Current, r.Counts.History)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sessions failed", failed, len(results))
			}
			return nil
		},
	}
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&queryUser, "user", "", "user id (required)")
	cmd.Flags().StringVar(&queryKeyboard, "keyboard", "", "keyboard id (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("keyboard")
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&querySizes, "sizes", "", "comma-separated n-gram sizes")
	cmd.Flags().Int64Var(&queryMin, "min-samples", 0, "minimum lifetime sample count")
	cmd.Flags().StringVar(&queryChars, "chars", "", "restrict to n-grams built from these characters")
	cmd.Flags().IntVar(&queryLimit, "limit", 20, "maximum rows to show")
}

func newHeatmapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Show the rolling performance state per n-gram",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closeStore(st)

			sizes, err := parseSizes(querySizes)
			if err != nil {
				return err
			}
			cells, err := query.NewService(st).Heatmap(cmd.Context(), queryUser, queryKeyboard, sizes)
			if err != nil {
				return err
			}
			return query.RenderHeatmap(cmd.OutOrStdout(), cells)
		},
	}
	addScopeFlags(cmd)
	cmd.Flags().StringVar(&querySizes, "sizes", "", "comma-separated n-gram sizes")
	return cmd
}

func newSlowestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slowest",
		Short: "Show n-grams ranked by slowest decaying average",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closeStore(st)

			filter, err := buildFilter()
			if err != nil {
				return err
			}
			cells, err := query.NewService(st).Slowest(cmd.Context(), queryUser, queryKeyboard, filter)
			if err != nil {
				return err
			}
			return query.RenderHeatmap(cmd.OutOrStdout(), cells)
		},
	}
	addScopeFlags(cmd)
	addFilterFlags(cmd)
	return cmd
}

func newErrorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show n-grams ranked by lifetime error count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closeStore(st)

			filter, err := buildFilter()
			if err != nil {
				return err
			}
			ranks, err := query.NewService(st).MostErrorProne(cmd.Context(), queryUser, queryKeyboard, filter)
			if err != nil {
				return err
			}
			return query.RenderErrorRanks(cmd.OutOrStdout(), ranks)
		},
	}
	addScopeFlags(cmd)
	addFilterFlags(cmd)
	return cmd
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare the latest session against its predecessor per n-gram",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closeStore(st)

			rows, err := query.NewService(st).CompareLatest(cmd.Context(), queryUser, queryKeyboard)
			if err != nil {
				return err
			}
			return query.RenderComparison(cmd.OutOrStdout(), rows)
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func newTrendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Show missed-target n-gram counts per session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closeStore(st)

			points, err := query.NewService(st).MissedTargetTrend(cmd.Context(), queryUser, queryKeyboard)
			if err != nil {
				return err
			}
			return query.RenderTrend(cmd.OutOrStdout(), points)
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func buildFilter() (query.Filter, error) {
	sizes, err := parseSizes(querySizes)
	if err != nil {
		return query.Filter{}, err
	}
	return query.Filter{
		Sizes:        sizes,
		MinSamples:   queryMin,
		AllowedChars: queryChars,
		Limit:        queryLimit,
	}, nil
}

func parseSizes(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	sizes := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid size %q", part)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

func closeStore(st *store.Store) {
	if cerr := st.Close(); cerr != nil {
		// Best-effort close.
		_ = cerr
	}
}

func applyFloatConfig(cmd *cobra.Command, name string, target *float64, value *float64) {
	if value == nil || cmd.Root().PersistentFlags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target *int, value *int) {
	if value == nil || cmd.Root().PersistentFlags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target *bool, value *bool) {
	if value == nil || cmd.Root().PersistentFlags().Changed(name) {
		return
	}
	*target = *value
}
