package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentic-research/lcimorph/api"
	"github.com/agentic-research/lcimorph/internal/config"
	"github.com/agentic-research/lcimorph/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	verbose    bool

	// Set up by PersistentPreRunE for the subcommands.
	logger          *zap.Logger
	runCfg          *api.RunConfig
	metrics         *observability.Collector
	shutdownTracing func(context.Context) error
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to a run configuration YAML file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	pf.String("model", "", "IAM model (remind, image)")
	pf.String("pathway", "", "Scenario pathway, e.g. SSP2-Base")
	pf.Int("year", 0, "Target year")
	pf.String("system-model", "attributional", "attributional or consequential")
	pf.Int("time-horizon", 30, "Consequential market horizon in years")
	pf.String("data-dir", "data", "Directory holding the alias catalogs and auxiliary tables")
	pf.String("scenario-dir", "", "Directory holding the scenario result files")
	pf.String("key", "", "Fernet key of encrypted scenario files (prefer LCIMORPH_KEY)")
	pf.String("log-dir", "logs", "Directory of the deleted-datasets audit log")
	pf.String("metrics-file", "", "Write Prometheus metrics to this file after the run")
	pf.Bool("trace", false, "Print OpenTelemetry spans to stderr")
	pf.Float64("trace-sample-ratio", 1, "Fraction of traces to sample")
}

var rootCmd = &cobra.Command{
	Use:   "lcimorph",
	Short: "Align life-cycle inventories with integrated assessment scenarios",
	Long: `lcimorph reads an IAM scenario (REMIND or IMAGE), derives market shares,
efficiency and emission ratios for one year, and rewrites an activity graph:
template datasets are replicated per scenario region and consumers are
relinked to the regional copies.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		runCfg, err = config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		for i, cs := range runCfg.CustomScenarios {
			if runCfg.CustomScenarios[i].Workbook, err = filepath.Abs(cs.Workbook); err != nil {
				return err
			}
			if runCfg.CustomScenarios[i].Config, err = filepath.Abs(cs.Config); err != nil {
				return err
			}
		}

		if metrics, err = observability.NewCollector(prometheus.NewRegistry()); err != nil {
			return err
		}
		shutdownTracing, err = observability.InitTracing(cmd.Context(), observability.TracingConfig{
			Enabled:     runCfg.Tracing.Enabled,
			ServiceName: "lcimorph",
			SampleRatio: runCfg.Tracing.SampleRatio,
		}, logger)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		defer func() {
			if logger != nil {
				_ = logger.Sync()
			}
		}()
		if shutdownTracing != nil {
			observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)
		}
		if runCfg != nil && runCfg.MetricsFile != "" {
			return metrics.WriteTextfile(runCfg.MetricsFile)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
