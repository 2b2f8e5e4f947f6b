package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicsync/civicsync/internal/pipeline"
	"github.com/civicsync/civicsync/pkg/config"
	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/connector/registry"
	"github.com/civicsync/civicsync/pkg/connector/sources/socrata"
	"github.com/civicsync/civicsync/pkg/logger"
	"github.com/civicsync/civicsync/pkg/metrics"
	"github.com/civicsync/civicsync/pkg/observability"
	"github.com/civicsync/civicsync/pkg/timestamps"

	// Register warehouses
	_ "github.com/civicsync/civicsync/pkg/connector/destinations/bigquery"
	_ "github.com/civicsync/civicsync/pkg/connector/destinations/sqlwarehouse"
)

var version = "0.1.0"

// globalFlags are shared by every command.
type globalFlags struct {
	configFile string
	logLevel   string
}

// app holds what a command needs once configuration is loaded.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	source    *socrata.Source
	warehouse core.Warehouse
	shutdown  func(context.Context) error
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "civicsync",
		Short: "civicsync - incremental sync of Socrata datasets into a warehouse",
		Long: `civicsync copies Socrata open-data resources into warehouse tables.
Incremental datasets fetch only records newer than the stored data_loaded_at
watermark and append them; snapshot datasets replace the table on every run.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(
		newVersionCommand(),
		newListCommand(flags),
		newConfigCommand(flags),
		newRunCommand(flags),
		newScheduleCommand(flags),
		newWatermarkCommand(flags),
		newPlanCommand(flags),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("civicsync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List warehouse kinds and configured datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			fmt.Println("Available warehouses:")
			for _, kind := range registry.List() {
				fmt.Printf("  - %s\n", kind)
			}
			fmt.Println("\nConfigured datasets:")
			for _, ds := range cfg.Datasets {
				fmt.Printf("  - %s (%s) -> %s [%s, limit %d]\n",
					ds.Name, ds.ResourceID, ds.Table, ds.Mode, ds.PageLimit)
			}
			return nil
		},
	}
}

func newConfigCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	var opts pipeline.Options

	cmd := &cobra.Command{
		Use:   "run [dataset...]",
		Short: "Sync datasets once",
		Long: `Sync the named datasets, or every configured dataset, once.

Example:
  civicsync run building_permits
  civicsync run --full-refresh real_estate_transactions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			runner := pipeline.NewRunner(a.cfg, a.source, a.warehouse, metrics.NewCollector(), a.log)
			results, err := runner.RunDatasets(ctx, args, opts)
			for _, res := range results {
				printResult(a.warehouse, res)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.FullRefresh, "full-refresh", false, "Fetch everything and replace the table, keeping source timestamps")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Fetch and transform but do not load")
	return cmd
}

func newScheduleCommand(flags *globalFlags) *cobra.Command {
	var cronExpr string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Sync every configured dataset on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			if cronExpr == "" {
				cronExpr = a.cfg.Schedule.Cron
			}
			runner := pipeline.NewRunner(a.cfg, a.source, a.warehouse, metrics.NewCollector(), a.log)
			job := func(ctx context.Context) error {
				results, err := runner.RunDatasets(ctx, nil, pipeline.Options{})
				for _, res := range results {
					printResult(a.warehouse, res)
				}
				return err
			}

			sched, err := pipeline.NewScheduler(ctx, cronExpr, job, a.log)
			if err != nil {
				return err
			}
			sched.Start()
			<-ctx.Done()

			stopped := sched.Stop()
			select {
			case <-stopped.Done():
			case <-time.After(a.cfg.RunTimeout + time.Minute):
				a.log.Warn("timed out waiting for the running job")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression overriding schedule.cron")
	return cmd
}

func newWatermarkCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watermark [dataset...]",
		Short: "Show the stored watermark of incremental datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			datasets, err := selectDatasets(a.cfg, args)
			if err != nil {
				return err
			}
			for _, ds := range datasets {
				resolver := pipeline.NewWatermarkResolver(a.warehouse, ds.TimestampField, a.log)
				wm, err := resolver.Resolve(ctx, ds.Table)
				if err != nil {
					return fmt.Errorf("dataset %s: %w", ds.Name, err)
				}
				fmt.Printf("%s\t%s\n", a.warehouse.QualifiedName(ds.Table), formatWatermark(wm))
			}
			return nil
		},
	}
}

func newPlanCommand(flags *globalFlags) *cobra.Command {
	var fullRefresh bool

	cmd := &cobra.Command{
		Use:   "plan [dataset...]",
		Short: "Print the request each dataset would send",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			datasets, err := selectDatasets(a.cfg, args)
			if err != nil {
				return err
			}
			for _, ds := range datasets {
				var wm *time.Time
				if ds.Mode == config.ModeIncremental && !fullRefresh {
					resolver := pipeline.NewWatermarkResolver(a.warehouse, ds.TimestampField, a.log)
					if wm, err = resolver.Resolve(ctx, ds.Table); err != nil {
						return fmt.Errorf("dataset %s: %w", ds.Name, err)
					}
				}
				plan, err := a.source.Plan(ds.ResourceID, ds.TimestampField, wm, ds.PageLimit)
				if err != nil {
					return fmt.Errorf("dataset %s: %w", ds.Name, err)
				}
				fmt.Printf("%s\t%s\n", ds.Name, plan.URL)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fullRefresh, "full-refresh", false, "Plan without reading the watermark")
	return cmd
}

// setup loads configuration and builds the logger, tracing, source and
// warehouse clients.
func setup(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Encoding:    cfg.Log.Encoding,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.Get().With(zap.String("component", "civicsync-cli"))

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    "civicsync",
		ServiceVersion: version,
		Enabled:        cfg.Tracing.Enabled,
		SamplingRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a := &app{cfg: cfg, log: log, shutdown: shutdown}
	a.source = socrata.NewSource(socrata.Config{
		BaseURL:   cfg.Source.BaseURL,
		AppToken:  cfg.Source.AppToken,
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.Source.Timeout,
	}, log)

	wh, err := registry.Create(ctx, cfg.Warehouse, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create warehouse %q: %w", cfg.Warehouse.Kind, err)
	}
	a.warehouse = wh
	log.Info("warehouse ready", zap.String("kind", a.warehouse.Kind()))
	return a, nil
}

func (a *app) close() {
	if a.warehouse != nil {
		if err := a.warehouse.Close(); err != nil {
			a.log.Warn("failed to close warehouse", zap.Error(err))
		}
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			a.log.Warn("failed to close source", zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("failed to flush traces", zap.Error(err))
	}
	_ = logger.Sync()
}

func selectDatasets(cfg *config.Config, names []string) ([]config.DatasetConfig, error) {
	if len(names) == 0 {
		return cfg.Datasets, nil
	}
	out := make([]config.DatasetConfig, 0, len(names))
	for _, name := range names {
		ds, err := cfg.Dataset(name)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	return out, nil
}

func formatWatermark(wm *time.Time) string {
	if wm == nil {
		return "(none)"
	}
	return timestamps.FormatWatermark(*wm)
}

func printResult(wh core.Warehouse, res *pipeline.RunResult) {
	fmt.Printf("[%s] fetched %d records\n", res.Dataset, res.Fetched)
	switch {
	case res.UpToDate:
		fmt.Printf("[%s] no new data\n", res.Dataset)
	case res.DryRun:
		fmt.Printf("[%s] dry run: would %s %d rows into %s\n",
			res.Dataset, res.WriteMode, res.AfterDedup, wh.QualifiedName(res.Table))
	case res.Loaded > 0:
		fmt.Printf("[%s] inserted %d rows into %s\n",
			res.Dataset, res.Loaded, wh.QualifiedName(res.Table))
	}
}
