package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"glaiprocessor/internal/ledger"
	"glaiprocessor/pkg/auth"
	"glaiprocessor/pkg/catalog"
	"glaiprocessor/pkg/config"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/lut"
	"glaiprocessor/pkg/retry"
	"glaiprocessor/pkg/scene"
	"glaiprocessor/pkg/scheduler"
	"glaiprocessor/pkg/storage"
	"glaiprocessor/pkg/ui"
)

// monitorFlags are merged into the configuration when set
var monitorFlags = []string{
	"output-dir", "feature", "time-start", "time-end", "platform", "temporal-increment",
	"rtm-params", "lut-size", "sampling-method", "n-solutions", "traits",
	"cost-function", "measure", "catalog-url", "forward-url", "quicklook",
}

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Fetch and invert new scenes of an area of interest",
	Long: `Walk the requested time range in sub-windows of --temporal-increment days.
For every window, new scenes intersecting the area of interest are fetched
into the output directory, and every scene without a trait raster gets a
lookup table and a per-pixel trait inversion.

The date of the last processed window is kept in 'latest_scene' so that the
next run resumes from there. Windows starting after today are deferred to a
later run.`,
	Example: `  # Monitor a field over one season
  glai monitor --output-dir ./field --feature field.geojson \
    --time-start 2023-05-01 --time-end 2023-09-30 --rtm-params prosail.csv

  # Use a config file and only override the end date
  glai monitor -c glai.yaml --time-end 2023-10-31`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	f := monitorCmd.Flags()
	f.StringP("output-dir", "o", "", "monitored directory receiving scenes and trait rasters")
	f.StringP("feature", "f", "", "area of interest vector file (GeoJSON)")
	f.String("time-start", "", "first acquisition date (YYYY-MM-DD)")
	f.String("time-end", "", "last acquisition date (YYYY-MM-DD)")
	f.String("platform", "", "platform ("+strings.Join(scene.PlatformNames(), ", ")+")")
	f.Int("temporal-increment", 0, "sub-window length in days (default 7)")
	f.String("rtm-params", "", "RTM parameter file (CSV or JSON5)")
	f.Int("lut-size", 0, "lookup table rows (default 20000)")
	f.String("sampling-method", "", "lookup table sampling method (frs, lhs)")
	f.Int("n-solutions", 0, "best matching lookup table rows aggregated per pixel (default 1000)")
	f.StringSlice("traits", nil, "traits to retrieve ("+strings.Join(config.ValidTraits, ", ")+")")
	f.String("cost-function", "", "spectral distance (rmse, mae, mse)")
	f.String("measure", "", "aggregation of the best matches (median, mean, weighted_mean)")
	f.String("catalog-url", "", "STAC API root")
	f.String("forward-url", "", "radiative transfer model service URL")
	f.Bool("quicklook", false, "render PNG quicklooks of every trait raster")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(changedFlags(cmd, monitorFlags...))
	if err != nil {
		return err
	}
	if err := cfg.ValidateMonitor(); err != nil {
		return glaierrors.Wrap(glaierrors.KindConfiguration, "cli.monitor", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	start, err := cfg.StartDate()
	if err != nil {
		return glaierrors.Wrap(glaierrors.KindConfiguration, "cli.monitor", err)
	}
	end, err := cfg.EndDate()
	if err != nil {
		return glaierrors.Wrap(glaierrors.KindConfiguration, "cli.monitor", err)
	}

	aoi, err := catalog.LoadAOI(cfg.Monitor.Feature)
	if err != nil {
		return err
	}

	store, err := storage.NewManager(cfg.Monitor.OutputDir)
	if err != nil {
		return err
	}

	opts, err := catalog.OptionsFromConfig(cfg, catalogAPIKey(cfg.Catalog.URL, log), log)
	if err != nil {
		return err
	}
	source, err := catalog.NewSTACSource(store, opts)
	if err != nil {
		return err
	}

	retryCfg := retry.NewConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialDelay.Std(),
		cfg.Retry.MaxDelay.Std(), cfg.Retry.Multiplier, log)
	model := lut.NewRTMClient(cfg.Forward.URL, cfg.Forward.BatchSize, cfg.Forward.Timeout.Std(), retryCfg, log)

	processor, err := scheduler.ProcessorFromConfig(cfg, store, model, log)
	if err != nil {
		return err
	}

	schedOpts := scheduler.Options{
		Store:     store,
		Source:    source,
		Processor: processor,
		AOI:       aoi,
		Feature:   cfg.Monitor.Feature,
		Logger:    log,
	}
	if cfg.Output.Ledger {
		l, err := ledger.Open(store.Dir())
		if err != nil {
			log.WithError(err).Warn("Processing ledger unavailable, continuing without it")
		} else {
			defer l.Close()
			schedOpts.Recorder = l
		}
	}

	sched, err := scheduler.New(schedOpts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.LogComponentStart(log, "monitor", map[string]interface{}{
		"dir":           store.Dir(),
		"platform":      cfg.Monitor.Platform,
		"collection":    source.Collection(),
		"forward_model": cfg.Forward.URL,
		"lut_size":      cfg.LUT.Size,
		"traits":        cfg.Inversion.Traits,
	})

	notifier := ui.NewNotifier(cfg.Notifications, os.Stdout)
	result, err := sched.Run(ctx, scheduler.Request{
		Start:         start,
		End:           end,
		IncrementDays: cfg.Monitor.TemporalIncrement,
	})
	if err != nil {
		logger.LogComponentStop(log, "monitor", err.Error())
		if !glaierrors.IsTransient(err) {
			notifier.RunFailed("GLAI monitor failed", err)
		}
		return err
	}

	logger.LogComponentStop(log, "monitor", string(result.Status))
	if !quiet {
		printRunSummary(result, cfg)
	}
	notifier.RunFinished("GLAI monitor "+string(result.Status), runMessage(result))
	return nil
}

// catalogAPIKey looks up a stored key for the catalog. Public catalogs need
// none, so lookup problems only produce a debug line.
func catalogAPIKey(catalogURL string, log logger.Logger) string {
	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Debug("Credential manager unavailable")
		return os.Getenv(auth.EnvCatalogAPIKey)
	}
	return manager.APIKey(catalogURL)
}

func runMessage(r *scheduler.Result) string {
	return fmt.Sprintf("%d inverted, %d skipped, %d failed, checkpoint %s",
		r.Inverted, r.Skipped, r.Failed, r.Checkpoint.Format(config.DateLayout))
}

func printRunSummary(r *scheduler.Result, cfg *config.Config) {
	fmt.Println()
	ui.PrintHighlight("Monitor run " + string(r.Status))
	ui.PrintInfo("Directory", cfg.Monitor.OutputDir)
	ui.PrintInfo("Windows", fmt.Sprintf("%d", len(r.Windows)))
	ui.PrintInfo("Scenes", fmt.Sprintf("%d inverted, %d skipped, %d failed", r.Inverted, r.Skipped, r.Failed))
	if !r.Checkpoint.IsZero() {
		ui.PrintInfo("Checkpoint", r.Checkpoint.Format(config.DateLayout))
	}
	if start, err := cfg.StartDate(); err == nil {
		if end, err := cfg.EndDate(); err == nil {
			cov := ui.Coverage{Start: start, End: end, Checkpoint: r.Checkpoint}
			ui.PrintInfo("Coverage", cov.Bar(30))
		}
	}
	if r.Failed > 0 {
		ui.PrintWarning("Failed scenes are retried on the next run")
	}
}
