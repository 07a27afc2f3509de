package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"glaiprocessor/internal/quicklook"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/inversion"
	"glaiprocessor/pkg/scene"
	"glaiprocessor/pkg/scheduler"
	"glaiprocessor/pkg/ui"
)

var invertFlags = []string{"traits", "n-solutions", "cost-function", "measure", "platform", "quicklook"}

// invertCmd represents the invert command
var invertCmd = &cobra.Command{
	Use:   "invert",
	Short: "Invert one reflectance scene against an existing lookup table",
	Long: `Invert every pixel of a single reflectance raster against a lookup table
written by a previous monitor run (or any compatible table), without touching
checkpoints.

Band selections default to the platform preset; --lut-bands and --srf-bands
pair lookup table columns with raster bands by position.`,
	Example: `  glai invert --scene S2A_2023-06-03_B02-B03-B04-B08.tiff --lut S2A_2023-06-03_lut.pkl

  glai invert --scene scene.tiff --lut lut.pkl --traits lai,cab,cw --measure mean \
    --lut-bands B02,B03,B04,B08 --srf-bands B02,B03,B04,B08`,
	Args: cobra.NoArgs,
	RunE: runInvert,
}

func init() {
	rootCmd.AddCommand(invertCmd)

	f := invertCmd.Flags()
	f.String("scene", "", "reflectance raster (GeoTIFF)")
	f.String("lut", "", "lookup table file")
	f.StringP("output-dir", "o", "", "directory of the trait raster (default is the scene directory)")
	f.StringSlice("lut-bands", nil, "lookup table band columns")
	f.StringSlice("srf-bands", nil, "raster band names, paired with --lut-bands")
	f.StringSlice("traits", nil, "traits to retrieve")
	f.Int("n-solutions", 0, "best matching lookup table rows aggregated per pixel")
	f.String("cost-function", "", "spectral distance (rmse, mae, mse)")
	f.String("measure", "", "aggregation of the best matches (median, mean, weighted_mean)")
	f.String("platform", "", "platform preset for band names and scaling")
	f.Bool("quicklook", false, "render PNG quicklooks of the trait raster")
	_ = invertCmd.MarkFlagRequired("scene")
	_ = invertCmd.MarkFlagRequired("lut")
}

func runInvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(changedFlags(cmd, invertFlags...))
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	platform, ok := scene.LookupPlatform(cfg.Monitor.Platform)
	if !ok {
		return glaierrors.Newf(glaierrors.KindConfiguration, "cli.invert", "unknown platform %q", cfg.Monitor.Platform)
	}

	req := scheduler.TemplateFromConfig(cfg, platform)
	req.ScenePath, _ = cmd.Flags().GetString("scene")
	req.LUTPath, _ = cmd.Flags().GetString("lut")
	req.OutputDir, _ = cmd.Flags().GetString("output-dir")
	if req.OutputDir == "" {
		req.OutputDir = filepath.Dir(req.ScenePath)
	}
	lutBands, _ := cmd.Flags().GetStringSlice("lut-bands")
	srfBands, _ := cmd.Flags().GetStringSlice("srf-bands")
	switch {
	case len(lutBands) > 0 && len(srfBands) > 0:
		req.LUTBands, req.SRFBands = lutBands, srfBands
	case len(lutBands) > 0 || len(srfBands) > 0:
		return glaierrors.New(glaierrors.KindConfiguration, "cli.invert", "--lut-bands and --srf-bands must be given together")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := inversion.Invert(ctx, req, log)
	if err != nil {
		return err
	}

	var rendered []string
	if cfg.Output.Quicklook && !result.AllMasked() {
		stem := strings.TrimSuffix(filepath.Base(req.ScenePath), filepath.Ext(req.ScenePath))
		if rendered, err = quicklook.New(req.OutputDir, log).Render(stem, result.Traits); err != nil {
			log.WithError(err).Warn("Quicklook rendering failed")
		}
	}

	if quiet {
		return nil
	}
	fmt.Println()
	if result.AllMasked() {
		ui.PrintWarning("Scene has no valid pixels, wrote an empty trait raster")
	} else {
		ui.PrintSuccess("Inversion complete")
	}
	ui.PrintInfo("Traits", result.TraitsPath)
	ui.PrintInfo("Pixels", fmt.Sprintf("%d (%d masked)", result.Pixels, result.Masked))
	for _, path := range rendered {
		ui.PrintInfo("Quicklook", path)
	}
	return nil
}
