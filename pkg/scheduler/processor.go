package scheduler

import (
	"context"
	"path/filepath"
	"strings"

	"glaiprocessor/internal/ledger"
	"glaiprocessor/internal/quicklook"
	"glaiprocessor/pkg/config"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/inversion"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/lut"
	"glaiprocessor/pkg/scene"
	"glaiprocessor/pkg/storage"
)

// InversionProcessor builds or reuses the lookup table of a scene and
// inverts it into a trait raster
type InversionProcessor struct {
	cache *lut.Cache
	// template holds the inversion settings shared by all scenes
	template   inversion.Request
	quicklooks *quicklook.Renderer
	logger     logger.Logger
}

// NewInversionProcessor creates a processor. quicklooks may be nil.
func NewInversionProcessor(cache *lut.Cache, template inversion.Request, quicklooks *quicklook.Renderer, log logger.Logger) *InversionProcessor {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &InversionProcessor{
		cache:      cache,
		template:   template,
		quicklooks: quicklooks,
		logger:     log.WithField("component", "processor"),
	}
}

// ProcessorFromConfig wires the lookup table cache, inversion settings and
// optional quicklooks of cfg around a forward model
func ProcessorFromConfig(cfg *config.Config, store *storage.Manager, model lut.ForwardModel, log logger.Logger) (*InversionProcessor, error) {
	platform, ok := scene.LookupPlatform(cfg.Monitor.Platform)
	if !ok {
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "scheduler.processor",
			"unknown platform %q", cfg.Monitor.Platform)
	}

	params, err := lut.LoadParams(cfg.LUT.RTMParams)
	if err != nil {
		return nil, err
	}

	policy := lut.TrustExisting
	if cfg.LUT.Revalidate {
		policy = lut.RevalidateFingerprint
	}
	builder := &lut.Builder{
		Params: params,
		Size:   cfg.LUT.Size,
		Method: cfg.LUT.SamplingMethod,
		Model:  model,
	}

	var renderer *quicklook.Renderer
	if cfg.Output.Quicklook {
		renderer = quicklook.New(store.Dir(), log)
	}

	return NewInversionProcessor(lut.NewCache(builder, policy, log), TemplateFromConfig(cfg, platform), renderer, log), nil
}

// TemplateFromConfig returns the inversion settings of cfg. Empty band
// selections fall back to the platform preset.
func TemplateFromConfig(cfg *config.Config, platform scene.Platform) inversion.Request {
	lutBands := cfg.Inversion.LUTBands
	srfBands := cfg.Inversion.SRFBands
	if len(lutBands) == 0 && len(srfBands) == 0 {
		lutBands = platform.LUTBands
		srfBands = platform.RasterBands
	}
	return inversion.Request{
		LUTBands:         lutBands,
		SRFBands:         srfBands,
		Traits:           cfg.Inversion.Traits,
		DefaultBandNames: platform.RasterBands,
		Scaling:          inversion.Scaling{Scale: platform.Scale, Offset: platform.Offset},
		NSolutions:       cfg.Inversion.NSolutions,
		CostFunction:     cfg.Inversion.CostFunction,
		Measure:          cfg.Inversion.Measure,
	}
}

// Process implements Processor. A scene without valid pixels still gets its
// (empty) trait raster and is reported as skipped.
func (p *InversionProcessor) Process(ctx context.Context, a storage.Artifacts) (ledger.Outcome, error) {
	log := p.logger.WithField("scene", a.ID.Key())

	table, err := p.cache.GetOrBuild(ctx, a)
	if err != nil {
		return ledger.OutcomeFailed, err
	}

	req := p.template
	req.ScenePath = a.Reflectance
	req.Table = table
	req.LUTPath = a.LUT
	req.OutputDir = filepath.Dir(a.Traits)

	res, err := inversion.Invert(ctx, req, log)
	if err != nil {
		return ledger.OutcomeFailed, err
	}
	if res.AllMasked() {
		return ledger.OutcomeSkipped, nil
	}

	if p.quicklooks != nil {
		stem := strings.TrimSuffix(filepath.Base(a.Reflectance), filepath.Ext(a.Reflectance))
		if _, err := p.quicklooks.Render(stem, res.Traits); err != nil {
			log.WithError(err).Warn("Quicklook rendering failed")
		}
	}
	return ledger.OutcomeInverted, nil
}
