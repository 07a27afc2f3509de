package inversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/lut"
	"glaiprocessor/pkg/raster"
	"glaiprocessor/pkg/scene"
)

// TraitNodata marks masked pixels in trait rasters
const TraitNodata = 0

// Request describes the inversion of one scene
type Request struct {
	// ScenePath is the reflectance raster
	ScenePath string
	// Table is the lookup table; when nil it is read from LUTPath
	Table   *lut.Table
	LUTPath string
	// OutputDir receives the trait raster
	OutputDir string
	// LUTBands and SRFBands pair lookup table columns with raster bands
	LUTBands []string
	SRFBands []string
	Traits   []string
	// DefaultBandNames names the raster bands when the file has no band descriptions
	DefaultBandNames []string
	Scaling          Scaling
	NSolutions       int
	CostFunction     string
	Measure          string
}

// Result summarises an inversion
type Result struct {
	TraitsPath string
	Pixels     int
	Masked     int
	// Traits is the raster that was written
	Traits *raster.Raster
}

// AllMasked reports whether the scene contained no valid pixel
func (r *Result) AllMasked() bool {
	return r.Masked == r.Pixels
}

func (req Request) validate() error {
	if len(req.LUTBands) != len(req.SRFBands) {
		return glaierrors.Newf(glaierrors.KindConfiguration, "inversion.invert",
			"band selections differ in length: %d lookup table bands, %d raster bands", len(req.LUTBands), len(req.SRFBands))
	}
	if len(req.LUTBands) == 0 {
		return glaierrors.New(glaierrors.KindConfiguration, "inversion.invert", "no bands selected")
	}
	if len(req.Traits) == 0 {
		return glaierrors.New(glaierrors.KindConfiguration, "inversion.invert", "no traits requested")
	}
	if req.NSolutions < 1 {
		return glaierrors.Newf(glaierrors.KindConfiguration, "inversion.invert", "number of solutions must be positive, got %d", req.NSolutions)
	}
	if _, err := costFunc(req.CostFunction); err != nil {
		return err
	}
	if _, err := reducer(req.Measure); err != nil {
		return err
	}
	if req.Table == nil && req.LUTPath == "" {
		return glaierrors.New(glaierrors.KindConfiguration, "inversion.invert", "no lookup table given")
	}
	return nil
}

// Invert retrieves traits for one scene and writes the trait raster next to
// the other outputs. A scene without valid pixels still produces a trait
// raster filled with nodata and is reported through Result.AllMasked.
func Invert(ctx context.Context, req Request, log logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	table := req.Table
	if table == nil {
		var err error
		if table, err = lut.Read(req.LUTPath); err != nil {
			return nil, err
		}
	}
	if missing := table.Missing(req.LUTBands); len(missing) > 0 {
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "inversion.invert",
			"bands %v not found in lookup table", missing)
	}
	if missing := table.Missing(req.Traits); len(missing) > 0 {
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "inversion.invert",
			"traits %v not found in lookup table", missing)
	}
	spectra, err := table.Select(req.LUTBands)
	if err != nil {
		return nil, err
	}

	img, err := raster.Read(req.ScenePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, glaierrors.Wrap(glaierrors.KindDataQuality, "inversion.invert", err)
	}
	if nameBands(img, req.DefaultBandNames) {
		log.WithField("bands", req.DefaultBandNames).Debug("Raster has no band descriptions, using platform band names")
	}

	in, err := Preprocess(img, req.SRFBands, req.Scaling)
	if err != nil {
		return nil, err
	}

	result := &Result{
		TraitsPath: filepath.Join(req.OutputDir, scene.TraitsNameFor(filepath.Base(req.ScenePath))),
		Pixels:     in.Rows * in.Cols,
		Masked:     in.Masked(),
	}

	planes := make([][]float64, len(req.Traits))
	if in.AllMasked() {
		log.WithFields(map[string]interface{}{
			"scene": filepath.Base(req.ScenePath),
			"kind":  glaierrors.KindDataQuality,
		}).Warn("Scene contains no valid pixels, writing empty trait raster")
		for i := range planes {
			planes[i] = make([]float64, result.Pixels)
		}
	} else {
		engine := Engine{CostFunction: req.CostFunction, NSolutions: req.NSolutions}
		sol, err := engine.Run(ctx, spectra, in)
		if err != nil {
			return nil, err
		}
		if planes, err = Aggregate(table, sol, req.Traits, req.Measure); err != nil {
			return nil, err
		}
	}

	out, err := WriteTraits(result.TraitsPath, img, req.Traits, planes)
	if err != nil {
		return nil, err
	}
	result.Traits = out

	log.WithFields(map[string]interface{}{
		"scene":  filepath.Base(req.ScenePath),
		"output": result.TraitsPath,
		"pixels": result.Pixels,
		"masked": result.Masked,
	}).Info("Traits written")
	return result, nil
}

// WriteTraits writes one band per trait with the georeference of src.
// Masked pixels must already hold TraitNodata.
func WriteTraits(path string, src *raster.Raster, traits []string, planes [][]float64) (*raster.Raster, error) {
	if len(traits) != len(planes) {
		return nil, fmt.Errorf("%d traits but %d planes", len(traits), len(planes))
	}
	out := raster.New(src.Rows, src.Cols, src.Geo)
	for i, name := range traits {
		b, err := out.AddBand(name, planes[i])
		if err != nil {
			return nil, err
		}
		b.Nodata = TraitNodata
		b.HasNodata = true
	}
	if err := raster.Write(path, out, raster.WriteOptions{}); err != nil {
		return nil, err
	}
	return out, nil
}
