// Package quicklook renders trait rasters as PNG heat maps for a quick visual
// check of a scene. Masked pixels are left blank.
package quicklook

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	// Liberation fonts register automatically on import
	_ "gonum.org/v1/plot/font/liberation"

	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/raster"
)

// DirName is the quicklook directory inside the output directory
const DirName = "quicklooks"

// Renderer writes one PNG per trait band
type Renderer struct {
	dir    string
	Width  vg.Length
	Height vg.Length
	Colors int
	logger logger.Logger
}

// New creates a renderer writing below outputDir/quicklooks
func New(outputDir string, log logger.Logger) *Renderer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Renderer{
		dir:    filepath.Join(outputDir, DirName),
		Width:  6 * vg.Inch,
		Height: 6 * vg.Inch,
		Colors: 64,
		logger: log.WithField("component", "quicklook"),
	}
}

// Dir returns the directory quicklooks are written to
func (r *Renderer) Dir() string {
	return r.dir
}

// PathFor returns the quicklook path of one trait of a scene
func (r *Renderer) PathFor(stem, trait string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s.png", stem, trait))
}

// Render draws every band of traits. Bands without a single valid pixel are
// skipped. It returns the files written; a failing band does not stop the
// others.
func (r *Renderer) Render(stem string, traits *raster.Raster) ([]string, error) {
	if traits == nil || traits.Rows <= 0 || traits.Cols <= 0 {
		return nil, errors.New("quicklook: empty raster")
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, fmt.Errorf("quicklook: create directory: %w", err)
	}

	var (
		written []string
		errs    []error
	)
	for _, band := range traits.Bands {
		g := newGrid(traits.Rows, traits.Cols, band)
		if g.valid == 0 {
			r.logger.WithFields(map[string]interface{}{
				"scene": stem,
				"trait": band.Name,
			}).Debug("No valid pixels, skipping quicklook")
			continue
		}
		path := r.PathFor(stem, band.Name)
		if err := r.draw(path, fmt.Sprintf("%s %s", stem, band.Name), g); err != nil {
			errs = append(errs, fmt.Errorf("quicklook %s: %w", band.Name, err))
			continue
		}
		written = append(written, path)
	}

	if len(written) > 0 {
		r.logger.WithFields(map[string]interface{}{
			"scene": stem,
			"files": len(written),
		}).Debug("Quicklooks written")
	}
	return written, errors.Join(errs...)
}

func (r *Renderer) draw(path, title string, g *grid) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"

	hm := plotter.NewHeatMap(g, palette.Heat(r.Colors, 1))
	hm.Min, hm.Max = g.min, g.max
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	return p.Save(r.Width, r.Height, path)
}

// grid adapts a raster band to plotter.GridXYZ. Raster row 0 is the top of
// the image while plot rows grow upwards, so rows are flipped.
type grid struct {
	rows, cols int
	band       *raster.Band
	min, max   float64
	valid      int
}

func newGrid(rows, cols int, band *raster.Band) *grid {
	g := &grid{rows: rows, cols: cols, band: band, min: math.Inf(1), max: math.Inf(-1)}
	for _, v := range band.Values {
		if g.masked(v) {
			continue
		}
		g.valid++
		g.min = math.Min(g.min, v)
		g.max = math.Max(g.max, v)
	}
	return g
}

func (g *grid) masked(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || g.band.IsNodata(v)
}

func (g *grid) Dims() (c, r int) { return g.cols, g.rows }

func (g *grid) Z(c, r int) float64 {
	v := g.band.Values[(g.rows-1-r)*g.cols+c]
	if g.masked(v) {
		return math.NaN()
	}
	return v
}

func (g *grid) X(c int) float64 { return float64(c) }

func (g *grid) Y(r int) float64 { return float64(r) }
