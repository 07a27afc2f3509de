package raster

import (
	"fmt"
	"math"
)

// GeoInfo locates a raster on the ground
type GeoInfo struct {
	// EPSG code of the coordinate reference system, 0 when unknown
	EPSG int
	// Transform is the affine pixel-to-model transform in GDAL order:
	// origin x, pixel width, row rotation, origin y, column rotation, pixel height
	Transform [6]float64
}

// IsZero reports whether no georeferencing is set
func (g GeoInfo) IsZero() bool {
	return g.EPSG == 0 && g.Transform == [6]float64{}
}

// Band is one layer of a raster, stored row-major
type Band struct {
	Name      string
	Values    []float64
	Nodata    float64
	HasNodata bool
	// Scale and Offset convert stored values to physical units (v*Scale + Offset)
	Scale    float64
	Offset   float64
	HasScale bool
	// Mask marks pixels excluded by the producer; nil means nothing excluded
	Mask []bool
}

// IsNodata reports whether v equals the band's nodata sentinel
func (b *Band) IsNodata(v float64) bool {
	if !b.HasNodata {
		return false
	}
	if math.IsNaN(b.Nodata) {
		return math.IsNaN(v)
	}
	return v == b.Nodata
}

// Raster is a stack of equally sized bands sharing one georeference
type Raster struct {
	Rows  int
	Cols  int
	Geo   GeoInfo
	Bands []*Band
}

// New creates an empty raster
func New(rows, cols int, geo GeoInfo) *Raster {
	return &Raster{Rows: rows, Cols: cols, Geo: geo}
}

// AddBand appends a band. values must hold Rows*Cols samples.
func (r *Raster) AddBand(name string, values []float64) (*Band, error) {
	if len(values) != r.Rows*r.Cols {
		return nil, fmt.Errorf("band %q has %d values, raster is %dx%d", name, len(values), r.Rows, r.Cols)
	}
	b := &Band{Name: name, Values: values, Scale: 1}
	r.Bands = append(r.Bands, b)
	return b, nil
}

// Band returns the band with the given name
func (r *Raster) Band(name string) (*Band, bool) {
	for _, b := range r.Bands {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// BandNames returns band names in order
func (r *Raster) BandNames() []string {
	names := make([]string, len(r.Bands))
	for i, b := range r.Bands {
		names[i] = b.Name
	}
	return names
}

// Pixels returns Rows*Cols
func (r *Raster) Pixels() int {
	return r.Rows * r.Cols
}

func (r *Raster) validate() error {
	if r.Rows <= 0 || r.Cols <= 0 {
		return fmt.Errorf("raster has invalid size %dx%d", r.Rows, r.Cols)
	}
	if len(r.Bands) == 0 {
		return fmt.Errorf("raster has no bands")
	}
	for i, b := range r.Bands {
		if len(b.Values) != r.Rows*r.Cols {
			return fmt.Errorf("band %d (%s) has %d values, want %d", i, b.Name, len(b.Values), r.Rows*r.Cols)
		}
	}
	return nil
}
