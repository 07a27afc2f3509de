package inversion

import (
	"fmt"
	"math"
	"strings"

	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/raster"
)

// Scaling converts stored digital numbers to reflectance when a band carries
// no scale metadata of its own
type Scaling struct {
	Scale  float64
	Offset float64
}

// Identity leaves values unchanged
var Identity = Scaling{Scale: 1}

// Reflectance is the preprocessed input of the inversion: one row-major
// plane per selected band plus the pixel mask
type Reflectance struct {
	Bands  []string
	Rows   int
	Cols   int
	Planes [][]float64
	// Mask marks pixels that are not inverted; always Rows*Cols long
	Mask []bool
}

// Masked returns the number of masked pixels
func (r *Reflectance) Masked() int {
	n := 0
	for _, m := range r.Mask {
		if m {
			n++
		}
	}
	return n
}

// AllMasked reports whether no pixel can be inverted
func (r *Reflectance) AllMasked() bool {
	return r.Masked() == len(r.Mask)
}

// Spectrum copies the selected band values of one pixel into dst
func (r *Reflectance) Spectrum(pixel int, dst []float64) []float64 {
	if cap(dst) < len(r.Planes) {
		dst = make([]float64, len(r.Planes))
	}
	dst = dst[:len(r.Planes)]
	for b, plane := range r.Planes {
		dst[b] = plane[pixel]
	}
	return dst
}

// Preprocess prepares a scene for the inversion:
//
//  1. the nodata sentinel is taken from the first raster band
//  2. every band is scaled to reflectance, leaving nodata pixels untouched
//  3. a pixel is masked when the first raster band is nodata there, when a
//     selected band's own mask excludes it, or when the first selected band
//     still equals nodata after scaling
//  4. the selected bands are extracted in the requested order
//
// A band name missing from the raster is a configuration error.
func Preprocess(r *raster.Raster, bands []string, fallback Scaling) (*Reflectance, error) {
	if len(r.Bands) == 0 {
		return nil, glaierrors.New(glaierrors.KindDataQuality, "inversion.preprocess", "raster has no bands")
	}
	if len(bands) == 0 {
		return nil, glaierrors.New(glaierrors.KindConfiguration, "inversion.preprocess", "no bands selected")
	}

	first := r.Bands[0]
	isNodata := first.IsNodata

	selected := make([]*raster.Band, len(bands))
	for i, name := range bands {
		b, ok := r.Band(name)
		if !ok {
			return nil, glaierrors.Newf(glaierrors.KindConfiguration, "inversion.preprocess",
				"band %q not found in raster (available: %s)", name, strings.Join(r.BandNames(), ", "))
		}
		selected[i] = b
	}

	pixels := r.Rows * r.Cols
	out := &Reflectance{
		Bands:  append([]string(nil), bands...),
		Rows:   r.Rows,
		Cols:   r.Cols,
		Planes: make([][]float64, len(bands)),
		Mask:   make([]bool, pixels),
	}

	for i, b := range selected {
		scale, offset := fallback.Scale, fallback.Offset
		if b.HasScale {
			scale, offset = b.Scale, b.Offset
		}
		if scale == 0 {
			scale = 1
		}

		plane := make([]float64, pixels)
		for p, v := range b.Values {
			if isNodata(v) {
				plane[p] = v
				continue
			}
			plane[p] = v*scale + offset
		}
		out.Planes[i] = plane

		if len(b.Mask) == pixels {
			for p, m := range b.Mask {
				if m {
					out.Mask[p] = true
				}
			}
		}
	}

	for p := 0; p < pixels; p++ {
		if isNodata(first.Values[p]) || isNodata(out.Planes[0][p]) {
			out.Mask[p] = true
			continue
		}
		for _, plane := range out.Planes {
			if math.IsNaN(plane[p]) || math.IsInf(plane[p], 0) {
				out.Mask[p] = true
				break
			}
		}
	}

	return out, nil
}

// nameBands assigns default names to a raster whose bands carry no
// descriptions, as long as the band counts agree
func nameBands(r *raster.Raster, names []string) bool {
	if len(names) != len(r.Bands) {
		return false
	}
	for i, b := range r.Bands {
		if b.Name != fmt.Sprintf("band_%d", i+1) {
			return false
		}
	}
	for i, b := range r.Bands {
		b.Name = names[i]
	}
	return true
}
