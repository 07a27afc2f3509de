package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	glaierrors "glaiprocessor/pkg/errors"
)

// AOI is the area of interest scenes are searched for
type AOI struct {
	// Name identifies the AOI in provenance records
	Name     string
	Geometry orb.Geometry
	Bound    orb.Bound
}

// BBox returns the bound as [west, south, east, north]
func (a *AOI) BBox() []float64 {
	return []float64{a.Bound.Left(), a.Bound.Bottom(), a.Bound.Right(), a.Bound.Top()}
}

// LoadAOI reads a GeoJSON Feature, FeatureCollection or bare Geometry
func LoadAOI(path string) (*AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindConfiguration, "catalog.aoi", fmt.Errorf("failed to read AOI file: %w", err))
	}
	aoi, err := ParseAOI(data)
	if err != nil {
		return nil, err
	}
	if aoi.Name == "" {
		aoi.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return aoi, nil
}

// ParseAOI decodes GeoJSON into an AOI. Coordinates are expected in WGS84
// longitude/latitude; the bound is the union of every geometry.
func ParseAOI(data []byte) (*AOI, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, aoiError(fmt.Errorf("invalid GeoJSON: %w", err))
	}

	var (
		geometries orb.Collection
		name       string
	)
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, aoiError(err)
		}
		for _, f := range fc.Features {
			if f.Geometry == nil {
				continue
			}
			geometries = append(geometries, f.Geometry)
			if name == "" {
				name = f.Properties.MustString("name", "")
			}
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, aoiError(err)
		}
		if f.Geometry != nil {
			geometries = append(geometries, f.Geometry)
		}
		name = f.Properties.MustString("name", "")
	case "":
		return nil, aoiError(fmt.Errorf("GeoJSON object has no type"))
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, aoiError(err)
		}
		if geom := g.Geometry(); geom != nil {
			geometries = append(geometries, geom)
		}
	}

	if len(geometries) == 0 {
		return nil, aoiError(fmt.Errorf("GeoJSON contains no geometry"))
	}

	var geom orb.Geometry = geometries
	if len(geometries) == 1 {
		geom = geometries[0]
	}
	bound := geom.Bound()
	if bound.Left() < -180 || bound.Right() > 180 || bound.Bottom() < -90 || bound.Top() > 90 {
		return nil, aoiError(fmt.Errorf("bound %v is outside WGS84 longitude/latitude", bound))
	}

	return &AOI{Name: name, Geometry: geom, Bound: bound}, nil
}

func aoiError(err error) error {
	return glaierrors.Wrap(glaierrors.KindConfiguration, "catalog.aoi", err)
}
