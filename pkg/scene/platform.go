package scene

import (
	"sort"
	"strings"
)

// PropertyFilter is a catalog item property constraint
type PropertyFilter struct {
	Property string  `yaml:"property" json:"property"`
	Operator string  `yaml:"operator" json:"operator"`
	Value    float64 `yaml:"value" json:"value"`
}

// Platform describes a sensor family: where its scenes come from, which
// raster bands are extracted and which LUT columns they correspond to
type Platform struct {
	Name          string
	Collection    string
	RasterBands   []string
	LUTBands      []string
	Scale         float64
	Offset        float64
	CloudProperty string
}

// Filters returns the default catalog filters for the platform
func (p Platform) Filters(maxCloudCover float64) []PropertyFilter {
	if p.CloudProperty == "" {
		return nil
	}
	return []PropertyFilter{{Property: p.CloudProperty, Operator: "lt", Value: maxCloudCover}}
}

var platforms = map[string]Platform{
	"Sentinel2": {
		Name:          "Sentinel2",
		Collection:    "sentinel-2-l2a",
		RasterBands:   []string{"B02", "B03", "B04", "B08"},
		LUTBands:      []string{"B02", "B03", "B04", "B08"},
		Scale:         0.0001,
		CloudProperty: "eo:cloud_cover",
	},
	"LandsatC2L2": {
		Name:          "LandsatC2L2",
		Collection:    "landsat-c2-l2",
		RasterBands:   []string{"blue", "green", "red", "nir08"},
		LUTBands:      []string{"blue", "green", "red", "nir08"},
		Scale:         0.0000275,
		Offset:        -0.2,
		CloudProperty: "eo:cloud_cover",
	},
	"LandsatC2L1": {
		Name:          "LandsatC2L1",
		Collection:    "landsat-c2-l1",
		RasterBands:   []string{"green", "red", "nir08"},
		LUTBands:      []string{"green", "red", "nir08"},
		Scale:         1,
		CloudProperty: "eo:cloud_cover",
	},
}

// LookupPlatform returns the preset for a platform name
func LookupPlatform(name string) (Platform, bool) {
	p, ok := platforms[name]
	return p, ok
}

// PlatformNames returns the known platform names in sorted order
func PlatformNames() []string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var sensors = map[string]string{
	"S2A":       "Sentinel2A",
	"S2B":       "Sentinel2B",
	"S2C":       "Sentinel2C",
	"LANDSAT_8": "Landsat8",
	"LANDSAT_9": "Landsat9",
}

// SensorFor maps a platform code from an artifact name to the sensor name the
// forward model expects
func SensorFor(platformCode string) (string, bool) {
	s, ok := sensors[strings.ToUpper(platformCode)]
	return s, ok
}

// PlatformCode normalises a catalog platform property ("Sentinel-2A",
// "landsat-9") into the code used in artifact names ("S2A", "LANDSAT_9")
func PlatformCode(catalogPlatform string) string {
	p := strings.ToLower(strings.TrimSpace(catalogPlatform))
	switch {
	case strings.HasPrefix(p, "sentinel-2") && len(p) == len("sentinel-2")+1:
		return "S2" + strings.ToUpper(p[len(p)-1:])
	case strings.HasPrefix(p, "landsat-"):
		return "LANDSAT_" + strings.TrimPrefix(p, "landsat-")
	case strings.HasPrefix(p, "landsat_"):
		return "LANDSAT_" + strings.TrimPrefix(p, "landsat_")
	default:
		return strings.ToUpper(strings.NewReplacer("-", "", " ", "_").Replace(p))
	}
}
