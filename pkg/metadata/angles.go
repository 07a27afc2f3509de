package metadata

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	glaierrors "glaiprocessor/pkg/errors"
)

// Keys used in angle files
const (
	KeySunZenith     = "sun_zenith_angle"
	KeySunAzimuth    = "sun_azimuth_angle"
	KeySensorZenith  = "sensor_zenith_angle"
	KeySensorAzimuth = "sensor_azimuth_angle"
)

// Defaults applied when an angle is missing from the scene metadata
const (
	DefaultSolarZenith    = 45.0
	DefaultSolarAzimuth   = 180.0
	DefaultViewingZenith  = 0.0
	DefaultViewingAzimuth = 180.0
)

// AngleSet holds the illumination and viewing geometry of a scene in degrees
type AngleSet struct {
	SolarZenith    float64 `json:"solar_zenith_angle" bson:"solar_zenith_angle"`
	SolarAzimuth   float64 `json:"solar_azimuth_angle" bson:"solar_azimuth_angle"`
	ViewingZenith  float64 `json:"viewing_zenith_angle" bson:"viewing_zenith_angle"`
	ViewingAzimuth float64 `json:"viewing_azimuth_angle" bson:"viewing_azimuth_angle"`
}

// DefaultAngles returns the geometry used when nothing is known about a scene
func DefaultAngles() AngleSet {
	return AngleSet{
		SolarZenith:    DefaultSolarZenith,
		SolarAzimuth:   DefaultSolarAzimuth,
		ViewingZenith:  DefaultViewingZenith,
		ViewingAzimuth: DefaultViewingAzimuth,
	}
}

// RelativeAzimuth returns the absolute solar/viewing azimuth difference folded
// into [0, 180]
func (a AngleSet) RelativeAzimuth() float64 {
	psi := math.Mod(math.Abs(a.SolarAzimuth-a.ViewingAzimuth), 360)
	if psi > 180 {
		psi = 360 - psi
	}
	return psi
}

// AnglesFromMap builds an AngleSet from file keys, applying a default for each
// missing key. The names of the defaulted keys are returned in sorted order.
func AnglesFromMap(values map[string]float64) (AngleSet, []string) {
	a := DefaultAngles()
	var missing []string

	pick := func(key string, dst *float64) {
		v, ok := values[key]
		if !ok || math.IsNaN(v) {
			missing = append(missing, key)
			return
		}
		*dst = v
	}
	pick(KeySunZenith, &a.SolarZenith)
	pick(KeySunAzimuth, &a.SolarAzimuth)
	pick(KeySensorZenith, &a.ViewingZenith)
	pick(KeySensorAzimuth, &a.ViewingAzimuth)

	sort.Strings(missing)
	return a, missing
}

// EncodeAngles renders a flat angle-name to degrees mapping as YAML
func EncodeAngles(values map[string]float64) ([]byte, error) {
	data, err := yaml.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal angles: %w", err)
	}
	return data, nil
}

// DecodeAngles parses an angle file. Unknown keys are kept; non-numeric
// values make the file malformed.
func DecodeAngles(data []byte) (map[string]float64, error) {
	values := make(map[string]float64)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindDataQuality, "metadata.angles", err)
	}
	return values, nil
}

// LoadAngles reads an angle file and applies defaults for missing angles.
// A missing file is reported with an error wrapping os.ErrNotExist.
func LoadAngles(path string) (AngleSet, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AngleSet{}, nil, fmt.Errorf("failed to read angle file: %w", err)
	}
	values, err := DecodeAngles(data)
	if err != nil {
		return AngleSet{}, nil, err
	}
	a, missing := AnglesFromMap(values)
	return a, missing, nil
}
