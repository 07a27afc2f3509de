package scene

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DateLayout is the acquisition date layout used in artifact names
const DateLayout = "2006-01-02"

const (
	reflectanceExt   = ".tiff"
	traitsSuffix     = "_traits.tiff"
	anglesSuffix     = "_angles.yaml"
	lutSuffix        = "_lut.pkl"
	provenanceSuffix = "_mapper_configs.yaml"
)

var reflectancePattern = regexp.MustCompile(`^(.+?)_(\d{4}-\d{2}-\d{2})_(.+)\.tiff$`)

// ID identifies a scene by platform, acquisition date and band set
type ID struct {
	Platform string
	Date     time.Time
	Bands    []string
}

// NewID builds a scene identity, truncating the date to the day
func NewID(platform string, date time.Time, bands []string) ID {
	return ID{
		Platform: platform,
		Date:     time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Bands:    append([]string(nil), bands...),
	}
}

// Prefix returns "{PLATFORM}_{YYYY-MM-DD}", shared by every artifact of the scene
func (id ID) Prefix() string {
	return id.Platform + "_" + id.Date.Format(DateLayout)
}

// Key returns a stable string key for maps and the ledger
func (id ID) Key() string {
	return strings.TrimSuffix(id.ReflectanceName(), reflectanceExt)
}

// ReflectanceName returns "{PLATFORM}_{YYYY-MM-DD}_{b1-b2-...}.tiff"
func (id ID) ReflectanceName() string {
	return id.Prefix() + "_" + strings.Join(id.Bands, "-") + reflectanceExt
}

// AnglesName returns "{PLATFORM}_{YYYY-MM-DD}_angles.yaml"
func (id ID) AnglesName() string {
	return id.Prefix() + anglesSuffix
}

// LUTName returns "{PLATFORM}_{YYYY-MM-DD}_lut.pkl"
func (id ID) LUTName() string {
	return id.Prefix() + lutSuffix
}

// TraitsName returns the reflectance name with ".tiff" replaced by "_traits.tiff"
func (id ID) TraitsName() string {
	return TraitsNameFor(id.ReflectanceName())
}

// String implements fmt.Stringer
func (id ID) String() string {
	return id.Key()
}

// TraitsNameFor derives the trait raster name from a reflectance raster name
func TraitsNameFor(reflectanceName string) string {
	base := filepath.Base(reflectanceName)
	return strings.TrimSuffix(base, reflectanceExt) + traitsSuffix
}

// ProvenanceName returns "{collection}_{start}-{end}_mapper_configs.yaml"
func ProvenanceName(collection string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s-%s%s", collection, start.Format(DateLayout), end.Format(DateLayout), provenanceSuffix)
}

// IsReflectanceName reports whether name is a reflectance raster name,
// excluding trait rasters
func IsReflectanceName(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, reflectanceExt) &&
		!strings.HasSuffix(base, traitsSuffix) &&
		reflectancePattern.MatchString(base)
}

// ParseReflectanceName recovers a scene identity from a reflectance raster name
func ParseReflectanceName(name string) (ID, error) {
	base := filepath.Base(name)
	if strings.HasSuffix(base, traitsSuffix) {
		return ID{}, fmt.Errorf("%q is a trait raster, not a reflectance raster", base)
	}
	m := reflectancePattern.FindStringSubmatch(base)
	if m == nil {
		return ID{}, fmt.Errorf("%q does not follow PLATFORM_YYYY-MM-DD_BANDS.tiff", base)
	}
	date, err := time.Parse(DateLayout, m[2])
	if err != nil {
		return ID{}, fmt.Errorf("%q carries an invalid date: %w", base, err)
	}
	return ID{Platform: m[1], Date: date, Bands: strings.Split(m[3], "-")}, nil
}

// Window is an inclusive range of acquisition dates
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days covered by the window
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// Contains reports whether date falls inside the window
func (w Window) Contains(date time.Time) bool {
	return !date.Before(w.Start) && !date.After(w.End)
}

// String renders the window as "YYYY-MM-DD/YYYY-MM-DD"
func (w Window) String() string {
	return w.Start.Format(DateLayout) + "/" + w.End.Format(DateLayout)
}
