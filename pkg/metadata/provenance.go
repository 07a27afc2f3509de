package metadata

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"glaiprocessor/pkg/scene"
)

// Provenance records the catalog query that produced a batch of scenes
type Provenance struct {
	Collection      string                 `yaml:"collection"`
	CatalogURL      string                 `yaml:"catalog_url"`
	Feature         string                 `yaml:"feature"`
	BBox            []float64              `yaml:"bbox,flow"`
	TimeStart       string                 `yaml:"time_start"`
	TimeEnd         string                 `yaml:"time_end"`
	MetadataFilters []scene.PropertyFilter `yaml:"metadata_filters"`
	BandSelection   []string               `yaml:"band_selection,flow"`
	AssetKey        string                 `yaml:"asset_key"`
	Scenes          []string               `yaml:"scenes"`
	CreatedAt       time.Time              `yaml:"created_at"`
}

// Encode renders the provenance record as YAML
func (p *Provenance) Encode() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provenance: %w", err)
	}
	return data, nil
}

// LoadProvenance reads a provenance record
func LoadProvenance(path string) (*Provenance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provenance file: %w", err)
	}
	var p Provenance
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse provenance file: %w", err)
	}
	return &p, nil
}
