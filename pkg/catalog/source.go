package catalog

import (
	"context"

	"glaiprocessor/pkg/scene"
)

// Query selects the scenes of one sub-window over an AOI
type Query struct {
	Window scene.Window
	AOI    *AOI
	// Feature is the AOI file path recorded in provenance
	Feature string
}

// FetchReport summarises one Fetch call
type FetchReport struct {
	Window     scene.Window
	Matched    int
	Downloaded int
	Existing   int
	Skipped    int
	Bytes      int64
	Scenes     []scene.ID
	Provenance string
}

// SceneSource materialises the reflectance raster and angle file of every
// scene acquired in the query window into the monitored directory. A scene
// whose raster already exists is never downloaded again.
type SceneSource interface {
	Fetch(ctx context.Context, q Query) (*FetchReport, error)
}
