// Package catalog finds the scenes acquired over an area of interest and
// materialises them in the monitored directory.
//
// The STAC implementation posts item searches to {url}/search, follows
// "next" links, and for every matching item downloads one multi-band
// reflectance asset and writes the scene's angle file. A scene whose raster is
// already present is never downloaded again, so a window can be fetched any
// number of times.
//
//	aoi, _ := catalog.LoadAOI("field.geojson")
//	src, _ := catalog.NewSTACSource(store, opts)
//	report, err := src.Fetch(ctx, catalog.Query{Window: w, AOI: aoi})
package catalog
