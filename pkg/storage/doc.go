// Package storage manages the layout of a monitored directory.
//
// Every artifact of a scene is named from its identity (platform,
// acquisition date, band set), so the directory itself is the processing
// index: a scene whose trait raster exists is never regenerated, and a scene
// whose lookup table exists reuses it. Writes go through a temporary file
// and an atomic rename, so an interrupted run never leaves a truncated
// artifact that a later run would mistake for a finished one.
package storage
