// Package raster holds the in-memory band stack used by the inversion and a
// GeoTIFF codec for it.
//
// The codec covers the subset of GeoTIFF that scene downloads and trait
// outputs need: classic TIFF in either byte order, strips or tiles, no or
// deflate compression (with the horizontal predictor for integer data),
// 8/16/32-bit integer and 32/64-bit float samples, contiguous or separate
// planes, EPSG codes and affine transforms through GeoKeys, and the
// GDAL_NODATA and GDAL_METADATA tags for nodata, band descriptions and
// scale/offset.
//
//	r, err := raster.Read("S2A_2023-06-03_B02-B03-B04-B08.tiff")
//	nir, ok := r.Band("B08")
package raster
