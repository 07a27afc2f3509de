// Package inversion retrieves canopy traits from a reflectance scene by
// searching a lookup table of simulated spectra.
//
// Preprocess scales the scene to reflectance and builds the pixel mask from
// the nodata value of the first band. Engine keeps the best matching lookup
// table rows of every unmasked pixel under an rmse, mae or mse cost, and
// Aggregate reduces them to trait values with a median, mean or cost
// weighted mean. Invert runs the whole chain for one scene and writes the
// result with WriteTraits: one band per trait, nodata 0.
package inversion
