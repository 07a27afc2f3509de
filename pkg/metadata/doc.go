// Package metadata reads and writes the small YAML side files of a scene:
// the acquisition geometry (angles) and the catalog query provenance.
package metadata
