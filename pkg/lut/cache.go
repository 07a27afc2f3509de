package lut

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/metadata"
	"glaiprocessor/pkg/scene"
	"glaiprocessor/pkg/storage"
)

// Policy decides whether an existing lookup table artifact is reused
type Policy int

const (
	// TrustExisting reuses any artifact on disk. A fingerprint mismatch is
	// only reported as a warning.
	TrustExisting Policy = iota
	// RevalidateFingerprint rebuilds artifacts whose fingerprint differs
	// from the current build settings
	RevalidateFingerprint
)

func (p Policy) String() string {
	if p == RevalidateFingerprint {
		return "revalidate_fingerprint"
	}
	return "trust_existing"
}

// Builder produces lookup tables by sampling parameters and running the
// forward model
type Builder struct {
	Params Params
	Size   int
	Method string
	Model  ForwardModel
}

// Fingerprint identifies a build of this builder for one sensor and geometry
func (b *Builder) Fingerprint(sensor string, angles metadata.AngleSet) string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d|size=%d|method=%s|params=%s|sensor=%s|angles=%.6g,%.6g,%.6g,%.6g",
		FormatVersion, b.Size, b.Method, b.Params.Digest(), sensor,
		angles.SolarZenith, angles.SolarAzimuth, angles.ViewingZenith, angles.ViewingAzimuth)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Build samples the parameter space, simulates the spectra and drops rows
// with invalid values. An empty result is a data quality error.
func (b *Builder) Build(ctx context.Context, sensor string, angles metadata.AngleSet) (*Table, error) {
	samples, err := Sample(b.Params, b.Size, b.Method)
	if err != nil {
		return nil, err
	}
	samples.SetColumn(ColumnSolarZenith, angles.SolarZenith)
	samples.SetColumn(ColumnViewingZenith, angles.ViewingZenith)
	samples.SetColumn(ColumnRelativeAzimuth, angles.RelativeAzimuth())

	spectra, err := b.Model.Simulate(ctx, SimulationRequest{Sensor: sensor, Angles: angles, Samples: samples})
	if err != nil {
		return nil, err
	}
	if spectra.Rows() != samples.Rows() {
		return nil, glaierrors.Newf(glaierrors.KindDataQuality, "lut.build",
			"forward model returned %d spectra for %d samples", spectra.Rows(), samples.Rows())
	}
	if err := samples.Append(spectra); err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindDataQuality, "lut.build", err)
	}

	samples.DropInvalid()
	if samples.Rows() == 0 {
		return nil, glaierrors.New(glaierrors.KindDataQuality, "lut.build", "lookup table is empty after dropping invalid rows")
	}
	samples.Fingerprint = b.Fingerprint(sensor, angles)
	return samples, nil
}

// Cache returns the lookup table of a scene, building and persisting it
// exactly once
type Cache struct {
	builder *Builder
	policy  Policy
	logger  logger.Logger
}

// NewCache creates a lookup table cache
func NewCache(builder *Builder, policy Policy, log logger.Logger) *Cache {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Cache{builder: builder, policy: policy, logger: log}
}

// GetOrBuild returns the scene's lookup table. An existing artifact is
// loaded according to the cache policy; otherwise the table is built from
// the scene's angles and sensor and written to the artifact path. A scene
// whose platform has no forward model sensor is a data quality error of
// that scene alone.
func (c *Cache) GetOrBuild(ctx context.Context, a storage.Artifacts) (*Table, error) {
	log := c.logger.WithFields(map[string]interface{}{
		"scene": a.ID.Key(),
		"lut":   a.LUT,
	})

	sensor, ok := scene.SensorFor(a.ID.Platform)
	if !ok {
		return nil, glaierrors.Newf(glaierrors.KindDataQuality, "lut.cache",
			"no forward model sensor for platform %q", a.ID.Platform)
	}

	angles, err := c.loadAngles(a, log)
	if err != nil {
		return nil, err
	}
	want := c.builder.Fingerprint(sensor, angles)

	if a.HasLUT() {
		t, err := Read(a.LUT)
		switch {
		case err != nil:
			log.WithError(err).Warn("Existing lookup table is unreadable, rebuilding")
		case t.Fingerprint == want:
			log.Debug("Reusing lookup table")
			return t, nil
		case c.policy == TrustExisting:
			log.WithFields(map[string]interface{}{
				"stored_fingerprint":  t.Fingerprint,
				"current_fingerprint": want,
			}).Warn("Lookup table was built with different settings and may be stale")
			return t, nil
		default:
			log.WithFields(map[string]interface{}{
				"stored_fingerprint":  t.Fingerprint,
				"current_fingerprint": want,
			}).Info("Lookup table fingerprint changed, rebuilding")
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"sensor":          sensor,
		"size":            c.builder.Size,
		"sampling_method": c.builder.Method,
	}).Info("Building lookup table")

	t, err := c.builder.Build(ctx, sensor, angles)
	if err != nil {
		return nil, err
	}
	if err := Write(a.LUT, t); err != nil {
		return nil, err
	}

	log.WithField("rows", t.Rows()).Info("Lookup table written")
	return t, nil
}

// loadAngles reads the scene's angle file. A missing file or missing keys
// fall back to the default geometry.
func (c *Cache) loadAngles(a storage.Artifacts, log logger.Logger) (metadata.AngleSet, error) {
	angles, missing, err := metadata.LoadAngles(a.Angles)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("Angle file not found, using default angles")
		return metadata.DefaultAngles(), nil
	}
	if err != nil {
		return metadata.AngleSet{}, err
	}
	if len(missing) > 0 {
		log.WithField("defaulted", missing).Warn("Angle file is incomplete, using defaults for missing angles")
	}
	return angles, nil
}
