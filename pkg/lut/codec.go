package lut

import (
	"fmt"
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/bson"

	glaierrors "glaiprocessor/pkg/errors"
)

// FormatVersion is written into every lookup table artifact
const FormatVersion = 1

type document struct {
	Version     int       `bson:"version"`
	Fingerprint string    `bson:"fingerprint"`
	Columns     []string  `bson:"columns"`
	Rows        int       `bson:"rows"`
	Values      []float64 `bson:"values"`
}

// Encode serialises a table as a BSON document
func Encode(t *Table) ([]byte, error) {
	data, err := bson.Marshal(document{
		Version:     FormatVersion,
		Fingerprint: t.Fingerprint,
		Columns:     t.Columns,
		Rows:        t.Rows(),
		Values:      t.Values,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode lookup table: %w", err)
	}
	return data, nil
}

// Decode parses a table artifact. Malformed content is a data quality error.
func Decode(data []byte) (*Table, error) {
	var doc document
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindDataQuality, "lut.decode", err)
	}
	if doc.Version != FormatVersion {
		return nil, glaierrors.Newf(glaierrors.KindDataQuality, "lut.decode",
			"unsupported lookup table version %d", doc.Version)
	}
	if len(doc.Columns) == 0 || len(doc.Values) != doc.Rows*len(doc.Columns) {
		return nil, glaierrors.Newf(glaierrors.KindDataQuality, "lut.decode",
			"lookup table has %d values for %d rows of %d columns", len(doc.Values), doc.Rows, len(doc.Columns))
	}
	t := &Table{Columns: doc.Columns, Values: doc.Values, Fingerprint: doc.Fingerprint}
	if err := t.checkColumns(); err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindDataQuality, "lut.decode", err)
	}
	return t, nil
}

// Read loads a table artifact from disk
func Read(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup table: %w", err)
	}
	t, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// Write stores a table artifact, replacing path atomically
func Write(path string, t *Table) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary lookup table: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write lookup table: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync lookup table: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close lookup table: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace lookup table: %w", err)
	}
	return nil
}
