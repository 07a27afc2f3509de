package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"glaiprocessor/pkg/scene"
)

// Artifacts holds the paths of every artifact belonging to one scene
type Artifacts struct {
	ID          scene.ID
	Reflectance string
	Angles      string
	LUT         string
	Traits      string
}

// HasReflectance reports whether the reflectance raster exists
func (a Artifacts) HasReflectance() bool { return fileExists(a.Reflectance) }

// HasAngles reports whether the angle file exists
func (a Artifacts) HasAngles() bool { return fileExists(a.Angles) }

// HasLUT reports whether the lookup table exists
func (a Artifacts) HasLUT() bool { return fileExists(a.LUT) }

// HasTraits reports whether the trait raster exists
func (a Artifacts) HasTraits() bool { return fileExists(a.Traits) }

// Manager owns the layout of a monitored directory. Whether a scene has been
// fetched, modelled or inverted is decided only by which files exist.
type Manager struct {
	outputDir string
}

// NewManager creates a new storage manager, creating the directory if needed
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Manager{outputDir: outputDir}, nil
}

// Dir returns the monitored directory path
func (m *Manager) Dir() string {
	return m.outputDir
}

// Path joins name onto the monitored directory
func (m *Manager) Path(name string) string {
	return filepath.Join(m.outputDir, name)
}

// Exists reports whether the named artifact exists
func (m *Manager) Exists(name string) bool {
	return fileExists(m.Path(name))
}

// Artifacts returns the artifact paths for a scene identity
func (m *Manager) Artifacts(id scene.ID) Artifacts {
	return Artifacts{
		ID:          id,
		Reflectance: m.Path(id.ReflectanceName()),
		Angles:      m.Path(id.AnglesName()),
		LUT:         m.Path(id.LUTName()),
		Traits:      m.Path(id.TraitsName()),
	}
}

// Scenes scans the directory for reflectance rasters and returns their
// artifacts sorted by name, which orders them by platform then date
func (m *Manager) Scenes() ([]Artifacts, error) {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !scene.IsReflectanceName(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	scenes := make([]Artifacts, 0, len(names))
	for _, name := range names {
		id, err := scene.ParseReflectanceName(name)
		if err != nil {
			continue
		}
		a := m.Artifacts(id)
		// Keep the on-disk spelling even if the band list would re-join differently
		a.Reflectance = m.Path(name)
		a.Traits = m.Path(scene.TraitsNameFor(name))
		scenes = append(scenes, a)
	}
	return scenes, nil
}

// Pending returns the scenes whose trait raster does not exist yet
func (m *Manager) Pending() ([]Artifacts, error) {
	all, err := m.Scenes()
	if err != nil {
		return nil, err
	}
	var pending []Artifacts
	for _, a := range all {
		if !a.HasTraits() {
			pending = append(pending, a)
		}
	}
	return pending, nil
}

// Save writes the reader to the named artifact atomically and returns the
// number of bytes written
func (m *Manager) Save(name string, r io.Reader) (int64, error) {
	filename := m.Path(name)

	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	n, err := io.Copy(out, r)
	if err == nil {
		err = out.Sync()
	}
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return 0, fmt.Errorf("failed to save %s: %w", name, err)
	}

	if closeErr != nil {
		os.Remove(tempFile)
		return 0, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return 0, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return n, nil
}

// WriteFile writes data to the named artifact atomically
func (m *Manager) WriteFile(name string, data []byte) error {
	_, err := m.Save(name, bytes.NewReader(data))
	return err
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
