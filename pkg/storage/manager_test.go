package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glaiprocessor/pkg/scene"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
}

func TestManager(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "aoi")

	manager, err := NewManager(tempDir)
	require.NoError(t, err)
	assert.DirExists(t, tempDir)

	id := scene.NewID("S2A", time.Date(2023, 6, 3, 0, 0, 0, 0, time.UTC), []string{"B02", "B03", "B04", "B08"})
	a := manager.Artifacts(id)
	assert.Equal(t, filepath.Join(tempDir, "S2A_2023-06-03_B02-B03-B04-B08.tiff"), a.Reflectance)
	assert.Equal(t, filepath.Join(tempDir, "S2A_2023-06-03_angles.yaml"), a.Angles)
	assert.Equal(t, filepath.Join(tempDir, "S2A_2023-06-03_lut.pkl"), a.LUT)
	assert.Equal(t, filepath.Join(tempDir, "S2A_2023-06-03_B02-B03-B04-B08_traits.tiff"), a.Traits)
	assert.False(t, a.HasReflectance())

	testData := []byte("raster bytes")
	n, err := manager.Save(id.ReflectanceName(), bytes.NewReader(testData))
	require.NoError(t, err)
	assert.Equal(t, int64(len(testData)), n)
	assert.True(t, a.HasReflectance())
	assert.True(t, manager.Exists(id.ReflectanceName()))

	content, err := os.ReadFile(a.Reflectance)
	require.NoError(t, err)
	assert.Equal(t, testData, content)

	_, err = os.Stat(a.Reflectance + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")
}

func TestScenesAndPending(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir)
	require.NoError(t, err)

	touch(t, dir, "S2B_2023-06-05_B02-B03-B04-B08.tiff")
	touch(t, dir, "S2A_2023-06-03_B02-B03-B04-B08.tiff")
	touch(t, dir, "S2A_2023-06-03_B02-B03-B04-B08_traits.tiff")
	touch(t, dir, "S2A_2023-06-03_angles.yaml")
	touch(t, dir, "sentinel-2-l2a_2023-06-01-2023-06-08_mapper_configs.yaml")
	touch(t, dir, "latest_scene")
	touch(t, dir, "aoi_mask.tiff")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "quicklooks"), 0755))

	scenes, err := manager.Scenes()
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, "S2A", scenes[0].ID.Platform)
	assert.True(t, scenes[0].HasTraits())
	assert.True(t, scenes[0].HasAngles())
	assert.Equal(t, "S2B", scenes[1].ID.Platform)
	assert.False(t, scenes[1].HasTraits())

	pending, err := manager.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "S2B_2023-06-05_B02-B03-B04-B08", pending[0].ID.Key())
}

func TestWriteFileReplaces(t *testing.T) {
	manager, err := NewManager(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, manager.WriteFile("S2A_2023-06-03_angles.yaml", []byte("first")))
	require.NoError(t, manager.WriteFile("S2A_2023-06-03_angles.yaml", []byte("second")))

	content, err := os.ReadFile(manager.Path("S2A_2023-06-03_angles.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))
}
