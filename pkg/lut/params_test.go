package lut

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	glaierrors "glaiprocessor/pkg/errors"
)

const paramsCSV = `Parameter,Distribution,Min,Max,Mode,Std
n,Uniform,1.0,2.5,,
lai,Gaussian,0,8,3,2
cab,uniform,10,80,nan,nan
hspot,Uniform,0.01,0.01,,
`

func TestParseCSV(t *testing.T) {
	ps, err := ParseCSV(strings.NewReader(paramsCSV))
	require.NoError(t, err)
	require.Len(t, ps, 4)

	assert.Equal(t, []string{"n", "lai", "cab", "hspot"}, ps.Names())
	assert.Equal(t, DistGaussian, ps[1].Distribution)
	require.NotNil(t, ps[1].Std)
	assert.Equal(t, 2.0, *ps[1].Std)
	assert.Equal(t, 3.0, ps[1].mean())
	assert.Equal(t, DistUniform, ps[2].Distribution)
	assert.Nil(t, ps[2].Mode)
	assert.True(t, ps[3].Constant())
}

func TestParseCSVErrors(t *testing.T) {
	tests := map[string]string{
		"missing column":   "Parameter,Min\nlai,0\n",
		"no rows":          "Parameter,Min,Max\n",
		"bad number":       "Parameter,Min,Max\nlai,zero,8\n",
		"inverted range":   "Parameter,Min,Max\nlai,8,0\n",
		"gaussian no std":  "Parameter,Min,Max,Distribution\nlai,0,8,Gaussian\n",
		"unknown dist":     "Parameter,Min,Max,Distribution\nlai,0,8,Beta\n",
		"duplicate":        "Parameter,Min,Max\nlai,0,8\nlai,0,7\n",
		"missing boundary": "Parameter,Min,Max\nlai,,8\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(input))
			require.Error(t, err)
			assert.True(t, glaierrors.IsConfiguration(err))
		})
	}
}

func TestParseJSON5(t *testing.T) {
	data := []byte(`[
		// leaf structure
		{parameter: "n", min: 1, max: 2.5},
		{parameter: "lai", min: 0, max: 8, mode: 3, std: 2, distribution: "Gaussian"},
	]`)

	ps, err := ParseJSON5(data)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, DistUniform, ps[0].Distribution)
	assert.Nil(t, ps[0].Mode)
	assert.Nil(t, ps[0].Std)
	assert.Equal(t, DistGaussian, ps[1].Distribution)
	require.NotNil(t, ps[1].Mode)
	require.NotNil(t, ps[1].Std)
	assert.Equal(t, 3.0, *ps[1].Mode)
	assert.Equal(t, 2.0, *ps[1].Std)
	assert.Equal(t, 3.0, ps[1].mean())
}

func TestParseJSON5OptionalNumbers(t *testing.T) {
	ps, err := ParseJSON5([]byte(`[{parameter: "cab", min: 10, max: 80, mode: 40}]`))
	require.NoError(t, err)
	require.Len(t, ps, 1)
	require.NotNil(t, ps[0].Mode)
	assert.Equal(t, 40.0, *ps[0].Mode)
	assert.Nil(t, ps[0].Std)
	assert.Equal(t, DistUniform, ps[0].Distribution)

	ps, err = ParseJSON5([]byte(`[{parameter: "cab", min: 10, max: 80, mode: null, std: 5, distribution: "normal"}]`))
	require.NoError(t, err)
	assert.Nil(t, ps[0].Mode)
	assert.Equal(t, 45.0, ps[0].mean())
	assert.Equal(t, DistGaussian, ps[0].Distribution)

	for name, input := range map[string]string{
		"string mode":     `[{parameter: "cab", min: 10, max: 80, mode: "forty"}]`,
		"gaussian no std": `[{parameter: "cab", min: 10, max: 80, distribution: "Gaussian"}]`,
		"min above max":   `[{parameter: "cab", min: 80, max: 10}]`,
		"not a list":      `{parameter: "cab", min: 10, max: 80}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJSON5([]byte(input))
			require.Error(t, err)
			assert.True(t, glaierrors.IsConfiguration(err))
		})
	}
}

func TestLoadParamsByExtension(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "prosail.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(paramsCSV), 0644))
	jsonPath := filepath.Join(dir, "prosail.json5")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{parameter: "lai", min: 0, max: 8}]`), 0644))

	ps, err := LoadParams(csvPath)
	require.NoError(t, err)
	assert.Len(t, ps, 4)

	ps, err = LoadParams(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"lai"}, ps.Names())

	_, err = LoadParams(filepath.Join(dir, "missing.csv"))
	assert.True(t, glaierrors.IsConfiguration(err))
}

func TestDigestChangesWithRanges(t *testing.T) {
	a, err := ParseCSV(strings.NewReader("Parameter,Min,Max\nlai,0,8\n"))
	require.NoError(t, err)
	b, err := ParseCSV(strings.NewReader("Parameter,Min,Max\nlai,0,7\n"))
	require.NoError(t, err)
	c, err := ParseCSV(strings.NewReader("Parameter,Min,Max\nlai,0,8\n"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Digest(), b.Digest())
	assert.Equal(t, a.Digest(), c.Digest())
}
