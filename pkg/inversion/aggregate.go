package inversion

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/lut"
)

// Aggregation measures
const (
	MeasureMedian       = "median"
	MeasureMean         = "mean"
	MeasureWeightedMean = "weighted_mean"
)

// Aggregate reduces the solutions of every pixel to one value per trait.
// The result holds one row-major plane per trait; masked pixels are 0.
func Aggregate(table *lut.Table, sol *Solutions, traits []string, measure string) ([][]float64, error) {
	reduce, err := reducer(measure)
	if err != nil {
		return nil, err
	}
	if missing := table.Missing(traits); len(missing) > 0 {
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "inversion.aggregate",
			"traits %v not found in lookup table", missing)
	}

	pixels := sol.Rows * sol.Cols
	planes := make([][]float64, len(traits))
	columns := make([][]float64, len(traits))
	for t, name := range traits {
		planes[t] = make([]float64, pixels)
		columns[t], _ = table.Column(name)
	}

	values := make([]float64, sol.N)
	weights := make([]float64, sol.N)
	for p := 0; p < pixels; p++ {
		idx, costs := sol.At(p)
		if len(idx) == 0 {
			continue
		}
		for i, c := range costs {
			weights[i] = 1 / (c + 1e-12)
		}
		for t := range traits {
			for i, row := range idx {
				values[i] = columns[t][row]
			}
			planes[t][p] = reduce(values[:len(idx)], weights[:len(idx)])
		}
	}
	return planes, nil
}

func reducer(measure string) (func(values, weights []float64) float64, error) {
	switch measure {
	case MeasureMedian, "":
		return func(values, _ []float64) float64 {
			return median(values)
		}, nil
	case MeasureMean:
		return func(values, _ []float64) float64 {
			return stat.Mean(values, nil)
		}, nil
	case MeasureWeightedMean:
		return func(values, weights []float64) float64 {
			return stat.Mean(values, weights)
		}, nil
	default:
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "inversion.aggregate", "unsupported measure %q", measure)
	}
}

// median averages the two middle values of an even-length sample
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
