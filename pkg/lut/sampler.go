package lut

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/samplemv"

	glaierrors "glaiprocessor/pkg/errors"
)

// Sampling methods
const (
	// MethodFRS draws every parameter independently at random
	MethodFRS = "frs"
	// MethodLHS draws a Latin hypercube over all parameters
	MethodLHS = "lhs"
)

// Sample draws n parameter combinations. Each column of the returned table is
// one parameter, in the order of params.
func Sample(params Params, n int, method string) (*Table, error) {
	if n < 1 {
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "lut.sample", "lookup table size must be positive, got %d", n)
	}
	if len(params) == 0 {
		return nil, glaierrors.New(glaierrors.KindConfiguration, "lut.sample", "no parameters to sample")
	}

	q := newQuantiles(params)
	batch := mat.NewDense(n, len(params), nil)

	switch method {
	case MethodFRS:
		u := distuv.Uniform{Min: 0, Max: 1}
		for i := 0; i < n; i++ {
			row := batch.RawRowView(i)
			for j := range row {
				row[j] = u.Rand()
			}
			q.Quantile(row, row)
		}
	case MethodLHS:
		samplemv.LatinHypercube{Q: q}.Sample(batch)
	default:
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "lut.sample",
			"unsupported sampling method %q (use %s or %s)", method, MethodFRS, MethodLHS)
	}

	return &Table{
		Columns: params.Names(),
		Values:  append([]float64(nil), batch.RawMatrix().Data...),
	}, nil
}

// quantiles maps unit-cube points to parameter space one dimension at a time
type quantiles []func(p float64) float64

var _ distmv.Quantiler = quantiles(nil)

func newQuantiles(params Params) quantiles {
	q := make(quantiles, len(params))
	for i, p := range params {
		q[i] = quantileFunc(p)
	}
	return q
}

// Quantile implements distmv.Quantiler. x and p may alias.
func (q quantiles) Quantile(x, p []float64) []float64 {
	if x == nil {
		x = make([]float64, len(p))
	}
	for i, f := range q {
		x[i] = f(p[i])
	}
	return x
}

func quantileFunc(p Param) func(float64) float64 {
	lo, hi := p.Min, p.Max
	if p.Constant() {
		return func(float64) float64 { return lo }
	}

	if p.Distribution == DistGaussian {
		n := distuv.Normal{Mu: p.mean(), Sigma: *p.Std}
		cdfLo, cdfHi := n.CDF(lo), n.CDF(hi)
		return func(u float64) float64 {
			prob := cdfLo + clamp(u, 0, 1)*(cdfHi-cdfLo)
			return clamp(n.Quantile(clamp(prob, 0, 1)), lo, hi)
		}
	}

	uni := distuv.Uniform{Min: lo, Max: hi}
	return func(u float64) float64 {
		return uni.Quantile(clamp(u, 0, 1))
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
