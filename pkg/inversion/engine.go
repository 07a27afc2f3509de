package inversion

import (
	"container/heap"
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	glaierrors "glaiprocessor/pkg/errors"
)

// Cost functions
const (
	CostRMSE = "rmse"
	CostMAE  = "mae"
	CostMSE  = "mse"
)

// Engine finds the lookup table spectra closest to every observed pixel
type Engine struct {
	CostFunction string
	NSolutions   int
}

// Solutions holds, for every pixel, the indices of the best matching lookup
// table rows and their costs, best first. Masked pixels hold no solutions.
type Solutions struct {
	Rows int
	Cols int
	// N is the number of solutions kept per pixel
	N       int
	Indices []int
	Costs   []float64
	Mask    []bool
}

// At returns the solution indices and costs of one pixel
func (s *Solutions) At(pixel int) ([]int, []float64) {
	if s.Mask[pixel] {
		return nil, nil
	}
	return s.Indices[pixel*s.N : (pixel+1)*s.N], s.Costs[pixel*s.N : (pixel+1)*s.N]
}

func costFunc(name string) (func(sim, obs []float64) float64, error) {
	switch name {
	case CostRMSE, "":
		return func(sim, obs []float64) float64 {
			return math.Sqrt(squaredError(sim, obs) / float64(len(obs)))
		}, nil
	case CostMSE:
		return func(sim, obs []float64) float64 {
			return squaredError(sim, obs) / float64(len(obs))
		}, nil
	case CostMAE:
		return func(sim, obs []float64) float64 {
			var sum float64
			for i, o := range obs {
				sum += math.Abs(sim[i] - o)
			}
			return sum / float64(len(obs))
		}, nil
	default:
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "inversion.engine", "unsupported cost function %q", name)
	}
}

func squaredError(sim, obs []float64) float64 {
	var sum float64
	for i, o := range obs {
		d := sim[i] - o
		sum += d * d
	}
	return sum
}

// Run compares every unmasked pixel against every lookup table row. lut has
// one row per simulated spectrum and one column per band of in.
func (e Engine) Run(ctx context.Context, lut *mat.Dense, in *Reflectance) (*Solutions, error) {
	cost, err := costFunc(e.CostFunction)
	if err != nil {
		return nil, err
	}
	if e.NSolutions < 1 {
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "inversion.engine", "number of solutions must be positive, got %d", e.NSolutions)
	}

	lutRows, lutCols := lut.Dims()
	if lutCols != len(in.Planes) {
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "inversion.engine",
			"lookup table has %d bands, scene has %d", lutCols, len(in.Planes))
	}

	n := e.NSolutions
	if n > lutRows {
		n = lutRows
	}
	pixels := in.Rows * in.Cols
	sol := &Solutions{
		Rows:    in.Rows,
		Cols:    in.Cols,
		N:       n,
		Indices: make([]int, pixels*n),
		Costs:   make([]float64, pixels*n),
		Mask:    append([]bool(nil), in.Mask...),
	}

	best := make(candidates, 0, n)
	obs := make([]float64, lutCols)
	for p := 0; p < pixels; p++ {
		if p%in.Cols == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if in.Mask[p] {
			continue
		}
		obs = in.Spectrum(p, obs)

		best = best[:0]
		for r := 0; r < lutRows; r++ {
			c := cost(lut.RawRowView(r), obs)
			if len(best) < n {
				heap.Push(&best, candidate{row: r, cost: c})
				continue
			}
			if c < best[0].cost {
				best[0] = candidate{row: r, cost: c}
				heap.Fix(&best, 0)
			}
		}

		idx := sol.Indices[p*n : (p+1)*n]
		costs := sol.Costs[p*n : (p+1)*n]
		for i := len(best) - 1; i >= 0; i-- {
			c := heap.Pop(&best).(candidate)
			idx[i] = c.row
			costs[i] = c.cost
		}
	}
	return sol, nil
}

type candidate struct {
	row  int
	cost float64
}

// candidates is a max-heap on cost so the worst kept solution is at the top
type candidates []candidate

func (c candidates) Len() int { return len(c) }
func (c candidates) Less(i, j int) bool {
	if c[i].cost == c[j].cost {
		return c[i].row > c[j].row
	}
	return c[i].cost > c[j].cost
}
func (c candidates) Swap(i, j int)       { c[i], c[j] = c[j], c[i] }
func (c *candidates) Push(x interface{}) { *c = append(*c, x.(candidate)) }
func (c *candidates) Pop() interface{} {
	old := *c
	x := old[len(old)-1]
	*c = old[:len(old)-1]
	return x
}
