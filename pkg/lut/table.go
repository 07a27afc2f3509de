package lut

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	glaierrors "glaiprocessor/pkg/errors"
)

// Table is a lookup table of simulated spectra. Each row holds the sampled
// model parameters followed by the simulated band reflectances; values are
// stored row-major.
type Table struct {
	Columns []string
	Values  []float64
	// Fingerprint identifies the settings the table was built with
	Fingerprint string
}

// NewTable creates a table from rows. Every row must have one value per column.
func NewTable(columns []string, rows [][]float64) (*Table, error) {
	t := &Table{Columns: append([]string(nil), columns...)}
	if err := t.checkColumns(); err != nil {
		return nil, err
	}
	t.Values = make([]float64, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(columns))
		}
		t.Values = append(t.Values, row...)
	}
	return t, nil
}

func (t *Table) checkColumns() error {
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c == "" {
			return fmt.Errorf("empty column name")
		}
		if seen[c] {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	return nil
}

// Rows returns the number of rows
func (t *Table) Rows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Values) / len(t.Columns)
}

// Row returns a view of row i
func (t *Table) Row(i int) []float64 {
	n := len(t.Columns)
	return t.Values[i*n : (i+1)*n]
}

// Index returns the position of a column or -1
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column copies the values of one column
func (t *Table) Column(name string) ([]float64, bool) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, t.Rows())
	for r := range out {
		out[r] = t.Values[r*len(t.Columns)+idx]
	}
	return out, true
}

// Missing returns the names that are not columns of the table
func (t *Table) Missing(names []string) []string {
	var missing []string
	for _, n := range names {
		if t.Index(n) < 0 {
			missing = append(missing, n)
		}
	}
	return missing
}

// Select returns a rows×len(names) matrix of the named columns. Unknown
// columns are a configuration error.
func (t *Table) Select(names []string) (*mat.Dense, error) {
	if missing := t.Missing(names); len(missing) > 0 {
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, "lut.select",
			"columns %v not found in lookup table", missing)
	}
	rows := t.Rows()
	if rows == 0 || len(names) == 0 {
		return nil, glaierrors.New(glaierrors.KindDataQuality, "lut.select", "lookup table is empty")
	}

	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = t.Index(n)
	}
	m := mat.NewDense(rows, len(names), nil)
	for r := 0; r < rows; r++ {
		row := t.Row(r)
		for c, j := range idx {
			m.Set(r, c, row[j])
		}
	}
	return m, nil
}

// Append adds the columns of other to t. Both tables must have the same number of rows.
func (t *Table) Append(other *Table) error {
	if t.Rows() != other.Rows() {
		return fmt.Errorf("cannot join tables with %d and %d rows", t.Rows(), other.Rows())
	}
	for _, c := range other.Columns {
		if t.Index(c) >= 0 {
			return fmt.Errorf("duplicate column %q", c)
		}
	}

	rows := t.Rows()
	n, m := len(t.Columns), len(other.Columns)
	values := make([]float64, 0, rows*(n+m))
	for r := 0; r < rows; r++ {
		values = append(values, t.Row(r)...)
		values = append(values, other.Row(r)...)
	}
	t.Columns = append(t.Columns, other.Columns...)
	t.Values = values
	return nil
}

// SetColumn fills a column with a constant, adding the column if needed
func (t *Table) SetColumn(name string, v float64) {
	idx := t.Index(name)
	if idx < 0 {
		rows := t.Rows()
		n := len(t.Columns)
		values := make([]float64, 0, rows*(n+1))
		for r := 0; r < rows; r++ {
			values = append(values, t.Row(r)...)
			values = append(values, v)
		}
		t.Columns = append(t.Columns, name)
		t.Values = values
		return
	}
	for r := 0; r < t.Rows(); r++ {
		t.Values[r*len(t.Columns)+idx] = v
	}
}

// DropInvalid removes every row containing NaN or ±Inf and returns the number
// of rows removed
func (t *Table) DropInvalid() int {
	n := len(t.Columns)
	if n == 0 {
		return 0
	}
	kept := t.Values[:0]
	dropped := 0
	for r := 0; r < len(t.Values)/n; r++ {
		row := t.Values[r*n : (r+1)*n]
		valid := true
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				valid = false
				break
			}
		}
		if !valid {
			dropped++
			continue
		}
		kept = append(kept, row...)
	}
	t.Values = kept
	return dropped
}
