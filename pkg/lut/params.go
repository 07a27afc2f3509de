package lut

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/KevinWang15/go-json5"

	glaierrors "glaiprocessor/pkg/errors"
)

// Distribution names accepted in parameter files
const (
	DistUniform  = "Uniform"
	DistGaussian = "Gaussian"
)

// Param is the sampling range of one forward model parameter
type Param struct {
	Name         string   `json:"parameter"`
	Min          float64  `json:"min"`
	Max          float64  `json:"max"`
	Mode         *float64 `json:"mode,omitempty"`
	Std          *float64 `json:"std,omitempty"`
	Distribution string   `json:"distribution,omitempty"`
}

// Constant reports whether the parameter has a single value
func (p Param) Constant() bool {
	return p.Min == p.Max
}

func (p *Param) normalise() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("parameter without a name")
	}
	if p.Min > p.Max {
		return fmt.Errorf("parameter %s: min %g is greater than max %g", p.Name, p.Min, p.Max)
	}
	switch strings.ToLower(strings.TrimSpace(p.Distribution)) {
	case "", "uniform":
		p.Distribution = DistUniform
	case "gaussian", "normal":
		p.Distribution = DistGaussian
		if p.Std == nil || *p.Std <= 0 {
			if !p.Constant() {
				return fmt.Errorf("parameter %s: gaussian distribution needs a positive std", p.Name)
			}
		}
	default:
		return fmt.Errorf("parameter %s: unknown distribution %q", p.Name, p.Distribution)
	}
	return nil
}

// mean returns the centre of a gaussian parameter
func (p Param) mean() float64 {
	if p.Mode != nil {
		return *p.Mode
	}
	return (p.Min + p.Max) / 2
}

// Params is an ordered set of parameter ranges
type Params []Param

// Names returns the parameter names in file order
func (ps Params) Names() []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

// Digest returns a stable hash of the parameter ranges
func (ps Params) Digest() string {
	h := sha256.New()
	for _, p := range ps {
		fmt.Fprintf(h, "%s|%s|%g|%g", p.Name, p.Distribution, p.Min, p.Max)
		if p.Mode != nil {
			fmt.Fprintf(h, "|mode=%g", *p.Mode)
		}
		if p.Std != nil {
			fmt.Fprintf(h, "|std=%g", *p.Std)
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (ps Params) validate() error {
	if len(ps) == 0 {
		return fmt.Errorf("no parameters defined")
	}
	seen := make(map[string]bool, len(ps))
	for i := range ps {
		if err := ps[i].normalise(); err != nil {
			return err
		}
		if seen[ps[i].Name] {
			return fmt.Errorf("parameter %s is defined twice", ps[i].Name)
		}
		seen[ps[i].Name] = true
	}
	return nil
}

// LoadParams reads a parameter file. ".json" and ".json5" files are parsed as
// JSON5, anything else as CSV. Invalid files are configuration errors.
func LoadParams(path string) (Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindConfiguration, "lut.params", err)
	}
	defer f.Close()

	var ps Params
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, glaierrors.Wrap(glaierrors.KindConfiguration, "lut.params", err)
		}
		ps, err = ParseJSON5(data)
		if err != nil {
			return nil, err
		}
	default:
		ps, err = ParseCSV(f)
		if err != nil {
			return nil, err
		}
	}
	return ps, nil
}

// paramRecord is one object of a JSON5 parameter file. The decoder cannot
// fill pointer fields, so the optional numbers arrive as interface values.
type paramRecord struct {
	Name         string      `json:"parameter"`
	Min          float64     `json:"min"`
	Max          float64     `json:"max"`
	Mode         interface{} `json:"mode"`
	Std          interface{} `json:"std"`
	Distribution string      `json:"distribution"`
}

func optionalNumber(name, key string, v interface{}) (*float64, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return &n, nil
	default:
		return nil, fmt.Errorf("parameter %s: %s must be a number, got %v", name, key, v)
	}
}

// ParseJSON5 parses a list of parameter objects
func ParseJSON5(data []byte) (Params, error) {
	wrap := func(err error) error {
		return glaierrors.Wrap(glaierrors.KindConfiguration, "lut.params", err)
	}

	var records []paramRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, wrap(err)
	}

	ps := make(Params, 0, len(records))
	for _, r := range records {
		p := Param{Name: r.Name, Min: r.Min, Max: r.Max, Distribution: r.Distribution}
		var err error
		if p.Mode, err = optionalNumber(r.Name, "mode", r.Mode); err != nil {
			return nil, wrap(err)
		}
		if p.Std, err = optionalNumber(r.Name, "std", r.Std); err != nil {
			return nil, wrap(err)
		}
		ps = append(ps, p)
	}

	if err := ps.validate(); err != nil {
		return nil, wrap(err)
	}
	return ps, nil
}

// ParseCSV parses a parameter table with a header row. Parameter, Min and
// Max columns are required; Mode, Std and Distribution are optional. Column
// order and header case do not matter.
func ParseCSV(r io.Reader) (Params, error) {
	wrap := func(err error) error {
		return glaierrors.Wrap(glaierrors.KindConfiguration, "lut.params", err)
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, wrap(err)
	}
	if len(records) < 2 {
		return nil, wrap(fmt.Errorf("parameter table has no rows"))
	}

	col := make(map[string]int)
	for i, h := range records[0] {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"parameter", "min", "max"} {
		if _, ok := col[required]; !ok {
			return nil, wrap(fmt.Errorf("parameter table is missing column %q", required))
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	number := func(rec []string, line int, name string) (*float64, error) {
		s := field(rec, name)
		if s == "" || strings.EqualFold(s, "nan") {
			return nil, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid %s %q", line, name, s)
		}
		return &v, nil
	}

	var ps Params
	for n, rec := range records[1:] {
		line := n + 2
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		p := Param{Name: field(rec, "parameter"), Distribution: field(rec, "distribution")}
		lo, err := number(rec, line, "min")
		if err != nil {
			return nil, wrap(err)
		}
		hi, err := number(rec, line, "max")
		if err != nil {
			return nil, wrap(err)
		}
		if lo == nil || hi == nil {
			return nil, wrap(fmt.Errorf("line %d: parameter %s needs min and max", line, p.Name))
		}
		p.Min, p.Max = *lo, *hi
		if p.Mode, err = number(rec, line, "mode"); err != nil {
			return nil, wrap(err)
		}
		if p.Std, err = number(rec, line, "std"); err != nil {
			return nil, wrap(err)
		}
		ps = append(ps, p)
	}

	if err := ps.validate(); err != nil {
		return nil, wrap(err)
	}
	return ps, nil
}
