// Package regress fits ordinary least squares with heteroskedasticity-robust
// (HC1) standard errors.
package regress

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// ConstName is the name of the intercept column.
const ConstName = "const"

var (
	// ErrNoObservations is returned when the design has no rows.
	ErrNoObservations = errors.New("regress: no observations")
	// ErrInsufficientObservations is returned when rows do not exceed regressors.
	ErrInsufficientObservations = errors.New("regress: not enough observations for the number of regressors")
	// ErrSingularDesign is returned when the design matrix is rank deficient.
	ErrSingularDesign = errors.New("regress: singular design matrix")
)

// Design is a column-oriented regressor matrix.
type Design struct {
	Names   []string
	Columns [][]float64
}

// Add appends a named regressor. Every column must have the same length.
func (d *Design) Add(name string, values []float64) error {
	if len(d.Columns) > 0 && len(values) != len(d.Columns[0]) {
		return fmt.Errorf("regress: column %s has %d rows, expected %d", name, len(values), len(d.Columns[0]))
	}
	for _, existing := range d.Names {
		if existing == name {
			return fmt.Errorf("regress: duplicate column %s", name)
		}
	}
	d.Names = append(d.Names, name)
	d.Columns = append(d.Columns, values)
	return nil
}

// Rows returns the number of observations.
func (d Design) Rows() int {
	if len(d.Columns) == 0 {
		return 0
	}
	return len(d.Columns[0])
}

// Cols returns the number of regressors.
func (d Design) Cols() int { return len(d.Names) }

// Column returns the named regressor.
func (d Design) Column(name string) ([]float64, bool) {
	for i, n := range d.Names {
		if n == name {
			return d.Columns[i], true
		}
	}
	return nil, false
}

// WithConstant returns a copy of d with an intercept column prepended.
// A design that already has one is returned unchanged.
func (d Design) WithConstant() Design {
	if d.constant() >= 0 {
		return d
	}
	ones := make([]float64, d.Rows())
	for i := range ones {
		ones[i] = 1
	}
	return Design{
		Names:   append([]string{ConstName}, d.Names...),
		Columns: append([][]float64{ones}, d.Columns...),
	}
}

func (d Design) constant() int {
	for i, n := range d.Names {
		if n == ConstName {
			return i
		}
	}
	return -1
}

func (d Design) dense() *mat.Dense {
	n, k := d.Rows(), d.Cols()
	x := mat.NewDense(n, k, nil)
	for j, col := range d.Columns {
		for i, v := range col {
			x.Set(i, j, v)
		}
	}
	return x
}

// StrataDummies one-hot encodes codes with the smallest code as the omitted
// reference level. Columns are named prefix_<code> in ascending code order.
func StrataDummies(prefix string, codes []int) (names []string, columns [][]float64) {
	levels := make(map[int]struct{})
	for _, c := range codes {
		levels[c] = struct{}{}
	}
	sorted := make([]int, 0, len(levels))
	for c := range levels {
		sorted = append(sorted, c)
	}
	sort.Ints(sorted)
	if len(sorted) < 2 {
		return nil, nil
	}
	for _, level := range sorted[1:] {
		col := make([]float64, len(codes))
		for i, c := range codes {
			if c == level {
				col[i] = 1
			}
		}
		names = append(names, prefix+"_"+strconv.Itoa(level))
		columns = append(columns, col)
	}
	return names, columns
}
