package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/protdiff/protdiff/internal/assay"
)

// ErrUnidentifiableDesign indicates a fixed-effect design whose
// coefficients cannot all be estimated (rank deficient, or a factor
// without contrast levels) while ridge mode was not requested. This
// is a modeling-configuration error: it applies uniformly to every
// protein sharing the formula, so the run is aborted.
var ErrUnidentifiableDesign = errors.New("unidentifiable fixed-effect design")

// rankTol is the relative singular value cutoff for rank decisions.
const rankTol = 1e-9

// Design is the dummy-coded model matrix shared by all per-protein
// fits. Factor levels are sorted; the first level of each fixed
// factor is the reference and gets no column. In ridge mode the block
// factor contributes one penalized column per level.
type Design struct {
	X         *mat.Dense
	Names     []string
	Penalized []bool
	NSamples  int
}

// NumFree returns the number of unpenalized coefficients.
func (d *Design) NumFree() int {
	n := 0
	for _, p := range d.Penalized {
		if !p {
			n++
		}
	}
	return n
}

// Build constructs the design matrix from the sample annotation and a
// formula. With ridge false, a block term is coded as an ordinary
// fixed factor and the full design must be identifiable; otherwise
// ErrUnidentifiableDesign is returned.
func Build(cols assay.ColumnAnnotation, f Formula, ridge bool) (*Design, error) {
	n := len(cols)
	if n == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrUnidentifiableDesign)
	}
	var columns [][]float64
	var names []string
	var penalized []bool

	columns = append(columns, ones(n))
	names = append(names, "(Intercept)")
	penalized = append(penalized, false)

	addFactor := func(factor string, dropFirst, pen bool) error {
		vals, ok := cols.Values(factor)
		if !ok {
			return fmt.Errorf("%w: factor %q not derived for all samples", ErrUnidentifiableDesign, factor)
		}
		levels := cols.Levels(factor)
		if len(levels) < 2 {
			return fmt.Errorf("%w: factor %q has a single level", ErrUnidentifiableDesign, factor)
		}
		start := 0
		if dropFirst {
			start = 1
		}
		for _, level := range levels[start:] {
			col := make([]float64, n)
			for i, v := range vals {
				if v == level {
					col[i] = 1
				}
			}
			columns = append(columns, col)
			names = append(names, factor+level)
			penalized = append(penalized, pen)
		}
		return nil
	}

	for _, factor := range f.Fixed {
		if err := addFactor(factor, true, false); err != nil {
			return nil, err
		}
	}
	if f.Block != "" {
		if ridge {
			// Random-effect coding: every level gets a shrunken column.
			if err := addFactor(f.Block, false, true); err != nil {
				return nil, err
			}
		} else {
			if err := addFactor(f.Block, true, false); err != nil {
				return nil, err
			}
		}
	}

	X := mat.NewDense(n, len(columns), nil)
	for j, col := range columns {
		X.SetCol(j, col)
	}
	d := &Design{X: X, Names: names, Penalized: penalized, NSamples: n}

	// Identifiability of the unpenalized part, checked once on the
	// full sample set. Detecting this only while fitting the first
	// protein would report a global error as a per-protein one.
	free := d.freeColumns(nil)
	if matrixRank(free) < d.NumFree() {
		hint := ""
		if f.Block != "" && !ridge {
			hint = " (block factor confounded; consider ridge mode)"
		}
		return nil, fmt.Errorf("%w%s", ErrUnidentifiableDesign, hint)
	}
	return d, nil
}

// freeColumns extracts the unpenalized columns of X, restricted to
// the given sample rows (nil means all rows).
func (d *Design) freeColumns(rows []int) *mat.Dense {
	if rows == nil {
		rows = make([]int, d.NSamples)
		for i := range rows {
			rows[i] = i
		}
	}
	out := mat.NewDense(len(rows), d.NumFree(), nil)
	c := 0
	for j, pen := range d.Penalized {
		if pen {
			continue
		}
		for k, i := range rows {
			out.Set(k, c, d.X.At(i, j))
		}
		c++
	}
	return out
}

// subMatrix extracts all columns of X restricted to the given rows.
func (d *Design) subMatrix(rows []int) *mat.Dense {
	out := mat.NewDense(len(rows), len(d.Names), nil)
	for k, i := range rows {
		for j := range d.Names {
			out.Set(k, j, d.X.At(i, j))
		}
	}
	return out
}

// matrixRank returns the numerical rank of m.
func matrixRank(m *mat.Dense) int {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDThin) {
		return 0
	}
	vals := svd.Values(nil)
	if len(vals) == 0 {
		return 0
	}
	tol := vals[0] * rankTol
	rank := 0
	for _, v := range vals {
		if v > tol {
			rank++
		}
	}
	return rank
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}
