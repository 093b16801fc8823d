// Package summarize collapses peptide-level values into one
// protein-level value per sample using a robust location estimate
// (Tukey's biweight). A minority of aberrant peptide measurements
// must not dominate the protein-level estimate.
package summarize

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/optimize"

	"github.com/protdiff/protdiff/internal/assay"
)

// tukeyC is the usual tuning constant of the biweight rho function,
// giving 95% efficiency under normal errors.
const tukeyC = 4.685

// madScale rescales the median absolute deviation to a consistent
// estimate of the standard deviation under normal errors.
const madScale = 1.4826

// Group maps one protein-group to the peptide rows that belong to it.
type Group struct {
	ID       string
	RowIndex []int
}

// GroupRows collects peptide rows by protein-group identifier,
// ordered by group id for deterministic output.
func GroupRows(rows []assay.RowMeta) []Group {
	byID := make(map[string][]int)
	for i, r := range rows {
		byID[r.GroupID] = append(byID[r.GroupID], i)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	groups := make([]Group, len(ids))
	for k, id := range ids {
		groups[k] = Group{ID: id, RowIndex: byID[id]}
	}
	return groups
}

// Proteins derives the protein-level assay: one row per protein-group,
// same column set as the input. Each (protein, sample) cell is the
// robust location of the non-missing peptide values; a cell with no
// observations is missing, not an error.
func Proteins(t *assay.FeatureTable, rows []assay.RowMeta) (*assay.FeatureTable, []Group, error) {
	groups := GroupRows(rows)
	keys := make([]string, len(groups))
	data := make([][]float64, len(groups))
	for g, group := range groups {
		keys[g] = group.ID
		data[g] = make([]float64, t.NCols())
		for j := 0; j < t.NCols(); j++ {
			var vals []float64
			for _, i := range group.RowIndex {
				if v := t.Value(i, j); !assay.IsMissing(v) {
					vals = append(vals, v)
				}
			}
			data[g][j] = RobustLocation(vals)
		}
	}
	out, err := assay.NewFeatureTable(keys, t.Samples(), data)
	if err != nil {
		return nil, nil, err
	}
	return out, groups, nil
}

// RobustLocation estimates the location of the values with Tukey's
// biweight M-estimator. With no values the result is missing; with
// one or two values there is nothing to downweight and the mean is
// returned.
func RobustLocation(vals []float64) float64 {
	switch len(vals) {
	case 0:
		return assay.Missing()
	case 1:
		return vals[0]
	case 2:
		return (vals[0] + vals[1]) / 2
	}

	med, _ := stats.Median(vals)
	mad, _ := stats.MedianAbsoluteDeviation(vals)
	s := mad * madScale
	if s <= 1e-12 {
		// Majority of values identical; the median is already the
		// robust answer.
		return med
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			sum := 0.0
			for _, v := range vals {
				sum += tukeyRho((v - x[0]) / s)
			}
			return sum
		},
	}
	result, err := optimize.Minimize(problem, []float64{med}, nil, nil)
	if err != nil || math.IsNaN(result.X[0]) {
		return med
	}
	return result.X[0]
}

// tukeyRho is the biweight rho function with tuning constant tukeyC.
func tukeyRho(u float64) float64 {
	c2 := tukeyC * tukeyC
	if math.Abs(u) > tukeyC {
		return c2 / 6
	}
	w := 1 - (u/tukeyC)*(u/tukeyC)
	return c2 / 6 * (1 - w*w*w)
}
