// Package normalize implements the log transform and the
// between-sample normalizations of the workflow. All operations
// preserve missingness: a missing value stays missing and no observed
// value ever becomes missing.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/protdiff/protdiff/internal/assay"
)

// Method selects the between-sample normalization.
type Method int

const (
	// None applies no between-sample normalization.
	None Method = iota
	// Quantile forces the distribution of every sample to a common
	// reference distribution (the per-rank mean over samples).
	Quantile
	// MedianCenter subtracts each sample's median, removing only a
	// per-sample additive offset. Preferred over quantile
	// normalization when few biological replicates are available and
	// shape matching could distort true variance.
	MedianCenter
)

// ErrUnknownMethod indicates an unrecognized normalization name.
var ErrUnknownMethod = errors.New("unknown normalization method")

// ParseMethod maps a method name to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "quantile":
		return Quantile, nil
	case "median":
		return MedianCenter, nil
	case "none":
		return None, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Log2 derives the log2-scale assay. Missing stays missing; this is
// never an error.
func Log2(t *assay.FeatureTable) *assay.FeatureTable {
	return t.Map(func(v float64) float64 {
		if assay.IsMissing(v) {
			return v
		}
		return math.Log2(v)
	})
}

// Apply runs the selected normalization.
func Apply(m Method, t *assay.FeatureTable) (*assay.FeatureTable, error) {
	switch m {
	case None:
		return t, nil
	case Quantile:
		return QuantileNormalize(t), nil
	case MedianCenter:
		return CenterMedians(t)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, m)
}

// CenterMedians subtracts from every sample the median of its
// non-missing values. A sample with no observations at all is left
// unchanged. Re-centering an already centered table changes nothing.
func CenterMedians(t *assay.FeatureTable) (*assay.FeatureTable, error) {
	offsets := make([]float64, t.NCols())
	for j := 0; j < t.NCols(); j++ {
		var obs []float64
		for i := 0; i < t.NRows(); i++ {
			if v := t.Value(i, j); !assay.IsMissing(v) {
				obs = append(obs, v)
			}
		}
		if len(obs) == 0 {
			offsets[j] = 0
			continue
		}
		med, err := stats.Median(obs)
		if err != nil {
			return nil, fmt.Errorf("median of sample %d: %w", j, err)
		}
		offsets[j] = med
	}
	data := make([][]float64, t.NRows())
	for i := 0; i < t.NRows(); i++ {
		data[i] = make([]float64, t.NCols())
		for j := 0; j < t.NCols(); j++ {
			v := t.Value(i, j)
			if assay.IsMissing(v) {
				data[i][j] = v
				continue
			}
			data[i][j] = v - offsets[j]
		}
	}
	out, err := assay.NewFeatureTable(t.Keys(), t.Samples(), data)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QuantileNormalize maps every sample onto a common reference
// distribution while preserving within-sample rank order. The
// reference is the mean over samples of the per-quantile values,
// evaluated on a grid with one point per table row. Missing values
// take no part and remain missing.
func QuantileNormalize(t *assay.FeatureTable) *assay.FeatureTable {
	nRows, nCols := t.NRows(), t.NCols()
	if nRows == 0 || nCols == 0 {
		return t.Map(func(v float64) float64 { return v })
	}

	// Sorted non-missing values per column.
	sorted := make([][]float64, nCols)
	for j := 0; j < nCols; j++ {
		for i := 0; i < nRows; i++ {
			if v := t.Value(i, j); !assay.IsMissing(v) {
				sorted[j] = append(sorted[j], v)
			}
		}
		sort.Float64s(sorted[j])
	}

	// Reference distribution on an nRows-point grid.
	ref := make([]float64, nRows)
	for k := 0; k < nRows; k++ {
		p := gridProb(k, nRows)
		sum, n := 0.0, 0
		for j := 0; j < nCols; j++ {
			if len(sorted[j]) == 0 {
				continue
			}
			sum += interpQuantile(sorted[j], p)
			n++
		}
		if n > 0 {
			ref[k] = sum / float64(n)
		}
	}

	// Map each observed value to the reference quantile at its rank.
	result := make([][]float64, nRows)
	for i := range result {
		result[i] = make([]float64, nCols)
		for j := range result[i] {
			result[i][j] = assay.Missing()
		}
	}
	for j := 0; j < nCols; j++ {
		m := len(sorted[j])
		if m == 0 {
			continue
		}
		// Rank of each non-missing entry within its column. Ties take
		// successive ranks in row order, which keeps the map monotone.
		used := make([]int, m)
		for i := 0; i < nRows; i++ {
			v := t.Value(i, j)
			if assay.IsMissing(v) {
				continue
			}
			r := rankOf(sorted[j], used, v)
			result[i][j] = interpQuantile(ref, gridProb(r, m))
		}
	}
	out, _ := assay.NewFeatureTable(t.Keys(), t.Samples(), result)
	return out
}

// gridProb maps position k of an n-point grid to a probability.
func gridProb(k, n int) float64 {
	if n <= 1 {
		return 0.5
	}
	return float64(k) / float64(n-1)
}

// interpQuantile evaluates the linearly interpolated quantile of a
// sorted slice at probability p (the R type-7 definition).
func interpQuantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo, hi = 0, 0
	}
	if hi >= n {
		lo, hi = n-1, n-1
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// rankOf finds the first unused index of v in the sorted slice and
// marks it used.
func rankOf(sorted []float64, used []int, v float64) int {
	i := sort.SearchFloat64s(sorted, v)
	for i < len(sorted) && used[i] != 0 {
		i++
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	used[i] = 1
	return i
}
