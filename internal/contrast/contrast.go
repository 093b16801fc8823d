// Package contrast evaluates linear combinations of model
// coefficients per protein and controls the false discovery rate over
// all tested proteins.
package contrast

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/protdiff/protdiff/internal/model"
)

// ErrUnknownCoefficient indicates a contrast naming a coefficient the
// design does not have. A misspelled name must fail loudly, never
// contribute silently with weight zero.
var ErrUnknownCoefficient = errors.New("unknown coefficient in contrast")

// ErrContrastSyntax indicates a malformed contrast expression.
var ErrContrastSyntax = errors.New("invalid contrast expression")

// Contrast is a linear combination of coefficient names, tested
// against zero.
type Contrast struct {
	Expr    string
	Weights map[string]float64
}

var termRe = regexp.MustCompile(`([+-])?\s*(?:([0-9]*\.?[0-9]+)\s*\*\s*)?([A-Za-z_(][A-Za-z0-9_().]*)`)

// Parse parses expressions like "conditionB - conditionA" or
// "0.5*groupB + 0.5*groupC - groupA" into weights.
func Parse(expr string) (Contrast, error) {
	c := Contrast{Expr: expr, Weights: make(map[string]float64)}
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(expr), "=0"))
	if s == "" {
		return Contrast{}, fmt.Errorf("%w: empty expression", ErrContrastSyntax)
	}
	matches := termRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return Contrast{}, fmt.Errorf("%w: %q", ErrContrastSyntax, expr)
	}
	covered := 0
	for _, m := range matches {
		// Anything between terms other than whitespace is a syntax
		// error.
		if strings.TrimSpace(s[covered:m[0]]) != "" {
			return Contrast{}, fmt.Errorf("%w: %q near %q", ErrContrastSyntax, expr, s[covered:m[0]])
		}
		covered = m[1]
		sign := 1.0
		if m[2] >= 0 && s[m[2]:m[3]] == "-" {
			sign = -1
		}
		weight := 1.0
		if m[4] >= 0 {
			w, err := strconv.ParseFloat(s[m[4]:m[5]], 64)
			if err != nil {
				return Contrast{}, fmt.Errorf("%w: bad weight in %q", ErrContrastSyntax, expr)
			}
			weight = w
		}
		name := s[m[6]:m[7]]
		c.Weights[name] += sign * weight
	}
	if strings.TrimSpace(s[covered:]) != "" {
		return Contrast{}, fmt.Errorf("%w: %q near %q", ErrContrastSyntax, expr, s[covered:])
	}
	return c, nil
}

// Validate checks the contrast against the actual coefficient set.
func (c Contrast) Validate(names []string) error {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for n := range c.Weights {
		if !known[n] {
			return fmt.Errorf("%w: %q (have %s)", ErrUnknownCoefficient, n, strings.Join(names, ", "))
		}
	}
	return nil
}

// Result is the tested contrast of one protein.
type Result struct {
	Protein   string
	LogFC     float64
	T         float64
	PValue    float64
	AdjPValue float64
	DF        float64
	NObs      int
}

// Test evaluates the contrast for every fitted protein. fits and
// proteins run in parallel; nil fits (proteins without a model) are
// skipped and excluded from the adjustment denominator. The returned
// count is the number of proteins without a model.
func Test(proteins []string, fits []*model.Fit, c Contrast, mod model.Moderation) ([]Result, int, error) {
	var results []Result
	noModel := 0
	for g, fit := range fits {
		if fit == nil {
			noModel++
			continue
		}
		if err := c.Validate(fit.Names); err != nil {
			return nil, 0, err
		}
		w := make([]float64, len(fit.Names))
		for i, n := range fit.Names {
			w[i] = c.Weights[n]
		}
		logFC := 0.0
		for i, wi := range w {
			logFC += wi * fit.Beta[i]
		}
		// c' (X'WX)^-1 c, scaled by the moderated variance.
		q := 0.0
		for i, wi := range w {
			if wi == 0 {
				continue
			}
			for j, wj := range w {
				if wj == 0 {
					continue
				}
				q += wi * wj * fit.CovAt(i, j)
			}
		}
		s2, df := mod.Posterior(fit)
		se := math.Sqrt(q * s2)
		r := Result{Protein: proteins[g], LogFC: logFC, DF: df, NObs: fit.NObs}
		if se > 0 {
			r.T = logFC / se
			r.PValue = pValue(r.T, df)
		} else {
			r.T = math.NaN()
			r.PValue = math.NaN()
		}
		results = append(results, r)
	}
	AdjustBH(results)
	return results, noModel, nil
}

// pValue is the two-sided tail probability of a Student's t statistic
// with df degrees of freedom.
func pValue(t, df float64) float64 {
	if math.IsInf(df, 1) || df > 1e6 {
		df = 1e6
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.Survival(math.Abs(t))
	if p > 1 {
		p = 1
	}
	return p
}

// AdjustBH fills AdjPValue with Benjamini-Hochberg adjusted p-values,
// computed jointly over the results with a valid raw p-value.
// Adjusted values are a non-decreasing transform of the sorted raw
// p-values.
func AdjustBH(results []Result) {
	var idx []int
	for i, r := range results {
		if !math.IsNaN(r.PValue) {
			idx = append(idx, i)
		} else {
			results[i].AdjPValue = math.NaN()
		}
	}
	n := len(idx)
	if n == 0 {
		return
	}
	sort.Slice(idx, func(a, b int) bool { return results[idx[a]].PValue < results[idx[b]].PValue })
	adj := make([]float64, n)
	minSoFar := 1.0
	for k := n - 1; k >= 0; k-- {
		v := results[idx[k]].PValue * float64(n) / float64(k+1)
		if v < minSoFar {
			minSoFar = v
		}
		adj[k] = minSoFar
	}
	for k, i := range idx {
		results[i].AdjPValue = adj[k]
	}
}

// SortByP orders results by raw p-value, missing p-values last.
func SortByP(results []Result) {
	sort.SliceStable(results, func(a, b int) bool {
		pa, pb := results[a].PValue, results[b].PValue
		switch {
		case math.IsNaN(pa):
			return false
		case math.IsNaN(pb):
			return true
		}
		return pa < pb
	})
}
