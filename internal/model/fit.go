package model

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// madScale makes the median absolute deviation consistent for the
// normal standard deviation.
const madScale = 1.4826

// Options tune the per-protein robust fit.
type Options struct {
	MaxIter int     // IRLS iterations, 0 means default
	HuberK  float64 // Huber tuning constant, 0 means default
}

func (o Options) maxIter() int {
	if o.MaxIter <= 0 {
		return 20
	}
	return o.MaxIter
}

func (o Options) huberK() float64 {
	if o.HuberK <= 0 {
		return 1.345
	}
	return o.HuberK
}

// Fit is one fitted per-protein model. Proteins with insufficient
// data have no Fit at all (nil), never a zero-filled one.
type Fit struct {
	Names  []string
	Beta   []float64
	cov    *mat.SymDense // unscaled (X'WX + λD)^-1
	Sigma2 float64       // residual variance estimate
	DF     float64       // residual degrees of freedom
	NObs   int
	Lambda float64 // ridge penalty used, 0 for pure fixed effects
}

// Coef returns the fitted coefficients keyed by name.
func (f *Fit) Coef() map[string]float64 {
	m := make(map[string]float64, len(f.Names))
	for i, n := range f.Names {
		m[n] = f.Beta[i]
	}
	return m
}

// CovAt returns the unscaled covariance entry for coefficients i, j.
// Multiplying by the (moderated) residual variance gives the
// coefficient covariance.
func (f *Fit) CovAt(i, j int) float64 { return f.cov.At(i, j) }

// FitRow fits the design to one protein row. y has one entry per
// sample; missing entries drop the sample from the fit. The result is
// nil when fewer informative samples remain than free parameters or
// the reduced design loses rank: an explicit absence, not an error.
func FitRow(d *Design, y []float64, opt Options) *Fit {
	var rows []int
	for i, v := range y {
		if !math.IsNaN(v) {
			rows = append(rows, i)
		}
	}
	n := len(rows)
	pFree := d.NumFree()
	if n < pFree+1 {
		return nil
	}
	if matrixRank(d.freeColumns(rows)) < pFree {
		return nil
	}

	X := d.subMatrix(rows)
	yv := make([]float64, n)
	for k, i := range rows {
		yv[k] = y[i]
	}

	lambda := 0.0
	if anyPenalized(d.Penalized) {
		lambda = chooseLambda(X, yv, d.Penalized)
	}

	p := len(d.Names)
	w := ones(n)
	beta := make([]float64, p)
	var cov *mat.SymDense
	k := opt.huberK()
	for iter := 0; iter < opt.maxIter(); iter++ {
		newBeta, newCov, ok := weightedSolve(X, yv, w, lambda, d.Penalized)
		if !ok {
			return nil
		}
		converged := iter > 0 && maxAbsDiff(beta, newBeta) < 1e-9*(1+maxAbs(newBeta))
		beta, cov = newBeta, newCov
		if converged {
			break
		}
		r := residuals(X, yv, beta)
		s := robustScale(r)
		if s <= 1e-12 {
			break
		}
		for i, ri := range r {
			a := math.Abs(ri) / s
			if a <= k {
				w[i] = 1
			} else {
				w[i] = k / a
			}
		}
	}

	r := residuals(X, yv, beta)
	edf := effectiveDF(X, cov, w)
	df := float64(n) - edf
	if df <= 0 {
		return nil
	}
	wrss := 0.0
	for i, ri := range r {
		wrss += w[i] * ri * ri
	}
	return &Fit{
		Names:  d.Names,
		Beta:   beta,
		cov:    cov,
		Sigma2: wrss / df,
		DF:     df,
		NObs:   n,
		Lambda: lambda,
	}
}

// weightedSolve solves the (optionally ridge-penalized) weighted
// normal equations, returning the coefficients and the unscaled
// inverse information matrix.
func weightedSolve(X *mat.Dense, y, w []float64, lambda float64, penalized []bool) ([]float64, *mat.SymDense, bool) {
	n, p := X.Dims()
	a := mat.NewSymDense(p, nil)
	b := mat.NewVecDense(p, nil)
	for j := 0; j < p; j++ {
		for l := j; l < p; l++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += w[i] * X.At(i, j) * X.At(i, l)
			}
			if j == l && penalized[j] {
				sum += lambda
			}
			a.SetSym(j, l, sum)
		}
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += w[i] * X.At(i, j) * y[i]
		}
		b.SetVec(j, sum)
	}
	var ch mat.Cholesky
	if !ch.Factorize(a) {
		return nil, nil, false
	}
	var sol mat.VecDense
	if err := ch.SolveVecTo(&sol, b); err != nil {
		return nil, nil, false
	}
	inv := mat.NewSymDense(p, nil)
	if err := ch.InverseTo(inv); err != nil {
		return nil, nil, false
	}
	beta := make([]float64, p)
	for j := 0; j < p; j++ {
		beta[j] = sol.AtVec(j)
	}
	return beta, inv, true
}

// effectiveDF is the trace of the hat matrix: with a ridge penalty
// the block columns cost less than one parameter each.
func effectiveDF(X *mat.Dense, inv *mat.SymDense, w []float64) float64 {
	n, p := X.Dims()
	tr := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			for l := 0; l < p; l++ {
				tr += w[i] * X.At(i, j) * inv.At(j, l) * X.At(i, l)
			}
		}
	}
	// Guard against numerical overshoot.
	if tr > float64(p) {
		tr = float64(p)
	}
	return tr
}

// chooseLambda picks the ridge penalty for the block columns by
// minimizing generalized cross-validation on the unweighted fit.
func chooseLambda(X *mat.Dense, y []float64, penalized []bool) float64 {
	n, _ := X.Dims()
	w := ones(n)
	gcv := func(x []float64) float64 {
		lambda := math.Exp(x[0])
		beta, inv, ok := weightedSolve(X, y, w, lambda, penalized)
		if !ok {
			return math.Inf(1)
		}
		r := residuals(X, y, beta)
		rss := 0.0
		for _, ri := range r {
			rss += ri * ri
		}
		edf := effectiveDF(X, inv, w)
		denom := float64(n) - edf
		if denom <= 0 {
			return math.Inf(1)
		}
		return float64(n) * rss / (denom * denom)
	}
	problem := optimize.Problem{Func: gcv}
	result, err := optimize.Minimize(problem, []float64{0}, nil, nil)
	if err != nil || math.IsInf(gcv(result.X), 0) {
		return 1
	}
	return math.Exp(result.X[0])
}

func residuals(X *mat.Dense, y, beta []float64) []float64 {
	n, p := X.Dims()
	r := make([]float64, n)
	for i := 0; i < n; i++ {
		fit := 0.0
		for j := 0; j < p; j++ {
			fit += X.At(i, j) * beta[j]
		}
		r[i] = y[i] - fit
	}
	return r
}

// robustScale estimates the residual scale by the rescaled MAD.
func robustScale(r []float64) float64 {
	mad, err := stats.MedianAbsoluteDeviation(r)
	if err != nil {
		return 0
	}
	return mad * madScale
}

func anyPenalized(p []bool) bool {
	for _, v := range p {
		if v {
			return true
		}
	}
	return false
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

func maxAbsDiff(a, b []float64) float64 {
	m := 0.0
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > m {
			m = d
		}
	}
	return m
}
