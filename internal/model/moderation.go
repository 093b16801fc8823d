package model

import (
	"math"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
)

// Moderation is the empirical-Bayes prior for the per-protein
// residual variances: each variance is squeezed toward PriorVar with
// PriorDF prior degrees of freedom, stabilizing the tests of proteins
// fitted on few samples.
type Moderation struct {
	PriorDF  float64 // +Inf when the variances are essentially equal
	PriorVar float64
}

// Squeeze estimates the prior from the residual variances of all
// fitted models (the method-of-moments fit of a scaled F distribution
// on the log variances). With fewer than two usable fits no
// moderation is applied.
func Squeeze(fits []*Fit) Moderation {
	var e []float64
	var dfs []float64
	for _, f := range fits {
		if f == nil || f.DF <= 0 || f.Sigma2 <= 0 {
			continue
		}
		z := math.Log(f.Sigma2)
		e = append(e, z-mathext.Digamma(f.DF/2)+math.Log(f.DF/2))
		dfs = append(dfs, f.DF)
	}
	if len(e) < 2 {
		return Moderation{}
	}
	eMean := stat.Mean(e, nil)
	eVar := stat.Variance(e, nil)
	meanTri := 0.0
	for _, df := range dfs {
		meanTri += trigamma(df / 2)
	}
	meanTri /= float64(len(dfs))

	excess := eVar - meanTri
	if excess > 0 {
		d0 := 2 * trigammaInverse(excess)
		s0 := math.Exp(eMean + mathext.Digamma(d0/2) - math.Log(d0/2))
		return Moderation{PriorDF: d0, PriorVar: s0}
	}
	// No evidence of variance heterogeneity beyond sampling noise:
	// all variances shrink to the common value.
	return Moderation{PriorDF: math.Inf(1), PriorVar: math.Exp(eMean)}
}

// Posterior returns the moderated variance and total degrees of
// freedom for one fit. Without a prior the fit's own values are
// returned unchanged.
func (m Moderation) Posterior(f *Fit) (s2, df float64) {
	if m.PriorDF == 0 {
		return f.Sigma2, f.DF
	}
	if math.IsInf(m.PriorDF, 1) {
		return m.PriorVar, math.Inf(1)
	}
	s2 = (m.PriorDF*m.PriorVar + f.DF*f.Sigma2) / (m.PriorDF + f.DF)
	return s2, f.DF + m.PriorDF
}

// trigamma evaluates the trigamma function psi'(x) for x > 0, using
// the recurrence to push x into the asymptotic regime.
func trigamma(x float64) float64 {
	if x <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for x < 6 {
		sum += 1 / (x * x)
		x++
	}
	// Asymptotic expansion with Bernoulli terms.
	inv := 1 / x
	inv2 := inv * inv
	return sum + inv + inv2/2 + inv2*inv/6 - inv2*inv2*inv/30 + inv2*inv2*inv2*inv/42
}

// trigammaInverse solves trigamma(x) = y for x by bisection; trigamma
// is strictly decreasing on (0, inf).
func trigammaInverse(y float64) float64 {
	if y <= 0 {
		return math.Inf(1)
	}
	if y > 1e7 {
		return 1 / math.Sqrt(y)
	}
	if y < 1e-6 {
		return 1 / y
	}
	lo, hi := 1e-8, 1e8
	for i := 0; i < 200; i++ {
		mid := math.Sqrt(lo * hi)
		if trigamma(mid) > y {
			lo = mid
		} else {
			hi = mid
		}
		if hi/lo < 1+1e-12 {
			break
		}
	}
	return math.Sqrt(lo * hi)
}
