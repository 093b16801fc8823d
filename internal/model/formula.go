// Package model fits one linear model per protein against the sample
// design: robust iteratively reweighted least squares for the fixed
// effects, with an optional ridge-penalized block term, and
// empirical-Bayes moderation of the residual variances.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrFormulaSyntax indicates a malformed model formula.
var ErrFormulaSyntax = errors.New("invalid model formula")

// Formula is the parsed model specification: fixed-effect factors and
// at most one block (random-effect) factor.
type Formula struct {
	Fixed []string
	Block string
}

var blockTermRe = regexp.MustCompile(`^\(\s*1\s*\|\s*([A-Za-z_][A-Za-z0-9_]*)\s*\)$`)
var factorRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseFormula parses formulas of the shape
//
//	~ factor [+ factor ...] [+ (1|block)]
//
// e.g. "~ condition" or "~ condition + (1|mouse)".
func ParseFormula(s string) (Formula, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "~")
	var f Formula
	for _, term := range strings.Split(s, "+") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if m := blockTermRe.FindStringSubmatch(term); m != nil {
			if f.Block != "" {
				return Formula{}, fmt.Errorf("%w: more than one block term", ErrFormulaSyntax)
			}
			f.Block = m[1]
			continue
		}
		if !factorRe.MatchString(term) {
			return Formula{}, fmt.Errorf("%w: bad term %q", ErrFormulaSyntax, term)
		}
		f.Fixed = append(f.Fixed, term)
	}
	if len(f.Fixed) == 0 {
		return Formula{}, fmt.Errorf("%w: no fixed effects", ErrFormulaSyntax)
	}
	return f, nil
}
