// Package design derives per-sample experimental factors from sample
// names. Derivation is deterministic: a rule is either a fixed-offset
// substring or a delimiter split with a fixed token index, and a
// sample name that does not match the expected shape is a data
// contract violation that aborts the run.
package design

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/protdiff/protdiff/internal/assay"
)

// ErrMetadataDerivation indicates that a sample name does not match
// the shape a derivation rule expects.
var ErrMetadataDerivation = errors.New("cannot derive sample metadata")

// ErrRuleSyntax indicates a malformed rule specification.
var ErrRuleSyntax = errors.New("invalid factor rule")

type ruleKind int

const (
	ruleSubstring ruleKind = iota
	ruleSplit
)

// Rule derives one factor value from a sample name.
type Rule struct {
	Factor string
	kind   ruleKind
	start  int    // 1-based inclusive, substring rules
	end    int    // 1-based inclusive, substring rules
	delim  string // split rules
	index  int    // 1-based token index, split rules
}

var ruleRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=(sub|split):(.+)$`)

// ParseRule parses a rule specification of the form
//
//	factor=sub:START:END      fixed-offset substring (1-based, inclusive)
//	factor=split:DELIM:INDEX  split on DELIM, take token INDEX (1-based)
//
// e.g. "condition=sub:2:2" or "mouse=split:_:3".
func ParseRule(spec string) (Rule, error) {
	m := ruleRe.FindStringSubmatch(spec)
	if m == nil {
		return Rule{}, fmt.Errorf("%w: %q", ErrRuleSyntax, spec)
	}
	r := Rule{Factor: m[1]}
	switch m[2] {
	case "sub":
		parts := strings.Split(m[3], ":")
		if len(parts) != 2 {
			return Rule{}, fmt.Errorf("%w: %q: want sub:START:END", ErrRuleSyntax, spec)
		}
		start, err1 := strconv.Atoi(parts[0])
		end, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || start < 1 || end < start {
			return Rule{}, fmt.Errorf("%w: %q: bad substring range", ErrRuleSyntax, spec)
		}
		r.kind = ruleSubstring
		r.start, r.end = start, end
	case "split":
		// The delimiter may itself contain ':' only if quoted by the
		// shell as a single rune; we split from the right so a one-rune
		// delimiter is unambiguous.
		i := strings.LastIndex(m[3], ":")
		if i <= 0 || i == len(m[3])-1 {
			return Rule{}, fmt.Errorf("%w: %q: want split:DELIM:INDEX", ErrRuleSyntax, spec)
		}
		idx, err := strconv.Atoi(m[3][i+1:])
		if err != nil || idx < 1 {
			return Rule{}, fmt.Errorf("%w: %q: bad token index", ErrRuleSyntax, spec)
		}
		r.kind = ruleSplit
		r.delim = m[3][:i]
		r.index = idx
	}
	return r, nil
}

// ParseRules parses a comma-separated list of rule specifications.
func ParseRules(specs string) ([]Rule, error) {
	var rules []Rule
	for _, spec := range strings.Split(specs, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		r, err := ParseRule(spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: empty rule list", ErrRuleSyntax)
	}
	return rules, nil
}

// Apply derives the factor value from one sample name.
func (r Rule) Apply(sample string) (string, error) {
	switch r.kind {
	case ruleSubstring:
		if len(sample) < r.end {
			return "", fmt.Errorf("%w: sample %q too short for %s=sub:%d:%d",
				ErrMetadataDerivation, sample, r.Factor, r.start, r.end)
		}
		return sample[r.start-1 : r.end], nil
	case ruleSplit:
		tokens := strings.Split(sample, r.delim)
		if len(tokens) < r.index {
			return "", fmt.Errorf("%w: sample %q has %d %q-separated tokens, rule %s wants token %d",
				ErrMetadataDerivation, sample, len(tokens), r.delim, r.Factor, r.index)
		}
		return tokens[r.index-1], nil
	}
	return "", fmt.Errorf("%w: unknown rule kind", ErrRuleSyntax)
}

// Annotate derives the column annotation for all samples. The order
// of the result matches the order of the sample names.
func Annotate(samples []string, rules []Rule) (assay.ColumnAnnotation, error) {
	ann := make(assay.ColumnAnnotation, len(samples))
	for i, s := range samples {
		factors := make(map[string]string, len(rules))
		for _, r := range rules {
			v, err := r.Apply(s)
			if err != nil {
				return nil, err
			}
			factors[r.Factor] = v
		}
		ann[i] = assay.SampleInfo{Name: s, Factors: factors}
	}
	return ann, nil
}
