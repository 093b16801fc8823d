// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/protdiff/protdiff/internal/assay"
	"github.com/protdiff/protdiff/internal/contrast"
)

func TestParseIntRange(t *testing.T) {
	tests := []struct {
		r            string
		min, max     int
		wMin, wMax   int
		expectingErr bool
	}{
		{"-12:6", -42, 42, -12, 6, false},
		{":6", -42, 42, -42, 6, false},
		{"-12:", -42, 42, -12, 42, false},
		{":", -42, 42, -42, 42, false},
		{"-100:100", -42, 42, -42, 42, false},
		{"6:-12", -42, 42, -12, -12, true},
	}
	for _, tc := range tests {
		gMin, gMax, err := parseIntRange(tc.r, tc.min, tc.max)
		if (err != nil) != tc.expectingErr {
			t.Errorf("parseIntRange(%q): unexpected error state: %v", tc.r, err)
		}
		if err != nil && !errors.Is(err, ErrRangeSpec) {
			t.Errorf("parseIntRange(%q): expected ErrRangeSpec, got: %v", tc.r, err)
		}
		if gMin != tc.wMin || gMax != tc.wMax {
			t.Errorf("parseIntRange(%q) = %d, %d; expected %d, %d",
				tc.r, gMin, gMax, tc.wMin, tc.wMax)
		}
	}
}

// writeTestPeptides writes a small MaxQuant-shaped peptide table:
// 2 conditions with 2 samples each, encoded in the first character of
// the sample name. P1 has a clean 4-fold difference, P2 has one
// missing value and no real change, P3 is flat. PEP4 is a decoy row.
func writeTestPeptides(t *testing.T, dir string) string {
	t.Helper()
	rows := []string{
		strings.Join([]string{"Sequence", "Proteins", "Reverse", "Potential contaminant",
			"Intensity A1", "Intensity A2", "Intensity B1", "Intensity B2"}, "\t"),
		strings.Join([]string{"PEP1", "P1", "", "", "1000", "1050", "4000", "4200"}, "\t"),
		strings.Join([]string{"PEP2", "P1", "", "", "2000", "1900", "8000", "8300"}, "\t"),
		strings.Join([]string{"PEP3", "P2", "", "", "0", "500", "520", "480"}, "\t"),
		strings.Join([]string{"PEP4", "P2", "+", "", "100", "100", "100", "100"}, "\t"),
		strings.Join([]string{"PEP5", "P3", "", "", "300", "310", "295", "305"}, "\t"),
		strings.Join([]string{"PEP6", "P3", "", "", "600", "590", "610", "605"}, "\t"),
	}
	fn := filepath.Join(dir, "peptides.txt")
	if err := os.WriteFile(fn, []byte(strings.Join(rows, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("writing test table: %v", err)
	}
	return fn
}

func testParams(dir, pepFile string) params {
	sp := func(s string) *string { return &s }
	ip := func(i int) *int { return &i }
	fp := func(f float64) *float64 { return &f }
	bp := func(b bool) *bool { return &b }
	return params{
		pepFilename:     sp(pepFile),
		outFilename:     sp(filepath.Join(dir, "diff.tsv")),
		heatmapFilename: sp(filepath.Join(dir, "heatmap.tsv")),
		detailProtein:   sp("P1"),
		detailFilename:  sp(filepath.Join(dir, "detail.tsv")),
		intensityPrefix: sp("Intensity "),
		seqCol:          sp("Sequence"),
		proteinsCol:     sp("Proteins"),
		decoyCol:        sp("Reverse"),
		contaminantCol:  sp("Potential contaminant"),
		factorRules:     sp("condition=sub:1:1"),
		formulaStr:      sp("~ condition"),
		contrastExpr:    sp("conditionB"),
		ridge:           bp(false),
		normMethod:      sp("none"),
		minObs:          ip(2),
		obsBlock:        sp(""),
		maxAdjP:         fp(0.05),
		topN:            ip(0),
		jobs:            ip(1),
		verbosity:       infoSilent,
	}
}

func TestRunAnalysis(t *testing.T) {
	dir := t.TempDir()
	par := testParams(dir, writeTestPeptides(t, dir))

	a, err := runAnalysis(par)
	if err != nil {
		t.Fatalf("runAnalysis: %v", err)
	}

	// The decoy row is the only one the filters remove
	filtered := a.chain.Stage("filtered")
	if filtered.Table.NRows() != 5 {
		t.Errorf("Expected 5 peptide rows after filtering, got %d", filtered.Table.NRows())
	}
	if filtered.Table.RowIndex("PEP4") >= 0 {
		t.Error("Decoy peptide PEP4 survived filtering")
	}

	if diff := cmp.Diff([]string{"P1", "P2", "P3"}, a.protTable.Keys()); diff != "" {
		t.Errorf("protein keys mismatch (-want +got):\n%s", diff)
	}
	// The zero intensity of PEP3 in A1 becomes a missing protein value
	p2 := a.protTable.RowIndex("P2")
	if !assay.IsMissing(a.protTable.Value(p2, 0)) {
		t.Error("P2 in sample A1 must be missing")
	}
	if a.noModel != 0 {
		t.Errorf("Expected a model for every protein, %d had none", a.noModel)
	}

	byProtein := make(map[string]contrast.Result)
	for _, r := range a.results {
		byProtein[r.Protein] = r
	}
	if len(byProtein) != 3 {
		t.Fatalf("Expected 3 tested proteins, got %d", len(byProtein))
	}
	// P1 carries a clean 4-fold increase: logFC close to 2
	if r := byProtein["P1"]; math.Abs(r.LogFC-2) > 0.2 {
		t.Errorf("P1 logFC: expected about 2, got %f", r.LogFC)
	}
	if r := byProtein["P1"]; !(r.AdjPValue < 0.05) {
		t.Errorf("P1 should be significant, adjusted p = %f", r.AdjPValue)
	}
	// P3 is flat
	if r := byProtein["P3"]; math.Abs(r.LogFC) > 0.1 {
		t.Errorf("P3 logFC: expected about 0, got %f", r.LogFC)
	}
	if r := byProtein["P3"]; r.PValue < 0.1 {
		t.Errorf("P3 should be insignificant, p = %f", r.PValue)
	}

	// Results are sorted by raw p and adjusted values follow that order
	for i := 1; i < len(a.results); i++ {
		if a.results[i].PValue < a.results[i-1].PValue {
			t.Error("results not sorted by p-value")
		}
		if a.results[i].AdjPValue < a.results[i-1].AdjPValue {
			t.Error("adjusted p-values not monotone in the raw order")
		}
	}
}

func TestWriteOutputs(t *testing.T) {
	dir := t.TempDir()
	par := testParams(dir, writeTestPeptides(t, dir))

	a, err := runAnalysis(par)
	if err != nil {
		t.Fatalf("runAnalysis: %v", err)
	}
	if err := writeOutputs(a, par); err != nil {
		t.Fatalf("writeOutputs: %v", err)
	}

	top, err := os.ReadFile(*par.outFilename)
	if err != nil {
		t.Fatalf("reading significance table: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(top), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected header + 3 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Protein\tlogFC\t") {
		t.Errorf("Unexpected header: %q", lines[0])
	}

	hm, err := os.ReadFile(*par.heatmapFilename)
	if err != nil {
		t.Fatalf("reading heatmap matrix: %v", err)
	}
	hmLines := strings.Split(strings.TrimRight(string(hm), "\n"), "\n")
	// Header plus at least the clearly regulated P1
	if len(hmLines) < 2 {
		t.Fatalf("Expected at least one significant protein in the heatmap, got %d lines", len(hmLines))
	}
	found := false
	for _, l := range hmLines[1:] {
		if strings.HasPrefix(l, "P1\t") {
			found = true
		}
	}
	if !found {
		t.Error("P1 missing from the heatmap matrix")
	}

	detail, err := os.ReadFile(*par.detailFilename)
	if err != nil {
		t.Fatalf("reading detail series: %v", err)
	}
	ds := string(detail)
	if !strings.Contains(ds, "PEP1") || !strings.Contains(ds, "PEP2") {
		t.Error("detail series must contain the peptides of P1")
	}
}

func TestRunAnalysisUnknownCoefficient(t *testing.T) {
	dir := t.TempDir()
	par := testParams(dir, writeTestPeptides(t, dir))
	*par.contrastExpr = "conditionB - conditionA"

	// conditionA is the reference level and has no coefficient
	if _, err := runAnalysis(par); !errors.Is(err, contrast.ErrUnknownCoefficient) {
		t.Errorf("Expected ErrUnknownCoefficient, got: %v", err)
	}
}
