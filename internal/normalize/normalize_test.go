package normalize

import (
	"errors"
	"math"
	"testing"

	"github.com/protdiff/protdiff/internal/assay"
)

func mustTable(t *testing.T, data [][]float64) *assay.FeatureTable {
	t.Helper()
	keys := make([]string, len(data))
	for i := range keys {
		keys[i] = string(rune('a' + i))
	}
	samples := make([]string, len(data[0]))
	for j := range samples {
		samples[j] = string(rune('A' + j))
	}
	ft, err := assay.NewFeatureTable(keys, samples, data)
	if err != nil {
		t.Fatalf("NewFeatureTable: %v", err)
	}
	return ft
}

func TestParseMethod(t *testing.T) {
	for s, want := range map[string]Method{
		"quantile": Quantile,
		"median":   MedianCenter,
		"none":     None,
	} {
		got, err := ParseMethod(s)
		if err != nil || got != want {
			t.Errorf("ParseMethod(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseMethod("vsn"); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("Expected ErrUnknownMethod, got: %v", err)
	}
}

func TestLog2(t *testing.T) {
	nan := math.NaN()
	ft := mustTable(t, [][]float64{{8, nan}})
	out := Log2(ft)
	if out.Value(0, 0) != 3 {
		t.Errorf("log2(8): expected 3, got %f", out.Value(0, 0))
	}
	if !assay.IsMissing(out.Value(0, 1)) {
		t.Error("missing must stay missing through log2")
	}
}

func TestCenterMediansIdempotent(t *testing.T) {
	nan := math.NaN()
	ft := mustTable(t, [][]float64{
		{1, 10, nan},
		{2, 20, 5},
		{3, 30, 7},
	})
	once, err := CenterMedians(ft)
	if err != nil {
		t.Fatalf("CenterMedians: %v", err)
	}
	twice, err := CenterMedians(once)
	if err != nil {
		t.Fatalf("CenterMedians: %v", err)
	}
	for i := 0; i < ft.NRows(); i++ {
		for j := 0; j < ft.NCols(); j++ {
			a, b := once.Value(i, j), twice.Value(i, j)
			if assay.IsMissing(a) != assay.IsMissing(b) {
				t.Fatalf("missingness changed at (%d,%d)", i, j)
			}
			if !assay.IsMissing(a) && math.Abs(a-b) > 1e-12 {
				t.Errorf("re-centering changed (%d,%d): %f -> %f", i, j, a, b)
			}
		}
	}
	// Column medians of the centered table are zero
	if v := once.Value(1, 0); v != 0 {
		t.Errorf("median entry of centered column should be 0, got %f", v)
	}
}

func TestQuantileNormalize(t *testing.T) {
	ft := mustTable(t, [][]float64{
		{1, 4},
		{2, 5},
		{3, 6},
	})
	out := QuantileNormalize(ft)
	// Both columns are forced onto the common reference distribution
	want := []float64{2.5, 3.5, 4.5}
	for i, w := range want {
		for j := 0; j < 2; j++ {
			if math.Abs(out.Value(i, j)-w) > 1e-12 {
				t.Errorf("(%d,%d): expected %f, got %f", i, j, w, out.Value(i, j))
			}
		}
	}
}

func TestQuantileNormalizePreservesRankAndMissing(t *testing.T) {
	nan := math.NaN()
	ft := mustTable(t, [][]float64{
		{5, nan, 1},
		{1, 7, 2},
		{3, 2, nan},
		{9, 4, 8},
	})
	out := QuantileNormalize(ft)
	for j := 0; j < ft.NCols(); j++ {
		for i := 0; i < ft.NRows(); i++ {
			if assay.IsMissing(ft.Value(i, j)) != assay.IsMissing(out.Value(i, j)) {
				t.Fatalf("missingness changed at (%d,%d)", i, j)
			}
		}
		// Within-column order of observed values is preserved
		for a := 0; a < ft.NRows(); a++ {
			for b := 0; b < ft.NRows(); b++ {
				va, vb := ft.Value(a, j), ft.Value(b, j)
				if assay.IsMissing(va) || assay.IsMissing(vb) {
					continue
				}
				if va < vb && out.Value(a, j) > out.Value(b, j) {
					t.Errorf("rank order violated in column %d", j)
				}
			}
		}
	}
}

func TestApplyNone(t *testing.T) {
	ft := mustTable(t, [][]float64{{1, 2}})
	out, err := Apply(None, ft)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Value(0, 0) != 1 || out.Value(0, 1) != 2 {
		t.Error("None must not change values")
	}
}
