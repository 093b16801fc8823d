package summarize

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/protdiff/protdiff/internal/assay"
)

func TestRobustLocationBasics(t *testing.T) {
	if !math.IsNaN(RobustLocation(nil)) {
		t.Error("no values must summarize to missing")
	}
	if got := RobustLocation([]float64{7}); got != 7 {
		t.Errorf("single value: expected 7, got %f", got)
	}
	if got := RobustLocation([]float64{2, 4}); got != 3 {
		t.Errorf("two values: expected 3, got %f", got)
	}
	if got := RobustLocation([]float64{5, 5, 5, 5}); got != 5 {
		t.Errorf("constant values: expected 5, got %f", got)
	}
}

func TestRobustLocationOutlier(t *testing.T) {
	// One grossly outlying value among consistent ones must not drag
	// the estimate away from the consistent majority.
	vals := []float64{10.0, 10.1, 9.9, 10.05, 30.0}
	got := RobustLocation(vals)
	if got < 9.5 || got > 10.5 {
		t.Errorf("summary %f tracks the outlier", got)
	}
	mean := (10.0 + 10.1 + 9.9 + 10.05 + 30.0) / 5
	if math.Abs(got-mean) < 1 {
		t.Errorf("summary %f is no better than the plain mean %f", got, mean)
	}
}

func TestProteins(t *testing.T) {
	nan := math.NaN()
	ft, err := assay.NewFeatureTable(
		[]string{"PEP1", "PEP2", "PEP3"},
		[]string{"s1", "s2"},
		[][]float64{
			{1, nan},
			{3, nan},
			{10, 20},
		})
	if err != nil {
		t.Fatalf("NewFeatureTable: %v", err)
	}
	rows := []assay.RowMeta{
		{GroupID: "P1"},
		{GroupID: "P1"},
		{GroupID: "P2"},
	}
	prot, groups, err := Proteins(ft, rows)
	if err != nil {
		t.Fatalf("Proteins: %v", err)
	}
	if diff := cmp.Diff([]string{"P1", "P2"}, prot.Keys()); diff != "" {
		t.Errorf("protein keys mismatch (-want +got):\n%s", diff)
	}
	if len(groups) != 2 || len(groups[0].RowIndex) != 2 {
		t.Fatalf("unexpected groups: %+v", groups)
	}
	if got := prot.Value(0, 0); got != 2 {
		t.Errorf("P1/s1: expected 2, got %f", got)
	}
	// Every peptide of P1 is missing in s2: the protein value is
	// missing, not an error
	if !assay.IsMissing(prot.Value(0, 1)) {
		t.Error("all-missing cell must summarize to missing")
	}
	if got := prot.Value(1, 1); got != 20 {
		t.Errorf("P2/s2: expected 20, got %f", got)
	}
}
