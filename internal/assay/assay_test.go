package assay

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustTable(t *testing.T, keys, samples []string, data [][]float64) *FeatureTable {
	t.Helper()
	ft, err := NewFeatureTable(keys, samples, data)
	if err != nil {
		t.Fatalf("NewFeatureTable: %v", err)
	}
	return ft
}

func TestZeroToMissing(t *testing.T) {
	ft := mustTable(t,
		[]string{"a", "b"},
		[]string{"s1", "s2", "s3"},
		[][]float64{
			{0, 10, 20},
			{5, 0, 0},
		})
	out := ZeroToMissing(ft)

	for i := 0; i < out.NRows(); i++ {
		for j := 0; j < out.NCols(); j++ {
			if out.Value(i, j) == 0 {
				t.Errorf("literal zero left at (%d,%d)", i, j)
			}
		}
	}
	if !IsMissing(out.Value(0, 0)) || !IsMissing(out.Value(1, 1)) {
		t.Error("zero not converted to missing")
	}
	if out.Value(0, 1) != 10 || out.Value(1, 0) != 5 {
		t.Error("non-zero entries must stay unchanged")
	}
	// Input table must be untouched
	if ft.Value(0, 0) != 0 {
		t.Error("input table was mutated")
	}
}

func TestObservationCounts(t *testing.T) {
	nan := math.NaN()
	ft := mustTable(t,
		[]string{"a", "b"},
		[]string{"s1", "s2", "s3", "s4"},
		[][]float64{
			{nan, 1, 2, nan},
			{1, 1, 1, 1},
		})
	if diff := cmp.Diff([]int{2, 4}, ObservationCounts(ft)); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	// s1+s2 are one block, s3+s4 another
	blocks := []string{"m1", "m1", "m2", "m2"}
	if diff := cmp.Diff([]int{2, 2}, BlockObservationCounts(ft, blocks)); diff != "" {
		t.Errorf("block counts mismatch (-want +got):\n%s", diff)
	}
}

func TestAnnotateObservationsSnapshot(t *testing.T) {
	nan := math.NaN()
	ft := mustTable(t, []string{"a"}, []string{"s1", "s2"},
		[][]float64{{nan, 3}})
	rows := AnnotateObservations(ft, []RowMeta{{GroupID: "P1"}}, nil)
	if rows[0].NonZeroCount != 1 {
		t.Errorf("NonZeroCount: expected 1, got %d", rows[0].NonZeroCount)
	}
	// The count is a snapshot: deriving a new table does not change it
	_ = ft.Map(func(v float64) float64 { return 1 })
	if rows[0].NonZeroCount != 1 {
		t.Error("snapshot count changed")
	}
}

func TestSelectRows(t *testing.T) {
	ft := mustTable(t, []string{"a", "b", "c"}, []string{"s1"},
		[][]float64{{1}, {2}, {3}})
	sub := ft.SelectRows([]int{2, 0})
	if diff := cmp.Diff([]string{"c", "a"}, sub.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if sub.Value(0, 0) != 3 || sub.Value(1, 0) != 1 {
		t.Error("values not selected correctly")
	}
}

func TestChainStages(t *testing.T) {
	ft := mustTable(t, []string{"a"}, []string{"s1"}, [][]float64{{1}})
	var c Chain
	if err := c.Add("raw", ft, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add("raw", ft, nil); !errors.Is(err, ErrStageExists) {
		t.Errorf("Expected ErrStageExists, got: %v", err)
	}
	if c.Stage("raw") == nil || c.Stage("nope") != nil {
		t.Error("Stage lookup wrong")
	}
	if c.Latest().Name != "raw" {
		t.Error("Latest should return the last stage")
	}
}

func TestColumnAnnotationLevels(t *testing.T) {
	ann := ColumnAnnotation{
		{Name: "s1", Factors: map[string]string{"cond": "B"}},
		{Name: "s2", Factors: map[string]string{"cond": "A"}},
		{Name: "s3", Factors: map[string]string{"cond": "B"}},
	}
	if diff := cmp.Diff([]string{"A", "B"}, ann.Levels("cond")); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
	vals, ok := ann.Values("cond")
	if !ok {
		t.Fatal("Values: factor should be present")
	}
	if diff := cmp.Diff([]string{"B", "A", "B"}, vals); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
	if _, ok := ann.Values("other"); ok {
		t.Error("Values should report missing factor")
	}
}
