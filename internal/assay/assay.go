// Package assay holds the quantitative data model of the pipeline:
// intensity matrices with explicit missing values, per-row and
// per-sample annotations, and the chain of derived assays.
package assay

import (
	"errors"
	"fmt"
	"math"
)

// Missing is the in-matrix representation of "not observed".
// Proteomics intensities are never truly zero; a zero in the input
// means the signal was below the detection limit.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v represents a missing observation.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// FeatureTable is a rows x samples intensity matrix. Rows are peptide
// or protein features identified by Keys, columns are samples.
// A table is immutable once constructed; pipeline stages derive new
// tables instead of modifying existing ones.
type FeatureTable struct {
	keys    []string
	samples []string
	data    [][]float64
}

// NewFeatureTable constructs a table from row keys, sample names and
// row-major data. The data slices are copied.
func NewFeatureTable(keys []string, samples []string, data [][]float64) (*FeatureTable, error) {
	if len(data) != len(keys) {
		return nil, fmt.Errorf("feature table: %d keys but %d data rows", len(keys), len(data))
	}
	t := &FeatureTable{
		keys:    append([]string(nil), keys...),
		samples: append([]string(nil), samples...),
		data:    make([][]float64, len(data)),
	}
	for i, row := range data {
		if len(row) != len(samples) {
			return nil, fmt.Errorf("feature table: row %d has %d values, want %d", i, len(row), len(samples))
		}
		t.data[i] = append([]float64(nil), row...)
	}
	return t, nil
}

// NRows returns the number of feature rows.
func (t *FeatureTable) NRows() int { return len(t.keys) }

// NCols returns the number of samples.
func (t *FeatureTable) NCols() int { return len(t.samples) }

// Key returns the feature key of row i.
func (t *FeatureTable) Key(i int) string { return t.keys[i] }

// Keys returns a copy of all row keys.
func (t *FeatureTable) Keys() []string { return append([]string(nil), t.keys...) }

// Samples returns a copy of the sample names.
func (t *FeatureTable) Samples() []string { return append([]string(nil), t.samples...) }

// Value returns the intensity of row i in sample j.
func (t *FeatureTable) Value(i, j int) float64 { return t.data[i][j] }

// Row returns a copy of row i.
func (t *FeatureTable) Row(i int) []float64 { return append([]float64(nil), t.data[i]...) }

// RowIndex returns the index of the row with the given key, or -1.
func (t *FeatureTable) RowIndex(key string) int {
	for i, k := range t.keys {
		if k == key {
			return i
		}
	}
	return -1
}

// Map derives a new table by applying f to every entry.
func (t *FeatureTable) Map(f func(v float64) float64) *FeatureTable {
	n := &FeatureTable{keys: t.keys, samples: t.samples, data: make([][]float64, len(t.data))}
	for i, row := range t.data {
		nr := make([]float64, len(row))
		for j, v := range row {
			nr[j] = f(v)
		}
		n.data[i] = nr
	}
	return n
}

// SelectRows derives a new table containing only the rows with the
// given indices, in the given order.
func (t *FeatureTable) SelectRows(idx []int) *FeatureTable {
	n := &FeatureTable{
		keys:    make([]string, len(idx)),
		samples: t.samples,
		data:    make([][]float64, len(idx)),
	}
	for k, i := range idx {
		n.keys[k] = t.keys[i]
		n.data[k] = append([]float64(nil), t.data[i]...)
	}
	return n
}

// RowMeta annotates one feature row. NonZeroCount and BlockCount are
// snapshots taken when the observation statistics were computed; they
// are not recomputed when later stages derive new tables.
type RowMeta struct {
	// Proteins is the protein-group membership of the peptide: the
	// set of accessions its sequence is consistent with.
	Proteins []string
	// GroupID is the canonical protein-group identifier (the sorted,
	// ";"-joined membership).
	GroupID     string
	Decoy       bool
	Contaminant bool
	// NonZeroCount is the number of non-missing entries in the row.
	NonZeroCount int
	// BlockCount is the number of distinct replicate blocks with at
	// least one non-missing entry. Zero when no block factor is set.
	BlockCount int
}

// SampleInfo carries the experimental factors of one sample, derived
// from its column name.
type SampleInfo struct {
	Name    string
	Factors map[string]string
}

// ColumnAnnotation maps sample index to experimental factors.
type ColumnAnnotation []SampleInfo

// Levels returns the sorted distinct values of a factor over all
// samples.
func (c ColumnAnnotation) Levels(factor string) []string {
	seen := make(map[string]bool)
	var levels []string
	for _, s := range c {
		v, ok := s.Factors[factor]
		if ok && !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	sortStrings(levels)
	return levels
}

// Values returns the per-sample values of a factor, in column order.
// The second return is false if any sample lacks the factor.
func (c ColumnAnnotation) Values(factor string) ([]string, bool) {
	vals := make([]string, len(c))
	for i, s := range c {
		v, ok := s.Factors[factor]
		if !ok {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// ErrStageExists is returned when adding a stage name twice to a chain.
var ErrStageExists = errors.New("assay stage already exists")

// Stage is one named step in the assay chain: a table plus the row
// annotation that belongs to it.
type Stage struct {
	Name  string
	Table *FeatureTable
	Rows  []RowMeta
}

// Chain is the ordered sequence of derived assays of one experiment
// (raw, log, normalized, protein). Stages are append-only; earlier
// stages are never replaced.
type Chain struct {
	Samples ColumnAnnotation
	stages  []Stage
}

// Add appends a named stage. The name must be new.
func (c *Chain) Add(name string, t *FeatureTable, rows []RowMeta) error {
	for _, s := range c.stages {
		if s.Name == name {
			return fmt.Errorf("%w: %s", ErrStageExists, name)
		}
	}
	c.stages = append(c.stages, Stage{Name: name, Table: t, Rows: rows})
	return nil
}

// Stage returns the named stage, or nil.
func (c *Chain) Stage(name string) *Stage {
	for i := range c.stages {
		if c.stages[i].Name == name {
			return &c.stages[i]
		}
	}
	return nil
}

// Latest returns the most recently added stage, or nil for an empty
// chain.
func (c *Chain) Latest() *Stage {
	if len(c.stages) == 0 {
		return nil
	}
	return &c.stages[len(c.stages)-1]
}
