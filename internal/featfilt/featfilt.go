// Package featfilt applies the ordered row-inclusion rules of the
// workflow: smallest-unique protein-group membership, decoy and
// contaminant exclusion, and the minimum observation filter. Each
// step strictly reduces the row set; the surviving counts are the
// main diagnostic of the filtering stage.
package featfilt

import (
	"github.com/protdiff/protdiff/internal/assay"
)

// A Keep predicate decides whether row i survives a filter step.
type Keep func(i int) bool

// Apply derives the filtered table and row annotation, returning also
// the number of removed rows.
func Apply(t *assay.FeatureTable, rows []assay.RowMeta, keep Keep) (*assay.FeatureTable, []assay.RowMeta, int) {
	var idx []int
	for i := 0; i < t.NRows(); i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	newRows := make([]assay.RowMeta, len(idx))
	for k, i := range idx {
		newRows[k] = rows[i]
	}
	return t.SelectRows(idx), newRows, t.NRows() - len(idx)
}

// SmallestUniqueGroups returns a predicate that retains a row only if
// its protein-group membership is not a strict superset of another
// observed membership. Shared-peptide ambiguity is resolved by
// preferring the most specific explanatory protein set: evidence
// subsumed by a smaller group is discarded.
func SmallestUniqueGroups(rows []assay.RowMeta) Keep {
	// Distinct membership sets, keyed by canonical group id.
	groups := make(map[string][]string)
	for _, r := range rows {
		if _, ok := groups[r.GroupID]; !ok {
			groups[r.GroupID] = r.Proteins
		}
	}
	isSuperset := make(map[string]bool)
	for id, set := range groups {
		for other, otherSet := range groups {
			if id == other {
				continue
			}
			if strictSubset(otherSet, set) {
				isSuperset[id] = true
				break
			}
		}
	}
	return func(i int) bool {
		if len(rows[i].Proteins) == 0 {
			return false
		}
		return !isSuperset[rows[i].GroupID]
	}
}

// strictSubset reports whether a is a strict subset of b. Both are
// sorted.
func strictSubset(a, b []string) bool {
	if len(a) >= len(b) {
		return false
	}
	i := 0
	for _, v := range a {
		for i < len(b) && b[i] < v {
			i++
		}
		if i >= len(b) || b[i] != v {
			return false
		}
		i++
	}
	return true
}

// NotDecoy drops rows matched to a reversed/decoy sequence.
func NotDecoy(rows []assay.RowMeta) Keep {
	return func(i int) bool { return !rows[i].Decoy }
}

// NotContaminant drops rows flagged as a known contaminant.
func NotContaminant(rows []assay.RowMeta) Keep {
	return func(i int) bool { return !rows[i].Contaminant }
}

// MinObservations drops rows observed in fewer than min independent
// samples. When the row annotation carries a block count (technical
// replicate structure), the block count is used; otherwise the plain
// non-missing count.
func MinObservations(rows []assay.RowMeta, min int) Keep {
	return func(i int) bool {
		n := rows[i].NonZeroCount
		if rows[i].BlockCount > 0 {
			n = rows[i].BlockCount
		}
		return n >= min
	}
}
