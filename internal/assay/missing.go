package assay

// ZeroToMissing derives a table in which every literal zero intensity
// is replaced by a missing value. All other entries are unchanged.
// No rows are dropped here; the observation statistics computed from
// the result feed the feature filter.
func ZeroToMissing(t *FeatureTable) *FeatureTable {
	return t.Map(func(v float64) float64 {
		if v == 0 {
			return Missing()
		}
		return v
	})
}

// ObservationCounts returns, per row, the number of non-missing
// entries.
func ObservationCounts(t *FeatureTable) []int {
	counts := make([]int, t.NRows())
	for i := 0; i < t.NRows(); i++ {
		n := 0
		for j := 0; j < t.NCols(); j++ {
			if !IsMissing(t.Value(i, j)) {
				n++
			}
		}
		counts[i] = n
	}
	return counts
}

// BlockObservationCounts returns, per row, the number of distinct
// blocks that have at least one non-missing entry. blocks gives the
// block label of each sample, in column order. With technical
// replicates this is the count that matters for the minimum
// observation filter: repeated measurements of the same block are not
// independent evidence.
func BlockObservationCounts(t *FeatureTable, blocks []string) []int {
	counts := make([]int, t.NRows())
	for i := 0; i < t.NRows(); i++ {
		seen := make(map[string]bool)
		for j := 0; j < t.NCols(); j++ {
			if !IsMissing(t.Value(i, j)) {
				seen[blocks[j]] = true
			}
		}
		counts[i] = len(seen)
	}
	return counts
}

// AnnotateObservations stores observation counts in the row metadata
// as a snapshot. blocks may be nil when no replicate-block structure
// exists.
func AnnotateObservations(t *FeatureTable, rows []RowMeta, blocks []string) []RowMeta {
	out := append([]RowMeta(nil), rows...)
	counts := ObservationCounts(t)
	var blockCounts []int
	if blocks != nil {
		blockCounts = BlockObservationCounts(t, blocks)
	}
	for i := range out {
		out[i].NonZeroCount = counts[i]
		if blockCounts != nil {
			out[i].BlockCount = blockCounts[i]
		}
	}
	return out
}
