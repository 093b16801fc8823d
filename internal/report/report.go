// Package report renders the analysis outputs: the per-protein
// significance table, the heatmap input matrix for significant
// proteins, per-protein detail series, and a terminal summary table.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/protdiff/protdiff/internal/assay"
	"github.com/protdiff/protdiff/internal/contrast"
)

// WriteTopTable writes the tab-separated significance table, ordered
// as given (callers usually sort by p-value first).
func WriteTopTable(w io.Writer, results []contrast.Result) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{"Protein", "logFC", "t", "PValue", "AdjPValue", "DF", "NObs"}); err != nil {
		return err
	}
	for _, r := range results {
		rec := []string{
			r.Protein,
			formatFloat(r.LogFC),
			formatFloat(r.T),
			formatFloat(r.PValue),
			formatFloat(r.AdjPValue),
			formatFloat(r.DF),
			strconv.Itoa(r.NObs),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteHeatmap writes the normalized protein values of every protein
// with AdjPValue below maxAdjP as a tab-separated matrix, one row per
// protein, one column per sample. This is the input contract for
// heatmap rendering.
func WriteHeatmap(w io.Writer, prot *assay.FeatureTable, results []contrast.Result, maxAdjP float64) (int, error) {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	header := append([]string{"Protein"}, prot.Samples()...)
	if err := cw.Write(header); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range results {
		if math.IsNaN(r.AdjPValue) || r.AdjPValue >= maxAdjP {
			continue
		}
		i := prot.RowIndex(r.Protein)
		if i < 0 {
			continue
		}
		rec := make([]string, 0, prot.NCols()+1)
		rec = append(rec, r.Protein)
		for j := 0; j < prot.NCols(); j++ {
			rec = append(rec, formatFloat(prot.Value(i, j)))
		}
		if err := cw.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}

// WriteDetail writes the per-sample series of one protein: every
// peptide value of the protein plus the summarized protein value,
// joined by sample. The series feeds per-protein detail plots.
func WriteDetail(w io.Writer, proteinID string, pep *assay.FeatureTable, pepRows []assay.RowMeta, prot *assay.FeatureTable) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{"Feature", "Level", "Sample", "Value"}); err != nil {
		return err
	}
	samples := pep.Samples()
	for i := 0; i < pep.NRows(); i++ {
		if pepRows[i].GroupID != proteinID {
			continue
		}
		for j, sample := range samples {
			rec := []string{pep.Key(i), "peptide", sample, formatFloat(pep.Value(i, j))}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	pi := prot.RowIndex(proteinID)
	if pi < 0 {
		return fmt.Errorf("protein %q not in summarized assay", proteinID)
	}
	for j, sample := range samples {
		rec := []string{proteinID, "protein", sample, formatFloat(prot.Value(pi, j))}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderTop renders the n most significant results as a terminal
// table.
func RenderTop(w io.Writer, results []contrast.Result, n int) {
	if n > len(results) {
		n = len(results)
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Protein", "logFC", "t", "P", "adj.P", "n"})
	for _, r := range results[:n] {
		t.AppendRow(table.Row{
			r.Protein,
			fmt.Sprintf("%.3f", r.LogFC),
			fmt.Sprintf("%.2f", r.T),
			fmt.Sprintf("%.2e", r.PValue),
			fmt.Sprintf("%.2e", r.AdjPValue),
			r.NObs,
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

// formatFloat renders a value for tabular output; missing values
// become "NA" the way downstream plotting tools expect.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}
