// Package peptable reads tab-separated peptide intensity tables as
// produced by common search engines: one header row, one data row per
// peptide, intensity columns identified by a fixed header prefix and
// metadata columns by literal names.
package peptable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ErrSchemaMismatch indicates that the input table does not have the
// expected columns. This is unrecoverable: the whole run is aborted.
var ErrSchemaMismatch = errors.New("input table schema mismatch")

// Config names the columns of interest. Zero values select the
// MaxQuant peptides.txt conventions, see DefaultConfig.
type Config struct {
	// IntensityPrefix selects intensity columns: every column whose
	// header starts with this literal prefix is one sample. The sample
	// name is the header with the prefix removed.
	IntensityPrefix string
	SequenceCol     string // peptide sequence (feature key)
	ProteinsCol     string // ";"-separated protein-group membership
	DecoyCol        string // non-empty value flags a reversed/decoy match
	ContaminantCol  string // non-empty value flags a known contaminant
}

// DefaultConfig returns the MaxQuant peptides.txt column conventions.
func DefaultConfig() Config {
	return Config{
		IntensityPrefix: "Intensity ",
		SequenceCol:     "Sequence",
		ProteinsCol:     "Proteins",
		DecoyCol:        "Reverse",
		ContaminantCol:  "Potential contaminant",
	}
}

// Table is the parsed peptide table. Row i of Intensities belongs to
// Sequences[i]; column j to SampleNames[j].
type Table struct {
	Sequences   []string
	Proteins    [][]string // per-row protein-group membership, sorted
	Decoy       []bool
	Contaminant []bool
	SampleNames []string // intensity column headers with the prefix stripped
	Intensities [][]float64
}

// NRows returns the number of peptide rows.
func (t *Table) NRows() int { return len(t.Sequences) }

// Read parses a tab-separated peptide table. Missing metadata columns
// or an empty intensity column set yield ErrSchemaMismatch.
func Read(reader io.Reader, cfg Config) (*Table, error) {
	r := csv.NewReader(reader)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read header: %v", ErrSchemaMismatch, err)
	}

	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		return -1
	}
	seqIdx := col(cfg.SequenceCol)
	protIdx := col(cfg.ProteinsCol)
	decoyIdx := col(cfg.DecoyCol)
	contIdx := col(cfg.ContaminantCol)
	for _, missing := range []struct {
		idx  int
		name string
	}{
		{seqIdx, cfg.SequenceCol},
		{protIdx, cfg.ProteinsCol},
		{decoyIdx, cfg.DecoyCol},
		{contIdx, cfg.ContaminantCol},
	} {
		if missing.idx < 0 {
			return nil, fmt.Errorf("%w: column %q not found", ErrSchemaMismatch, missing.name)
		}
	}

	var intIdx []int
	var t Table
	for i, h := range header {
		if strings.HasPrefix(h, cfg.IntensityPrefix) {
			intIdx = append(intIdx, i)
			t.SampleNames = append(t.SampleNames, strings.TrimPrefix(h, cfg.IntensityPrefix))
		}
	}
	if len(intIdx) == 0 {
		return nil, fmt.Errorf("%w: no columns with intensity prefix %q", ErrSchemaMismatch, cfg.IntensityPrefix)
	}

	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrSchemaMismatch, line+1, err)
		}
		line++
		if len(rec) < len(header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, want %d", ErrSchemaMismatch, line, len(rec), len(header))
		}
		t.Sequences = append(t.Sequences, rec[seqIdx])
		t.Proteins = append(t.Proteins, splitProteins(rec[protIdx]))
		t.Decoy = append(t.Decoy, rec[decoyIdx] != "")
		t.Contaminant = append(t.Contaminant, rec[contIdx] != "")

		row := make([]float64, len(intIdx))
		for j, c := range intIdx {
			v, err := parseIntensity(rec[c])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %q: %v", ErrSchemaMismatch, line, header[c], err)
			}
			row[j] = v
		}
		t.Intensities = append(t.Intensities, row)
	}
	return &t, nil
}

// parseIntensity parses one intensity value. An empty field is an
// absent measurement and maps to 0, which the missingness step later
// converts to an explicit missing value.
func parseIntensity(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid intensity %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative intensity %q", s)
	}
	return v, nil
}

// splitProteins splits a ";"-separated protein list into a sorted,
// deduplicated set.
func splitProteins(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	k := 0
	for i, p := range out {
		if i == 0 || p != out[k-1] {
			out[k] = p
			k++
		}
	}
	return out[:k]
}

// GroupID returns the canonical identifier of a protein-group
// membership set: the sorted members joined by ";".
func GroupID(proteins []string) string {
	return strings.Join(proteins, ";")
}
