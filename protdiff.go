// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/protdiff/protdiff/internal/assay"
	"github.com/protdiff/protdiff/internal/contrast"
	"github.com/protdiff/protdiff/internal/design"
	"github.com/protdiff/protdiff/internal/featfilt"
	"github.com/protdiff/protdiff/internal/model"
	"github.com/protdiff/protdiff/internal/normalize"
	"github.com/protdiff/protdiff/internal/peptable"
	"github.com/protdiff/protdiff/internal/report"
	"github.com/protdiff/protdiff/internal/summarize"
)

// Program name and version, shown with -version
const progName = "protDiff"

var progVersion = `Unknown`

const (
	infoDefault = iota
	infoSilent
	infoVerbose
)

// Command line parameters
type params struct {
	pepFilename     *string // Input peptide table (last argument)
	outFilename     *string // Significance table output
	heatmapFilename *string // Heatmap matrix output
	detailProtein   *string // Protein id for detail series output
	detailFilename  *string // Detail series output
	intensityPrefix *string // Header prefix selecting intensity columns
	seqCol          *string // Peptide sequence column
	proteinsCol     *string // Protein-group membership column
	decoyCol        *string // Decoy flag column
	contaminantCol  *string // Contaminant flag column
	factorRules     *string // Sample factor derivation rules
	formulaStr      *string // Model formula
	contrastExpr    *string // Contrast to test
	ridge           *bool   // Ridge-penalize the block term
	normMethod      *string // Between-sample normalization
	minObs          *int    // Minimum observation count per peptide row
	obsBlock        *string // Factor defining replicate blocks for counting
	maxAdjP         *float64
	topN            *int
	jobs            *int
	verbosity       int
	args            []string // Additional values passed on the command line
}

var ErrRangeSpec = errors.New("invalid range specified")

// Parse string like "-12:6" into 2 values, -12 and 6
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12:"), the default is assigned
func parseIntRange(r string, min int, max int) (int, int, error) {
	re := regexp.MustCompile(`\s*(\-?\d*):(\-?\d*)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.Atoi(m[1])
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 3 && m[2] != "" {
		maxOut, _ = strconv.Atoi(m[2])
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// analysis collects everything the pipeline produces; the reporting
// layer reads from here.
type analysis struct {
	chain     *assay.Chain
	pepStage  *assay.Stage // final normalized peptide assay
	protTable *assay.FeatureTable
	groups    []summarize.Group
	design    *model.Design
	fits      []*model.Fit
	results   []contrast.Result
	noModel   int
}

// loadPeptides reads the input table and builds the raw assay with
// its row annotation and sample factors.
func loadPeptides(par params) (*assay.Chain, error) {
	f, err := os.Open(*par.pepFilename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := peptable.Config{
		IntensityPrefix: *par.intensityPrefix,
		SequenceCol:     *par.seqCol,
		ProteinsCol:     *par.proteinsCol,
		DecoyCol:        *par.decoyCol,
		ContaminantCol:  *par.contaminantCol,
	}
	tab, err := peptable.Read(f, cfg)
	if err != nil {
		return nil, err
	}

	rules, err := design.ParseRules(*par.factorRules)
	if err != nil {
		return nil, err
	}
	samples, err := design.Annotate(tab.SampleNames, rules)
	if err != nil {
		return nil, err
	}

	raw, err := assay.NewFeatureTable(tab.Sequences, tab.SampleNames, tab.Intensities)
	if err != nil {
		return nil, err
	}
	rows := make([]assay.RowMeta, tab.NRows())
	for i := range rows {
		rows[i] = assay.RowMeta{
			Proteins:    tab.Proteins[i],
			GroupID:     peptable.GroupID(tab.Proteins[i]),
			Decoy:       tab.Decoy[i],
			Contaminant: tab.Contaminant[i],
		}
	}

	chain := &assay.Chain{Samples: samples}
	if err := chain.Add("raw", raw, rows); err != nil {
		return nil, err
	}
	return chain, nil
}

// filterPeptides runs the missingness normalization and the ordered
// feature filters, reporting surviving row counts.
func filterPeptides(chain *assay.Chain, par params) error {
	raw := chain.Stage("raw")

	pep := assay.ZeroToMissing(raw.Table)
	var blocks []string
	if *par.obsBlock != "" {
		vals, ok := chain.Samples.Values(*par.obsBlock)
		if !ok {
			return fmt.Errorf("%w: block factor %q not derived for all samples",
				design.ErrMetadataDerivation, *par.obsBlock)
		}
		blocks = vals
	}
	rows := assay.AnnotateObservations(pep, raw.Rows, blocks)
	if err := chain.Add("peptides", pep, rows); err != nil {
		return err
	}

	// Ordered filter pipeline; each predicate sees the already-reduced
	// annotation of the previous step.
	t, r := pep, rows
	apply := func(name string, keep featfilt.Keep) {
		before := t.NRows()
		var removed int
		t, r, removed = featfilt.Apply(t, r, keep)
		if par.verbosity != infoSilent {
			fmt.Fprintf(os.Stderr, "%s: %d of %d peptide rows kept (%d removed)\n",
				name, t.NRows(), before, removed)
		}
	}
	apply("unique protein groups", featfilt.SmallestUniqueGroups(r))
	apply("decoy exclusion", featfilt.NotDecoy(r))
	apply("contaminant exclusion", featfilt.NotContaminant(r))
	apply("minimum observations", featfilt.MinObservations(r, *par.minObs))
	return chain.Add("filtered", t, r)
}

// transformPeptides log-transforms and normalizes the filtered assay.
func transformPeptides(chain *assay.Chain, par params) error {
	filtered := chain.Stage("filtered")
	logT := normalize.Log2(filtered.Table)
	if err := chain.Add("log", logT, filtered.Rows); err != nil {
		return err
	}
	method, err := normalize.ParseMethod(*par.normMethod)
	if err != nil {
		return err
	}
	normT, err := normalize.Apply(method, logT)
	if err != nil {
		return err
	}
	return chain.Add("norm", normT, filtered.Rows)
}

// fitProteins fits one model per protein row over a bounded worker
// pool. Results are merged before the joint FDR step: the adjustment
// must see all raw p-values at once.
func fitProteins(a *analysis, par params) error {
	d := a.design
	nProt := a.protTable.NRows()
	a.fits = make([]*model.Fit, nProt)

	jobs := *par.jobs
	if jobs < 1 {
		jobs = 1
	}
	idxCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g := range idxCh {
				a.fits[g] = model.FitRow(d, a.protTable.Row(g), model.Options{})
			}
		}()
	}
	for g := 0; g < nProt; g++ {
		idxCh <- g
	}
	close(idxCh)
	wg.Wait()

	for g, fit := range a.fits {
		debugLogFit(g, nProt, a.protTable.Key(g), fit)
		if fit == nil {
			debugRegisterNoModel(a.protTable.Key(g))
		}
	}
	return nil
}

// runAnalysis glues together all the pipeline steps:
// Read peptide table and derive sample factors
// Convert zeros to missing, filter peptide rows
// Log-transform and normalize
// Summarize peptides to proteins
// Fit one robust model per protein and test the contrast
func runAnalysis(par params) (*analysis, error) {
	t := time.Now()
	progress := func(msg string) {
		if par.verbosity == infoVerbose {
			fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
			t = time.Now()
			fmt.Fprintf(os.Stderr, "%s: ", msg)
		}
	}
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "Reading peptide table from %s: ", *par.pepFilename)
	}

	chain, err := loadPeptides(par)
	if err != nil {
		return nil, err
	}

	progress("Filtering peptide rows")
	if err := filterPeptides(chain, par); err != nil {
		return nil, err
	}

	progress("Transforming and normalizing")
	if err := transformPeptides(chain, par); err != nil {
		return nil, err
	}

	progress("Summarizing peptides to proteins")
	a := &analysis{chain: chain, pepStage: chain.Stage("norm")}
	protTable, groups, err := summarize.Proteins(a.pepStage.Table, a.pepStage.Rows)
	if err != nil {
		return nil, err
	}
	a.protTable, a.groups = protTable, groups
	if par.verbosity != infoSilent {
		fmt.Fprintf(os.Stderr, "summarized %d peptide rows into %d protein groups\n",
			a.pepStage.Table.NRows(), protTable.NRows())
	}

	formula, err := model.ParseFormula(*par.formulaStr)
	if err != nil {
		return nil, err
	}
	a.design, err = model.Build(chain.Samples, formula, *par.ridge)
	if err != nil {
		return nil, err
	}
	contr, err := contrast.Parse(*par.contrastExpr)
	if err != nil {
		return nil, err
	}
	// Validate the contrast against the coefficient set before doing
	// any per-protein work; a misspelled name is a global error.
	if err := contr.Validate(a.design.Names); err != nil {
		return nil, err
	}

	progress("Fitting per-protein models")
	if err := fitProteins(a, par); err != nil {
		return nil, err
	}

	progress("Testing contrast")
	mod := model.Squeeze(a.fits)
	a.results, a.noModel, err = contrast.Test(a.protTable.Keys(), a.fits, contr, mod)
	if err != nil {
		return nil, err
	}
	contrast.SortByP(a.results)
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
	}
	if par.verbosity != infoSilent && a.noModel > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d proteins had no model (insufficient observations)\n",
			a.noModel, a.protTable.NRows())
	}
	return a, nil
}

// writeOutputs writes the significance table, the heatmap matrix and,
// when requested, the per-protein detail series.
func writeOutputs(a *analysis, par params) error {
	f, err := os.Create(*par.outFilename)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := report.WriteTopTable(f, a.results); err != nil {
		return err
	}

	hf, err := os.Create(*par.heatmapFilename)
	if err != nil {
		return err
	}
	defer hf.Close()
	nSig, err := report.WriteHeatmap(hf, a.protTable, a.results, *par.maxAdjP)
	if err != nil {
		return err
	}
	if par.verbosity != infoSilent {
		fmt.Fprintf(os.Stderr, "%d proteins with adjusted p < %g written to %s\n",
			nSig, *par.maxAdjP, *par.heatmapFilename)
	}

	if *par.detailProtein != "" {
		df, err := os.Create(*par.detailFilename)
		if err != nil {
			return err
		}
		defer df.Close()
		if err := report.WriteDetail(df, *par.detailProtein,
			a.pepStage.Table, a.pepStage.Rows, a.protTable); err != nil {
			return err
		}
	}
	return nil
}

// sanitizeParams does some checks on parameters, and fills missing
// filenames if possible
func sanitizeParams(par *params) {
	exeName := filepath.Base(os.Args[0])

	if len(par.args) != 1 {
		fmt.Fprintf(os.Stderr, `Last argument must be name of the peptide table.
Type %s --help for usage
`, exeName)
		os.Exit(2)
	}

	pep := par.args[0]
	par.pepFilename = &pep
	var extension = filepath.Ext(pep)
	var startName = pep[0 : len(pep)-len(extension)]

	if *par.outFilename == "" {
		*par.outFilename = startName + "-diff.tsv"
	}
	if *par.heatmapFilename == "" {
		*par.heatmapFilename = startName + "-heatmap.tsv"
	}
	if *par.detailFilename == "" {
		*par.detailFilename = startName + "-detail.tsv"
	}
	if *par.minObs < 1 {
		fmt.Fprintf(os.Stderr, `Invalid value for parameter 'minobs'.
Type %s --help for usage
`, exeName)
		os.Exit(2)
	}
	if *par.jobs < 1 {
		*par.jobs = runtime.NumCPU()
	}
}

func usage() {
	exeName := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr,
		`USAGE:
  %s [options] <peptides.tsv>

  This program runs a differential expression analysis on a peptide
  intensity table: peptide rows are filtered, log2-transformed and
  normalized, summarized to protein-level values with a robust
  estimator, and one robust linear model per protein is fitted and
  tested against the specified contrast.

OPTIONS:
`, exeName)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr,
		`
SAMPLE FACTORS:
  Factors are derived from the intensity column headers with the rules
  given by -factors. Two rule forms exist:
     name=sub:START:END    fixed-position substring (1-based, inclusive)
     name=split:DELIM:N    split on DELIM, take the N-th token (1-based)
  A header that does not match the rule shape aborts the run.

USAGE EXAMPLES:
  %s -factors 'condition=sub:2:2' -formula '~ condition' \
      -contrast 'conditionB' peptides.txt
    Samples carry the condition in the second character of the column
    name. Test condition B against the reference level.

  %s -factors 'condition=split:_:1,mouse=split:_:2' \
      -formula '~ condition + (1|mouse)' -ridge \
      -contrast 'conditionKO - conditionWT' peptides.txt
    Block the repeated measurements per mouse with a ridge-penalized
    term and test knockout against wildtype.
`, exeName, exeName)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	var par params

	par.outFilename = flag.String("o",
		"",
		"`filename` of the output significance table")
	par.heatmapFilename = flag.String("heatmap",
		"",
		"`filename` of the heatmap matrix of significant proteins")
	par.detailProtein = flag.String("protein",
		"",
		"write the peptide/protein detail series for this protein `id`")
	par.detailFilename = flag.String("detailfile",
		"",
		"`filename` of the detail series output")
	par.intensityPrefix = flag.String("intensityprefix",
		"Intensity ",
		"header `prefix` identifying intensity columns; the sample name"+`
is the header with the prefix removed`)
	par.seqCol = flag.String("seqcol", "Sequence",
		"`name` of the peptide sequence column")
	par.proteinsCol = flag.String("proteincol", "Proteins",
		"`name` of the protein-group membership column")
	par.decoyCol = flag.String("decoycol", "Reverse",
		"`name` of the decoy flag column")
	par.contaminantCol = flag.String("contaminantcol", "Potential contaminant",
		"`name` of the contaminant flag column")
	par.factorRules = flag.String("factors",
		"",
		"comma separated factor derivation `rules`, e.g."+`
'condition=sub:2:2,mouse=split:_:3'`)
	par.formulaStr = flag.String("formula",
		"~ condition",
		"model `formula`, e.g. '~ condition' or '~ condition + (1|mouse)'")
	par.contrastExpr = flag.String("contrast",
		"",
		"`contrast` of model coefficients to test, e.g."+`
'conditionB - conditionA'`)
	par.ridge = flag.Bool("ridge", false,
		`ridge-penalize the block term of the formula. Required when the
block factor cannot be estimated as a fixed effect.`)
	par.normMethod = flag.String("norm",
		"quantile",
		"between-sample normalization `method`: quantile, median or none."+`
Median centering only removes per-sample offsets and is preferred
with few biological replicates.`)
	par.minObs = flag.Int("minobs",
		2,
		`minimum number of samples (or replicate blocks, see -obsblock)
in which a peptide must be observed`)
	par.obsBlock = flag.String("obsblock",
		"",
		"`factor` defining replicate blocks; observations are counted"+`
per distinct block instead of per sample`)
	par.maxAdjP = flag.Float64("maxadjp",
		0.05,
		`adjusted p-value cutoff for the heatmap matrix`)
	par.topN = flag.Int("top",
		10,
		`number of most significant proteins to print; 0 disables`)
	par.jobs = flag.Int("jobs",
		0,
		`number of parallel per-protein fits; 0 means number of CPUs`)
	version := flag.Bool("version", false,
		`Show software version`)
	verbose := flag.Bool("verbose", false,
		`Print more verbose progress information`)
	quiet := flag.Bool("quiet", false,
		`Don't print any output except for errors`)
	flag.Usage = usage
	flag.Parse()
	if *version {
		fmt.Fprintf(os.Stderr, "%s version %s\n", progName, progVersion)
		return
	}
	if *verbose {
		par.verbosity = infoVerbose
	}
	if *quiet {
		par.verbosity = infoSilent
	}
	par.args = flag.Args()

	sanitizeParams(&par)
	if *par.factorRules == "" {
		log.Fatalf("no sample factor rules given (option -factors)")
	}
	if *par.contrastExpr == "" {
		log.Fatalf("no contrast given (option -contrast)")
	}

	a, err := runAnalysis(par)
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}
	if err := writeOutputs(a, par); err != nil {
		log.Fatalf("writing outputs: %v", err)
	}
	if par.verbosity != infoSilent && *par.topN > 0 {
		report.RenderTop(os.Stderr, a.results, *par.topN)
	}
	debugListNoModel()
}
