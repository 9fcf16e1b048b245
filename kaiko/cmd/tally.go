// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kaiko-proteomics/kaiko/kaiko/cmd/tally"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
)

var tallyCmd = &cobra.Command{
	Use:   "tally",
	Short: "Rank taxa from peptide-to-protein alignments",
	Long: `Rank taxa from peptide-to-protein alignments

Input:
  Tab-delimited alignments of de novo peptides against a reference protein
  database, e.g., DIAMOND output with "--outfmt 6 qseqid stitle pident evalue
  mismatch". Columns:
    1. scan (query ID)
    2. title of the matched protein, with a taxon tag
    3. percent identity
    4. e-value
    5. number of mismatches

Taxon tags (-s/--tag-scheme):
  OX     UniProt style, "sp|P0A7Z4|RPOA_ECOLI ... OX=83333 GN=rpoA"
  TaxID  UniRef100 style, "UniRef100_P0A7Z4 ... TaxID=562 RepID=RPOA_ECOLI",
         a cluster is expanded to all its member taxa, which needs
         the membership table (-M/--member-table)

Methods:
  1. Alignments are filtered with -f/--filter, e.g., -f evalue=1e-5.
  2. TaxIds are extracted from tags, some mislabeled TaxIds are corrected,
     unknown, host and metagenome taxa are removed.
  3. Rows of (scan, taxon) are saved to a detailed table (-d/--detailed),
     which is reused as a checkpoint if it exists.
  4. For each percent identity threshold (-b/--benchmark):
     tally-1: the number of distinct scans supporting a taxon.
     tally-2: each scan votes for its taxa with the highest tally-1,
              taxa are ranked by votes (primary taxa).
  5. Primary taxa with more proteins than -c/--protein-cutoff are followed
     by observed taxa of smaller proteomes sharing the finest possible
     lineage rank (secondary taxa, -n/--n-strain-select for each).

Output:
  Ranked table with columns: taxid, hit_count, tax_name, rank, species,
  genus, family, order, class, phylum, kingdom, superkingdom, n_protein,
  running_coverage, note.
  For multiple thresholds, one file per threshold is written as
  <out-prefix>.pident<threshold>.tsv.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		timeStart := time.Now()
		defer func() {
			if opt.Verbose || opt.Log2File {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		var err error

		// ---------------------------------------------------------------
		// options

		lineageFile := getFlagString(cmd, "lineage-table")
		if lineageFile == "" {
			checkError(fmt.Errorf("flag -L/--lineage-table needed"))
		}
		memberFile := getFlagString(cmd, "member-table")
		detailedFile := getFlagString(cmd, "detailed")
		outPrefix := getFlagString(cmd, "out-prefix")

		chunkSize := getFlagPositiveInt(cmd, "line-chunk-size")
		memberChunkSize := getFlagPositiveInt(cmd, "member-chunk-size")

		filters, err := tally.ParsePredicates(getFlagStringSlice(cmd, "filter"))
		checkError(err)

		scheme, err := tally.ParseTagScheme(getFlagString(cmd, "tag-scheme"))
		checkError(err)

		mode, err := tally.ParseMode(getFlagString(cmd, "mode"))
		checkError(err)

		less, err := tally.ParseComparator(getFlagString(cmd, "sort-by"))
		checkError(err)

		benchmarks := getFlagFloat64Slice(cmd, "benchmark")
		for _, b := range benchmarks {
			if b < 0 || b > 100 {
				checkError(fmt.Errorf("the value of -b/--benchmark should be in range of [0, 100]: %s", strconv.FormatFloat(b, 'f', -1, 64)))
			}
		}

		cutoff := getFlagInt64(cmd, "protein-cutoff")
		if cutoff <= 0 {
			checkError(fmt.Errorf("the value of -c/--protein-cutoff should be positive: %d", cutoff))
		}

		topt := &tally.Options{
			Filters:       filters,
			Scheme:        scheme,
			Mode:          mode,
			NStrainSelect: getFlagInt(cmd, "n-strain-select"),
			ProteinCutoff: cutoff,
			Benchmarks:    benchmarks,
			Less:          less,
		}

		var checkpoint bool
		if detailedFile != "" {
			checkpoint, err = pathutil.Exists(detailedFile)
			checkError(err)
		}

		var alnFile string
		if checkpoint {
			ignored := checkpointIgnoredFlags(cmd)
			if len(args) > 0 {
				ignored = append(ignored, args...)
			}
			if len(ignored) > 0 {
				log.Warningf("detailed table %s exists, ignored: %s", detailedFile, strings.Join(ignored, ", "))
			}
		} else {
			if scheme.Clustered() && memberFile == "" {
				checkError(fmt.Errorf("flag -M/--member-table needed for tag scheme: %s", scheme))
			}
			files := getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)
			if len(files) != 1 {
				checkError(fmt.Errorf("exactly one alignment file needed, %d given", len(files)))
			}
			alnFile = files[0]
		}

		thresholds := topt.Thresholds()

		if opt.Verbose || opt.Log2File {
			log.Infof("kaiko v%s", VERSION)
			log.Info("  https://github.com/kaiko-proteomics/kaiko")
			log.Info()

			log.Infof("-------------------- [main parameters] --------------------")
			log.Infof("input:")
			if checkpoint {
				log.Infof("  detailed table (checkpoint): %s", detailedFile)
			} else {
				log.Infof("  alignment file: %s", alnFile)
				log.Infof("  filters: %s", strings.Join(getFlagStringSlice(cmd, "filter"), ", "))
				log.Infof("  taxon tag scheme: %s", scheme)
				if scheme.Clustered() {
					log.Infof("  membership table: %s", memberFile)
				}
			}
			log.Infof("  lineage table: %s", lineageFile)
			log.Info()

			log.Infof("ranking:")
			log.Infof("  mode: %s", mode)
			log.Infof("  percent identity thresholds: %s", strings.Join(float64Slice2StringSlice(thresholds), ", "))
			log.Infof("  proteome size cutoff: %d", cutoff)
			if limit := tally.StrainLimit(topt.NStrainSelect); limit < 0 {
				log.Infof("  secondary taxa per primary taxon: all")
			} else {
				log.Infof("  secondary taxa per primary taxon: %d", limit)
			}
			log.Infof("-------------------- [main parameters] --------------------")
			log.Info()
		}

		checkError(runTally(opt, topt, &tallyJob{
			alnFile:         alnFile,
			lineageFile:     lineageFile,
			memberFile:      memberFile,
			detailedFile:    detailedFile,
			outPrefix:       outPrefix,
			chunkSize:       chunkSize,
			memberChunkSize: memberChunkSize,
			checkpoint:      checkpoint,
		}))
	},
}

// tallyJob holds input and output files of a tally run.
type tallyJob struct {
	alnFile      string
	lineageFile  string
	memberFile   string
	detailedFile string
	outPrefix    string

	chunkSize       int
	memberChunkSize int

	// read rows from detailedFile instead of alnFile
	checkpoint bool
}

func runTally(opt *Options, topt *tally.Options, job *tallyJob) error {
	mode := topt.Mode
	thresholds := topt.Thresholds()

	// ---------------------------------------------------------------
	// lineage table

	if opt.Verbose {
		log.Infof("loading lineage table: %s", job.lineageFile)
	}
	lineages, err := tally.ReadLineageTable(job.lineageFile)
	if err != nil {
		return err
	}
	if opt.Verbose {
		log.Infof("  %d taxa loaded", len(lineages))
	}

	// ---------------------------------------------------------------
	// detailed rows

	var rows []*tally.Row
	if job.checkpoint {
		if opt.Verbose {
			log.Infof("loading detailed table: %s", job.detailedFile)
		}
		rows, err = tally.ReadDetailed(job.detailedFile, opt.NumCPUs, job.chunkSize)
		if err != nil {
			return err
		}
		if opt.Verbose {
			log.Infof("  %d rows loaded", len(rows))
		}
	} else {
		rows, err = buildRows(opt, topt, job)
		if err != nil {
			return err
		}

		if job.detailedFile != "" {
			err = writeDetailedTable(job.detailedFile, rows, lineages, mode, opt.CompressionLevel)
			if err != nil {
				return err
			}
			if opt.Verbose {
				log.Infof("detailed table saved to %s", job.detailedFile)
			}
		}
	}

	// ---------------------------------------------------------------
	// ranking

	for _, threshold := range thresholds {
		filtered := tally.FilterByPIdent(rows, threshold)
		counts := tally.Count(filtered, mode)

		if opt.Verbose {
			log.Info()
			log.Infof("percent identity >= %s: %d rows, %d scans",
				strconv.FormatFloat(threshold, 'f', -1, 64), len(filtered), counts.Scans)
			log.Infof("  %d taxa with tally-1 counts, %d taxa with votes (%d votes in total)",
				len(counts.Tally1), len(counts.Votes), counts.TotalVotes())
		}

		taxa, stats := tally.Rank(counts, lineages, topt)

		if opt.Verbose {
			log.Infof("  %d primary taxa, %d secondary taxa", stats.Primary, stats.Secondary)
			if stats.Unmatched > 0 {
				log.Warningf("  %d primary taxa not found in the lineage table", stats.Unmatched)
			}
			if stats.Oversized > 0 {
				log.Infof("  %d primary taxa above the proteome size cutoff, %d of them without smaller taxa",
					stats.Oversized, stats.Unsubstituted)
			}
		}

		outFile := tallyOutFile(job.outPrefix, threshold, len(thresholds))
		outfh, gw, w, err := outStream(outFile, isGzipFile(outFile), opt.CompressionLevel)
		if err != nil {
			return err
		}
		err = tally.WriteTaxa(outfh, taxa)
		closeOutStream(outfh, gw, w)
		if err != nil {
			return errors.Wrap(err, outFile)
		}

		if opt.Verbose && !isStdout(outFile) {
			log.Infof("  ranked table saved to %s", outFile)
		}
	}
	return nil
}

// writeDetailedTable writes to a temporary file first, so an interrupted
// run never leaves a truncated table that later runs take as a checkpoint.
func writeDetailedTable(file string, rows []*tally.Row, lineages tally.LineageTable, mode tally.Mode, level int) error {
	tmp := file + ".tmp"
	outfh, gw, w, err := outStream(tmp, isGzipFile(file), level)
	if err != nil {
		return err
	}
	err = tally.WriteDetailed(outfh, rows, lineages, mode)
	closeOutStream(outfh, gw, w)
	if err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, file)
	}
	return errors.Wrap(os.Rename(tmp, file), file)
}

// checkpointIgnoredFlags returns the changed flags that only affect
// building rows from alignments.
func checkpointIgnoredFlags(cmd *cobra.Command) []string {
	var names []string
	for _, name := range []string{"filter", "tag-scheme", "member-table", "member-chunk-size", "infile-list"} {
		if flag := cmd.Flags().Lookup(name); flag != nil && flag.Changed {
			names = append(names, "--"+name)
		}
	}
	return names
}

// buildRows reads, filters and resolves alignments, then expands
// clusters to member taxa.
func buildRows(opt *Options, topt *tally.Options, job *tallyJob) ([]*tally.Row, error) {
	if opt.Verbose {
		log.Infof("reading alignments: %s", job.alnFile)
	}
	alns, err := tally.ReadAlignments(job.alnFile, opt.NumCPUs, job.chunkSize)
	if err != nil {
		return nil, err
	}
	n0 := len(alns)

	alns, err = tally.Filter(alns, topt.Filters)
	if err != nil {
		return nil, err
	}
	if opt.Verbose {
		log.Infof("  %d alignments read, %d passed filters", n0, len(alns))
	}

	hits, rstats := tally.Resolve(alns, topt.Scheme)
	if opt.Verbose {
		log.Infof("  %d hits kept, %d without taxon tags, %d excluded, %d TaxIds corrected",
			rstats.Kept, rstats.NoTag, rstats.Excluded, rstats.Corrected)
	}

	var table tally.MemberTable
	if topt.Scheme.Clustered() {
		wanted := tally.NewClusterSet(hits)
		if opt.Verbose {
			log.Infof("scanning membership table for %d clusters: %s", len(wanted), job.memberFile)
		}
		var nChunks int
		table, nChunks, err = tally.ScanMemberTable(job.memberFile, opt.NumCPUs, job.memberChunkSize, wanted)
		if err != nil {
			return nil, err
		}
		if opt.Verbose {
			log.Infof("  %d clusters found in %d chunks", len(table), nChunks)
		}
		if len(table) < len(wanted) {
			log.Warningf("  %d clusters missing in the membership table", len(wanted)-len(table))
		}
	}

	rows, estats := tally.Expand(hits, topt.Scheme, table)
	if opt.Verbose {
		log.Infof("%d hits expanded to %d rows", estats.Hits, estats.Rows)
		if topt.Scheme.Clustered() {
			log.Infof("  %d hits of missing clusters, %d member taxa excluded, %d member TaxIds corrected",
				estats.Missing, estats.ExcludedMembers, estats.CorrectedTaxids)
		}
	}
	return rows, nil
}

func tallyOutFile(prefix string, threshold float64, n int) string {
	if n == 1 {
		return prefix
	}
	if isStdout(prefix) {
		prefix = "kaiko_tally"
	}
	return fmt.Sprintf("%s.pident%s.tsv", prefix, strconv.FormatFloat(threshold, 'f', -1, 64))
}

func init() {
	RootCmd.AddCommand(tallyCmd)

	tallyCmd.Flags().StringP("lineage-table", "L", "",
		formatFlagUsage(`Lineage table of reference taxa, with columns: taxid, tax_name, rank, species, genus, ..., superkingdom, n_protein. It can be created by "kaiko lineage".`))

	tallyCmd.Flags().StringP("member-table", "M", "",
		formatFlagUsage(`CSV table of UniRef100 cluster members with columns: uid, members (TaxIds separated by ":") and an optional common_taxa. Needed for the TaxID tag scheme.`))

	tallyCmd.Flags().StringP("detailed", "d", "",
		formatFlagUsage(`Detailed table of (scan, taxon) rows. It is reused if existed, skipping alignment parsing and member expansion.`))

	tallyCmd.Flags().StringP("out-prefix", "o", "-",
		formatFlagUsage(`Out file ("-" for stdout), or prefix of out files for multiple thresholds of -b/--benchmark.`))

	tallyCmd.Flags().StringSliceP("filter", "f", []string{},
		formatFlagUsage(`Alignment filters, e.g., "pident=90" (>=), "evalue=1e-5" (<=), "mismatch=1" (<=). Multiple values supported.`))

	tallyCmd.Flags().StringP("tag-scheme", "s", "OX",
		formatFlagUsage(`Taxon tag scheme in subject titles. Available: OX, TaxID.`))

	tallyCmd.Flags().StringP("mode", "m", "member",
		formatFlagUsage(`Taxa to rank, "member": member taxa of clusters, "common": representative taxa of clusters.`))

	tallyCmd.Flags().IntP("n-strain-select", "n", tally.MinStrainSelect,
		formatFlagUsage(`Maximum number of secondary taxa for a primary taxon above the proteome size cutoff. Values in (0, 5] are raised to 5, 0 for all.`))

	tallyCmd.Flags().Int64P("protein-cutoff", "c", 3000000,
		formatFlagUsage(`Proteome size cutoff, primary taxa with more proteins are followed by smaller taxa of the same lineage.`))

	tallyCmd.Flags().Float64SliceP("benchmark", "b", tally.DefaultBenchmarks,
		formatFlagUsage(`Minimal percent identity thresholds, one ranked table for each.`))

	tallyCmd.Flags().StringP("sort-by", "", "coverage-note",
		formatFlagUsage(`Sorting method of the ranked table. Available: coverage-note, coverage-rank.`))

	tallyCmd.Flags().IntP("line-chunk-size", "", 5000,
		formatFlagUsage(`Number of lines of alignment or detailed tables to process for each thread.`))

	tallyCmd.Flags().IntP("member-chunk-size", "", 1000000,
		formatFlagUsage(`Number of lines of the membership table to process for each thread.`))

	tallyCmd.SetUsageTemplate(usageTemplate("-L <lineage table> [-M <member table>] [-d <detailed.tsv>] <alignments.tsv> [-o <out>]"))
}
