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
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kaiko-proteomics/kaiko/kaiko/cmd/tally"
	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var lineageCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Create the lineage table of taxa in reference protein files",
	Long: `Create the lineage table of taxa in reference protein files

Proteins in the FASTA files are counted by the TaxIds in their titles
(-s/--tag-scheme, OX or TaxID), then lineages are retrieved from the NCBI
taxonomy dump files (nodes.dmp and names.dmp, delnodes.dmp and merged.dmp
are optional). Merged TaxIds are replaced with the new ones.

Output columns:
  taxid, tax_name, species, genus, family, order, class, phylum,
  kingdom, superkingdom, rank, n_protein

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

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

		taxdumpDir := getFlagString(cmd, "taxdump")
		if taxdumpDir == "" {
			checkError(fmt.Errorf("flag -T/--taxdump needed"))
		}
		outFile := getFlagString(cmd, "out-file")
		scheme, err := tally.ParseTagScheme(getFlagString(cmd, "tag-scheme"))
		checkError(err)

		files := getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)

		if opt.Verbose || opt.Log2File {
			log.Infof("kaiko v%s", VERSION)
			log.Info()

			log.Infof("-------------------- [main parameters] --------------------")
			log.Infof("  %d protein files", len(files))
			log.Infof("  taxon tag scheme: %s", scheme)
			log.Infof("  taxdump directory: %s", taxdumpDir)
			log.Infof("-------------------- [main parameters] --------------------")
			log.Info()
		}

		counts, untagged, err := countProteins(files, scheme, opt.NumCPUs)
		checkError(err)
		if opt.Verbose {
			log.Infof("%d taxa found in proteins", len(counts))
		}
		if untagged > 0 {
			log.Warningf("%d proteins without taxon tags", untagged)
		}

		taxdb := loadTaxonomy(opt, taxdumpDir)

		table := make(map[uint32]*tally.TaxonStats, len(counts))
		var nUnknown int
		for taxid, n := range counts {
			s, ok := taxonStats(taxdb, taxid)
			if !ok {
				nUnknown++
				s = &tally.TaxonStats{Taxid: taxid}
			}
			if s0, ok := table[s.Taxid]; ok {
				s0.NProtein += n
				continue
			}
			s.NProtein = n
			table[s.Taxid] = s
		}
		if nUnknown > 0 {
			log.Warningf("%d TaxIds not found in the taxonomy", nUnknown)
		}

		stats := make([]*tally.TaxonStats, 0, len(table))
		for _, s := range table {
			stats = append(stats, s)
		}
		sort.Slice(stats, func(i, j int) bool { return stats[i].Taxid < stats[j].Taxid })

		outfh, gw, w, err := outStream(outFile, isGzipFile(outFile), opt.CompressionLevel)
		checkError(err)
		checkError(tally.WriteLineageTable(outfh, stats))
		closeOutStream(outfh, gw, w)

		if opt.Verbose && !isStdout(outFile) {
			log.Infof("%d taxa saved to %s", len(stats), outFile)
		}
	},
}

// countProteins counts proteins of each tagged TaxId in FASTA files,
// which are read in parallel. Known mislabeled TaxIds are corrected.
func countProteins(files []string, scheme tally.TagScheme, threads int) (map[uint32]int64, int, error) {
	counts := make(map[uint32]int64, 1024)
	var untagged int
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(threads)
	for _, file := range files {
		file := file
		g.Go(func() error {
			fastxReader, err := fastx.NewDefaultReader(file)
			if err != nil {
				return errors.Wrap(err, file)
			}
			defer fastxReader.Close()

			_counts := make(map[uint32]int64, 128)
			var _untagged int
			var record *fastx.Record
			var tag string
			var ok bool
			var taxid uint32
			for {
				record, err = fastxReader.Read()
				if err != nil {
					if err == io.EOF {
						break
					}
					return errors.Wrap(err, file)
				}

				tag, ok = scheme.Tag(string(record.Name))
				if !ok || tag == "" {
					_untagged++
					continue
				}
				if taxid, err = tally.ParseTaxid(tag); err != nil {
					_untagged++
					continue
				}
				taxid, _ = tally.Correct(taxid)
				_counts[taxid]++
			}

			mu.Lock()
			for taxid, n := range _counts {
				counts[taxid] += n
			}
			untagged += _untagged
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return counts, untagged, nil
}

func init() {
	RootCmd.AddCommand(lineageCmd)

	lineageCmd.Flags().StringP("taxdump", "T", "",
		formatFlagUsage(`Directory of NCBI taxonomy dump files.`))

	lineageCmd.Flags().StringP("tag-scheme", "s", "OX",
		formatFlagUsage(`Taxon tag scheme in protein titles. Available: OX, TaxID.`))

	lineageCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file ("-" for stdout).`))

	lineageCmd.SetUsageTemplate(usageTemplate("-T <taxdump dir> <protein FASTA files> [-o <lineage.tsv>]"))
}
