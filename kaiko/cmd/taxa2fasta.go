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
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kaiko-proteomics/kaiko/kaiko/cmd/tally"
	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/shenwei356/util/cliutil"
	"github.com/shenwei356/util/pathutil"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
)

var taxa2fastaCmd = &cobra.Command{
	Use:   "taxa2fasta",
	Short: "Collect reference proteins of top ranked taxa",
	Long: `Collect reference proteins of top ranked taxa

Taxa selection:
  1. Taxa of rank family or coarser are removed.
  2. Optionally, only taxa of given superkingdoms or kingdoms are kept
     (-k/--kingdom).
  3. Rows are visited by running coverage, until the first coverage
     above -t/--coverage-target. For each coverage, the top -n/--top-strains
     secondary taxa by hit counts are picked if there are any, the top
     primary ones otherwise.

Protein sources (-m/--mode):
  ref_prot   reference proteomes, one FASTA file per taxon in -r/--ref-dir,
             named <proteome ID>_taxaid_<TaxId>.fasta(.gz). The mapping
             from TaxIds to proteome IDs is given by -p/--proteome-map, a
             two-column tab-delimited file.
  uniref100  UniRef100 clusters with members of the selected taxa, found in
             the membership table (-M/--member-table), are extracted from
             the UniRef100 FASTA file (-u/--uniref100).

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

		mode := getFlagString(cmd, "mode")
		outFile := getFlagString(cmd, "out-file")
		taxidListFile := getFlagString(cmd, "taxid-list")
		proteinListFile := getFlagString(cmd, "protein-list")

		sopt := &tally.SelectOptions{
			CoverageTarget: getFlagNonNegativeFloat64(cmd, "coverage-target"),
			TopStrains:     getFlagInt(cmd, "top-strains"),
			Kingdoms:       getFlagStringSlice(cmd, "kingdom"),
		}

		var refDir, proteomeMapFile, memberFile, unirefFile string
		switch mode {
		case "ref_prot":
			refDir = getFlagString(cmd, "ref-dir")
			proteomeMapFile = getFlagString(cmd, "proteome-map")
			if refDir == "" || proteomeMapFile == "" {
				checkError(fmt.Errorf("flags -r/--ref-dir and -p/--proteome-map needed for mode: %s", mode))
			}
		case "uniref100":
			memberFile = getFlagString(cmd, "member-table")
			unirefFile = getFlagString(cmd, "uniref100")
			if memberFile == "" || unirefFile == "" {
				checkError(fmt.Errorf("flags -M/--member-table and -u/--uniref100 needed for mode: %s", mode))
			}
		default:
			checkError(fmt.Errorf("invalid mode: %s, available: ref_prot, uniref100", mode))
		}

		files := getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)
		if len(files) != 1 {
			checkError(fmt.Errorf("exactly one ranked table needed, %d given", len(files)))
		}

		if opt.Verbose || opt.Log2File {
			log.Infof("kaiko v%s", VERSION)
			log.Info()

			log.Infof("-------------------- [main parameters] --------------------")
			log.Infof("ranked table: %s", files[0])
			log.Infof("taxa selection:")
			log.Infof("  coverage target: %s", strconv.FormatFloat(sopt.CoverageTarget, 'f', -1, 64))
			log.Infof("  taxa per coverage step: %d", sopt.TopStrains)
			if len(sopt.Kingdoms) > 0 {
				log.Infof("  kingdoms: %s", strings.Join(sopt.Kingdoms, ", "))
			}
			log.Infof("protein source: %s", mode)
			if mode == "ref_prot" {
				log.Infof("  reference proteome directory: %s", refDir)
				log.Infof("  proteome mapping file: %s", proteomeMapFile)
			} else {
				log.Infof("  membership table: %s", memberFile)
				log.Infof("  UniRef100 FASTA file: %s", unirefFile)
			}
			log.Infof("-------------------- [main parameters] --------------------")
			log.Info()
		}

		// ---------------------------------------------------------------
		// taxa

		taxa, err := tally.ReadTaxa(files[0])
		checkError(err)

		taxids := tally.SelectTaxa(taxa, sopt)
		if opt.Verbose {
			log.Infof("%d taxa selected from %d rows", len(taxids), len(taxa))
		}
		if len(taxids) == 0 {
			log.Warningf("no taxa selected")
		}

		if taxidListFile != "" {
			outfh, gw, w, err := outStream(taxidListFile, isGzipFile(taxidListFile), opt.CompressionLevel)
			checkError(err)
			for _, taxid := range taxids {
				fmt.Fprintf(outfh, "%d\n", taxid)
			}
			closeOutStream(outfh, gw, w)
			if opt.Verbose {
				log.Infof("selected TaxIds saved to %s", taxidListFile)
			}
		}

		// ---------------------------------------------------------------
		// proteins

		outfh, err := xopen.Wopen(outFile)
		checkError(err)
		defer outfh.Close()

		var n int
		if mode == "ref_prot" {
			n = writeRefProteomes(opt, outfh, refDir, proteomeMapFile, taxids)
		} else {
			n = writeUniRefClusters(opt, outfh, memberFile, unirefFile, proteinListFile,
				getFlagPositiveInt(cmd, "member-chunk-size"), taxids)
		}

		if opt.Verbose {
			log.Infof("%d proteins saved to %s", n, outFile)
		}
	},
}

// refProteomeFile finds the proteome file of a taxon, plain or gzipped.
func refProteomeFile(dir string, proteome string, taxid uint32) (string, error) {
	base := filepath.Join(dir, fmt.Sprintf("%s_taxaid_%d.fasta", proteome, taxid))
	for _, file := range []string{base, base + ".gz"} {
		ok, err := pathutil.Exists(file)
		if err != nil {
			return "", errors.Wrap(err, file)
		}
		if ok {
			return file, nil
		}
	}
	return "", nil
}

func writeRefProteomes(opt *Options, outfh *xopen.Writer, refDir string, mapFile string, taxids []uint32) int {
	proteomes, err := cliutil.ReadKVs(mapFile, false)
	if err != nil {
		checkError(errors.Wrap(err, mapFile))
	}
	if opt.Verbose {
		log.Infof("%d TaxId-proteome pairs loaded from %s", len(proteomes), mapFile)
	}

	var n int
	var proteome, file string
	var ok bool
	for _, taxid := range taxids {
		if proteome, ok = proteomes[strconv.FormatUint(uint64(taxid), 10)]; !ok {
			log.Warningf("no reference proteome for TaxId: %d", taxid)
			continue
		}
		file, err = refProteomeFile(refDir, proteome, taxid)
		checkError(err)
		if file == "" {
			log.Warningf("reference proteome file not found for TaxId %d: %s", taxid, proteome)
			continue
		}
		n += copyFasta(outfh, file, nil)
	}
	return n
}

func writeUniRefClusters(opt *Options, outfh *xopen.Writer, memberFile string, unirefFile string,
	proteinListFile string, chunkSize int, taxids []uint32) int {
	wanted := make(map[uint32]struct{}, len(taxids))
	for _, taxid := range taxids {
		wanted[taxid] = struct{}{}
	}

	if opt.Verbose {
		log.Infof("scanning membership table: %s", memberFile)
	}
	clusters, nChunks, err := tally.CollectClusters(memberFile, opt.NumCPUs, chunkSize, wanted)
	checkError(err)
	if opt.Verbose {
		log.Infof("  %d clusters found in %d chunks", len(clusters), nChunks)
	}

	if proteinListFile != "" {
		outfhL, gw, w, err := outStream(proteinListFile, isGzipFile(proteinListFile), opt.CompressionLevel)
		checkError(err)
		for _, c := range clusters {
			outfhL.WriteString(c)
			outfhL.WriteByte('\n')
		}
		closeOutStream(outfhL, gw, w)
		if opt.Verbose {
			log.Infof("  cluster IDs saved to %s", proteinListFile)
		}
	}

	ids := make(map[string]struct{}, len(clusters))
	for _, c := range clusters {
		ids[c] = struct{}{}
	}

	if opt.Verbose {
		log.Infof("extracting proteins from %s", unirefFile)
	}
	return copyFasta(outfh, unirefFile, ids)
}

// copyFasta writes records of a FASTA file, only those with IDs in ids if
// it is not nil, and returns the number of records written.
func copyFasta(outfh *xopen.Writer, file string, ids map[string]struct{}) int {
	fastxReader, err := fastx.NewDefaultReader(file)
	checkError(errors.Wrap(err, file))
	defer fastxReader.Close()

	var record *fastx.Record
	var ok bool
	var n int
	for {
		record, err = fastxReader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			checkError(errors.Wrap(err, file))
			break
		}

		if ids != nil {
			if _, ok = ids[string(record.ID)]; !ok {
				continue
			}
		}
		record.FormatToWriter(outfh, 70)
		n++
	}
	return n
}

func init() {
	RootCmd.AddCommand(taxa2fastaCmd)

	taxa2fastaCmd.Flags().StringP("mode", "m", "uniref100",
		formatFlagUsage(`Source of proteins. Available: ref_prot, uniref100.`))

	taxa2fastaCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out FASTA file ("-" for stdout), supporting ".gz" suffix.`))

	taxa2fastaCmd.Flags().Float64P("coverage-target", "t", 0.95,
		formatFlagUsage(`Running coverage to reach in the ranked table.`))

	taxa2fastaCmd.Flags().IntP("top-strains", "n", 1,
		formatFlagUsage(`Number of taxa picked at each coverage step, 0 for all.`))

	taxa2fastaCmd.Flags().StringSliceP("kingdom", "k", []string{},
		formatFlagUsage(`Only keep taxa of these superkingdoms or kingdoms, e.g., Bacteria. Multiple values supported.`))

	taxa2fastaCmd.Flags().StringP("ref-dir", "r", "",
		formatFlagUsage(`Directory of reference proteome FASTA files, for mode ref_prot.`))

	taxa2fastaCmd.Flags().StringP("proteome-map", "p", "",
		formatFlagUsage(`Tab-delimited file mapping TaxIds to proteome IDs, for mode ref_prot.`))

	taxa2fastaCmd.Flags().StringP("member-table", "M", "",
		formatFlagUsage(`CSV table of UniRef100 cluster members, for mode uniref100.`))

	taxa2fastaCmd.Flags().StringP("uniref100", "u", "",
		formatFlagUsage(`UniRef100 FASTA file, for mode uniref100.`))

	taxa2fastaCmd.Flags().IntP("member-chunk-size", "", 1000000,
		formatFlagUsage(`Number of lines of the membership table to process for each thread.`))

	taxa2fastaCmd.Flags().StringP("taxid-list", "", "",
		formatFlagUsage(`Save selected TaxIds to this file.`))

	taxa2fastaCmd.Flags().StringP("protein-list", "", "",
		formatFlagUsage(`Save IDs of collected UniRef100 clusters to this file, for mode uniref100.`))

	taxa2fastaCmd.SetUsageTemplate(usageTemplate("-m <mode> <ranked table> -o <out.fasta>"))
}
