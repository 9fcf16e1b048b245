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
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/kaiko-proteomics/kaiko/kaiko/cmd/mzml"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
	"golang.org/x/sync/errgroup"
)

var mzml2mgfCmd = &cobra.Command{
	Use:   "mzml2mgf",
	Short: "Convert mzML files to MGF files for de novo peptide sequencing",
	Long: `Convert mzML files to MGF files for de novo peptide sequencing

Only MS2 spectra are converted. The file index i (0-based, in the order
of sorted file paths) and the scan number are used in the titles:

    BEGIN IONS
    TITLE=<i>.<scan>
    PEPMASS=<precursor m/z>
    CHARGE=<charge>+        (999 if absent)
    SCANS=<i>:<scan>
    RTINSECONDS=<retention time>
    SEQ=UNKNOWN
    <m/z> <intensity>
    ...
    END IONS

Existing MGF files are not overwritten. A summary file "mgf_list.log" is
written in the output directory, with columns: id, mgf_file, num_scans,
total_scans (cumulative).

Input files can be given as positional arguments, or searched in a
directory with -I/--in-dir.

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

		inDir := getFlagString(cmd, "in-dir")
		outDir := getFlagString(cmd, "out-dir")
		pattern := getFlagString(cmd, "file-regexp")
		noProgress := getFlagBool(cmd, "no-progress")

		reFile, err := regexp.Compile(pattern)
		checkError(errors.Wrapf(err, "invalid regular expression: %s", pattern))

		var files []string
		if inDir != "" {
			files, err = getFileListFromDir(inDir, reFile, opt.NumCPUs)
			checkError(errors.Wrap(err, inDir))
			if outDir == "" {
				outDir = inDir
			}
		} else {
			files = getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)
			if len(files) == 1 && isStdin(files[0]) {
				checkError(fmt.Errorf("stdin not supported, please give mzML files or -I/--in-dir"))
			}
		}
		if outDir == "" {
			outDir = "."
		}
		if len(files) == 0 {
			log.Warningf("no mzML files found")
			return
		}
		sort.Strings(files)

		checkError(os.MkdirAll(outDir, 0755))

		if opt.Verbose || opt.Log2File {
			log.Infof("kaiko v%s", VERSION)
			log.Info()

			log.Infof("-------------------- [main parameters] --------------------")
			log.Infof("  %d mzML files", len(files))
			log.Infof("  output directory: %s", outDir)
			log.Infof("  threads: %d", opt.NumCPUs)
			log.Infof("-------------------- [main parameters] --------------------")
			log.Info()
		}

		results := make([]*mgfResult, len(files))

		var pbs *mpb.Progress
		var bar *mpb.Bar
		var chDuration chan time.Duration
		var done chan int
		showProgress := opt.Verbose && !noProgress
		if showProgress {
			pbs = mpb.New(mpb.WithWidth(79))
			bar = pbs.AddBar(int64(len(files)),
				mpb.BarStyle("[=>-]<+"),
				mpb.PrependDecorators(
					decor.Name("processing file: ", decor.WC{W: len("processing file: "), C: decor.DidentRight}),
					decor.Name("", decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(
					decor.EwmaETA(decor.ET_STYLE_GO, 60),
				),
			)

			chDuration = make(chan time.Duration, opt.NumCPUs)
			done = make(chan int)
			go func() {
				for t := range chDuration {
					bar.Increment()
					bar.DecoratorEwmaUpdate(t)
				}
				done <- 1
			}()
		}

		var g errgroup.Group
		g.SetLimit(opt.NumCPUs)
		for i, file := range files {
			i, file := i, file
			g.Go(func() error {
				startTime := time.Now()
				results[i] = convertMzML(file, outDir, i)
				if showProgress {
					chDuration <- time.Since(startTime)
				}
				return nil
			})
		}
		g.Wait()

		if showProgress {
			close(chDuration)
			<-done
			pbs.Wait()
		}

		// ---------------------------------------------------------------
		// summary

		logFile := filepath.Join(outDir, "mgf_list.log")
		outfh, gw, w, err := outStream(logFile, false, opt.CompressionLevel)
		checkError(err)
		outfh.WriteString("id\tmgf_file\tnum_scans\ttotal_scans\n")

		var total, nConverted, nExisted, nFailed int
		for i, r := range results {
			switch {
			case r.err != nil:
				nFailed++
				log.Errorf("[%d/%d] %s: %s", i+1, len(files), files[i], r.err)
			case r.existed:
				nExisted++
				if opt.Verbose {
					log.Infof("[%d/%d] %s, already exists", i+1, len(files), r.name)
				}
			default:
				nConverted++
				total += r.written
				fmt.Fprintf(outfh, "%d\t%s\t%d\t%d\n", i, r.name, r.written, total)
				if opt.Verbose {
					log.Infof("[%d/%d] %s, %d/%d/%d spectra written/skipped/total, %s",
						i+1, len(files), r.name, r.written, r.skipped, total, r.elapsed)
				}
			}
		}
		closeOutStream(outfh, gw, w)

		if opt.Verbose {
			log.Info()
			log.Infof("%d files converted, %d already existed, %d failed", nConverted, nExisted, nFailed)
			log.Infof("%d spectra saved, summary saved to %s", total, logFile)
		}
	},
}

type mgfResult struct {
	name    string
	existed bool
	written int
	skipped int
	elapsed time.Duration
	err     error
}

// convertMzML converts one mzML file, the MGF file is written to a
// temporary file first and renamed after success.
func convertMzML(file string, outDir string, idx int) *mgfResult {
	startTime := time.Now()
	r := &mgfResult{name: filepathTrimMzML(file)}
	outFile := filepath.Join(outDir, r.name+".mgf")

	existed, err := pathutil.Exists(outFile)
	if err != nil {
		r.err = err
		return r
	}
	if existed {
		r.existed = true
		return r
	}

	br, fh, _, err := inStream(file)
	if err != nil {
		if fh != nil {
			fh.Close()
		}
		r.err = err
		return r
	}
	defer fh.Close()

	tmpFile := outFile + ".tmp"
	outfh, gw, w, err := outStream(tmpFile, false, -1)
	if err != nil {
		r.err = err
		return r
	}

	mw := mzml.NewMGFWriter(outfh, idx)
	err = mw.Convert(mzml.NewReader(br))
	closeOutStream(outfh, gw, w)
	if err != nil {
		os.Remove(tmpFile)
		r.err = errors.Wrap(err, file)
		return r
	}

	if err = os.Rename(tmpFile, outFile); err != nil {
		r.err = err
		return r
	}

	r.written, r.skipped = mw.Written, mw.Skipped
	r.elapsed = time.Since(startTime)
	return r
}

func init() {
	RootCmd.AddCommand(mzml2mgfCmd)

	mzml2mgfCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing mzML files. Directory symlinks are followed.`))

	mzml2mgfCmd.Flags().StringP("file-regexp", "r", `(?i)\.mzml(\.gz)?$`,
		formatFlagUsage(`Regular expression for matching mzML files in -I/--in-dir.`))

	mzml2mgfCmd.Flags().StringP("out-dir", "O", "",
		formatFlagUsage(`Output directory, default: the input directory for -I/--in-dir, or the current directory.`))

	mzml2mgfCmd.Flags().BoolP("no-progress", "", false,
		formatFlagUsage(`Do not show progress bar.`))

	mzml2mgfCmd.SetUsageTemplate(usageTemplate("{-I <mzML dir> | <mzML files>} [-O <out dir>]"))
}
