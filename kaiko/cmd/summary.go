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
	"strconv"

	humanize "github.com/dustin/go-humanize"
	"github.com/kaiko-proteomics/kaiko/kaiko/cmd/tally"
	"github.com/spf13/cobra"
	prettytable "github.com/tatsushid/go-prettytable"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print top rows of ranked taxon tables in a pretty table",
	Long: `Print top rows of ranked taxon tables in a pretty table

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		var err error

		topN := getFlagNonNegativeInt(cmd, "top")
		primaryOnly := getFlagBool(cmd, "primary-only")
		outFile := getFlagString(cmd, "out-file")

		files := getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)

		outfh, gw, w, err := outStream(outFile, isGzipFile(outFile), opt.CompressionLevel)
		checkError(err)
		defer closeOutStream(outfh, gw, w)

		for i, file := range files {
			taxa, err := tally.ReadTaxa(file)
			checkError(err)

			var nPrimary, nSecondary int
			for _, t := range taxa {
				if t.Kind == tally.KindSecondary {
					nSecondary++
				} else {
					nPrimary++
				}
			}

			if i > 0 {
				outfh.WriteString("\n")
			}
			fmt.Fprintf(outfh, "%s: %s primary taxa, %s secondary taxa\n", file,
				humanize.Comma(int64(nPrimary)), humanize.Comma(int64(nSecondary)))

			tbl, err := summaryTable(taxa, topN, primaryOnly)
			checkError(err)
			outfh.Write(tbl.Bytes())
		}

		if opt.Verbose && !isStdout(outFile) {
			log.Infof("summary of %d files saved to %s", len(files), outFile)
		}
	},
}

func summaryTable(taxa []*tally.Taxon, topN int, primaryOnly bool) (*prettytable.Table, error) {
	tbl, err := prettytable.NewTable([]prettytable.Column{
		{Header: "#", AlignRight: true},
		{Header: "taxid", AlignRight: true},
		{Header: "kind"},
		{Header: "hits", AlignRight: true},
		{Header: "name"},
		{Header: "rank"},
		{Header: "proteins", AlignRight: true},
		{Header: "coverage", AlignRight: true},
	}...)
	if err != nil {
		return nil, err
	}
	tbl.Separator = "  "

	var n int
	var name, rank, nProtein string
	for _, t := range taxa {
		if primaryOnly && t.Kind != tally.KindPrimary {
			continue
		}
		n++
		if topN > 0 && n > topN {
			break
		}

		name, rank, nProtein = "", "", ""
		if t.Stats != nil {
			name, rank = t.Stats.Name, t.Stats.Rank
			if t.Stats.NProtein >= 0 {
				nProtein = humanize.Comma(t.Stats.NProtein)
			}
		}
		tbl.AddRow(
			n,
			t.Taxid,
			t.Kind,
			humanize.Comma(int64(t.Hits)),
			name,
			rank,
			nProtein,
			strconv.FormatFloat(t.RunningCoverage, 'f', 4, 64),
		)
	}
	return tbl, nil
}

func init() {
	RootCmd.AddCommand(summaryCmd)

	summaryCmd.Flags().IntP("top", "n", 20,
		formatFlagUsage(`Number of top rows to show, 0 for all.`))

	summaryCmd.Flags().BoolP("primary-only", "p", false,
		formatFlagUsage(`Only show primary taxa.`))

	summaryCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file ("-" for stdout).`))

	summaryCmd.SetUsageTemplate(usageTemplate("<ranked tables>"))
}
