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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kaiko-proteomics/kaiko/kaiko/cmd/tally"
	"github.com/spf13/cobra"
)

const tallyAlignments = `S1	sp|P1|A_B protein OS=a OX=100 GN=a	100	1e-10	0
S1	sp|P2|B_B protein OS=b OX=200 GN=a	100	1e-10	0
S2	sp|P1|A_B protein OS=a OX=100 GN=a	92.3	1e-8	1
S3	sp|P3|B_C protein OS=b OX=200 GN=b	95	1e-8	1
S4	sp|P4|C_D protein OS=c OX=629 GN=c	100	1e-10	0
`

const tallyLineages = "taxid\ttax_name\tspecies\tgenus\tfamily\torder\tclass\tphylum\tkingdom\tsuperkingdom\trank\tn_protein\n" +
	"100\tEscherichia coli K-12\tEscherichia coli\tEscherichia\tEnterobacteriaceae\tEnterobacterales\tGammaproteobacteria\tPseudomonadota\t\tBacteria\tstrain\t4400\n" +
	"200\tKlebsiella sp. X\tKlebsiella sp. X\tKlebsiella\tEnterobacteriaceae\tEnterobacterales\tGammaproteobacteria\tPseudomonadota\t\tBacteria\tspecies\t5200\n" +
	"629\tYersinia\t\tYersinia\tYersiniaceae\tEnterobacterales\tGammaproteobacteria\tPseudomonadota\t\tBacteria\tgenus\t4100\n"

func newTallyOptions(t *testing.T, benchmarks []float64) *tally.Options {
	scheme, err := tally.ParseTagScheme("OX")
	if err != nil {
		t.Fatal(err)
	}
	mode, err := tally.ParseMode("member")
	if err != nil {
		t.Fatal(err)
	}
	less, err := tally.ParseComparator("coverage-note")
	if err != nil {
		t.Fatal(err)
	}
	return &tally.Options{
		Scheme:        scheme,
		Mode:          mode,
		NStrainSelect: tally.MinStrainSelect,
		ProteinCutoff: 3000000,
		Benchmarks:    benchmarks,
		Less:          less,
	}
}

func readFile(t *testing.T, file string) []byte {
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRunTallyCheckpoint(t *testing.T) {
	dir := t.TempDir()
	alnFile := writeFile(t, dir, "hits.tsv", tallyAlignments)
	lineageFile := writeFile(t, dir, "lineage.tsv", tallyLineages)
	detailedFile := filepath.Join(dir, "detailed.tsv.gz")

	opt := &Options{NumCPUs: 2, CompressionLevel: -1}
	topt := newTallyOptions(t, []float64{100, 90})

	job := &tallyJob{
		alnFile:         alnFile,
		lineageFile:     lineageFile,
		detailedFile:    detailedFile,
		outPrefix:       filepath.Join(dir, "run1"),
		chunkSize:       2,
		memberChunkSize: 2,
	}
	if err := runTally(opt, topt, job); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(detailedFile); err != nil {
		t.Fatalf("detailed table not written: %s", err)
	}
	if _, err := os.Stat(detailedFile + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file of the detailed table left: %s.tmp", detailedFile)
	}

	// the alignment file is not needed anymore
	if err := os.Remove(alnFile); err != nil {
		t.Fatal(err)
	}
	job2 := *job
	job2.alnFile = ""
	job2.checkpoint = true
	job2.outPrefix = filepath.Join(dir, "run2")
	if err := runTally(opt, topt, &job2); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{".pident100.tsv", ".pident90.tsv"} {
		data1 := readFile(t, job.outPrefix+name)
		data2 := readFile(t, job2.outPrefix+name)
		if len(bytes.TrimSpace(data1)) == 0 {
			t.Errorf("empty ranked table: %s", job.outPrefix+name)
		}
		if !bytes.Equal(data1, data2) {
			t.Errorf("%s: tables from alignments and detailed table differ:\n%s\n%s", name, data1, data2)
		}
	}
	if _, err := os.Stat(job.outPrefix); !os.IsNotExist(err) {
		t.Errorf("out prefix should not be written with multiple thresholds")
	}

	// a lower threshold keeps more scans
	n100 := bytes.Count(readFile(t, job.outPrefix+".pident100.tsv"), []byte("\n"))
	n90 := bytes.Count(readFile(t, job.outPrefix+".pident90.tsv"), []byte("\n"))
	if n90 < n100 {
		t.Errorf("%d rows at 90%%, %d rows at 100%%", n90, n100)
	}
}

func TestRunTallySingleThreshold(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "taxa.tsv")
	job := &tallyJob{
		alnFile:         writeFile(t, dir, "hits.tsv", tallyAlignments),
		lineageFile:     writeFile(t, dir, "lineage.tsv", tallyLineages),
		outPrefix:       outFile,
		chunkSize:       10,
		memberChunkSize: 10,
	}
	opt := &Options{NumCPUs: 1, CompressionLevel: -1}
	if err := runTally(opt, newTallyOptions(t, nil), job); err != nil {
		t.Fatal(err)
	}
	if len(readFile(t, outFile)) == 0 {
		t.Errorf("empty ranked table")
	}
	if _, err := os.Stat(filepath.Join(dir, "taxa.tsv.pident100.tsv")); !os.IsNotExist(err) {
		t.Errorf("threshold suffix added for a single threshold")
	}

	job.alnFile = filepath.Join(dir, "missing.tsv")
	if err := runTally(opt, newTallyOptions(t, nil), job); err == nil {
		t.Errorf("missing alignment file accepted")
	}
}

func TestCheckpointIgnoredFlags(t *testing.T) {
	names := []string{"filter", "tag-scheme", "member-table", "member-chunk-size", "infile-list"}
	for _, name := range names {
		if tallyCmd.Flags().Lookup(name) == nil {
			t.Errorf("unknown flag of tally: %s", name)
		}
	}

	cmd := &cobra.Command{Use: "tally"}
	cmd.Flags().StringSliceP("filter", "f", []string{}, "")
	cmd.Flags().StringP("tag-scheme", "s", "OX", "")
	cmd.Flags().StringP("member-table", "M", "", "")
	cmd.Flags().IntP("member-chunk-size", "", 10000, "")
	cmd.Flags().StringP("mode", "m", "member", "")

	if err := cmd.ParseFlags([]string{"-m", "common"}); err != nil {
		t.Fatal(err)
	}
	if ignored := checkpointIgnoredFlags(cmd); len(ignored) != 0 {
		t.Errorf("unexpected ignored flags: %v", ignored)
	}

	if err := cmd.ParseFlags([]string{"-f", "evalue=1e-5", "-M", "members.csv"}); err != nil {
		t.Fatal(err)
	}
	want := []string{"--filter", "--member-table"}
	if diff := cmp.Diff(want, checkpointIgnoredFlags(cmd)); diff != "" {
		t.Errorf("ignored flags mismatch (-want +got):\n%s", diff)
	}
}
