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

package tally

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/breader"
	"github.com/shenwei356/xopen"
)

// ParseAlignment parses one line of the aligner output with the columns:
// scan, subject title, percent identity, e-value, mismatches.
// Extra columns are ignored.
func ParseAlignment(line string) (*Alignment, error) {
	items := strings.Split(line, "\t")
	if len(items) < 5 {
		return nil, errors.Errorf("5 tab-delimited columns expected: %s", line)
	}

	a := &Alignment{Scan: items[0], Target: items[1]}
	var err error
	a.PIdent, err = strconv.ParseFloat(items[2], 64)
	if err != nil {
		return nil, errors.Errorf("failed to parse pident: %s", items[2])
	}
	if a.PIdent < 0 || a.PIdent > 100 {
		return nil, errors.Errorf("pident should be in range of [0, 100]: %s", items[2])
	}
	a.Evalue, err = strconv.ParseFloat(items[3], 64)
	if err != nil {
		return nil, errors.Errorf("failed to parse evalue: %s", items[3])
	}
	a.Mismatch, err = strconv.ParseFloat(items[4], 64)
	if err != nil {
		return nil, errors.Errorf("failed to parse mismatch: %s", items[4])
	}
	return a, nil
}

// ReadAlignments reads an aligner output file, parsing lines in parallel.
func ReadAlignments(file string, threads int, chunkSize int) ([]*Alignment, error) {
	fn := func(line string) (interface{}, bool, error) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" || line[0] == '#' {
			return nil, false, nil
		}
		a, err := ParseAlignment(line)
		if err != nil {
			return nil, false, err
		}
		return a, true, nil
	}

	reader, err := breader.NewBufferedReader(file, threads, chunkSize, fn)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}

	alns := make([]*Alignment, 0, 1024)
	for chunk := range reader.Ch {
		if chunk.Err != nil {
			drain(reader)
			return nil, errors.Wrap(chunk.Err, file)
		}
		for _, data := range chunk.Data {
			alns = append(alns, data.(*Alignment))
		}
	}
	return alns, nil
}

// LineageColumns are the columns of a lineage table used here.
var LineageColumns = []string{"taxid", "tax_name", "species", "genus", "family", "order",
	"class", "phylum", "kingdom", "superkingdom", "rank", "n_protein"}

// ReadLineageTable reads a tab-delimited lineage table with a header row.
// Missing values are kept empty, and a missing protein number is -1.
func ReadLineageTable(file string) (LineageTable, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}
	defer fh.Close()

	table, err := parseLineageTable(fh.Reader)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}
	return table, nil
}

func parseLineageTable(r *bufio.Reader) (LineageTable, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 65536), 16<<20)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("empty lineage table")
	}
	header := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[h] = i
	}
	idx := make([]int, len(LineageColumns))
	for i, c := range LineageColumns {
		j, ok := cols[c]
		if !ok {
			return nil, errors.Errorf("column %s not found in lineage table", c)
		}
		idx[i] = j
	}

	table := make(LineageTable, 1<<16)
	var items []string
	var line string
	var nLine int
	for scanner.Scan() {
		nLine++
		line = strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		items = strings.Split(line, "\t")
		if len(items) < len(header) {
			return nil, errors.Errorf("line %d: %d columns expected: %s", nLine+1, len(header), line)
		}

		taxid, err := ParseTaxid(items[idx[0]])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", nLine+1)
		}
		s := &TaxonStats{
			Taxid:    taxid,
			Name:     cleanValue(items[idx[1]]),
			Rank:     cleanValue(items[idx[10]]),
			NProtein: -1,
		}
		for i := 0; i < NumRanks; i++ {
			s.Lineage[i] = cleanValue(items[idx[2+i]])
		}
		if v := cleanValue(items[idx[11]]); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, errors.Errorf("line %d: invalid n_protein: %s", nLine+1, v)
			}
			s.NProtein = int64(n)
		}
		table[taxid] = s
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

// pandas writes missing values as empty strings or NaN.
func cleanValue(s string) string {
	switch s {
	case "NaN", "nan", "NA":
		return ""
	}
	return s
}

// WriteLineageTable writes a lineage table sorted by TaxId.
func WriteLineageTable(w io.Writer, stats []*TaxonStats) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(LineageColumns, "\t"))
	bw.WriteByte('\n')
	for _, s := range stats {
		bw.WriteString(strconv.FormatUint(uint64(s.Taxid), 10))
		bw.WriteByte('\t')
		bw.WriteString(s.Name)
		for _, v := range s.Lineage {
			bw.WriteByte('\t')
			bw.WriteString(v)
		}
		bw.WriteByte('\t')
		bw.WriteString(s.Rank)
		bw.WriteByte('\t')
		if s.NProtein >= 0 {
			bw.WriteString(strconv.FormatInt(s.NProtein, 10))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// DetailedHeader is the header row of the detailed table.
var DetailedHeader = "scan\tmatched_sequence_id\tprotein\tmember_taxon\trepresentative_taxon\tpercent_identity\t" +
	"tax_name\trank\tspecies\tgenus\tfamily\torder\tclass\tphylum\tkingdom\tsuperkingdom\tn_protein"

// WriteDetailed writes rows with the lineage of the taxon counted in mode.
func WriteDetailed(w io.Writer, rows []*Row, lineages LineageTable, mode Mode) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(DetailedHeader)
	bw.WriteByte('\n')

	var s *TaxonStats
	var ok bool
	for _, r := range rows {
		fmt.Fprintf(bw, "%s\t%s\t%s\t%d\t%d\t%s", r.Scan, r.Cluster, r.Protein, r.Member, r.Common,
			strconv.FormatFloat(r.PIdent, 'f', -1, 64))
		if s, ok = lineages[mode.Key(r)]; ok {
			bw.WriteByte('\t')
			bw.WriteString(s.Name)
			bw.WriteByte('\t')
			bw.WriteString(s.Rank)
			for _, v := range s.Lineage {
				bw.WriteByte('\t')
				bw.WriteString(v)
			}
			bw.WriteByte('\t')
			if s.NProtein >= 0 {
				bw.WriteString(strconv.FormatInt(s.NProtein, 10))
			}
		} else {
			bw.WriteString(strings.Repeat("\t", NumRanks+3))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ParseDetailed parses the first six columns of a detailed table row.
func ParseDetailed(line string) (*Row, error) {
	items := strings.SplitN(line, "\t", 7)
	if len(items) < 6 {
		return nil, errors.Errorf("at least 6 tab-delimited columns expected: %s", line)
	}
	r := &Row{Scan: items[0], Cluster: items[1], Protein: items[2]}
	var err error
	if r.Member, err = ParseTaxid(items[3]); err != nil {
		return nil, err
	}
	if r.Common, err = ParseTaxid(items[4]); err != nil {
		return nil, err
	}
	if r.PIdent, err = strconv.ParseFloat(items[5], 64); err != nil {
		return nil, errors.Errorf("failed to parse percent identity: %s", items[5])
	}
	return r, nil
}

// ReadDetailed loads a detailed table written by WriteDetailed.
func ReadDetailed(file string, threads int, chunkSize int) ([]*Row, error) {
	fn := func(line string) (interface{}, bool, error) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" || strings.HasPrefix(line, "scan\t") {
			return nil, false, nil
		}
		r, err := ParseDetailed(line)
		if err != nil {
			return nil, false, err
		}
		return r, true, nil
	}

	reader, err := breader.NewBufferedReader(file, threads, chunkSize, fn)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}

	rows := make([]*Row, 0, 1024)
	for chunk := range reader.Ch {
		if chunk.Err != nil {
			drain(reader)
			return nil, errors.Wrap(chunk.Err, file)
		}
		for _, data := range chunk.Data {
			rows = append(rows, data.(*Row))
		}
	}
	return rows, nil
}

// TaxaHeader is the header row of the ranked taxon table.
var TaxaHeader = "taxid\thit_count\ttax_name\trank\tspecies\tgenus\tfamily\torder\tclass\tphylum\tkingdom\tsuperkingdom\t" +
	"n_protein\trunning_coverage\tnote"

// WriteTaxa writes the ranked taxon table.
func WriteTaxa(w io.Writer, taxa []*Taxon) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(TaxaHeader)
	bw.WriteByte('\n')
	for _, t := range taxa {
		bw.WriteString(strconv.FormatUint(uint64(t.Taxid), 10))
		bw.WriteByte('\t')
		bw.WriteString(strconv.Itoa(t.Hits))
		if t.Stats != nil {
			bw.WriteByte('\t')
			bw.WriteString(t.Stats.Name)
			bw.WriteByte('\t')
			bw.WriteString(t.Stats.Rank)
			for _, v := range t.Stats.Lineage {
				bw.WriteByte('\t')
				bw.WriteString(v)
			}
			bw.WriteByte('\t')
			if t.Stats.NProtein >= 0 {
				bw.WriteString(strconv.FormatInt(t.Stats.NProtein, 10))
			}
		} else {
			bw.WriteString(strings.Repeat("\t", NumRanks+3))
		}
		bw.WriteByte('\t')
		bw.WriteString(strconv.FormatFloat(t.RunningCoverage, 'g', -1, 64))
		bw.WriteByte('\t')
		bw.WriteString(t.Note)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadTaxa reads a ranked taxon table written by WriteTaxa.
// The kind of a row is inferred from its note.
func ReadTaxa(file string) ([]*Taxon, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}
	defer fh.Close()

	taxa, err := parseTaxa(fh.Reader)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}
	return taxa, nil
}

func parseTaxa(r io.Reader) ([]*Taxon, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 65536), 16<<20)

	numFields := strings.Count(TaxaHeader, "\t") + 1
	taxa := make([]*Taxon, 0, 1024)
	var items []string
	var line string
	var nLine int
	for scanner.Scan() {
		nLine++
		line = strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "taxid\t") {
			continue
		}
		items = strings.Split(line, "\t")
		if len(items) != numFields {
			return nil, errors.Errorf("line %d: %d columns expected: %s", nLine, numFields, line)
		}

		taxid, err := ParseTaxid(items[0])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", nLine)
		}
		t := &Taxon{Taxid: taxid, Note: items[14], Kind: KindPrimary}
		if strings.HasPrefix(strings.ToLower(t.Note), KindSecondary) {
			t.Kind = KindSecondary
		}
		if t.Hits, err = strconv.Atoi(items[1]); err != nil {
			return nil, errors.Errorf("line %d: invalid hit_count: %s", nLine, items[1])
		}
		if t.RunningCoverage, err = strconv.ParseFloat(items[13], 64); err != nil {
			return nil, errors.Errorf("line %d: invalid running_coverage: %s", nLine, items[13])
		}

		s := &TaxonStats{Taxid: taxid, Name: items[2], Rank: items[3], NProtein: -1}
		copy(s.Lineage[:], items[4:4+NumRanks])
		if items[12] != "" {
			if s.NProtein, err = strconv.ParseInt(items[12], 10, 64); err != nil {
				return nil, errors.Errorf("line %d: invalid n_protein: %s", nLine, items[12])
			}
		}
		t.Stats = s
		taxa = append(taxa, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return taxa, nil
}
