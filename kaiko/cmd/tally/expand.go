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
	"encoding/csv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/breader"
	"github.com/shenwei356/xopen"
	"github.com/zeebo/wyhash"
)

// Cluster is one entry of the membership table.
type Cluster struct {
	Common  uint32 // 0 if the table has no representative column
	Members []uint32
}

// MemberTable maps cluster IDs to their members.
type MemberTable map[string]*Cluster

// ClusterSet is a set of cluster IDs keyed by their hashes.
type ClusterSet map[uint64]string

// NewClusterSet returns the set of distinct cluster IDs of hits.
func NewClusterSet(hits []*Hit) ClusterSet {
	set := make(ClusterSet, len(hits)>>2+1)
	for _, h := range hits {
		set[wyhash.HashString(h.Cluster, 1)] = h.Cluster
	}
	return set
}

// Has tells whether a cluster ID is in the set.
func (s ClusterSet) Has(id string) bool {
	v, ok := s[wyhash.HashString(id, 1)]
	return ok && v == id
}

type memberColumns struct {
	uid, common, members, n int
}

func parseMemberHeader(line string) (memberColumns, error) {
	cols := memberColumns{uid: -1, common: -1, members: -1}
	items, err := splitCSVLine(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return cols, err
	}
	cols.n = len(items)
	for i, item := range items {
		switch strings.TrimSpace(item) {
		case "uid":
			cols.uid = i
		case "common_taxa", "common_taxon", "representative_taxon":
			cols.common = i
		case "members":
			cols.members = i
		}
	}
	if cols.uid < 0 || cols.members < 0 {
		return cols, errors.Errorf("columns 'uid' and 'members' are needed in the header: %s", line)
	}
	return cols, nil
}

// readMemberHeader returns the columns and the header line of a
// membership table.
func readMemberHeader(file string) (memberColumns, string, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return memberColumns{}, "", errors.Wrap(err, file)
	}
	header, err := fh.ReadString('\n')
	fh.Close()
	if err != nil && header == "" {
		return memberColumns{}, "", errors.Wrapf(err, "reading header of %s", file)
	}
	cols, err := parseMemberHeader(header)
	if err != nil {
		return cols, "", errors.Wrap(err, file)
	}
	return cols, strings.TrimRight(header, "\r\n"), nil
}

// splitCSVLine splits a CSV record. Fields may be quoted, and quoted
// fields may contain commas, but not line breaks.
func splitCSVLine(line string) ([]string, error) {
	if strings.IndexByte(line, '"') < 0 {
		return strings.Split(line, ","), nil
	}
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	items, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid CSV record: %s", line)
	}
	return items, nil
}

// memberFields splits a membership record, it returns nil for blank
// lines and repeated headers.
func memberFields(line string, header string, cols memberColumns) ([]string, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || line == header {
		return nil, nil
	}
	items, err := splitCSVLine(line)
	if err != nil {
		return nil, err
	}
	if len(items) < cols.n {
		return nil, errors.Errorf("invalid membership record: %s", line)
	}
	return items, nil
}

// drain consumes the remaining chunks, so the reader can finish.
func drain(reader *breader.BufferedReader) {
	for range reader.Ch {
	}
}

type memberRecord struct {
	uid     string
	cluster *Cluster
}

// ScanMemberTable reads the entries of wanted clusters from a CSV membership
// table with a header row containing at least "uid" and "members".
// The table is consumed as a sequence of chunks of chunkSize lines, which
// are filtered by up to threads goroutines, so the memory usage depends on
// the chunk size and the number of wanted clusters only.
// It returns the entries found and the number of chunks processed.
func ScanMemberTable(file string, threads int, chunkSize int, wanted ClusterSet) (MemberTable, int, error) {
	cols, header, err := readMemberHeader(file)
	if err != nil {
		return nil, 0, err
	}

	fn := func(line string) (interface{}, bool, error) {
		items, err := memberFields(line, header, cols)
		if items == nil || err != nil {
			return nil, false, err
		}
		uid := items[cols.uid]
		if !wanted.Has(uid) {
			return nil, false, nil
		}

		c := &Cluster{}
		var taxid uint32
		if cols.common >= 0 {
			if s := strings.TrimSpace(items[cols.common]); s != "" {
				c.Common, err = ParseTaxid(s)
				if err != nil {
					return nil, false, errors.Wrapf(err, "cluster %s", uid)
				}
			}
		}
		members := strings.TrimSpace(items[cols.members])
		if members != "" {
			c.Members = make([]uint32, 0, strings.Count(members, ":")+1)
			for _, m := range strings.Split(members, ":") {
				taxid, err = ParseTaxid(m)
				if err != nil {
					return nil, false, errors.Wrapf(err, "cluster %s", uid)
				}
				c.Members = append(c.Members, taxid)
			}
		}
		return &memberRecord{uid: uid, cluster: c}, true, nil
	}

	reader, err := breader.NewBufferedReader(file, threads, chunkSize, fn)
	if err != nil {
		return nil, 0, errors.Wrap(err, file)
	}

	table := make(MemberTable, len(wanted))
	var nChunks int
	var r *memberRecord
	for chunk := range reader.Ch {
		if chunk.Err != nil {
			drain(reader)
			return nil, nChunks, errors.Wrap(chunk.Err, file)
		}
		nChunks++
		for _, data := range chunk.Data {
			r = data.(*memberRecord)
			table[r.uid] = r.cluster
		}
	}
	return table, nChunks, nil
}

// ExpandStats records what happened to hits during member expansion.
type ExpandStats struct {
	Hits            int
	Rows            int
	Missing         int // hits whose cluster is absent from the membership table
	ExcludedMembers int
	CorrectedTaxids int
}

// Expand turns hits into (scan, member taxon) rows. For an unclustered
// scheme every hit becomes exactly one row. For a clustered scheme a hit
// becomes one row per member taxon; hits of unknown clusters give no rows.
// Member TaxIds are corrected and excluded the same way as tags.
func Expand(hits []*Hit, scheme TagScheme, table MemberTable) ([]*Row, ExpandStats) {
	stats := ExpandStats{Hits: len(hits)}

	if !scheme.Clustered() {
		rows := make([]*Row, len(hits))
		for i, h := range hits {
			rows[i] = &Row{
				Scan:    h.Scan,
				Cluster: h.Cluster,
				Protein: h.Protein,
				Member:  h.Taxid,
				Common:  h.Taxid,
				PIdent:  h.PIdent,
			}
		}
		stats.Rows = len(rows)
		return rows, stats
	}

	rows := make([]*Row, 0, len(hits)<<2)
	var c *Cluster
	var ok, corrected bool
	var common, member uint32
	for _, h := range hits {
		if c, ok = table[h.Cluster]; !ok {
			stats.Missing++
			continue
		}

		common = h.Taxid
		if c.Common > 0 {
			common, corrected = Correct(c.Common)
			if corrected {
				stats.CorrectedTaxids++
			}
			if Excluded(common) {
				common = h.Taxid
			}
		}

		for _, member = range c.Members {
			member, corrected = Correct(member)
			if corrected {
				stats.CorrectedTaxids++
			}
			if Excluded(member) {
				stats.ExcludedMembers++
				continue
			}
			rows = append(rows, &Row{
				Scan:    h.Scan,
				Cluster: h.Cluster,
				Protein: h.Protein,
				Member:  member,
				Common:  common,
				PIdent:  h.PIdent,
			})
		}
	}
	stats.Rows = len(rows)
	return rows, stats
}
