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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const memberCSV = `uid,common_taxa,members
UniRef100_A,562,562:1:83333
UniRef100_B,444888,629:9606:444888
UniRef100_C,,1280
UniRef100_D,9606,2:9606
"UniRef100_E","1","1392:1396"
UniRef100_Z,1,1
`

func writeTemp(t *testing.T, name, content string) string {
	file := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestScanMemberTable(t *testing.T) {
	file := writeTemp(t, "members.csv", memberCSV)

	hits := []*Hit{
		{Cluster: "UniRef100_A"}, {Cluster: "UniRef100_B"}, {Cluster: "UniRef100_C"},
		{Cluster: "UniRef100_A"}, {Cluster: "UniRef100_E"}, {Cluster: "UniRef100_X"},
	}
	wanted := NewClusterSet(hits)
	if len(wanted) != 5 || !wanted.Has("UniRef100_X") || wanted.Has("UniRef100_Z") {
		t.Fatalf("unexpected cluster set: %v", wanted)
	}

	table, nChunks, err := ScanMemberTable(file, 2, 2, wanted)
	if err != nil {
		t.Fatalf("ScanMemberTable: %s", err)
	}
	if nChunks < 3 {
		t.Errorf("%d chunks, at least 3 expected", nChunks)
	}

	want := MemberTable{
		"UniRef100_A": {Common: 562, Members: []uint32{562, 1, 83333}},
		"UniRef100_B": {Common: 444888, Members: []uint32{629, 9606, 444888}},
		"UniRef100_C": {Members: []uint32{1280}},
		"UniRef100_E": {Common: 1, Members: []uint32{1392, 1396}},
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Errorf("member table mismatch (-want +got):\n%s", diff)
	}
}

func TestScanMemberTableHeader(t *testing.T) {
	file := writeTemp(t, "members.csv", "id,taxa\nA,1\n")
	if _, _, err := ScanMemberTable(file, 1, 10, ClusterSet{}); err == nil {
		t.Errorf("error expected for a header without uid and members")
	}
}

func TestSplitCSVLine(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"UniRef100_A,562,562:1", []string{"UniRef100_A", "562", "562:1"}},
		{`"UniRef100_E","1","1392:1396"`, []string{"UniRef100_E", "1", "1392:1396"}},
		{`UniRef100_F,"Bacillus sp., strain X",1396`, []string{"UniRef100_F", "Bacillus sp., strain X", "1396"}},
		{"a,,", []string{"a", "", ""}},
	}
	for _, test := range tests {
		got, err := splitCSVLine(test.line)
		if err != nil {
			t.Fatalf("%s: %s", test.line, err)
		}
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("%s: mismatch (-want +got):\n%s", test.line, diff)
		}
	}
}

func TestScanMemberTableQuotedComma(t *testing.T) {
	file := writeTemp(t, "members.csv", `uid,name,members
UniRef100_F,"Bacillus sp., strain X",1396:1392
"UniRef100_G","a, b, c",562
`)
	wanted := NewClusterSet([]*Hit{{Cluster: "UniRef100_F"}, {Cluster: "UniRef100_G"}})
	table, _, err := ScanMemberTable(file, 2, 1, wanted)
	if err != nil {
		t.Fatal(err)
	}
	want := MemberTable{
		"UniRef100_F": {Members: []uint32{1396, 1392}},
		"UniRef100_G": {Members: []uint32{562}},
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	uids, _, err := CollectClusters(file, 2, 1, map[uint32]struct{}{562: {}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"UniRef100_G"}, uids); diff != "" {
		t.Errorf("clusters mismatch (-want +got):\n%s", diff)
	}
}

func TestScanMemberTableInvalidRecord(t *testing.T) {
	var b strings.Builder
	b.WriteString("uid,members\n")
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "UniRef100_%d,%d\n", i, i+1)
	}
	b.WriteString("UniRef100_bad,x12\n")
	for i := 100; i < 200; i++ {
		fmt.Fprintf(&b, "UniRef100_%d,%d\n", i, i+1)
	}
	file := writeTemp(t, "members.csv", b.String())

	wanted := NewClusterSet([]*Hit{{Cluster: "UniRef100_bad"}})
	if _, _, err := ScanMemberTable(file, 2, 10, wanted); err == nil {
		t.Errorf("error expected for an invalid TaxId")
	}
	if _, _, err := CollectClusters(file, 2, 10, map[uint32]struct{}{1: {}}); err == nil {
		t.Errorf("error expected for an invalid TaxId")
	}
}

func TestExpand(t *testing.T) {
	table := MemberTable{
		"UniRef100_A": {Common: 562, Members: []uint32{562, 1, 83333}},
		"UniRef100_B": {Common: 444888, Members: []uint32{629, 9606, 444888}},
		"UniRef100_C": {Members: []uint32{1280}},
	}
	hits := []*Hit{
		{Scan: "s1", Cluster: "UniRef100_A", Protein: "A", Taxid: 561, PIdent: 100},
		{Scan: "s2", Cluster: "UniRef100_B", Protein: "B", Taxid: 629, PIdent: 90},
		{Scan: "s3", Cluster: "UniRef100_C", Protein: "C", Taxid: 1280, PIdent: 95},
		{Scan: "s4", Cluster: "UniRef100_X", Protein: "X", Taxid: 1280, PIdent: 95},
	}

	rows, stats := Expand(hits, SchemeTaxID, table)

	type pair struct {
		Scan           string
		Member, Common uint32
	}
	got := make([]pair, len(rows))
	for i, r := range rows {
		got[i] = pair{r.Scan, r.Member, r.Common}
	}
	want := []pair{
		{"s1", 562, 562}, {"s1", 83333, 562},
		{"s2", 629, 629}, {"s2", 629, 629},
		{"s3", 1280, 1280},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	wantStats := ExpandStats{Hits: 4, Rows: 5, Missing: 1, ExcludedMembers: 2, CorrectedTaxids: 2}
	if diff := cmp.Diff(wantStats, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandIdentity(t *testing.T) {
	hits := []*Hit{
		{Scan: "s1", Cluster: "P1", Protein: "P1", Taxid: 562, PIdent: 100},
		{Scan: "s2", Cluster: "P2", Protein: "P2", Taxid: 1280, PIdent: 99},
	}
	rows, stats := Expand(hits, SchemeOX, nil)
	want := []*Row{
		{Scan: "s1", Cluster: "P1", Protein: "P1", Member: 562, Common: 562, PIdent: 100},
		{Scan: "s2", Cluster: "P2", Protein: "P2", Member: 1280, Common: 1280, PIdent: 99},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if stats.Rows != 2 || stats.Missing != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func sortedKeys(m map[uint32]int) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
