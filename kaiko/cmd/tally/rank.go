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
	"sort"

	"github.com/pkg/errors"
	"github.com/twotwotwo/sorts"
	"gonum.org/v1/gonum/floats"
)

// MinStrainSelect is the smallest number of substitutes picked
// for a positive substitute-count policy.
const MinStrainSelect = 5

// StrainLimit converts the substitute-count policy into a limit:
// (0, 5] becomes 5, values > 5 are kept, and values <= 0 give -1,
// meaning no limit.
func StrainLimit(n int) int {
	switch {
	case n <= 0:
		return -1
	case n <= MinStrainSelect:
		return MinStrainSelect
	default:
		return n
	}
}

// Comparator orders rows of the final table.
type Comparator func(a, b *Taxon) bool

// ByCoverageNote sorts by running coverage, then by the note text.
// The note comparison is lexical, it places a primary taxon before
// its substitutes only because "Primary" < "Secondary".
func ByCoverageNote(a, b *Taxon) bool {
	if a.RunningCoverage != b.RunningCoverage {
		return a.RunningCoverage < b.RunningCoverage
	}
	return a.Note < b.Note
}

// ByCoverageRank sorts by running coverage, then primary before
// secondary, more hits first and smaller TaxIds first.
func ByCoverageRank(a, b *Taxon) bool {
	if a.RunningCoverage != b.RunningCoverage {
		return a.RunningCoverage < b.RunningCoverage
	}
	if a.Kind != b.Kind {
		return a.Kind == KindPrimary
	}
	if a.Hits != b.Hits {
		return a.Hits > b.Hits
	}
	return a.Taxid < b.Taxid
}

// ErrUnknownComparator means an unsupported sorting method.
var ErrUnknownComparator = errors.New("tally: unknown sorting method")

// ParseComparator parses "coverage-note" or "coverage-rank".
func ParseComparator(s string) (Comparator, error) {
	switch s {
	case "coverage-note", "":
		return ByCoverageNote, nil
	case "coverage-rank":
		return ByCoverageRank, nil
	}
	return nil, errors.Wrapf(ErrUnknownComparator, "%s (available: coverage-note, coverage-rank)", s)
}

type taxonCount struct {
	taxid uint32
	n     int
}

// sorted by count in descending order, ties by TaxId.
type taxonCounts []taxonCount

func (c taxonCounts) Len() int { return len(c) }
func (c taxonCounts) Less(i, j int) bool {
	if c[i].n != c[j].n {
		return c[i].n > c[j].n
	}
	return c[i].taxid < c[j].taxid
}
func (c taxonCounts) Swap(i, j int) { c[i], c[j] = c[j], c[i] }

func sortedCounts(m map[uint32]int) taxonCounts {
	list := make(taxonCounts, 0, len(m))
	for taxid, n := range m {
		list = append(list, taxonCount{taxid: taxid, n: n})
	}
	sorts.Quicksort(list)
	return list
}

// RankStats records what happened while building the table.
type RankStats struct {
	Primary       int
	Secondary     int
	Unmatched     int // primary taxa absent from the lineage table
	Oversized     int
	Unsubstituted int // oversized taxa without any substitute
}

// Rank builds the ranked taxon table from the tallies.
//
// Primary taxa are ordered by votes and given running coverages. Every
// primary taxon with a proteome larger than opt.ProteinCutoff is followed
// by substitutes: observed taxa with smaller proteomes sharing its lineage
// at the finest possible rank, from species up to superkingdom.
func Rank(counts *Counts, lineages LineageTable, opt *Options) ([]*Taxon, RankStats) {
	var stats RankStats

	votes := sortedCounts(counts.Votes)
	taxa := make([]*Taxon, 0, len(votes))

	cumsum := make([]float64, len(votes))
	for i, v := range votes {
		cumsum[i] = float64(v.n)
	}
	floats.CumSum(cumsum, cumsum)

	var total float64
	if len(cumsum) > 0 {
		total = cumsum[len(cumsum)-1]
	}

	var s *TaxonStats
	var ok bool
	for i, v := range votes {
		if s, ok = lineages[v.taxid]; !ok {
			s = nil
			stats.Unmatched++
		}
		t := &Taxon{
			Taxid: v.taxid,
			Hits:  v.n,
			Kind:  KindPrimary,
			Note:  notePrimary,
			Stats: s,
		}
		if total > 0 {
			t.RunningCoverage = cumsum[i] / total
		}
		taxa = append(taxa, t)
	}
	stats.Primary = len(taxa)

	// substitutes come from all observed taxa with small proteomes,
	// ordered by the number of supporting scans.
	pool := make([]*Taxon, 0, len(counts.Tally1))
	for _, v := range sortedCounts(counts.Tally1) {
		if s, ok = lineages[v.taxid]; !ok {
			continue
		}
		if s.NProtein < 0 || s.NProtein >= opt.ProteinCutoff {
			continue
		}
		pool = append(pool, &Taxon{Taxid: v.taxid, Hits: v.n, Stats: s})
	}

	limit := StrainLimit(opt.NStrainSelect)
	secondaries := make([]*Taxon, 0, 128)
	for _, t := range taxa {
		if t.Stats == nil || t.Stats.NProtein <= opt.ProteinCutoff {
			continue
		}
		stats.Oversized++

		subs := findSmallerTaxa(t, pool, limit)
		if len(subs) == 0 {
			stats.Unsubstituted++
			continue
		}
		secondaries = append(secondaries, subs...)
	}
	stats.Secondary = len(secondaries)

	taxa = append(taxa, secondaries...)

	less := opt.Less
	if less == nil {
		less = ByCoverageNote
	}
	sort.SliceStable(taxa, func(i, j int) bool { return less(taxa[i], taxa[j]) })

	return taxa, stats
}

const notePrimary = "Primary taxon ranked by best-hit votes, 'hit_count' denotes tally-2 votes"

// findSmallerTaxa searches ranks from species to superkingdom and stops
// at the first rank where any taxon of the pool shares the lineage value
// of the oversized taxon. Up to limit taxa are returned, all if limit < 0.
func findSmallerTaxa(t *Taxon, pool []*Taxon, limit int) []*Taxon {
	var value string
	var matched []*Taxon
	for i := range Ranks {
		value = t.Stats.RankValue(i)
		if value == "" {
			continue
		}

		matched = matched[:0]
		for _, c := range pool {
			if c.Taxid == t.Taxid || c.Stats.Lineage[i] != value {
				continue
			}
			matched = append(matched, c)
			if limit > 0 && len(matched) == limit {
				break
			}
		}
		if len(matched) == 0 {
			continue
		}

		note := fmt.Sprintf("Secondary taxon with the same %s (%s) as the primary taxon (%s), below the proteome size cutoff, 'hit_count' denotes tally-1 scans",
			Ranks[i], value, t.Stats.Name)
		subs := make([]*Taxon, len(matched))
		for j, c := range matched {
			subs[j] = &Taxon{
				Taxid:           c.Taxid,
				Hits:            c.Hits,
				RunningCoverage: t.RunningCoverage,
				Kind:            KindSecondary,
				Note:            note,
				Stats:           c.Stats,
			}
		}
		return subs
	}
	return nil
}
