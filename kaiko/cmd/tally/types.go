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
	"strings"

	"github.com/pkg/errors"
)

// Ranks are the lineage ranks stored in a lineage table,
// ordered from the finest to the coarsest.
var Ranks = []string{"species", "genus", "family", "order", "class", "phylum", "kingdom", "superkingdom"}

// NumRanks is the number of lineage ranks.
const NumRanks = 8

// RankIndex returns the index of a rank in Ranks, or -1.
func RankIndex(rank string) int {
	for i, r := range Ranks {
		if r == rank {
			return i
		}
	}
	return -1
}

// Alignment is one peptide-to-protein match from the aligner.
type Alignment struct {
	Scan     string
	Target   string // complete subject title, carrying the taxon tag
	PIdent   float64
	Evalue   float64
	Mismatch float64
}

// Hit is an alignment with a resolved taxon tag.
type Hit struct {
	Scan    string
	Cluster string
	Protein string
	Taxid   uint32
	PIdent  float64
}

// Row is one (scan, member taxon) pair after member expansion,
// i.e., one line of the detailed table.
type Row struct {
	Scan    string
	Cluster string
	Protein string
	Member  uint32
	Common  uint32
	PIdent  float64
}

// TaxonStats is the static reference information of a taxon.
type TaxonStats struct {
	Taxid   uint32
	Name    string
	Rank    string
	Lineage [NumRanks]string

	// NProtein is the size of the reference proteome, -1 for unknown.
	NProtein int64
}

// RankValue returns the lineage value of the taxon at a given rank.
// The taxon name is used at the species rank when the species
// column is empty.
func (s *TaxonStats) RankValue(i int) string {
	if i == 0 && s.Lineage[0] == "" {
		return s.Name
	}
	return s.Lineage[i]
}

// LineageTable maps TaxIds to their reference information.
type LineageTable map[uint32]*TaxonStats

const (
	KindPrimary   = "primary"
	KindSecondary = "secondary"
)

// Taxon is one row of the ranked taxon table.
type Taxon struct {
	Taxid uint32

	// Hits is the number of best-hit votes for primary taxa,
	// and the number of supporting scans for secondary ones.
	Hits int

	RunningCoverage float64

	Kind string
	Note string

	Stats *TaxonStats // nil if absent from the lineage table
}

func (t *Taxon) String() string {
	name := ""
	if t.Stats != nil {
		name = t.Stats.Name
	}
	return fmt.Sprintf("%d (%s) %s hits: %d, coverage: %.4f", t.Taxid, name, t.Kind, t.Hits, t.RunningCoverage)
}

// Mode decides which taxon of a row is counted.
type Mode int

const (
	// ModeMember counts every member taxon of a matched cluster.
	ModeMember Mode = iota
	// ModeCommon counts the representative taxon of a matched cluster.
	ModeCommon
)

// ErrUnknownMode means an unsupported counting mode.
var ErrUnknownMode = errors.New("tally: unknown mode")

// ParseMode parses "member" or "common".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "member":
		return ModeMember, nil
	case "common":
		return ModeCommon, nil
	}
	return ModeMember, errors.Wrapf(ErrUnknownMode, "%s (available: member, common)", s)
}

func (m Mode) String() string {
	if m == ModeCommon {
		return "common"
	}
	return "member"
}

// Key returns the taxon of a row counted in this mode.
func (m Mode) Key(r *Row) uint32 {
	if m == ModeCommon {
		return r.Common
	}
	return r.Member
}

// Options holds all tunable parameters of a tally run.
// It is built once from the command line and never modified.
type Options struct {
	Filters []Predicate
	Scheme  TagScheme
	Mode    Mode

	// NStrainSelect is the raw substitute-count policy, see StrainLimit.
	NStrainSelect int

	// ProteinCutoff is the proteome size above which a taxon
	// is replaced by smaller taxa of the same lineage.
	ProteinCutoff int64

	// Benchmarks are minimal percent identities, one ranked table each.
	Benchmarks []float64

	// Less orders the final table, ByCoverageNote if nil.
	Less Comparator
}

// DefaultBenchmarks is used when no benchmark thresholds are given.
var DefaultBenchmarks = []float64{100}

// Thresholds returns the benchmark thresholds to produce tables for.
func (o *Options) Thresholds() []float64 {
	if len(o.Benchmarks) == 0 {
		return DefaultBenchmarks
	}
	return o.Benchmarks
}
