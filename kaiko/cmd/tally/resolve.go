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
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TagScheme is the way a TaxId is embedded in a subject title.
type TagScheme int

const (
	// SchemeOX is the UniProt style, e.g., "sp|P0A7Z4|RPOA_ECOLI ... OX=83333 GN=rpoA".
	SchemeOX TagScheme = iota
	// SchemeTaxID is the UniRef style, e.g., "UniRef100_P0A7Z4 ... TaxID=562 RepID=RPOA_ECOLI".
	SchemeTaxID
)

// ErrUnknownTagScheme means an unsupported tag scheme.
var ErrUnknownTagScheme = errors.New("tally: unknown taxon tag scheme")

var reTagOX = regexp.MustCompile(`^.+? OX=(\d*)`)
var reTagTaxID = regexp.MustCompile(`^.+? TaxID=(\d*)`)

// ParseTagScheme parses "OX" or "TaxID", case-insensitively.
func ParseTagScheme(s string) (TagScheme, error) {
	switch strings.ToLower(s) {
	case "ox":
		return SchemeOX, nil
	case "taxid":
		return SchemeTaxID, nil
	}
	return SchemeOX, errors.Wrapf(ErrUnknownTagScheme, "%s (available: OX, TaxID)", s)
}

func (s TagScheme) String() string {
	if s == SchemeTaxID {
		return "TaxID"
	}
	return "OX"
}

// Clustered tells whether hits of this scheme need member expansion.
func (s TagScheme) Clustered() bool {
	return s == SchemeTaxID
}

// Tag returns the digits after the tag key, which may be empty.
func (s TagScheme) Tag(title string) (string, bool) {
	re := reTagOX
	if s == SchemeTaxID {
		re = reTagTaxID
	}
	m := re.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ClusterID returns the cluster (or protein accession) ID and the
// protein name from a subject title.
func (s TagScheme) ClusterID(title string) (string, string) {
	id := title
	if i := strings.IndexAny(title, " \t"); i >= 0 {
		id = title[:i]
	}
	if s == SchemeTaxID {
		return id, strings.TrimPrefix(id, "UniRef100_")
	}
	items := strings.Split(id, "|")
	if len(items) > 1 {
		id = items[1]
	}
	return id, id
}

// ExcludedTaxids are unknown/root/host/metagenome taxa never counted.
var ExcludedTaxids = map[uint32]struct{}{
	1:      {}, // root
	2:      {}, // Bacteria
	9606:   {}, // Homo sapiens
	412755: {}, // marine sediment metagenome
	408172: {}, // marine metagenome
	9823:   {}, // Sus scrofa
}

// CorrectedTaxids maps known mislabeled TaxIds to the right ones.
var CorrectedTaxids = map[uint32]uint32{
	444888: 629,  // Yersinia
	55087:  1386, // Bacillus
	210425: 583,  // Proteus
}

// Excluded tells whether a TaxId is in ExcludedTaxids.
func Excluded(taxid uint32) bool {
	_, ok := ExcludedTaxids[taxid]
	return ok
}

// Correct returns the corrected TaxId and whether it was changed.
func Correct(taxid uint32) (uint32, bool) {
	if t, ok := CorrectedTaxids[taxid]; ok {
		return t, true
	}
	return taxid, false
}

// ParseTaxid parses a TaxId token.
func ParseTaxid(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid TaxId: %s", s)
	}
	return uint32(v), nil
}

// ResolveStats records what happened to alignments during resolving.
type ResolveStats struct {
	Input     int
	NoTag     int // no tag, empty tag or invalid number
	Excluded  int
	Corrected int
	Kept      int
}

// Resolve maps every alignment to a TaxId. Corrections are applied
// before exclusion, alignments without a usable tag are dropped.
func Resolve(alns []*Alignment, scheme TagScheme) ([]*Hit, ResolveStats) {
	stats := ResolveStats{Input: len(alns)}
	hits := make([]*Hit, 0, len(alns))

	var tag string
	var ok, corrected bool
	var taxid uint32
	var err error
	for _, a := range alns {
		tag, ok = scheme.Tag(a.Target)
		if !ok || tag == "" {
			stats.NoTag++
			continue
		}
		taxid, err = ParseTaxid(tag)
		if err != nil {
			stats.NoTag++
			continue
		}

		taxid, corrected = Correct(taxid)
		if corrected {
			stats.Corrected++
		}
		if Excluded(taxid) {
			stats.Excluded++
			continue
		}

		cluster, protein := scheme.ClusterID(a.Target)
		hits = append(hits, &Hit{
			Scan:    a.Scan,
			Cluster: cluster,
			Protein: protein,
			Taxid:   taxid,
			PIdent:  a.PIdent,
		})
	}
	stats.Kept = len(hits)
	return hits, stats
}
