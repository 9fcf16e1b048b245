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
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/breader"
)

// CoarseRanks are ranks too broad to pick a reference proteome for.
var CoarseRanks = map[string]struct{}{
	"family":       {},
	"order":        {},
	"class":        {},
	"phylum":       {},
	"kingdom":      {},
	"superkingdom": {},
}

// SelectOptions controls which taxa of a ranked table are used
// to build a reduced protein database.
type SelectOptions struct {
	// CoverageTarget is the running coverage to reach.
	CoverageTarget float64

	// TopStrains is the number of taxa picked at each coverage step.
	TopStrains int

	// Kingdoms keeps taxa whose superkingdom or kingdom is in the list.
	Kingdoms []string
}

// SelectTaxa picks taxa from a ranked table. Rows are visited by coverage
// steps until the first step above the target. At each step, the top
// secondary taxa by hits are picked if there are any, the top primary
// ones otherwise. TaxIds are returned in the order of picking, without
// duplicates.
func SelectTaxa(taxa []*Taxon, opt *SelectOptions) []uint32 {
	var kingdoms map[string]struct{}
	if len(opt.Kingdoms) > 0 {
		kingdoms = make(map[string]struct{}, len(opt.Kingdoms))
		for _, k := range opt.Kingdoms {
			kingdoms[k] = struct{}{}
		}
	}

	candidates := make([]*Taxon, 0, len(taxa))
	var ok bool
	for _, t := range taxa {
		if t.Stats != nil {
			if _, ok = CoarseRanks[t.Stats.Rank]; ok {
				continue
			}
		}
		if kingdoms != nil {
			if t.Stats == nil {
				continue
			}
			_, ok = kingdoms[t.Stats.Lineage[7]]
			if !ok {
				_, ok = kingdoms[t.Stats.Lineage[6]]
			}
			if !ok {
				continue
			}
		}
		candidates = append(candidates, t)
	}

	threshold := math.Inf(1)
	for _, t := range candidates {
		if t.RunningCoverage > opt.CoverageTarget && t.RunningCoverage < threshold {
			threshold = t.RunningCoverage
		}
	}

	steps := make(map[float64][]*Taxon, 64)
	for _, t := range candidates {
		if t.RunningCoverage <= threshold {
			steps[t.RunningCoverage] = append(steps[t.RunningCoverage], t)
		}
	}
	coverages := make([]float64, 0, len(steps))
	for c := range steps {
		coverages = append(coverages, c)
	}
	sort.Float64s(coverages)

	taxids := make([]uint32, 0, len(candidates))
	picked := make(map[uint32]struct{}, len(candidates))
	var group, secondaries []*Taxon
	for _, c := range coverages {
		group = steps[c]
		secondaries = secondaries[:0]
		for _, t := range group {
			if t.Kind == KindSecondary {
				secondaries = append(secondaries, t)
			}
		}
		if len(secondaries) > 0 {
			group = secondaries
		} else {
			primaries := make([]*Taxon, 0, len(group))
			for _, t := range group {
				if t.Kind == KindPrimary {
					primaries = append(primaries, t)
				}
			}
			group = primaries
		}

		group = append([]*Taxon(nil), group...)
		sort.SliceStable(group, func(i, j int) bool { return group[i].Hits > group[j].Hits })
		if opt.TopStrains > 0 && len(group) > opt.TopStrains {
			group = group[:opt.TopStrains]
		}

		for _, t := range group {
			if _, ok = picked[t.Taxid]; ok {
				continue
			}
			picked[t.Taxid] = struct{}{}
			taxids = append(taxids, t.Taxid)
		}
	}
	return taxids
}

// CollectClusters scans a membership table in chunks and returns the IDs
// of clusters with at least one member in taxids, in the table order.
func CollectClusters(file string, threads int, chunkSize int, taxids map[uint32]struct{}) ([]string, int, error) {
	cols, header, err := readMemberHeader(file)
	if err != nil {
		return nil, 0, err
	}

	fn := func(line string) (interface{}, bool, error) {
		items, err := memberFields(line, header, cols)
		if items == nil || err != nil {
			return nil, false, err
		}
		members := strings.TrimSpace(items[cols.members])
		if members == "" {
			return nil, false, nil
		}
		var taxid uint32
		var ok bool
		for _, m := range strings.Split(members, ":") {
			if taxid, err = ParseTaxid(m); err != nil {
				return nil, false, err
			}
			taxid, _ = Correct(taxid)
			if _, ok = taxids[taxid]; ok {
				return items[cols.uid], true, nil
			}
		}
		return nil, false, nil
	}

	reader, err := breader.NewBufferedReader(file, threads, chunkSize, fn)
	if err != nil {
		return nil, 0, errors.Wrap(err, file)
	}

	uids := make([]string, 0, 1024)
	var nChunks int
	for chunk := range reader.Ch {
		if chunk.Err != nil {
			drain(reader)
			return nil, nChunks, errors.Wrap(chunk.Err, file)
		}
		nChunks++
		for _, data := range chunk.Data {
			uids = append(uids, data.(string))
		}
	}
	return uids, nChunks, nil
}
