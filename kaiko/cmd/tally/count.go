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

// Counts holds the two tallies of a set of rows.
type Counts struct {
	// Tally1 is the number of distinct scans supporting each taxon.
	Tally1 map[uint32]int

	// Votes is the number of scans whose best-supported taxon is each taxon.
	// A scan with k taxa tied at the top gives one vote to each of them.
	Votes map[uint32]int

	// Scans is the number of distinct scans.
	Scans int
}

// TotalVotes returns the sum of all votes, which is larger than
// Scans when ties happen.
func (c *Counts) TotalVotes() int {
	var n int
	for _, v := range c.Votes {
		n += v
	}
	return n
}

// FilterByPIdent returns rows with percent identity >= min.
func FilterByPIdent(rows []*Row, min float64) []*Row {
	filtered := make([]*Row, 0, len(rows))
	for _, r := range rows {
		if r.PIdent >= min {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Count deduplicates rows by (scan, taxon) and computes both tallies.
func Count(rows []*Row, mode Mode) *Counts {
	scans := make(map[string]map[uint32]struct{}, len(rows)>>1+1)

	var taxa map[uint32]struct{}
	var ok bool
	var taxid uint32
	for _, r := range rows {
		taxid = mode.Key(r)
		if taxa, ok = scans[r.Scan]; !ok {
			taxa = make(map[uint32]struct{}, 4)
			scans[r.Scan] = taxa
		}
		taxa[taxid] = struct{}{}
	}

	tally1 := make(map[uint32]int, 1024)
	for _, taxa = range scans {
		for taxid = range taxa {
			tally1[taxid]++
		}
	}

	votes := make(map[uint32]int, 1024)
	var max, n int
	for _, taxa = range scans {
		max = 0
		for taxid = range taxa {
			if n = tally1[taxid]; n > max {
				max = n
			}
		}
		for taxid = range taxa {
			if tally1[taxid] == max {
				votes[taxid]++
			}
		}
	}

	return &Counts{Tally1: tally1, Votes: votes, Scans: len(scans)}
}
