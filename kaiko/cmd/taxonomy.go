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
	"path/filepath"
	"sync"

	"github.com/kaiko-proteomics/kaiko/kaiko/cmd/tally"
	"github.com/pkg/errors"
	"github.com/shenwei356/bio/taxdump"
	"github.com/shenwei356/util/pathutil"
)

func loadTaxonomy(opt *Options, path string) *taxdump.Taxonomy {
	if opt.Verbose {
		log.Infof("loading Taxonomy from: %s", path)
	}
	t, err := newTaxonomy(path)
	checkError(err)
	if opt.Verbose {
		log.Infof("  %d nodes in %d ranks loaded", len(t.Nodes), len(t.Ranks))
		log.Infof("  %d names loaded", len(t.Names))
		log.Infof("  %d deleted nodes loaded", len(t.DelNodes))
		log.Infof("  %d merged nodes loaded", len(t.MergeNodes))
	}
	return t
}

// newTaxonomy loads nodes.dmp and names.dmp from an NCBI taxdump directory,
// and delnodes.dmp and merged.dmp if they exist.
func newTaxonomy(path string) (*taxdump.Taxonomy, error) {
	t, err := taxdump.NewTaxonomyWithRankFromNCBI(filepath.Join(path, "nodes.dmp"))
	if err != nil {
		return nil, errors.Wrap(err, "err on loading Taxonomy nodes")
	}

	loaders := []struct {
		file     string
		required bool
		load     func(string) error
	}{
		{"names.dmp", true, t.LoadNamesFromNCBI},
		{"delnodes.dmp", false, t.LoadDeletedNodesFromNCBI},
		{"merged.dmp", false, t.LoadMergedNodesFromNCBI},
	}

	errs := make([]error, len(loaders))
	var wg sync.WaitGroup
	for i, l := range loaders {
		wg.Add(1)
		go func(i int, file string, required bool, load func(string) error) {
			defer wg.Done()
			file = filepath.Join(path, file)
			existed, err := pathutil.Exists(file)
			if err != nil {
				errs[i] = errors.Wrapf(err, "err on checking file %s", file)
				return
			}
			if !existed {
				if required {
					errs[i] = errors.Errorf("%s not found", file)
				}
				return
			}
			if err = load(file); err != nil {
				errs[i] = errors.Wrapf(err, "err on loading %s", file)
			}
		}(i, l.file, l.required, l.load)
	}
	wg.Wait()

	for _, err = range errs {
		if err != nil {
			return nil, err
		}
	}

	t.CacheLCA()
	return t, nil
}

// rankAliases maps NCBI ranks to the ranks of lineage tables.
var rankAliases = map[string]string{
	"domain":       "superkingdom",
	"superkingdom": "superkingdom",
}

// taxonStats fills the lineage of a taxon, the TaxId is updated if it's
// merged. It returns false for unknown or deleted TaxIds.
func taxonStats(taxdb *taxdump.Taxonomy, taxid uint32) (*tally.TaxonStats, bool) {
	newTaxid, ok := taxdb.TaxId(taxid)
	if !ok {
		return nil, false
	}

	s := &tally.TaxonStats{
		Taxid:    newTaxid,
		Name:     taxdb.Name(newTaxid),
		Rank:     taxdb.Rank(newTaxid),
		NProtein: -1,
	}

	var rank, alias string
	var i int
	for _, _taxid := range taxdb.LineageTaxIds(newTaxid) {
		rank = taxdb.Rank(_taxid)
		if alias, ok = rankAliases[rank]; ok {
			rank = alias
		}
		if i = tally.RankIndex(rank); i < 0 {
			continue
		}
		s.Lineage[i] = taxdb.Names[_taxid]
	}
	return s, true
}
