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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownPredicate means a filter key other than pident, evalue and mismatch.
var ErrUnknownPredicate = errors.New("tally: unknown filter key")

// Predicate is one quality threshold of an alignment.
//
//	pident   >= Value
//	evalue   <= Value
//	mismatch <= Value
type Predicate struct {
	Key   string
	Value float64
}

func (p Predicate) check() error {
	switch p.Key {
	case "pident", "evalue", "mismatch":
		return nil
	}
	return errors.Wrapf(ErrUnknownPredicate, "%s (available: pident, evalue, mismatch)", p.Key)
}

func (p Predicate) pass(a *Alignment) bool {
	switch p.Key {
	case "pident":
		return a.PIdent >= p.Value
	case "evalue":
		return a.Evalue <= p.Value
	default:
		return a.Mismatch <= p.Value
	}
}

// ParsePredicates parses expressions like "pident=90" or "evalue=1e-5".
func ParsePredicates(exprs []string) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(exprs))
	for _, expr := range exprs {
		i := strings.IndexByte(expr, '=')
		if i <= 0 {
			return nil, errors.Errorf("invalid filter expression: %s, it should be like pident=90", expr)
		}
		p := Predicate{Key: strings.ToLower(strings.TrimSpace(expr[:i]))}
		if err := p.check(); err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(expr[i+1:]), 64)
		if err != nil {
			return nil, errors.Errorf("invalid value of filter %s: %s", p.Key, expr[i+1:])
		}
		p.Value = v
		preds = append(preds, p)
	}
	return preds, nil
}

// Filter returns alignments passing all predicates, in the input order.
// The input slice is left untouched.
func Filter(alns []*Alignment, preds []Predicate) ([]*Alignment, error) {
	for _, p := range preds {
		if err := p.check(); err != nil {
			return nil, err
		}
	}

	filtered := make([]*Alignment, 0, len(alns))
	var ok bool
	for _, a := range alns {
		ok = true
		for _, p := range preds {
			if !p.pass(a) {
				ok = false
				break
			}
		}
		if ok {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}
