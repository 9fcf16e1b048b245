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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestParsePredicates(t *testing.T) {
	preds, err := ParsePredicates([]string{"pident=90", "Evalue = 1e-5", "mismatch=1"})
	if err != nil {
		t.Fatalf("ParsePredicates: %s", err)
	}
	want := []Predicate{{"pident", 90}, {"evalue", 1e-5}, {"mismatch", 1}}
	if diff := cmp.Diff(want, preds); diff != "" {
		t.Errorf("ParsePredicates mismatch (-want +got):\n%s", diff)
	}

	_, err = ParsePredicates([]string{"bitscore=30"})
	if errors.Cause(err) != ErrUnknownPredicate {
		t.Errorf("unknown key: error %v, should be ErrUnknownPredicate", err)
	}

	for _, expr := range []string{"pident", "=90", "pident=high"} {
		if _, err = ParsePredicates([]string{expr}); err == nil {
			t.Errorf("%s: error expected", expr)
		}
	}
}

func TestFilter(t *testing.T) {
	alns := []*Alignment{
		{Scan: "s1", PIdent: 100, Evalue: 1e-10, Mismatch: 0},
		{Scan: "s2", PIdent: 80, Evalue: 1e-10, Mismatch: 2},
		{Scan: "s3", PIdent: 95, Evalue: 0.1, Mismatch: 1},
		{Scan: "s4", PIdent: 90, Evalue: 1e-6, Mismatch: 1},
	}

	tests := []struct {
		preds []Predicate
		scans []string
	}{
		{nil, []string{"s1", "s2", "s3", "s4"}},
		{[]Predicate{{"pident", 90}}, []string{"s1", "s3", "s4"}},
		{[]Predicate{{"pident", 90}, {"evalue", 1e-5}}, []string{"s1", "s4"}},
		{[]Predicate{{"mismatch", 0}}, []string{"s1"}},
		{[]Predicate{{"pident", 101}}, []string{}},
	}

	for i, test := range tests {
		filtered, err := Filter(alns, test.preds)
		if err != nil {
			t.Errorf("test %d: %s", i, err)
			continue
		}
		scans := make([]string, len(filtered))
		for j, a := range filtered {
			scans[j] = a.Scan
		}
		if diff := cmp.Diff(test.scans, scans); diff != "" {
			t.Errorf("test %d: mismatch (-want +got):\n%s", i, diff)
		}
	}

	if len(alns) != 4 || alns[1].Scan != "s2" {
		t.Errorf("input modified")
	}

	if _, err := Filter(alns, []Predicate{{"score", 1}}); errors.Cause(err) != ErrUnknownPredicate {
		t.Errorf("error %v, should be ErrUnknownPredicate", err)
	}
}
