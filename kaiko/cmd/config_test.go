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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newTestRoot() (*cobra.Command, *cobra.Command) {
	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().IntP("threads", "j", 4, "")

	sub := &cobra.Command{Use: "tally", Run: func(*cobra.Command, []string) {}}
	sub.Flags().StringP("mode", "m", "member", "")
	sub.Flags().Int64P("protein-cutoff", "c", 3000000, "")
	sub.Flags().Float64SliceP("benchmark", "b", []float64{100}, "")
	sub.Flags().StringSliceP("filter", "f", []string{}, "")
	sub.Flags().BoolP("verbose", "", false, "")
	root.AddCommand(sub)
	return root, sub
}

func writeConfig(t *testing.T, content string) string {
	file := filepath.Join(t.TempDir(), "kaiko.yml")
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestConfigApplyTo(t *testing.T) {
	root, sub := newTestRoot()
	if err := sub.ParseFlags([]string{"-m", "common"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := ConfigFromFile(writeConfig(t, `
tally:
  mode: member
  protein-cutoff: 5000
  benchmark: [100, 90.5]
  filter: [evalue=1e-5]
  verbose: true
  threads: 2
`))
	if err != nil {
		t.Fatal(err)
	}
	if err = cfg.Check(root); err != nil {
		t.Fatal(err)
	}
	if err = cfg.ApplyTo(sub); err != nil {
		t.Fatal(err)
	}

	mode, _ := sub.Flags().GetString("mode")
	if mode != "common" {
		t.Errorf("flag given in command line overwritten: %s", mode)
	}
	cutoff, _ := sub.Flags().GetInt64("protein-cutoff")
	if cutoff != 5000 {
		t.Errorf("protein-cutoff: got %d, want 5000", cutoff)
	}
	benchmarks, _ := sub.Flags().GetFloat64Slice("benchmark")
	if diff := cmp.Diff([]float64{100, 90.5}, benchmarks); diff != "" {
		t.Errorf("benchmark mismatch (-want +got):\n%s", diff)
	}
	filters, _ := sub.Flags().GetStringSlice("filter")
	if diff := cmp.Diff([]string{"evalue=1e-5"}, filters); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
	verbose, _ := sub.Flags().GetBool("verbose")
	if !verbose {
		t.Errorf("verbose not set")
	}
	threads, _ := sub.Flags().GetInt("threads")
	if threads != 2 {
		t.Errorf("inherited flag threads: got %d, want 2", threads)
	}
}

func TestConfigCheck(t *testing.T) {
	root, _ := newTestRoot()

	tests := []struct {
		content string
		err     error
	}{
		{"tally:\n  mode: common\n", nil},
		{"profile:\n  mode: common\n", ErrConfigSection},
		{"tally:\n  unknown-flag: 1\n", ErrConfigKey},
		{"tally:\n  config: a.yml\n", ErrConfigKey},
	}
	for _, test := range tests {
		cfg, err := ConfigFromFile(writeConfig(t, test.content))
		if err != nil {
			t.Fatal(err)
		}
		err = cfg.Check(root)
		if errors.Cause(err) != test.err {
			t.Errorf("%q: got error %v, want %v", test.content, err, test.err)
		}
	}
}

func TestConfigInvalidValue(t *testing.T) {
	_, sub := newTestRoot()
	cfg := Config{"tally": {"protein-cutoff": "many"}}
	if err := cfg.ApplyTo(sub); err == nil {
		t.Errorf("invalid value accepted")
	}
}

func TestDefaultConfigRoundTrip(t *testing.T) {
	root, sub := newTestRoot()

	cfg := defaultConfig(root)
	want := Config{"tally": {
		"mode":           "member",
		"protein-cutoff": int64(3000000),
		"benchmark":      []interface{}{float64(100)},
		"filter":         []interface{}{},
		"verbose":        false,
	}}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}

	file := filepath.Join(t.TempDir(), "defaults.yml")
	if _, err := cfg.WriteTo(file); err != nil {
		t.Fatal(err)
	}
	cfg2, err := ConfigFromFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if err = cfg2.Check(root); err != nil {
		t.Fatal(err)
	}
	if err = cfg2.ApplyTo(sub); err != nil {
		t.Fatal(err)
	}
	cutoff, _ := sub.Flags().GetInt64("protein-cutoff")
	if cutoff != 3000000 {
		t.Errorf("protein-cutoff: got %d, want 3000000", cutoff)
	}
}

func TestDefaultConfigCommandTree(t *testing.T) {
	cfg := defaultConfig(RootCmd)
	if _, ok := cfg["defaults"]; ok {
		t.Errorf("flags of the defaults command should not be dumped")
	}
	values, ok := cfg["tally"]
	if !ok {
		t.Fatalf("tally flags missing: %v", cfg)
	}
	if values["mode"] != "member" {
		t.Errorf("tally mode: %v", values["mode"])
	}
	if err := cfg.Check(RootCmd); err != nil {
		t.Error(err)
	}
}
