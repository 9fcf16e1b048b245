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
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// ErrConfigSection means a section not matching any command.
var ErrConfigSection = errors.New("kaiko/config: unknown command section")

// ErrConfigKey means a key not matching any flag of the command.
var ErrConfigKey = errors.New("kaiko/config: unknown flag")

// Config holds default flag values, one section per command,
// keyed by long flag names.
type Config map[string]map[string]interface{}

// ConfigFromFile reads a YAML config file, "~" is expanded.
func ConfigFromFile(file string) (Config, error) {
	cfg := make(Config)

	file, err := homedir.Expand(file)
	if err != nil {
		return cfg, errors.Wrap(err, file)
	}

	r, err := os.Open(file)
	if err != nil {
		return cfg, errors.Wrap(err, "fail to open config file")
	}
	defer r.Close()

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return cfg, errors.Wrapf(err, "fail to read config file: %s", file)
	}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "fail to unmarshal config file: %s", file)
	}
	return cfg, nil
}

// Check makes sure every section is a command of root and every key is
// a flag of that command.
func (cfg Config) Check(root *cobra.Command) error {
	for section, values := range cfg {
		c := findCommand(root, section)
		if c == nil {
			return errors.Wrap(ErrConfigSection, section)
		}
		for key := range values {
			if lookupFlag(c, key) == nil {
				return errors.Wrapf(ErrConfigKey, "%s: %s", section, key)
			}
		}
	}
	return nil
}

// ApplyTo assigns values of the command's section to flags not set
// in the command line.
func (cfg Config) ApplyTo(cmd *cobra.Command) error {
	values, ok := cfg[cmd.Name()]
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var flag *pflag.Flag
	for _, key := range keys {
		flag = lookupFlag(cmd, key)
		if flag == nil {
			return errors.Wrapf(ErrConfigKey, "%s: %s", cmd.Name(), key)
		}
		if flag.Changed {
			continue
		}
		if err := flag.Value.Set(configValueString(values[key])); err != nil {
			return errors.Wrapf(err, "invalid value for %s: %s", cmd.Name(), key)
		}
	}
	return nil
}

// WriteTo dumps the config to a YAML file, sections and keys in order.
func (cfg Config) WriteTo(file string) (int, error) {
	sections := make([]string, 0, len(cfg))
	for section := range cfg {
		sections = append(sections, section)
	}
	sort.Strings(sections)

	doc := make(yaml.MapSlice, 0, len(sections))
	for _, section := range sections {
		keys := make([]string, 0, len(cfg[section]))
		for key := range cfg[section] {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		items := make(yaml.MapSlice, 0, len(keys))
		for _, key := range keys {
			items = append(items, yaml.MapItem{Key: key, Value: cfg[section][key]})
		}
		doc = append(doc, yaml.MapItem{Key: section, Value: items})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return 0, errors.Wrap(err, "fail to marshal config")
	}

	if isStdout(file) {
		return os.Stdout.Write(data)
	}

	dir := filepath.Dir(file)
	dirExisted, err := pathutil.DirExists(dir)
	if err != nil {
		return 0, errors.Wrapf(err, "fail to write config file: %s", file)
	}
	if !dirExisted {
		err = os.MkdirAll(dir, 0755)
		if err != nil {
			return 0, errors.Wrapf(err, "fail to write config file: %s", file)
		}
	}

	w, err := os.Create(file)
	if err != nil {
		return 0, errors.Wrapf(err, "fail to write config file: %s", file)
	}
	defer w.Close()

	n, err := w.Write(data)
	if err != nil {
		return n, errors.Wrapf(err, "fail to write config file: %s", file)
	}
	return n, nil
}

// applyConfig is run before every command.
func applyConfig(cmd *cobra.Command) error {
	file, err := cmd.Flags().GetString("config")
	if err != nil || file == "" {
		return nil
	}

	cfg, err := ConfigFromFile(file)
	if err != nil {
		return err
	}
	if err = cfg.Check(cmd.Root()); err != nil {
		return err
	}
	return cfg.ApplyTo(cmd)
}

func findCommand(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if name == "config" {
		return nil
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag
	}
	return cmd.InheritedFlags().Lookup(name)
}

func configValueString(v interface{}) string {
	switch x := v.(type) {
	case []interface{}:
		items := make([]string, len(x))
		for i, item := range x {
			items[i] = configValueString(item)
		}
		return strings.Join(items, ",")
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// flagDefault converts the default value of a flag to a typed YAML value.
func flagDefault(flag *pflag.Flag) interface{} {
	def := flag.DefValue
	switch flag.Value.Type() {
	case "bool":
		v, _ := strconv.ParseBool(def)
		return v
	case "int", "int64":
		v, _ := strconv.ParseInt(def, 10, 64)
		return v
	case "float64":
		v, _ := strconv.ParseFloat(def, 64)
		return v
	case "stringSlice", "float64Slice", "intSlice":
		def = strings.Trim(def, "[]")
		if def == "" {
			return []interface{}{}
		}
		items := strings.Split(def, ",")
		values := make([]interface{}, len(items))
		for i, item := range items {
			if flag.Value.Type() == "stringSlice" {
				values[i] = item
			} else if v, err := strconv.ParseFloat(item, 64); err == nil {
				values[i] = v
			} else {
				values[i] = item
			}
		}
		return values
	}
	return def
}
