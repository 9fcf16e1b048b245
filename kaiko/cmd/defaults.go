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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Write default flag values of all commands to a YAML config file",
	Long: `Write default flag values of all commands to a YAML config file

The output can be edited and passed to any command via --config.
Values in the file are only used for flags not given in the command line.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		timeStart := time.Now()
		defer func() {
			if opt.Verbose {
				log.Infof("elapsed time: %s", time.Since(timeStart))
			}
		}()

		outFile := getFlagString(cmd, "out-file")

		cfg := defaultConfig(RootCmd)
		_, err := cfg.WriteTo(outFile)
		checkError(err)

		if opt.Verbose && !isStdout(outFile) {
			log.Infof("default values of %d commands saved to %s", len(cfg), outFile)
		}
	},
}

// defaultConfig collects default values of local flags of all
// subcommands with flags.
func defaultConfig(root *cobra.Command) Config {
	cfg := make(Config)
	for _, c := range root.Commands() {
		values := make(map[string]interface{})
		c.LocalNonPersistentFlags().VisitAll(func(flag *pflag.Flag) {
			if flag.Name == "help" || flag.Hidden {
				return
			}
			values[flag.Name] = flagDefault(flag)
		})
		if len(values) == 0 || c.Name() == "defaults" {
			continue
		}
		cfg[c.Name()] = values
	}
	return cfg
}

func init() {
	RootCmd.AddCommand(defaultsCmd)

	defaultsCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file ("-" for stdout).`))

	defaultsCmd.SetUsageTemplate(usageTemplate("[-o <config.yml>]"))
}
