/*
Copyright 2026 The Fedplan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package command contains the commands of the fedplan binary.
package command

import (
	goflag "flag"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fedplan/fedplan/go/fed/log"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/utils"
	"github.com/fedplan/fedplan/go/viperutil"
)

var (
	configFile string

	// fs is where catalogs, capability profiles and queries are read from.
	fs = afero.NewOsFs()

	// Root is the fedplan command.
	Root = &cobra.Command{
		Use:   "fedplan",
		Short: "Plans queries over federated sources.",
		Long: `Plans queries over federated sources.

A query is a resolved relational tree in YAML. The planner decides which parts
run at which source, in which order joins run, and which work stays local.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viperutil.LoadConfig(configFile); err != nil {
				return err
			}
			return log.Init(cmd.Flags())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Flush()
		},
	}
)

func init() {
	utils.SetFlagStringVar(Root.PersistentFlags(), &configFile, "config-file", "", "Path to a config file with planner settings (yaml, json or toml).")
	log.RegisterFlags(Root.PersistentFlags())
	plancontext.RegisterFlags(Root.PersistentFlags())
	Root.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	Root.PersistentFlags().SetNormalizeFunc(utils.NormalizeUnderscoresToDashes)

	Root.AddCommand(Plan)
	Root.AddCommand(Capabilities)
}

// run executes the root command with args, reading files from fsys and
// writing to out. It exists for tests.
func run(fsys afero.Fs, out io.Writer, args ...string) error {
	prev := fs
	fs = fsys
	defer func() { fs = prev }()
	planOpts = defaultPlanOptions()
	capabilitiesPath = ""

	Root.SetOut(out)
	Root.SetErr(out)
	Root.SetArgs(args)
	return Root.Execute()
}
