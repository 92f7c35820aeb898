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

package command

import (
	"fmt"
	"strconv"

	"github.com/kr/pretty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fedplan/fedplan/go/fed/capabilities"
)

var (
	capabilitiesPath string

	// Capabilities prints capability profiles.
	Capabilities = &cobra.Command{
		Use:                   "capabilities --capabilities <capabilities.yaml> [<source>]",
		Short:                 "Prints the capability profile of a source, or a summary of all sources.",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MaximumNArgs(1),
		RunE:                  commandCapabilities,
	}
)

func init() {
	Capabilities.Flags().StringVar(&capabilitiesPath, "capabilities", capabilitiesPath, "Path to the capability profiles in YAML.")
	_ = Capabilities.MarkFlagRequired("capabilities")
}

// profile is the printable form of a capability set.
type profile struct {
	Source              string
	Supported           []string
	Functions           []string
	MaxInCriteriaSize   int
	JoinCriteriaAllowed string
}

func profileOf(caps *capabilities.Capabilities) profile {
	return profile{
		Source:              caps.Source(),
		Supported:           caps.Supported(),
		Functions:           caps.Functions(),
		MaxInCriteriaSize:   caps.MaxInCriteriaSize(),
		JoinCriteriaAllowed: caps.JoinCriteriaAllowed().String(),
	}
}

func commandCapabilities(cmd *cobra.Command, args []string) error {
	finder, err := capabilities.LoadFile(fs, capabilitiesPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		caps, err := finder.FindCapabilities(args[0])
		if err != nil {
			return err
		}
		_, err = pretty.Fprintf(out, "%# v\n", profileOf(caps))
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Source", "Capabilities", "Functions", "Max IN", "Join criteria")
	for _, source := range finder.Sources() {
		caps, err := finder.FindCapabilities(source)
		if err != nil {
			return err
		}
		p := profileOf(caps)
		row := []string{
			p.Source,
			strconv.Itoa(len(p.Supported)),
			strconv.Itoa(len(p.Functions)),
			strconv.Itoa(p.MaxInCriteriaSize),
			p.JoinCriteriaAllowed,
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("rendering %s: %w", source, err)
		}
	}
	return table.Render()
}
