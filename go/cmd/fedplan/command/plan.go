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
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/planner/analysis"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/planner/rules"
)

type planOptions struct {
	Catalog         string
	CatalogDSN      string
	Capabilities    string
	CapabilitiesTTL time.Duration
	Format          string
	Analysis        bool
	Metrics         bool
}

func defaultPlanOptions() planOptions {
	return planOptions{Format: "tree", CapabilitiesTTL: time.Minute}
}

var (
	planOpts = defaultPlanOptions()

	// Plan plans one or more queries.
	Plan = &cobra.Command{
		Use:   "plan --catalog <catalog.yaml> --capabilities <capabilities.yaml> <query.yaml> [<query.yaml> ...]",
		Short: "Plans the given queries and prints the resulting plans.",
		Long: `Plans the given queries and prints the resulting plans.

Every query file holds one resolved relational tree. Queries are planned
concurrently, each in its own planning session.`,
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		RunE:                  commandPlan,
	}
)

func init() {
	Plan.Flags().StringVar(&planOpts.Catalog, "catalog", planOpts.Catalog, "Path to the catalog in YAML.")
	Plan.Flags().StringVar(&planOpts.CatalogDSN, "catalog-dsn", planOpts.CatalogDSN, "Database holding the catalog, as sqlite://<file>, mysql://<dsn> or postgres://<url>. Takes precedence over --catalog.")
	Plan.Flags().StringVar(&planOpts.Capabilities, "capabilities", planOpts.Capabilities, "Path to the capability profiles in YAML.")
	Plan.Flags().DurationVar(&planOpts.CapabilitiesTTL, "capabilities-ttl", planOpts.CapabilitiesTTL, "How long capability lookups are cached.")
	Plan.Flags().StringVar(&planOpts.Format, "format", planOpts.Format, "Output format: tree or json.")
	Plan.Flags().BoolVar(&planOpts.Analysis, "analysis", planOpts.Analysis, "Print the analysis record of every query.")
	Plan.Flags().BoolVar(&planOpts.Metrics, "metrics", planOpts.Metrics, "Print the planner metrics after planning.")
	_ = Plan.MarkFlagRequired("capabilities")
}

func loadFinder(path string, ttl time.Duration) (capabilities.Finder, error) {
	finder, err := capabilities.LoadFile(fs, path)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return finder, nil
	}
	return capabilities.NewCachingFinder(finder, ttl), nil
}

func commandPlan(cmd *cobra.Command, args []string) error {
	if planOpts.Format != "tree" && planOpts.Format != "json" {
		return fmt.Errorf("unknown --format %q, expected tree or json", planOpts.Format)
	}
	catalog, err := loadCatalog(cmd.Context(), planOpts.Catalog, planOpts.CatalogDSN)
	if err != nil {
		return err
	}
	finder, err := loadFinder(planOpts.Capabilities, planOpts.CapabilitiesTTL)
	if err != nil {
		return err
	}

	trees := make([]plan.Node, 0, len(args))
	for _, path := range args {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return federrors.Wrapf(err, "reading query %s", path)
		}
		tree, err := plan.Decode(data, catalog)
		if err != nil {
			return federrors.Wrapf(err, "decoding query %s", path)
		}
		trees = append(trees, tree)
	}

	var registry *prometheus.Registry
	if planOpts.Metrics {
		registry = prometheus.NewRegistry()
		if err := rules.RegisterMetrics(registry); err != nil {
			return err
		}
	}

	cfg := plancontext.ConfigFromFlags()
	cfg.RecordAnalysis = cfg.RecordAnalysis || planOpts.Analysis
	results, err := rules.PlanBatch(cmd.Context(), catalog, finder, cfg, trees)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, res := range results {
		fmt.Fprintf(out, "-- %s (session %s)\n", args[i], res.SessionID)
		if planOpts.Format == "json" {
			fmt.Fprintln(out, plan.ToJSON(res.Plan))
		} else {
			fmt.Fprint(out, plan.ToTree(res.Plan))
		}
		if planOpts.Analysis {
			if err := printRecord(out, res.Record); err != nil {
				return err
			}
		}
	}
	if registry != nil {
		return printMetrics(out, registry)
	}
	return nil
}

func printRecord(out io.Writer, record *analysis.Record) error {
	table := tablewriter.NewWriter(out)
	table.Header("Rule", "Kind", "Subtree", "Message")
	for _, e := range record.Entries() {
		if err := table.Append([]string{e.Rule, e.Kind.String(), e.Subtree, e.Message}); err != nil {
			return err
		}
	}
	return table.Render()
}

func printMetrics(out io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, family := range families {
		for _, m := range family.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			name := family.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s_count %d", name, h.GetSampleCount()))
				lines = append(lines, fmt.Sprintf("%s_sum %g", name, h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	return nil
}
