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

package plancontext

import (
	"github.com/spf13/pflag"

	"github.com/fedplan/fedplan/go/viperutil"
)

// Config holds the tunables of the planner.
type Config struct {
	// IndependentCardinality is the row estimate below which a join side
	// is considered small enough to feed a dependent join.
	IndependentCardinality int64
	// DefaultMaxInCriteriaSize applies to sources that do not declare
	// MAX_IN_CRITERIA_SIZE.
	DefaultMaxInCriteriaSize int
	// MaxFixpointPasses bounds the passes of a fixpoint rule.
	MaxFixpointPasses int
	// Validate runs the closure check after every rule and the
	// conformance checks after the last one.
	Validate bool
	// RecordAnalysis keeps an analysis record of the planning session.
	RecordAnalysis bool
}

var (
	independentCardinality = viperutil.Configure(
		"planner.independent-cardinality",
		viperutil.Options[int64]{
			FlagName: "planner-independent-cardinality",
			Default:  10,
		},
	)
	defaultMaxInCriteriaSize = viperutil.Configure(
		"planner.default-max-in-criteria-size",
		viperutil.Options[int]{
			FlagName: "planner-default-max-in-criteria-size",
			Default:  1000,
		},
	)
	maxFixpointPasses = viperutil.Configure(
		"planner.max-fixpoint-passes",
		viperutil.Options[int]{
			FlagName: "planner-max-fixpoint-passes",
			Default:  32,
		},
	)
	validate = viperutil.Configure(
		"planner.validate",
		viperutil.Options[bool]{
			FlagName: "planner-validate",
			Default:  true,
		},
	)
	recordAnalysis = viperutil.Configure(
		"planner.analysis-record",
		viperutil.Options[bool]{
			FlagName: "planner-analysis-record",
			Default:  false,
		},
	)
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		IndependentCardinality:   independentCardinality.Default(),
		DefaultMaxInCriteriaSize: defaultMaxInCriteriaSize.Default(),
		MaxFixpointPasses:        maxFixpointPasses.Default(),
		Validate:                 validate.Default(),
		RecordAnalysis:           recordAnalysis.Default(),
	}
}

// RegisterFlags installs the planner flags on the given FlagSet.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int64("planner-independent-cardinality", independentCardinality.Default(), "Row estimate below which a join side may feed a dependent join.")
	fs.Int("planner-default-max-in-criteria-size", defaultMaxInCriteriaSize.Default(), "IN list size limit for sources that do not declare MAX_IN_CRITERIA_SIZE.")
	fs.Int("planner-max-fixpoint-passes", maxFixpointPasses.Default(), "Maximum number of passes of a fixpoint rule.")
	fs.Bool("planner-validate", validate.Default(), "Check plan invariants after every rule.")
	fs.Bool("planner-analysis-record", recordAnalysis.Default(), "Keep an analysis record of every planning session.")

	viperutil.BindFlags(fs,
		independentCardinality,
		defaultMaxInCriteriaSize,
		maxFixpointPasses,
		validate,
		recordAnalysis,
	)
}

// ConfigFromFlags returns the configuration as set by flags, config file
// and defaults.
func ConfigFromFlags() Config {
	return Config{
		IndependentCardinality:   independentCardinality.Get(),
		DefaultMaxInCriteriaSize: defaultMaxInCriteriaSize.Get(),
		MaxFixpointPasses:        maxFixpointPasses.Get(),
		Validate:                 validate.Get(),
		RecordAnalysis:           recordAnalysis.Get(),
	}
}
