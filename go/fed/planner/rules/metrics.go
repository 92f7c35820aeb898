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

package rules

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ruleRewrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedplan",
			Name:      "rule_rewrites_total",
			Help:      "Passes in which a rule changed the plan.",
		},
		[]string{"rule"},
	)
	planningErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedplan",
			Name:      "planning_errors_total",
			Help:      "Planning sessions that failed, by kind of error.",
		},
		[]string{"kind"},
	)
	planningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fedplan",
			Name:      "planning_duration_seconds",
			Help:      "Time spent optimizing one query.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
)

// RegisterMetrics publishes the planner metrics on reg. Registering twice
// with the same registry is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{ruleRewrites, planningErrors, planningDuration} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
