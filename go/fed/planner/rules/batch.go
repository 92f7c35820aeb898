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
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/log"
	"github.com/fedplan/fedplan/go/fed/metadata"
	"github.com/fedplan/fedplan/go/fed/planner/analysis"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
)

// Result is the outcome of planning one query of a batch.
type Result struct {
	Plan      plan.Node
	Record    *analysis.Record
	SessionID string
}

// PlanBatch plans independent queries concurrently, one planning session
// each. Only the catalog and the finder are shared, so both must be safe
// for concurrent reads. The first failure cancels the queries that have
// not started yet.
func PlanBatch(ctx context.Context, catalog metadata.Catalog, finder capabilities.Finder, cfg plancontext.Config, trees []plan.Node) ([]Result, error) {
	results := make([]Result, len(trees))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, tree := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pctx := plancontext.New(catalog, finder, cfg)
			res, err := Optimize(pctx, tree)
			if err != nil {
				log.ErrorS("planning failed", "session", pctx.SessionID, "query", i, "err", err)
				return err
			}
			results[i] = Result{Plan: res, Record: pctx.Record, SessionID: pctx.SessionID}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
