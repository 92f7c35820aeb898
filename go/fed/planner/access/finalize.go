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

package access

import (
	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
)

// Finalize replaces the input of every Access by its command. The select
// list of each command only carries the columns consumers need.
func Finalize(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	required := plan.RequiredColumns(root)
	return plan.TopDown(root, plan.SkipAccess, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		a, ok := node.(*plan.Access)
		if !ok || a.Input == nil {
			return node, plan.NoRewrite, nil
		}
		cmd, err := Compose(ctx, a.Source, a.Input, required[a])
		if err != nil {
			if cp, ok := isCannotPush(err); ok {
				return nil, nil, federrors.PlanningError(plan.Describe(a.Input), "%s cannot evaluate the subtree: %s", a.Source, cp.Reason)
			}
			return nil, nil, err
		}
		return &plan.Access{
			Source:      a.Source,
			Command:     cmd.Statement,
			Columns:     cmd.Columns,
			Tables:      cmd.Tables,
			Dependent:   cmd.Dependent,
			Annotations: a.Annotations,
		}, plan.Rewrotef("finalized access to %s", a.Source), nil
	})
}
