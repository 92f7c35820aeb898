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

// Package semantics holds the small set types the planner uses to reason about
// which groups (table or view aliases) an expression or a subtree depends on.
package semantics

import (
	"fmt"

	"github.com/fedplan/fedplan/go/fed/planner/semantics/bitset"
)

// GroupSet is a set of groups. Groups get their bit in the order they are
// registered with the planning context.
type GroupSet bitset.Bitset

// Format formats the GroupSet.
func (gs GroupSet) Format(f fmt.State, _ rune) {
	first := true
	fmt.Fprintf(f, "GroupSet{")
	bitset.Bitset(gs).ForEach(func(id int) {
		if first {
			fmt.Fprintf(f, "%d", id)
			first = false
		} else {
			fmt.Fprintf(f, ",%d", id)
		}
	})
	fmt.Fprintf(f, "}")
}

// IsOverlapping returns true if at least one group exists in both sets
func (gs GroupSet) IsOverlapping(other GroupSet) bool {
	return bitset.Bitset(gs).Overlaps(bitset.Bitset(other))
}

// IsSolvedBy returns true if all of `gs` is contained in `other`
func (gs GroupSet) IsSolvedBy(other GroupSet) bool {
	return bitset.Bitset(gs).IsContainedBy(bitset.Bitset(other))
}

// NumberOfGroups returns the number of groups in the set
func (gs GroupSet) NumberOfGroups() int {
	return bitset.Bitset(gs).Popcount()
}

// IsEmpty returns true if there are no groups in the set
func (gs GroupSet) IsEmpty() bool {
	return len(gs) == 0
}

// NonEmpty returns true if there are groups in the set
func (gs GroupSet) NonEmpty() bool {
	return !gs.IsEmpty()
}

// GroupOffset returns the id of the only group in the set, or -1
func (gs GroupSet) GroupOffset() int {
	return bitset.Bitset(gs).SingleBit()
}

// ForEachGroup calls the callback with the id of every group in the set
func (gs GroupSet) ForEachGroup(callback func(int)) {
	bitset.Bitset(gs).ForEach(callback)
}

// Constituents returns one single-group set per member
func (gs GroupSet) Constituents() (result []GroupSet) {
	gs.ForEachGroup(func(id int) {
		result = append(result, SingleGroupSet(id))
	})
	return
}

// Merge creates a GroupSet that contains both inputs
func (gs GroupSet) Merge(other GroupSet) GroupSet {
	return GroupSet(bitset.Bitset(gs).Or(bitset.Bitset(other)))
}

// Remove returns a new GroupSet with all the groups in `other` removed
func (gs GroupSet) Remove(other GroupSet) GroupSet {
	return GroupSet(bitset.Bitset(gs).AndNot(bitset.Bitset(other)))
}

// KeepOnly removes all the groups not in `other`
func (gs GroupSet) KeepOnly(other GroupSet) GroupSet {
	return GroupSet(bitset.Bitset(gs).And(bitset.Bitset(other)))
}

// SingleGroupSet creates a GroupSet that contains only the given group
func SingleGroupSet(id int) GroupSet {
	return GroupSet(bitset.Single(id))
}

// EmptyGroupSet creates an empty GroupSet
func EmptyGroupSet() GroupSet {
	return ""
}

// MergeGroupSets merges all the given sets into one
func MergeGroupSets(sets ...GroupSet) GroupSet {
	var result bitset.Bitset
	for _, s := range sets {
		result = result.Or(bitset.Bitset(s))
	}
	return GroupSet(result)
}

// GroupSetFromIDs returns a GroupSet containing all the given ids
func GroupSetFromIDs(ids ...int) GroupSet {
	return GroupSet(bitset.Build(ids...))
}
