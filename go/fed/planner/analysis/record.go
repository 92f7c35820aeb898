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

// Package analysis keeps the optional, append-only record of what the
// planner decided while planning one query.
package analysis

import (
	"fmt"
	"strings"
)

// EntryKind tells what an entry describes.
type EntryKind int

const (
	// Rewrite entries are changes a rule made to the tree.
	Rewrite EntryKind = iota
	// Annotation entries explain a rejected pushdown or a conservative
	// choice.
	Annotation
	// Decision entries record a strategy choice.
	Decision
)

func (k EntryKind) String() string {
	switch k {
	case Rewrite:
		return "rewrite"
	case Annotation:
		return "annotation"
	case Decision:
		return "decision"
	}
	return fmt.Sprintf("EntryKind(%d)", int(k))
}

// Entry is one line of the record.
type Entry struct {
	Rule    string
	Kind    EntryKind
	Subtree string
	Message string
}

func (e Entry) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s: %s", e.Rule, e.Kind, e.Message)
	if e.Subtree != "" {
		fmt.Fprintf(&sb, " (%s)", e.Subtree)
	}
	return sb.String()
}

// Record collects entries when enabled. A nil or disabled Record drops
// everything, so callers never need to check.
type Record struct {
	enabled bool
	rule    string
	entries []Entry
}

// New returns a record. Nothing is kept unless enabled is true.
func New(enabled bool) *Record {
	return &Record{enabled: enabled}
}

// Enabled returns true if the record keeps entries.
func (r *Record) Enabled() bool {
	return r != nil && r.enabled
}

// SetRule sets the rule new entries are attributed to.
func (r *Record) SetRule(rule string) {
	if r != nil {
		r.rule = rule
	}
}

// Rule returns the rule entries are currently attributed to.
func (r *Record) Rule() string {
	if r == nil {
		return ""
	}
	return r.rule
}

func (r *Record) add(kind EntryKind, subtree, format string, args ...any) {
	if !r.Enabled() {
		return
	}
	r.entries = append(r.entries, Entry{
		Rule:    r.rule,
		Kind:    kind,
		Subtree: subtree,
		Message: fmt.Sprintf(format, args...),
	})
}

// Rewrote records a change to the tree.
func (r *Record) Rewrote(format string, args ...any) {
	r.add(Rewrite, "", format, args...)
}

// Annotate records why something was not pushed down or planned the
// obvious way.
func (r *Record) Annotate(subtree, format string, args ...any) {
	r.add(Annotation, subtree, format, args...)
}

// Decided records a strategy choice.
func (r *Record) Decided(subtree, format string, args ...any) {
	r.add(Decision, subtree, format, args...)
}

// Entries returns a copy of all entries in insertion order.
func (r *Record) Entries() []Entry {
	if r == nil {
		return nil
	}
	return append([]Entry(nil), r.entries...)
}

// Filter returns the entries of the given kind.
func (r *Record) Filter(kind EntryKind) []Entry {
	var res []Entry
	for _, e := range r.Entries() {
		if e.Kind == kind {
			res = append(res, e)
		}
	}
	return res
}

// Len returns the number of entries.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

func (r *Record) String() string {
	var sb strings.Builder
	for _, e := range r.Entries() {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
