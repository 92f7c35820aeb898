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

// Package metadata describes the tables the planner knows about: their
// columns, keys, access patterns and size estimates. The catalog is loaded
// once and shared read-only between planning sessions.
package metadata

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/federrors"
)

// Searchability says which predicates a source can evaluate on a column.
type Searchability int

const (
	// Searchable columns accept any predicate.
	Searchable Searchability = iota
	// AllExceptLike columns accept anything but LIKE.
	AllExceptLike
	// EqualityOnly columns accept only equality and IN.
	EqualityOnly
	// Unsearchable columns cannot be used in predicates at all.
	Unsearchable
)

var searchabilityNames = map[Searchability]string{
	Searchable:    "SEARCHABLE",
	AllExceptLike: "ALL_EXCEPT_LIKE",
	EqualityOnly:  "EQUALITY_ONLY",
	Unsearchable:  "UNSEARCHABLE",
}

func (s Searchability) String() string {
	if name, ok := searchabilityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Searchability(%d)", int(s))
}

// ParseSearchability parses the name of a Searchability. The empty string
// is Searchable.
func ParseSearchability(s string) (Searchability, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if normalized == "" {
		return Searchable, nil
	}
	for k, v := range searchabilityNames {
		if v == normalized {
			return k, nil
		}
	}
	return Searchable, federrors.MetadataError("unknown searchability %q", s)
}

// Unknown marks a size estimate that is not available.
const Unknown int64 = -1

// Column describes one column of a table.
type Column struct {
	Name           string
	Searchability  Searchability
	DistinctValues int64
	NullValues     int64
}

// AccessPattern is one group of columns that must all be bound before the
// table may be queried.
type AccessPattern []string

// Set returns the columns of the access pattern as a set.
func (ap AccessPattern) Set() mapset.Set[string] {
	return mapset.NewThreadUnsafeSet[string](ap...)
}

// SatisfiedBy returns true if every column of the pattern is bound.
func (ap AccessPattern) SatisfiedBy(bound mapset.Set[string]) bool {
	return bound.Contains(ap...)
}

// Table describes a table of a data source.
type Table struct {
	// Name is the fully qualified table name, e.g. pm1.g1.
	Name string
	// Source is the data source the table belongs to.
	Source  string
	Columns []*Column
	// Keys lists the unique keys of the table.
	Keys [][]string
	// AccessPatterns lists alternative groups of columns of which at least
	// one must be bound.
	AccessPatterns []AccessPattern
	// Cardinality is the estimated row count, or Unknown.
	Cardinality int64
	// ConformedSources lists other sources that hold the same data and can
	// answer queries joining this table with their own tables.
	ConformedSources []string
}

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// HasAccessPatterns returns true if the table restricts how it may be
// queried.
func (t *Table) HasAccessPatterns() bool {
	return len(t.AccessPatterns) > 0
}

// SatisfiesAccessPattern returns true if the table has no access patterns
// or if one of them is covered by the bound columns.
func (t *Table) SatisfiesAccessPattern(bound mapset.Set[string]) bool {
	if !t.HasAccessPatterns() {
		return true
	}
	for _, ap := range t.AccessPatterns {
		if ap.SatisfiedBy(bound) {
			return true
		}
	}
	return false
}

// IsKey returns true if the columns cover one of the unique keys.
func (t *Table) IsKey(columns mapset.Set[string]) bool {
	for _, key := range t.Keys {
		if len(key) > 0 && columns.Contains(key...) {
			return true
		}
	}
	return false
}

// AvailableSources returns the sources that can answer queries over the
// table: its own source first, then the conformed ones.
func (t *Table) AvailableSources() mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string](t.Source)
	s.Append(t.ConformedSources...)
	return s
}

// Validate checks the table definition for consistency.
func (t *Table) Validate() error {
	if t.Name == "" {
		return federrors.MetadataError("table without a name")
	}
	if t.Source == "" {
		return federrors.MetadataError("table %s has no source", t.Name)
	}
	if len(t.Columns) == 0 {
		return federrors.MetadataError("table %s has no columns", t.Name)
	}
	if t.Cardinality < Unknown {
		return federrors.MetadataError("table %s has a negative cardinality %d", t.Name, t.Cardinality)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	for _, c := range t.Columns {
		name := strings.ToLower(c.Name)
		if c.Name == "" {
			return federrors.MetadataError("table %s has a column without a name", t.Name)
		}
		if !seen.Add(name) {
			return federrors.MetadataError("table %s has a duplicate column %s", t.Name, c.Name)
		}
		if c.DistinctValues < Unknown || c.NullValues < Unknown {
			return federrors.MetadataError("column %s.%s has a negative estimate", t.Name, c.Name)
		}
	}

	for _, key := range t.Keys {
		if len(key) == 0 {
			return federrors.MetadataError("table %s has an empty key", t.Name)
		}
		for _, c := range key {
			if t.Column(c) == nil {
				return federrors.MetadataError("key of table %s names unknown column %s", t.Name, c)
			}
		}
	}

	for _, ap := range t.AccessPatterns {
		if len(ap) == 0 {
			return federrors.MetadataError("table %s has an empty access pattern", t.Name)
		}
		for _, c := range ap {
			if t.Column(c) == nil {
				return federrors.MetadataError("access pattern of table %s names unknown column %s", t.Name, c)
			}
		}
	}
	return nil
}
