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

// Package capabilities describes what each data source can evaluate. The
// planner never pushes a construct to a source unless its Capabilities say
// the source supports it: anything unset is unsupported.
package capabilities

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/metadata"
)

// Capability is a support flag.
type Capability int

// All the support flags.
const (
	CriteriaCompareEq Capability = iota
	CriteriaCompareOrdered
	CriteriaLike
	CriteriaIn
	CriteriaIsNull
	CriteriaNot
	CriteriaOr
	CriteriaInSubquery

	JoinInner
	JoinOuter
	JoinFullOuter
	JoinCross
	JoinSelf

	QueryFromInlineViews
	QuerySelectExpression
	QuerySelectDistinct
	QueryOrderBy
	QueryUnion
	QueryGroupBy
	QueryHaving
	QueryFunctionsInGroupBy

	AggregatesCount
	AggregatesCountStar
	AggregatesSum
	AggregatesAvg
	AggregatesMin
	AggregatesMax
	AggregatesDistinct
	AggregatesEnhancedNumeric

	RowLimit
	RowOffset

	numCapabilities
)

var capabilityNames = [...]string{
	CriteriaCompareEq:         "CRITERIA_COMPARE_EQ",
	CriteriaCompareOrdered:    "CRITERIA_COMPARE_ORDERED",
	CriteriaLike:              "CRITERIA_LIKE",
	CriteriaIn:                "CRITERIA_IN",
	CriteriaIsNull:            "CRITERIA_ISNULL",
	CriteriaNot:               "CRITERIA_NOT",
	CriteriaOr:                "CRITERIA_OR",
	CriteriaInSubquery:        "CRITERIA_IN_SUBQUERY",
	JoinInner:                 "JOIN_INNER",
	JoinOuter:                 "JOIN_OUTER",
	JoinFullOuter:             "JOIN_FULL_OUTER",
	JoinCross:                 "JOIN_CROSS",
	JoinSelf:                  "JOIN_SELF",
	QueryFromInlineViews:      "QUERY_FROM_INLINE_VIEWS",
	QuerySelectExpression:     "QUERY_SELECT_EXPRESSION",
	QuerySelectDistinct:       "QUERY_SELECT_DISTINCT",
	QueryOrderBy:              "QUERY_ORDERBY",
	QueryUnion:                "QUERY_UNION",
	QueryGroupBy:              "QUERY_GROUP_BY",
	QueryHaving:               "QUERY_HAVING",
	QueryFunctionsInGroupBy:   "QUERY_FUNCTIONS_IN_GROUP_BY",
	AggregatesCount:           "QUERY_AGGREGATES_COUNT",
	AggregatesCountStar:       "QUERY_AGGREGATES_COUNT_STAR",
	AggregatesSum:             "QUERY_AGGREGATES_SUM",
	AggregatesAvg:             "QUERY_AGGREGATES_AVG",
	AggregatesMin:             "QUERY_AGGREGATES_MIN",
	AggregatesMax:             "QUERY_AGGREGATES_MAX",
	AggregatesDistinct:        "QUERY_AGGREGATES_DISTINCT",
	AggregatesEnhancedNumeric: "QUERY_AGGREGATES_ENHANCED_NUMERIC",
	RowLimit:                  "ROW_LIMIT",
	RowOffset:                 "ROW_OFFSET",
}

func (c Capability) String() string {
	if c >= 0 && c < numCapabilities {
		return capabilityNames[c]
	}
	return fmt.Sprintf("Capability(%d)", int(c))
}

// ParseCapability returns the Capability with the given name.
func ParseCapability(name string) (Capability, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	for c := Capability(0); c < numCapabilities; c++ {
		if capabilityNames[c] == normalized {
			return c, true
		}
	}
	return 0, false
}

// All returns every capability.
func All() []Capability {
	res := make([]Capability, 0, numCapabilities)
	for c := Capability(0); c < numCapabilities; c++ {
		res = append(res, c)
	}
	return res
}

// JoinCriteria restricts which predicates may stay in a pushed join.
type JoinCriteria int

const (
	// JoinCriteriaAny allows any predicate.
	JoinCriteriaAny JoinCriteria = iota
	// JoinCriteriaTheta allows comparisons between the two sides.
	JoinCriteriaTheta
	// JoinCriteriaEqui allows only equality between the two sides.
	JoinCriteriaEqui
	// JoinCriteriaKey allows equality covering a key of one side.
	JoinCriteriaKey
)

var joinCriteriaNames = map[JoinCriteria]string{
	JoinCriteriaAny:   "ANY",
	JoinCriteriaTheta: "THETA",
	JoinCriteriaEqui:  "EQUI",
	JoinCriteriaKey:   "KEY",
}

func (j JoinCriteria) String() string {
	return joinCriteriaNames[j]
}

// ParseJoinCriteria parses a JOIN_CRITERIA_ALLOWED value.
func ParseJoinCriteria(s string) (JoinCriteria, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	for k, v := range joinCriteriaNames {
		if v == normalized {
			return k, true
		}
	}
	return JoinCriteriaAny, false
}

// Property keys.
const (
	MaxInCriteriaSize   = "MAX_IN_CRITERIA_SIZE"
	JoinCriteriaAllowed = "JOIN_CRITERIA_ALLOWED"
)

// Capabilities is the profile of one data source. It is immutable once
// built and may be shared between goroutines.
type Capabilities struct {
	source        string
	supports      mapset.Set[Capability]
	functions     mapset.Set[string]
	properties    map[string]any
	searchability map[string]metadata.Searchability
}

// Source returns the name of the source described.
func (c *Capabilities) Source() string {
	return c.source
}

// Supports returns true if the source declared the capability.
func (c *Capabilities) Supports(capability Capability) bool {
	return c != nil && c.supports.Contains(capability)
}

// SupportsAll returns true if the source declared all the capabilities.
func (c *Capabilities) SupportsAll(capabilities ...Capability) bool {
	return c != nil && c.supports.Contains(capabilities...)
}

// SupportsFunction returns true if the source can evaluate the named
// scalar function or operator.
func (c *Capabilities) SupportsFunction(name string) bool {
	return c != nil && c.functions.Contains(strings.ToLower(name))
}

// Property returns a property value.
func (c *Capabilities) Property(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.properties[key]
	return v, ok
}

// MaxInCriteriaSize returns the largest IN list the source accepts, or 0
// when it declared no limit.
func (c *Capabilities) MaxInCriteriaSize() int {
	v, ok := c.Property(MaxInCriteriaSize)
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

// JoinCriteriaAllowed returns the join predicate restriction. Sources that
// did not declare one get the strictest level, KEY.
func (c *Capabilities) JoinCriteriaAllowed() JoinCriteria {
	v, ok := c.Property(JoinCriteriaAllowed)
	if !ok {
		return JoinCriteriaKey
	}
	j, _ := v.(JoinCriteria)
	return j
}

// Searchability returns the searchability override for table.column.
func (c *Capabilities) Searchability(table, column string) (metadata.Searchability, bool) {
	if c == nil {
		return metadata.Searchable, false
	}
	s, ok := c.searchability[strings.ToLower(table+"."+column)]
	return s, ok
}

// Supported returns the names of all declared capabilities, sorted.
func (c *Capabilities) Supported() []string {
	var names []string
	c.supports.Each(func(capability Capability) bool {
		names = append(names, capability.String())
		return false
	})
	sort.Strings(names)
	return names
}

// Functions returns the supported function names, sorted.
func (c *Capabilities) Functions() []string {
	names := c.functions.ToSlice()
	sort.Strings(names)
	return names
}

// Builder collects the capabilities of a source.
type Builder struct {
	c *Capabilities
}

// New returns a Builder for the named source.
func New(source string) *Builder {
	return &Builder{c: &Capabilities{
		source:        source,
		supports:      mapset.NewThreadUnsafeSet[Capability](),
		functions:     mapset.NewThreadUnsafeSet[string](),
		properties:    map[string]any{},
		searchability: map[string]metadata.Searchability{},
	}}
}

// Support declares capabilities.
func (b *Builder) Support(capabilities ...Capability) *Builder {
	b.c.supports.Append(capabilities...)
	return b
}

// Unsupport removes capabilities.
func (b *Builder) Unsupport(capabilities ...Capability) *Builder {
	for _, capability := range capabilities {
		b.c.supports.Remove(capability)
	}
	return b
}

// Function declares supported scalar functions or operators.
func (b *Builder) Function(names ...string) *Builder {
	for _, name := range names {
		b.c.functions.Add(strings.ToLower(name))
	}
	return b
}

// MaxInCriteria sets MAX_IN_CRITERIA_SIZE.
func (b *Builder) MaxInCriteria(n int) *Builder {
	b.c.properties[MaxInCriteriaSize] = n
	return b
}

// JoinCriteria sets JOIN_CRITERIA_ALLOWED.
func (b *Builder) JoinCriteria(j JoinCriteria) *Builder {
	b.c.properties[JoinCriteriaAllowed] = j
	return b
}

// Property sets an arbitrary property.
func (b *Builder) Property(key string, value any) *Builder {
	b.c.properties[key] = value
	return b
}

// ColumnSearchability overrides the searchability of table.column.
func (b *Builder) ColumnSearchability(table, column string, s metadata.Searchability) *Builder {
	b.c.searchability[strings.ToLower(table+"."+column)] = s
	return b
}

// Build returns the capabilities. The builder must not be used afterwards.
func (b *Builder) Build() *Capabilities {
	c := b.c
	b.c = nil
	return c
}

// Full returns capabilities declaring every flag, any join criteria and the
// common functions.
func Full(source string) *Capabilities {
	return New(source).
		Support(All()...).
		JoinCriteria(JoinCriteriaAny).
		Function("+", "-", "*", "/", "concat", "upper", "lower", "nullif", "sqrt", "coalesce").
		Build()
}
