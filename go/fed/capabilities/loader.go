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

package capabilities

import (
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"

	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/metadata"
)

// profilesFile is the on-disk form of a set of capability profiles:
//
//	sources:
//	  pm1:
//	    supports: [CRITERIA_COMPARE_EQ, JOIN_INNER, ...]
//	    functions: [concat, "+"]
//	    max_in_criteria_size: 100
//	    join_criteria_allowed: EQUI
//	    searchability:
//	      pm1.g1.e2: UNSEARCHABLE
//	    extends: full
//
// A profile extending "full" starts from every capability; "unsupports"
// then removes flags from it.
type profilesFile struct {
	Sources map[string]profileFile `json:"sources"`
}

type profileFile struct {
	Extends             string            `json:"extends,omitempty"`
	Supports            []string          `json:"supports,omitempty"`
	Unsupports          []string          `json:"unsupports,omitempty"`
	Functions           []string          `json:"functions,omitempty"`
	MaxInCriteriaSize   *int              `json:"max_in_criteria_size,omitempty"`
	JoinCriteriaAllowed string            `json:"join_criteria_allowed,omitempty"`
	Searchability       map[string]string `json:"searchability,omitempty"`
}

// Parse builds a StaticFinder from its YAML (or JSON) document.
func Parse(data []byte) (StaticFinder, error) {
	var doc profilesFile
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, federrors.MetadataError("cannot parse capabilities: %v", err)
	}

	finder := StaticFinder{}
	for source, p := range doc.Sources {
		b := New(source)
		switch p.Extends {
		case "":
		case "full":
			full := Full(source)
			b.Support(All()...).JoinCriteria(full.JoinCriteriaAllowed()).Function(full.Functions()...)
		default:
			return nil, federrors.MetadataError("source %s extends unknown profile %q", source, p.Extends)
		}

		for _, name := range p.Supports {
			c, ok := ParseCapability(name)
			if !ok {
				return nil, federrors.MetadataError("source %s declares unknown capability %q", source, name)
			}
			b.Support(c)
		}
		for _, name := range p.Unsupports {
			c, ok := ParseCapability(name)
			if !ok {
				return nil, federrors.MetadataError("source %s removes unknown capability %q", source, name)
			}
			b.Unsupport(c)
		}
		b.Function(p.Functions...)

		if p.MaxInCriteriaSize != nil {
			if *p.MaxInCriteriaSize < 0 {
				return nil, federrors.MetadataError("source %s has a negative max_in_criteria_size", source)
			}
			b.MaxInCriteria(*p.MaxInCriteriaSize)
		}
		if p.JoinCriteriaAllowed != "" {
			j, ok := ParseJoinCriteria(p.JoinCriteriaAllowed)
			if !ok {
				return nil, federrors.MetadataError("source %s has unknown join_criteria_allowed %q", source, p.JoinCriteriaAllowed)
			}
			b.JoinCriteria(j)
		}
		for column, value := range p.Searchability {
			s, err := metadata.ParseSearchability(value)
			if err != nil {
				return nil, err
			}
			table, name := splitColumn(column)
			if table == "" {
				return nil, federrors.MetadataError("searchability override %q must name table.column", column)
			}
			b.ColumnSearchability(table, name, s)
		}
		finder[source] = b.Build()
	}
	return finder, nil
}

func splitColumn(s string) (table, column string) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[:i], s[i+1:]
		}
	}
	return "", s
}

// LoadFile reads capability profiles from the file system.
func LoadFile(fs afero.Fs, path string) (StaticFinder, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, federrors.Wrapf(err, "reading capabilities %s", path)
	}
	return Parse(data)
}
