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

package metadata

import (
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"

	"github.com/fedplan/fedplan/go/fed/federrors"
)

// catalogFile is the on-disk form of a catalog:
//
//	tables:
//	- name: pm1.g1
//	  source: pm1
//	  cardinality: 1000
//	  keys: [[e1]]
//	  access_patterns: [[e1]]
//	  conformed_sources: [pm3]
//	  columns:
//	  - name: e1
//	    searchability: equality_only
//	    distinct_values: 100
type catalogFile struct {
	Tables []tableFile `json:"tables"`
}

type tableFile struct {
	Name             string       `json:"name"`
	Source           string       `json:"source"`
	Cardinality      *int64       `json:"cardinality,omitempty"`
	Keys             [][]string   `json:"keys,omitempty"`
	AccessPatterns   [][]string   `json:"access_patterns,omitempty"`
	ConformedSources []string     `json:"conformed_sources,omitempty"`
	Columns          []columnFile `json:"columns"`
}

type columnFile struct {
	Name           string `json:"name"`
	Searchability  string `json:"searchability,omitempty"`
	DistinctValues *int64 `json:"distinct_values,omitempty"`
	NullValues     *int64 `json:"null_values,omitempty"`
}

func orUnknown(v *int64) int64 {
	if v == nil {
		return Unknown
	}
	return *v
}

// Parse builds a catalog from its YAML (or JSON) document.
func Parse(data []byte) (*MemCatalog, error) {
	var doc catalogFile
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, federrors.MetadataError("cannot parse catalog: %v", err)
	}

	catalog, _ := NewMemCatalog()
	for _, tf := range doc.Tables {
		t := &Table{
			Name:             tf.Name,
			Source:           tf.Source,
			Keys:             tf.Keys,
			Cardinality:      orUnknown(tf.Cardinality),
			ConformedSources: tf.ConformedSources,
		}
		for _, ap := range tf.AccessPatterns {
			t.AccessPatterns = append(t.AccessPatterns, AccessPattern(ap))
		}
		for _, cf := range tf.Columns {
			s, err := ParseSearchability(cf.Searchability)
			if err != nil {
				return nil, federrors.Wrapf(err, "column %s.%s", tf.Name, cf.Name)
			}
			t.Columns = append(t.Columns, &Column{
				Name:           cf.Name,
				Searchability:  s,
				DistinctValues: orUnknown(cf.DistinctValues),
				NullValues:     orUnknown(cf.NullValues),
			})
		}
		if err := catalog.Add(t); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// LoadFile reads a catalog document from the file system.
func LoadFile(fs afero.Fs, path string) (*MemCatalog, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, federrors.Wrapf(err, "reading catalog %s", path)
	}
	return Parse(data)
}
