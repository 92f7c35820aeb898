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
	"sort"
	"strings"

	"github.com/fedplan/fedplan/go/fed/federrors"
)

// Catalog gives read access to table metadata.
type Catalog interface {
	// Table returns the named table, or an error if it is not known.
	Table(name string) (*Table, error)
}

// MemCatalog is a Catalog held in memory. It is safe for concurrent reads
// once loading is done.
type MemCatalog struct {
	tables map[string]*Table
}

var _ Catalog = (*MemCatalog)(nil)

// NewMemCatalog returns a catalog holding the given tables, after
// validating them.
func NewMemCatalog(tables ...*Table) (*MemCatalog, error) {
	c := &MemCatalog{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		if err := c.Add(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add validates and adds a table.
func (c *MemCatalog) Add(t *Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	key := strings.ToLower(t.Name)
	if _, exists := c.tables[key]; exists {
		return federrors.MetadataError("duplicate table %s", t.Name)
	}
	c.tables[key] = t
	return nil
}

// Table implements the Catalog interface.
func (c *MemCatalog) Table(name string) (*Table, error) {
	t, ok := c.tables[strings.ToLower(name)]
	if !ok {
		return nil, federrors.FED10004(name)
	}
	return t, nil
}

// Tables returns all tables sorted by name.
func (c *MemCatalog) Tables() []*Table {
	res := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}
