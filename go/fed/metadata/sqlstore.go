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
	"context"
	"database/sql"

	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/log"
)

// SchemaDDL creates the tables SQLStore reads from. The statements are
// portable between SQLite, PostgreSQL and MySQL.
var SchemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS fed_tables (
		name VARCHAR(255) NOT NULL PRIMARY KEY,
		source VARCHAR(255) NOT NULL,
		cardinality BIGINT NOT NULL DEFAULT -1
	)`,
	`CREATE TABLE IF NOT EXISTS fed_columns (
		table_name VARCHAR(255) NOT NULL,
		position INTEGER NOT NULL,
		name VARCHAR(255) NOT NULL,
		searchability VARCHAR(32) NOT NULL DEFAULT 'SEARCHABLE',
		distinct_values BIGINT NOT NULL DEFAULT -1,
		null_values BIGINT NOT NULL DEFAULT -1
	)`,
	`CREATE TABLE IF NOT EXISTS fed_keys (
		table_name VARCHAR(255) NOT NULL,
		key_name VARCHAR(255) NOT NULL,
		position INTEGER NOT NULL,
		column_name VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fed_access_patterns (
		table_name VARCHAR(255) NOT NULL,
		pattern_name VARCHAR(255) NOT NULL,
		column_name VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fed_conformed_sources (
		table_name VARCHAR(255) NOT NULL,
		source VARCHAR(255) NOT NULL
	)`,
}

// SQLStore loads a catalog from a relational schema.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore returns a store reading from db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// CreateSchema creates the catalog tables if they do not exist yet.
func (s *SQLStore) CreateSchema(ctx context.Context) error {
	for _, ddl := range SchemaDDL {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return federrors.Wrap(err, "creating catalog schema")
		}
	}
	return nil
}

// Load reads every table definition and returns them as a validated
// catalog. Queries take no bind variables so that they run unchanged on
// every supported driver.
func (s *SQLStore) Load(ctx context.Context) (*MemCatalog, error) {
	tables := map[string]*Table{}
	var order []string

	err := s.query(ctx, "SELECT name, source, cardinality FROM fed_tables ORDER BY name", func(rows *sql.Rows) error {
		t := &Table{}
		if err := rows.Scan(&t.Name, &t.Source, &t.Cardinality); err != nil {
			return err
		}
		tables[t.Name] = t
		order = append(order, t.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}

	lookup := func(name string) (*Table, error) {
		t, ok := tables[name]
		if !ok {
			return nil, federrors.MetadataError("catalog row references unknown table %s", name)
		}
		return t, nil
	}

	err = s.query(ctx, "SELECT table_name, name, searchability, distinct_values, null_values FROM fed_columns ORDER BY table_name, position", func(rows *sql.Rows) error {
		var tableName, searchability string
		c := &Column{}
		if err := rows.Scan(&tableName, &c.Name, &searchability, &c.DistinctValues, &c.NullValues); err != nil {
			return err
		}
		t, err := lookup(tableName)
		if err != nil {
			return err
		}
		if c.Searchability, err = ParseSearchability(searchability); err != nil {
			return err
		}
		t.Columns = append(t.Columns, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	keys := map[string]map[string]int{}
	err = s.query(ctx, "SELECT table_name, key_name, column_name FROM fed_keys ORDER BY table_name, key_name, position", func(rows *sql.Rows) error {
		var tableName, keyName, column string
		if err := rows.Scan(&tableName, &keyName, &column); err != nil {
			return err
		}
		t, err := lookup(tableName)
		if err != nil {
			return err
		}
		if keys[tableName] == nil {
			keys[tableName] = map[string]int{}
		}
		idx, ok := keys[tableName][keyName]
		if !ok {
			idx = len(t.Keys)
			keys[tableName][keyName] = idx
			t.Keys = append(t.Keys, nil)
		}
		t.Keys[idx] = append(t.Keys[idx], column)
		return nil
	})
	if err != nil {
		return nil, err
	}

	patterns := map[string]map[string]int{}
	err = s.query(ctx, "SELECT table_name, pattern_name, column_name FROM fed_access_patterns ORDER BY table_name, pattern_name, column_name", func(rows *sql.Rows) error {
		var tableName, patternName, column string
		if err := rows.Scan(&tableName, &patternName, &column); err != nil {
			return err
		}
		t, err := lookup(tableName)
		if err != nil {
			return err
		}
		if patterns[tableName] == nil {
			patterns[tableName] = map[string]int{}
		}
		idx, ok := patterns[tableName][patternName]
		if !ok {
			idx = len(t.AccessPatterns)
			patterns[tableName][patternName] = idx
			t.AccessPatterns = append(t.AccessPatterns, nil)
		}
		t.AccessPatterns[idx] = append(t.AccessPatterns[idx], column)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.query(ctx, "SELECT table_name, source FROM fed_conformed_sources ORDER BY table_name, source", func(rows *sql.Rows) error {
		var tableName, source string
		if err := rows.Scan(&tableName, &source); err != nil {
			return err
		}
		t, err := lookup(tableName)
		if err != nil {
			return err
		}
		t.ConformedSources = append(t.ConformedSources, source)
		return nil
	})
	if err != nil {
		return nil, err
	}

	catalog, _ := NewMemCatalog()
	for _, name := range order {
		if err := catalog.Add(tables[name]); err != nil {
			return nil, err
		}
	}
	log.InfoS("loaded catalog", "tables", len(order))
	return catalog, nil
}

func (s *SQLStore) query(ctx context.Context, query string, scan func(rows *sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return federrors.Wrapf(err, "querying catalog")
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return federrors.Wrapf(err, "reading catalog")
		}
	}
	return federrors.Wrap(rows.Err(), "reading catalog")
}
