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

package command

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/log"
	"github.com/fedplan/fedplan/go/fed/metadata"
)

const catalogConnectTimeout = 10 * time.Second

// loadCatalog reads the catalog from the database named by dsn, or from
// the YAML file at path when dsn is empty.
func loadCatalog(ctx context.Context, path, dsn string) (*metadata.MemCatalog, error) {
	switch {
	case dsn != "":
		return loadCatalogDSN(ctx, dsn)
	case path != "":
		return metadata.LoadFile(fs, path)
	}
	return nil, federrors.MetadataError("one of --catalog or --catalog-dsn is required")
}

// driverFor maps a catalog DSN to a database/sql driver and the data
// source name that driver expects. Supported forms are
// sqlite://<file>, mysql://<go-sql-driver DSN> and postgres://<url>.
func driverFor(dsn string) (driver string, source string, err error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "", "", federrors.MetadataError("catalog DSN %q has no scheme", dsn)
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "file":
		return "sqlite", rest, nil
	case "mysql":
		cfg, err := mysql.ParseDSN(rest)
		if err != nil {
			return "", "", federrors.Wrapf(err, "invalid mysql catalog DSN")
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = catalogConnectTimeout
		}
		return "mysql", cfg.FormatDSN(), nil
	case "postgres", "postgresql":
		conn, err := pq.ParseURL(dsn)
		if err != nil {
			return "", "", federrors.Wrapf(err, "invalid postgres catalog DSN")
		}
		return "postgres", conn, nil
	}
	return "", "", federrors.MetadataError("unsupported catalog DSN scheme %q", scheme)
}

func loadCatalogDSN(ctx context.Context, dsn string) (*metadata.MemCatalog, error) {
	driver, source, err := driverFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, federrors.Wrapf(err, "opening %s catalog", driver)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, catalogConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, federrors.Wrapf(err, "connecting to %s catalog", driver)
	}
	cat, err := metadata.NewSQLStore(db).Load(ctx)
	if err != nil {
		return nil, err
	}
	log.Infof("loaded %d tables from the %s catalog", len(cat.Tables()), driver)
	return cat, nil
}
