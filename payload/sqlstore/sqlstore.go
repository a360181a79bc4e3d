// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package sqlstore implements payload.Store on top of a relational
database accessed through github.com/jmoiron/sqlx, with
github.com/lib/pq as the reference driver.
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DefaultTable is the table name used when Config.Table is empty.
const DefaultTable = "asyncx_payloads"

// Config configures a Store.
type Config struct {
	// Table is the name of the table payloads are stored in. It must
	// already exist with columns (key text primary key, data bytea,
	// content_type text). If empty, DefaultTable is used.
	Table string
}

// Store is a payload.Store backed by a SQL database.
type Store struct {
	db    *sqlx.DB
	table string
}

// New wraps an already-open *sqlx.DB as a Store. The caller owns the
// DB's lifecycle (including closing it); Store never closes it.
func New(db *sqlx.DB, cfg Config) *Store {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: table}
}

// Put upserts data and contentType under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, data, content_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, content_type = EXCLUDED.content_type
	`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key, data, contentType); err != nil {
		return "", fmt.Errorf("asyncx/payload/sqlstore: %w", err)
	}
	return key, nil
}

// Get retrieves the bytes stored under ref.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	query := fmt.Sprintf(`SELECT data FROM %s WHERE key = $1`, s.table)
	if err := s.db.GetContext(ctx, &data, query, ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("asyncx/payload/sqlstore: key %q not found", ref)
		}
		return nil, fmt.Errorf("asyncx/payload/sqlstore: %w", err)
	}
	return data, nil
}

// Delete removes ref. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, ref string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, ref); err != nil {
		return fmt.Errorf("asyncx/payload/sqlstore: %w", err)
	}
	return nil
}

// Exists reports whether ref currently refers to a row.
func (s *Store) Exists(ctx context.Context, ref string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE key = $1)`, s.table)
	if err := s.db.GetContext(ctx, &exists, query, ref); err != nil {
		return false, fmt.Errorf("asyncx/payload/sqlstore: %w", err)
	}
	return exists, nil
}
