// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlstore is a database/sql-backed implementation of
// store.Store, against SQLite via github.com/mattn/go-sqlite3. It
// implements exactly the transactional row operations store.Tx names;
// commit/rollback map directly onto *sql.Tx.
package sqlstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rackscale/lfs-librarian/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS globals (
  id INTEGER PRIMARY KEY CHECK (id = 0),
  book_size_bytes INTEGER NOT NULL,
  nvm_bytes_total INTEGER NOT NULL,
  version TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS shelves (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  size_bytes INTEGER NOT NULL DEFAULT 0,
  book_count INTEGER NOT NULL DEFAULT 0,
  create_time INTEGER NOT NULL,
  mod_time INTEGER NOT NULL,
  version INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS books (
  id INTEGER PRIMARY KEY,
  node_id INTEGER NOT NULL,
  ig INTEGER NOT NULL,
  book_num INTEGER NOT NULL,
  state INTEGER NOT NULL,
  attrs INTEGER NOT NULL DEFAULT 0,
  size_bytes INTEGER NOT NULL,
  version INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bos (
  shelf_id INTEGER NOT NULL,
  book_id INTEGER NOT NULL,
  seq_num INTEGER NOT NULL,
  PRIMARY KEY (shelf_id, seq_num)
);

CREATE TABLE IF NOT EXISTS xattrs (
  shelf_id INTEGER NOT NULL,
  name TEXT NOT NULL,
  value TEXT NOT NULL,
  PRIMARY KEY (shelf_id, name)
);

CREATE TABLE IF NOT EXISTS opened_shelves (
  handle INTEGER PRIMARY KEY AUTOINCREMENT,
  shelf_id INTEGER NOT NULL,
  node_id INTEGER NOT NULL,
  pid INTEGER NOT NULL,
  uid INTEGER NOT NULL,
  gid INTEGER NOT NULL
);

PRAGMA busy_timeout = 5000;
`

// SQLStore is a database/sql-backed store.Store.
type SQLStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite-backed store at dsn and
// initializes its schema.
func Open(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store %q: %w", dsn, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing sqlite schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Begin() (store.Tx, error) {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning sqlite transaction: %w", err)
	}
	return &tx{sqlTx: sqlTx}, nil
}

// SeedGlobals writes the one globals row, replacing any prior value.
// Called once at daemon startup from topology-derived values.
func (s *SQLStore) SeedGlobals(g store.Globals) error {
	_, err := s.db.Exec(`REPLACE INTO globals (id, book_size_bytes, nvm_bytes_total, version) VALUES (0, ?, ?, ?)`,
		g.BookSizeBytes, g.NVMBytesTotal, g.Version)
	return err
}

// SeedBooks inserts the FREE books derived from topology at store init.
// id is the caller-assigned stable book id.
func (s *SQLStore) SeedBooks(books []store.Book) error {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, b := range books {
		if _, err := sqlTx.Exec(
			`REPLACE INTO books (id, node_id, ig, book_num, state, attrs, size_bytes, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.NodeID, b.IG, b.BookNum, int(b.State), b.Attrs, b.SizeByte, b.Version); err != nil {
			sqlTx.Rollback()
			return err
		}
	}
	return sqlTx.Commit()
}
