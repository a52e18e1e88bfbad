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

package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rackscale/lfs-librarian/internal/store"
)

type tx struct {
	sqlTx *sql.Tx
}

func (t *tx) Commit() error   { return t.sqlTx.Commit() }
func (t *tx) Rollback() error { return t.sqlTx.Rollback() }

func (t *tx) GetGlobals() (store.Globals, error) {
	var g store.Globals
	err := t.sqlTx.QueryRow(`SELECT book_size_bytes, nvm_bytes_total, version FROM globals WHERE id = 0`).
		Scan(&g.BookSizeBytes, &g.NVMBytesTotal, &g.Version)
	if err != nil {
		return store.Globals{}, fmt.Errorf("reading globals: %w", err)
	}
	return g, nil
}

func scanShelf(row interface{ Scan(...any) error }) (store.Shelf, error) {
	var sh store.Shelf
	var createTime, modTime int64
	err := row.Scan(&sh.ID, &sh.Name, &sh.SizeBytes, &sh.BookCount, &createTime, &modTime, &sh.Version)
	if err != nil {
		return store.Shelf{}, err
	}
	sh.CreateTime = time.Unix(createTime, 0).UTC()
	sh.ModTime = time.Unix(modTime, 0).UTC()
	return sh, nil
}

func (t *tx) CreateShelf(name string) (store.Shelf, error) {
	now := time.Now().UTC()
	res, err := t.sqlTx.Exec(`INSERT INTO shelves (name, size_bytes, book_count, create_time, mod_time) VALUES (?, 0, 0, ?, ?)`,
		name, now.Unix(), now.Unix())
	if err != nil {
		return store.Shelf{}, fmt.Errorf("creating shelf %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.Shelf{}, err
	}
	return store.Shelf{ID: uint64(id), Name: name, CreateTime: now, ModTime: now}, nil
}

func (t *tx) GetShelf(match store.ShelfMatch) (store.Shelf, error) {
	const cols = `id, name, size_bytes, book_count, create_time, mod_time, version`
	if match.ByID {
		row := t.sqlTx.QueryRow(`SELECT `+cols+` FROM shelves WHERE id = ?`, match.ID)
		return scanShelf(row)
	}
	row := t.sqlTx.QueryRow(`SELECT `+cols+` FROM shelves WHERE name = ?`, match.Name)
	return scanShelf(row)
}

func (t *tx) GetShelfAll() ([]store.Shelf, error) {
	rows, err := t.sqlTx.Query(`SELECT id, name, size_bytes, book_count, create_time, mod_time, version FROM shelves ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Shelf
	for rows.Next() {
		sh, err := scanShelf(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (t *tx) ModifyShelf(shelf store.Shelf) error {
	_, err := t.sqlTx.Exec(
		`UPDATE shelves SET size_bytes = ?, book_count = ?, mod_time = ?, version = version + 1 WHERE id = ?`,
		shelf.SizeBytes, shelf.BookCount, shelf.ModTime.Unix(), shelf.ID)
	return err
}

func (t *tx) DeleteShelf(shelfID uint64) error {
	if _, err := t.sqlTx.Exec(`DELETE FROM bos WHERE shelf_id = ?`, shelfID); err != nil {
		return err
	}
	if _, err := t.sqlTx.Exec(`DELETE FROM xattrs WHERE shelf_id = ?`, shelfID); err != nil {
		return err
	}
	_, err := t.sqlTx.Exec(`DELETE FROM shelves WHERE id = ?`, shelfID)
	return err
}

func scanBook(row interface{ Scan(...any) error }) (store.Book, error) {
	var b store.Book
	var state int
	if err := row.Scan(&b.ID, &b.NodeID, &b.IG, &b.BookNum, &state, &b.Attrs, &b.SizeByte, &b.Version); err != nil {
		return store.Book{}, err
	}
	b.State = store.BookState(state)
	return b, nil
}

func (t *tx) GetBooksByIntlvGroup(limit int, igs []int, exclude map[uint64]bool, ascending bool) ([]store.Book, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT id, node_id, ig, book_num, state, attrs, size_bytes, version FROM books WHERE state = ?`)
	args := []any{int(store.BookFree)}
	if len(igs) > 0 {
		placeholders := make([]string, len(igs))
		for i, ig := range igs {
			placeholders[i] = "?"
			args = append(args, ig)
		}
		q.WriteString(` AND ig IN (` + strings.Join(placeholders, ",") + `)`)
	}
	if ascending {
		q.WriteString(` ORDER BY ig ASC, book_num ASC`)
	} else {
		q.WriteString(` ORDER BY ig DESC, book_num DESC`)
	}
	rows, err := t.sqlTx.Query(q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		if exclude != nil && exclude[b.ID] {
			continue
		}
		out = append(out, b)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func (t *tx) GetBookByNode(node int, state store.BookState, limit int) ([]store.Book, error) {
	q := `SELECT id, node_id, ig, book_num, state, attrs, size_bytes, version FROM books WHERE node_id = ? AND state = ? ORDER BY book_num ASC`
	rows, err := t.sqlTx.Query(q, node, int(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func (t *tx) GetBookByID(id uint64) (store.Book, error) {
	row := t.sqlTx.QueryRow(`SELECT id, node_id, ig, book_num, state, attrs, size_bytes, version FROM books WHERE id = ?`, id)
	return scanBook(row)
}

func (t *tx) ModifyBook(book store.Book) error {
	_, err := t.sqlTx.Exec(
		`UPDATE books SET state = ?, attrs = ?, version = version + 1 WHERE id = ?`,
		int(book.State), book.Attrs, book.ID)
	return err
}

func (t *tx) CreateBOS(bos store.BOS) error {
	_, err := t.sqlTx.Exec(`INSERT INTO bos (shelf_id, book_id, seq_num) VALUES (?, ?, ?)`, bos.ShelfID, bos.BookID, bos.SeqNum)
	return err
}

func (t *tx) DeleteBOS(shelfID uint64, seqNum int) error {
	_, err := t.sqlTx.Exec(`DELETE FROM bos WHERE shelf_id = ? AND seq_num = ?`, shelfID, seqNum)
	return err
}

func (t *tx) GetBOSByShelfID(shelfID uint64) ([]store.BOS, error) {
	rows, err := t.sqlTx.Query(`SELECT shelf_id, book_id, seq_num FROM bos WHERE shelf_id = ? ORDER BY seq_num ASC`, shelfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.BOS
	for rows.Next() {
		var b store.BOS
		if err := rows.Scan(&b.ShelfID, &b.BookID, &b.SeqNum); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *tx) GetXAttr(shelfID uint64, name string) (store.XAttr, error) {
	var x store.XAttr
	err := t.sqlTx.QueryRow(`SELECT shelf_id, name, value FROM xattrs WHERE shelf_id = ? AND name = ?`, shelfID, name).
		Scan(&x.ShelfID, &x.Name, &x.Value)
	return x, err
}

func (t *tx) ListXAttrs(shelfID uint64) ([]store.XAttr, error) {
	rows, err := t.sqlTx.Query(`SELECT shelf_id, name, value FROM xattrs WHERE shelf_id = ? ORDER BY name`, shelfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.XAttr
	for rows.Next() {
		var x store.XAttr
		if err := rows.Scan(&x.ShelfID, &x.Name, &x.Value); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func (t *tx) CreateXAttr(x store.XAttr) error {
	_, err := t.sqlTx.Exec(`REPLACE INTO xattrs (shelf_id, name, value) VALUES (?, ?, ?)`, x.ShelfID, x.Name, x.Value)
	return err
}

func (t *tx) ModifyXAttr(x store.XAttr) error { return t.CreateXAttr(x) }

func (t *tx) DeleteXAttr(shelfID uint64, name string) error {
	_, err := t.sqlTx.Exec(`DELETE FROM xattrs WHERE shelf_id = ? AND name = ?`, shelfID, name)
	return err
}

func (t *tx) ModifyOpenedShelves(os store.OpenedShelf, put bool) (store.OpenedShelf, error) {
	if put {
		res, err := t.sqlTx.Exec(`INSERT INTO opened_shelves (shelf_id, node_id, pid, uid, gid) VALUES (?, ?, ?, ?, ?)`,
			os.ShelfID, os.NodeID, os.PID, os.UID, os.GID)
		if err != nil {
			return store.OpenedShelf{}, err
		}
		handle, err := res.LastInsertId()
		if err != nil {
			return store.OpenedShelf{}, err
		}
		os.Handle = uint64(handle)
		return os, nil
	}
	var existing store.OpenedShelf
	err := t.sqlTx.QueryRow(`SELECT handle, shelf_id, node_id, pid, uid, gid FROM opened_shelves WHERE handle = ?`, os.Handle).
		Scan(&existing.Handle, &existing.ShelfID, &existing.NodeID, &existing.PID, &existing.UID, &existing.GID)
	if err != nil {
		return store.OpenedShelf{}, err
	}
	_, err = t.sqlTx.Exec(`DELETE FROM opened_shelves WHERE handle = ?`, os.Handle)
	return existing, err
}

func (t *tx) OpenCount(shelfID uint64) (int, error) {
	var count int
	err := t.sqlTx.QueryRow(`SELECT COUNT(*) FROM opened_shelves WHERE shelf_id = ?`, shelfID).Scan(&count)
	return count, err
}
