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

// Package memstore is an in-process, mutex-guarded implementation of
// store.Store, used by librariand in single-node/test mode and by the
// rest of the module's unit tests.
package memstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rackscale/lfs-librarian/internal/store"
)

// state is the durable snapshot a MemStore holds. One transaction at a
// time operates on a working copy of it; Commit swaps the copy back in.
type state struct {
	globals     store.Globals
	nextShelfID uint64
	nextHandle  uint64
	shelves     map[uint64]store.Shelf
	books       map[uint64]store.Book
	bos         map[uint64][]store.BOS // keyed by shelf id, ordered by seq_num
	xattrs      map[uint64]map[string]store.XAttr
	opened      map[uint64]store.OpenedShelf
}

func newState(globals store.Globals) *state {
	return &state{
		globals:     globals,
		nextShelfID: 1,
		nextHandle:  1,
		shelves:     map[uint64]store.Shelf{},
		books:       map[uint64]store.Book{},
		bos:         map[uint64][]store.BOS{},
		xattrs:      map[uint64]map[string]store.XAttr{},
		opened:      map[uint64]store.OpenedShelf{},
	}
}

func (s *state) clone() *state {
	c := &state{
		globals:     s.globals,
		nextShelfID: s.nextShelfID,
		nextHandle:  s.nextHandle,
		shelves:     make(map[uint64]store.Shelf, len(s.shelves)),
		books:       make(map[uint64]store.Book, len(s.books)),
		bos:         make(map[uint64][]store.BOS, len(s.bos)),
		xattrs:      make(map[uint64]map[string]store.XAttr, len(s.xattrs)),
		opened:      make(map[uint64]store.OpenedShelf, len(s.opened)),
	}
	for k, v := range s.shelves {
		c.shelves[k] = v
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	for k, v := range s.bos {
		rows := make([]store.BOS, len(v))
		copy(rows, v)
		c.bos[k] = rows
	}
	for k, v := range s.xattrs {
		m := make(map[string]store.XAttr, len(v))
		for kk, vv := range v {
			m[kk] = vv
		}
		c.xattrs[k] = m
	}
	for k, v := range s.opened {
		c.opened[k] = v
	}
	return c
}

// MemStore is an in-memory store.Store. A single mutex enforces the
// engine's single-writer transaction model (§5): Begin blocks until any
// prior transaction commits or rolls back.
type MemStore struct {
	mu  sync.Mutex
	cur *state
}

// New creates a MemStore whose books are pre-populated FREE from the
// given per-node book counts (node id -> book count), using globals for
// the book size and per-IG counts. Node N owns IG = N-1.
func New(globals store.Globals, booksPerNode map[int]int) *MemStore {
	st := newState(globals)
	var nextBookID uint64 = 1
	for node, count := range booksPerNode {
		ig := node - 1
		for bn := 0; bn < count; bn++ {
			st.books[nextBookID] = store.Book{
				ID:       nextBookID,
				NodeID:   node,
				IG:       ig,
				BookNum:  bn,
				State:    store.BookFree,
				SizeByte: globals.BookSizeBytes,
			}
			nextBookID++
		}
	}
	return &MemStore{cur: st}
}

func (m *MemStore) Begin() (store.Tx, error) {
	m.mu.Lock()
	return &tx{parent: m, work: m.cur.clone()}, nil
}

func (m *MemStore) Close() error { return nil }

type tx struct {
	parent *MemStore
	work   *state
	done   bool
}

func (t *tx) finish() {
	if !t.done {
		t.done = true
		t.parent.mu.Unlock()
	}
}

func (t *tx) Commit() error {
	defer t.finish()
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.parent.cur = t.work
	return nil
}

func (t *tx) Rollback() error {
	defer t.finish()
	return nil
}

func (t *tx) GetGlobals() (store.Globals, error) {
	return t.work.globals, nil
}

func (t *tx) CreateShelf(name string) (store.Shelf, error) {
	id := t.work.nextShelfID
	t.work.nextShelfID++
	now := monotonicNow()
	sh := store.Shelf{ID: id, Name: name, CreateTime: now, ModTime: now}
	t.work.shelves[id] = sh
	return sh, nil
}

func (t *tx) GetShelf(match store.ShelfMatch) (store.Shelf, error) {
	if match.ByID {
		sh, ok := t.work.shelves[match.ID]
		if !ok {
			return store.Shelf{}, fmt.Errorf("shelf id %d: not found", match.ID)
		}
		return sh, nil
	}
	for _, sh := range t.work.shelves {
		if sh.Name == match.Name {
			return sh, nil
		}
	}
	return store.Shelf{}, fmt.Errorf("shelf %q: not found", match.Name)
}

func (t *tx) GetShelfAll() ([]store.Shelf, error) {
	out := make([]store.Shelf, 0, len(t.work.shelves))
	for _, sh := range t.work.shelves {
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) ModifyShelf(shelf store.Shelf) error {
	if _, ok := t.work.shelves[shelf.ID]; !ok {
		return fmt.Errorf("shelf id %d: not found", shelf.ID)
	}
	shelf.Version++
	t.work.shelves[shelf.ID] = shelf
	return nil
}

func (t *tx) DeleteShelf(shelfID uint64) error {
	if _, ok := t.work.shelves[shelfID]; !ok {
		return fmt.Errorf("shelf id %d: not found", shelfID)
	}
	delete(t.work.shelves, shelfID)
	delete(t.work.bos, shelfID)
	delete(t.work.xattrs, shelfID)
	return nil
}

func (t *tx) GetBooksByIntlvGroup(limit int, igs []int, exclude map[uint64]bool, ascending bool) ([]store.Book, error) {
	var igSet map[int]bool
	if len(igs) > 0 {
		igSet = make(map[int]bool, len(igs))
		for _, ig := range igs {
			igSet[ig] = true
		}
	}
	var matches []store.Book
	for _, b := range t.work.books {
		if b.State != store.BookFree {
			continue
		}
		if exclude != nil && exclude[b.ID] {
			continue
		}
		if igSet != nil && !igSet[b.IG] {
			continue
		}
		matches = append(matches, b)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].IG != matches[j].IG {
			if ascending {
				return matches[i].IG < matches[j].IG
			}
			return matches[i].IG > matches[j].IG
		}
		if ascending {
			return matches[i].BookNum < matches[j].BookNum
		}
		return matches[i].BookNum > matches[j].BookNum
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (t *tx) GetBookByNode(node int, state store.BookState, limit int) ([]store.Book, error) {
	var matches []store.Book
	for _, b := range t.work.books {
		if b.NodeID == node && b.State == state {
			matches = append(matches, b)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].BookNum < matches[j].BookNum })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (t *tx) GetBookByID(id uint64) (store.Book, error) {
	b, ok := t.work.books[id]
	if !ok {
		return store.Book{}, fmt.Errorf("book id %d: not found", id)
	}
	return b, nil
}

func (t *tx) ModifyBook(book store.Book) error {
	if _, ok := t.work.books[book.ID]; !ok {
		return fmt.Errorf("book id %d: not found", book.ID)
	}
	book.Version++
	t.work.books[book.ID] = book
	return nil
}

func (t *tx) CreateBOS(bos store.BOS) error {
	t.work.bos[bos.ShelfID] = append(t.work.bos[bos.ShelfID], bos)
	return nil
}

func (t *tx) DeleteBOS(shelfID uint64, seqNum int) error {
	rows := t.work.bos[shelfID]
	for i, r := range rows {
		if r.SeqNum == seqNum {
			t.work.bos[shelfID] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("shelf %d: bos seq_num %d not found", shelfID, seqNum)
}

func (t *tx) GetBOSByShelfID(shelfID uint64) ([]store.BOS, error) {
	rows := t.work.bos[shelfID]
	out := make([]store.BOS, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	return out, nil
}

func (t *tx) GetXAttr(shelfID uint64, name string) (store.XAttr, error) {
	m, ok := t.work.xattrs[shelfID]
	if !ok {
		return store.XAttr{}, fmt.Errorf("shelf %d: xattr %q not found", shelfID, name)
	}
	x, ok := m[name]
	if !ok {
		return store.XAttr{}, fmt.Errorf("shelf %d: xattr %q not found", shelfID, name)
	}
	return x, nil
}

func (t *tx) ListXAttrs(shelfID uint64) ([]store.XAttr, error) {
	m := t.work.xattrs[shelfID]
	out := make([]store.XAttr, 0, len(m))
	for _, x := range m {
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) CreateXAttr(x store.XAttr) error {
	m, ok := t.work.xattrs[x.ShelfID]
	if !ok {
		m = map[string]store.XAttr{}
		t.work.xattrs[x.ShelfID] = m
	}
	m[x.Name] = x
	return nil
}

func (t *tx) ModifyXAttr(x store.XAttr) error {
	return t.CreateXAttr(x)
}

func (t *tx) DeleteXAttr(shelfID uint64, name string) error {
	m := t.work.xattrs[shelfID]
	if m == nil {
		return fmt.Errorf("shelf %d: xattr %q not found", shelfID, name)
	}
	delete(m, name)
	return nil
}

func (t *tx) ModifyOpenedShelves(os store.OpenedShelf, put bool) (store.OpenedShelf, error) {
	if put {
		os.Handle = t.work.nextHandle
		t.work.nextHandle++
		t.work.opened[os.Handle] = os
		return os, nil
	}
	existing, ok := t.work.opened[os.Handle]
	if !ok {
		return store.OpenedShelf{}, fmt.Errorf("handle %d: not found", os.Handle)
	}
	delete(t.work.opened, os.Handle)
	return existing, nil
}

func (t *tx) OpenCount(shelfID uint64) (int, error) {
	count := 0
	for _, os := range t.work.opened {
		if os.ShelfID == shelfID {
			count++
		}
	}
	return count, nil
}

// monotonicNow exists so tests can see distinct, strictly increasing
// timestamps without depending on wall-clock resolution.
var monotonicCounter int64

func monotonicNow() time.Time {
	monotonicCounter++
	return time.Unix(monotonicCounter, 0).UTC()
}
