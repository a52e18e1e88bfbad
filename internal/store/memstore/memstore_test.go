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

package memstore

import (
	"testing"

	"github.com/rackscale/lfs-librarian/internal/store"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemStoreTest struct {
	suite.Suite
	ms *MemStore
}

func TestMemStoreSuite(t *testing.T) {
	suite.Run(t, new(MemStoreTest))
}

func (t *MemStoreTest) SetupTest() {
	t.ms = New(store.Globals{BookSizeBytes: 1 << 20}, map[int]int{1: 3, 2: 2})
}

func (t *MemStoreTest) TestCreateAndGetShelf() {
	tx, err := t.ms.Begin()
	t.Require().NoError(err)

	sh, err := tx.CreateShelf("xyzzy")
	t.Require().NoError(err)
	t.Require().NoError(tx.Commit())

	tx2, err := t.ms.Begin()
	t.Require().NoError(err)
	defer tx2.Rollback()

	got, err := tx2.GetShelf(store.ShelfMatch{Name: "xyzzy"})
	t.Require().NoError(err)
	t.Equal(sh.ID, got.ID)
}

func (t *MemStoreTest) TestRollbackDiscardsChanges() {
	tx, err := t.ms.Begin()
	t.Require().NoError(err)
	_, err = tx.CreateShelf("temp")
	t.Require().NoError(err)
	t.Require().NoError(tx.Rollback())

	tx2, err := t.ms.Begin()
	t.Require().NoError(err)
	defer tx2.Rollback()
	_, err = tx2.GetShelf(store.ShelfMatch{Name: "temp"})
	t.Error(err)
}

func (t *MemStoreTest) TestGetBooksByIntlvGroupOrdering() {
	tx, err := t.ms.Begin()
	require.NoError(t.T(), err)
	defer tx.Rollback()

	books, err := tx.GetBooksByIntlvGroup(0, nil, nil, true)
	t.Require().NoError(err)
	t.Len(books, 5)
	for i := 1; i < len(books); i++ {
		less := books[i-1].IG < books[i].IG ||
			(books[i-1].IG == books[i].IG && books[i-1].BookNum < books[i].BookNum)
		t.True(less)
	}
}

func (t *MemStoreTest) TestBookStateTransition() {
	tx, err := t.ms.Begin()
	t.Require().NoError(err)
	defer tx.Rollback()

	books, err := tx.GetBookByNode(1, store.BookFree, 1)
	t.Require().NoError(err)
	t.Require().Len(books, 1)

	b := books[0]
	b.State = store.BookInUse
	t.Require().NoError(tx.ModifyBook(b))

	got, err := tx.GetBookByID(b.ID)
	t.Require().NoError(err)
	t.Equal(store.BookInUse, got.State)
}

func (t *MemStoreTest) TestOpenedShelfPutAndGet() {
	tx, err := t.ms.Begin()
	t.Require().NoError(err)
	defer tx.Rollback()

	sh, err := tx.CreateShelf("s")
	t.Require().NoError(err)

	os, err := tx.ModifyOpenedShelves(store.OpenedShelf{ShelfID: sh.ID, NodeID: 1, PID: 100}, true)
	t.Require().NoError(err)
	t.NotZero(os.Handle)

	count, err := tx.OpenCount(sh.ID)
	t.Require().NoError(err)
	t.Equal(1, count)

	_, err = tx.ModifyOpenedShelves(store.OpenedShelf{Handle: os.Handle}, false)
	t.Require().NoError(err)

	_, err = tx.ModifyOpenedShelves(store.OpenedShelf{Handle: os.Handle}, false)
	t.Error(err)
}
