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

package bookpolicy

import (
	"testing"

	"github.com/rackscale/lfs-librarian/internal/store"
	"github.com/rackscale/lfs-librarian/internal/store/memstore"
	"github.com/stretchr/testify/suite"
)

type BookPolicyTest struct {
	suite.Suite
	reg *Registry
}

func TestBookPolicySuite(t *testing.T) {
	suite.Run(t, new(BookPolicyTest))
}

func (t *BookPolicyTest) SetupTest() {
	t.reg = NewRegistry()
}

func (t *BookPolicyTest) TestGetUnknownPolicyErrors() {
	_, err := t.reg.Get("Bogus")
	t.Error(err)
}

func (t *BookPolicyTest) TestLocalNodeReturnsOnlyCallerIG() {
	ms := memstore.New(store.Globals{BookSizeBytes: 1 << 20}, map[int]int{1: 3, 2: 5})
	tx, err := ms.Begin()
	t.Require().NoError(err)
	defer tx.Rollback()

	policy, err := t.reg.Get(LocalNode)
	t.Require().NoError(err)

	books, err := policy(tx, Context{NodeID: 1}, 10, nil)
	t.Require().NoError(err)
	t.Require().Len(books, 3)
	for _, b := range books {
		t.Equal(1-1, b.IG)
	}
}

func (t *BookPolicyTest) TestLZAAscendingStrictlyIncreasing() {
	ms := memstore.New(store.Globals{BookSizeBytes: 1 << 20}, map[int]int{1: 3, 2: 3})
	tx, err := ms.Begin()
	t.Require().NoError(err)
	defer tx.Rollback()

	policy, err := t.reg.Get(LZAascending)
	t.Require().NoError(err)
	books, err := policy(tx, Context{NodeID: 1}, 6, nil)
	t.Require().NoError(err)
	t.Require().Len(books, 6)
	for i := 1; i < len(books); i++ {
		less := books[i-1].IG < books[i].IG ||
			(books[i-1].IG == books[i].IG && books[i-1].BookNum < books[i].BookNum)
		t.True(less)
	}
}

func (t *BookPolicyTest) TestLZADescendingStrictlyDecreasing() {
	ms := memstore.New(store.Globals{BookSizeBytes: 1 << 20}, map[int]int{1: 3, 2: 3})
	tx, err := ms.Begin()
	t.Require().NoError(err)
	defer tx.Rollback()

	policy, err := t.reg.Get(LZAdescending)
	t.Require().NoError(err)
	books, err := policy(tx, Context{NodeID: 1}, 6, nil)
	t.Require().NoError(err)
	t.Require().Len(books, 6)
	for i := 1; i < len(books); i++ {
		more := books[i-1].IG > books[i].IG ||
			(books[i-1].IG == books[i].IG && books[i-1].BookNum > books[i].BookNum)
		t.True(more)
	}
}

// TestNearestScenarioS3 reproduces spec scenario S3: node 2 in enclosure
// 1 (nodes 1..10), 2 free books on node 2, 5 free books on each of
// nodes 1,3..10, 100 free books on nodes 11+. Requesting 6 must return
// the 2 local books plus 4 drawn only from nodes 1,3..10.
func (t *BookPolicyTest) TestNearestScenarioS3() {
	booksPerNode := map[int]int{2: 2}
	for n := 1; n <= 10; n++ {
		if n == 2 {
			continue
		}
		booksPerNode[n] = 5
	}
	for n := 11; n <= 12; n++ {
		booksPerNode[n] = 100
	}
	ms := memstore.New(store.Globals{BookSizeBytes: 1 << 20}, booksPerNode)
	tx, err := ms.Begin()
	t.Require().NoError(err)
	defer tx.Rollback()

	policy, err := t.reg.Get(Nearest)
	t.Require().NoError(err)
	books, err := policy(tx, Context{NodeID: 2}, 6, nil)
	t.Require().NoError(err)
	t.Require().Len(books, 6)

	localCount := 0
	for _, b := range books {
		t.LessOrEqual(b.NodeID, 10, "Nearest must not draw from enclosure 2+ while enclosure 1 can satisfy the request")
		if b.NodeID == 2 {
			localCount++
		}
	}
	t.Equal(2, localCount)
}

func (t *BookPolicyTest) TestRandomBooksNeverDuplicates() {
	ms := memstore.New(store.Globals{BookSizeBytes: 1 << 20}, map[int]int{1: 10})
	tx, err := ms.Begin()
	t.Require().NoError(err)
	defer tx.Rollback()

	policy, err := t.reg.Get(RandomBooks)
	t.Require().NoError(err)
	books, err := policy(tx, Context{NodeID: 1}, 10, nil)
	t.Require().NoError(err)
	t.Require().Len(books, 10)

	seen := map[uint64]bool{}
	for _, b := range books {
		t.False(seen[b.ID])
		seen[b.ID] = true
	}
}
