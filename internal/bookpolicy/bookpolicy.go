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

// Package bookpolicy implements the allocation policies the engine
// consults when growing a shelf: LocalNode, Nearest, RandomBooks,
// LZAascending and LZAdescending. Every policy is a pure function over
// a store.Tx snapshot; none mutate the store. Allocating the returned
// books (FREE -> IN_USE) is the engine's responsibility.
package bookpolicy

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rackscale/lfs-librarian/internal/store"
)

// Name is one of the policy names visible through
// user.LFS.AllocationPolicy.
type Name string

const (
	LocalNode    Name = "LocalNode"
	Nearest      Name = "Nearest"
	RandomBooks  Name = "RandomBooks"
	LZAascending Name = "LZAascending"
	LZAdescending Name = "LZAdescending"
)

// List is the fixed enumeration exposed read-only through
// user.LFS.AllocationPolicyList.
var List = []Name{LocalNode, Nearest, RandomBooks, LZAascending, LZAdescending}

// Context carries the per-call fields a policy needs to resolve
// locality; it mirrors the engine's command context.
type Context struct {
	NodeID int
}

// Policy selects up to count FREE books, excluding any book id already
// in exclude. It may return fewer than count books; it never mutates
// tx.
type Policy func(tx store.Tx, ctx Context, count int, exclude map[uint64]bool) ([]store.Book, error)

// Registry resolves a policy name to its implementation.
type Registry struct {
	policies map[Name]Policy
}

// NewRegistry builds the fixed registry of the five named policies.
func NewRegistry() *Registry {
	return &Registry{
		policies: map[Name]Policy{
			LocalNode:     localNode,
			Nearest:       nearest,
			RandomBooks:   randomBooks,
			LZAascending:  lzaAscending,
			LZAdescending: lzaDescending,
		},
	}
}

// Get resolves name to its Policy. An unknown name is the one place
// outside unimplemented commands the engine surfaces ENOSYS.
func (r *Registry) Get(name Name) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("unknown allocation policy %q", name)
	}
	return p, nil
}

func filterExcluded(books []store.Book, exclude map[uint64]bool) []store.Book {
	if len(exclude) == 0 {
		return books
	}
	out := books[:0:0]
	for _, b := range books {
		if !exclude[b.ID] {
			out = append(out, b)
		}
	}
	return out
}

func localNode(tx store.Tx, ctx Context, count int, exclude map[uint64]bool) ([]store.Book, error) {
	books, err := tx.GetBookByNode(ctx.NodeID, store.BookFree, 0)
	if err != nil {
		return nil, err
	}
	books = filterExcluded(books, exclude)
	if len(books) > count {
		books = books[:count]
	}
	return books, nil
}

// enclosureOf derives a node's enclosure under the design's fixed
// 10-nodes-per-enclosure layout.
func enclosureOf(nodeID int) int {
	return ((nodeID - 1) / 10) + 1
}

// enclosureNodes lists every node id sharing enc.
func enclosureNodes(enc int) []int {
	start := (enc-1)*10 + 1
	nodes := make([]int, 10)
	for i := range nodes {
		nodes[i] = start + i
	}
	return nodes
}

// nearest implements LocalNode first (candidate order preserved,
// intentionally not shuffled — locality must be stable within the
// local node), then tops up with shuffled enclosure-mates, then
// shuffled rack-wide remainders, never duplicating a book.
func nearest(tx store.Tx, ctx Context, count int, exclude map[uint64]bool) ([]store.Book, error) {
	chosen, err := localNode(tx, ctx, count, exclude)
	if err != nil {
		return nil, err
	}
	if len(chosen) >= count {
		return chosen, nil
	}

	taken := make(map[uint64]bool, len(exclude)+len(chosen))
	for k := range exclude {
		taken[k] = true
	}
	for _, b := range chosen {
		taken[b.ID] = true
	}

	enc := enclosureOf(ctx.NodeID)
	encMates := enclosureNodes(enc)
	encCandidates, err := collectFromNodes(tx, encMates, taken)
	if err != nil {
		return nil, err
	}
	shuffle(encCandidates)
	chosen = appendUpTo(chosen, encCandidates, count, taken)
	if len(chosen) >= count {
		return chosen, nil
	}

	allIGs, err := tx.GetBooksByIntlvGroup(0, nil, taken, true)
	if err != nil {
		return nil, err
	}
	shuffle(allIGs)
	chosen = appendUpTo(chosen, allIGs, count, taken)
	return chosen, nil
}

func collectFromNodes(tx store.Tx, nodes []int, taken map[uint64]bool) ([]store.Book, error) {
	var out []store.Book
	for _, n := range nodes {
		books, err := tx.GetBookByNode(n, store.BookFree, 0)
		if err != nil {
			return nil, err
		}
		for _, b := range books {
			if !taken[b.ID] {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func appendUpTo(chosen, candidates []store.Book, count int, taken map[uint64]bool) []store.Book {
	for _, b := range candidates {
		if len(chosen) >= count {
			break
		}
		if taken[b.ID] {
			continue
		}
		taken[b.ID] = true
		chosen = append(chosen, b)
	}
	return chosen
}

func shuffle(books []store.Book) {
	rand.Shuffle(len(books), func(i, j int) { books[i], books[j] = books[j], books[i] })
}

func randomBooks(tx store.Tx, ctx Context, count int, exclude map[uint64]bool) ([]store.Book, error) {
	books, err := tx.GetBooksByIntlvGroup(0, nil, exclude, true)
	if err != nil {
		return nil, err
	}
	shuffle(books)
	if len(books) > count {
		books = books[:count]
	}
	return books, nil
}

func lzaAscending(tx store.Tx, ctx Context, count int, exclude map[uint64]bool) ([]store.Book, error) {
	books, err := tx.GetBooksByIntlvGroup(count, nil, exclude, true)
	if err != nil {
		return nil, err
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].IG != books[j].IG {
			return books[i].IG < books[j].IG
		}
		return books[i].BookNum < books[j].BookNum
	})
	return books, nil
}

func lzaDescending(tx store.Tx, ctx Context, count int, exclude map[uint64]bool) ([]store.Book, error) {
	books, err := tx.GetBooksByIntlvGroup(count, nil, exclude, false)
	if err != nil {
		return nil, err
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].IG != books[j].IG {
			return books[i].IG > books[j].IG
		}
		return books[i].BookNum > books[j].BookNum
	})
	return books, nil
}
