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

package librarian

import (
	"encoding/json"

	"github.com/rackscale/lfs-librarian/internal/bookpolicy"
	"github.com/rackscale/lfs-librarian/internal/store"
)

// VersionReply is the payload for version and get_fs_stats.
type VersionReply struct {
	BookSizeBytes uint64 `json:"book_size_bytes"`
	NVMBytesTotal uint64 `json:"nvm_bytes_total"`
	Version       string `json:"version"`
}

func handleVersion(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	g, err := tx.GetGlobals()
	if err != nil {
		return nil, fromGoError(err)
	}
	return VersionReply{BookSizeBytes: g.BookSizeBytes, NVMBytesTotal: g.NVMBytesTotal, Version: e.version}, nil
}

type shelfNameArgs struct {
	Name string `json:"name"`
}

// create_shelf creates the named shelf if absent, then opens it either
// way; it never fails on pre-existence.
func handleCreateShelf(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args shelfNameArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	if args.Name == "" {
		return nil, errInval("create_shelf: name is required")
	}

	sh, err := tx.GetShelf(store.ShelfMatch{Name: args.Name})
	if err != nil {
		// Unknown-shelf probe: recovered locally, not surfaced.
		sh, err = tx.CreateShelf(args.Name)
		if err != nil {
			return nil, fromGoError(err)
		}
	}
	return openShelf(tx, sh, ctx)
}

type shelfMatchArgs struct {
	Name    string `json:"name"`
	MatchID uint64 `json:"match_id"`
}

func (a shelfMatchArgs) toMatch() store.ShelfMatch {
	return store.ShelfMatch{Name: a.Name, ID: a.MatchID, ByID: a.MatchID != 0}
}

func handleGetShelf(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args shelfMatchArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	sh, eerr := resolveShelf(tx, args.Name, args.MatchID, args.MatchID != 0)
	if eerr != nil {
		return nil, eerr
	}
	g, err := tx.GetGlobals()
	if err != nil {
		return nil, fromGoError(err)
	}
	if eerr := checkShelfConsistency(sh, g.BookSizeBytes); eerr != nil {
		return nil, eerr
	}
	return sh, nil
}

func handleListShelves(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	shelves, err := tx.GetShelfAll()
	if err != nil {
		return nil, fromGoError(err)
	}
	return shelves, nil
}

// OpenShelfReply carries the resolved shelf plus the handle assigned to
// this open.
type OpenShelfReply struct {
	Shelf  store.Shelf `json:"shelf"`
	Handle uint64      `json:"handle"`
}

func handleOpenShelf(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args shelfNameArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	sh, eerr := resolveShelf(tx, args.Name, 0, false)
	if eerr != nil {
		return nil, eerr
	}
	return openShelf(tx, sh, ctx)
}

func openShelf(tx store.Tx, sh store.Shelf, ctx Context) (OpenShelfReply, *EngineError) {
	opened, err := tx.ModifyOpenedShelves(store.OpenedShelf{
		ShelfID: sh.ID,
		NodeID:  ctx.NodeID,
		PID:     ctx.PID,
		UID:     ctx.UID,
		GID:     ctx.GID,
	}, true)
	if err != nil {
		return OpenShelfReply{}, fromGoError(err)
	}
	return OpenShelfReply{Shelf: sh, Handle: opened.Handle}, nil
}

type handleArgs struct {
	Handle uint64 `json:"handle"`
}

func handleCloseShelf(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args handleArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	_, err := tx.ModifyOpenedShelves(store.OpenedShelf{Handle: args.Handle}, false)
	if err != nil {
		return nil, errStale("close_shelf: unknown handle %d", args.Handle)
	}
	return nil, nil
}

// destroy_shelf fails EBUSY if anything still has the shelf open.
// Within one transaction: every BOS row is deleted and its book moved
// IN_USE -> ZOMBIE, every xattr is deleted, then the shelf row itself.
func handleDestroyShelf(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args shelfNameArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	sh, eerr := resolveShelf(tx, args.Name, 0, false)
	if eerr != nil {
		return nil, eerr
	}
	openCount, err := tx.OpenCount(sh.ID)
	if err != nil {
		return nil, fromGoError(err)
	}
	if openCount > 0 {
		return nil, errBusy("destroy_shelf: shelf %q has %d open handle(s)", sh.Name, openCount)
	}

	bosRows, err := tx.GetBOSByShelfID(sh.ID)
	if err != nil {
		return nil, fromGoError(err)
	}
	for _, row := range bosRows {
		book, err := tx.GetBookByID(row.BookID)
		if err != nil {
			return nil, fromGoError(err)
		}
		if eerr := transitionBook(tx, book, store.BookZombie); eerr != nil {
			return nil, eerr
		}
		if err := tx.DeleteBOS(sh.ID, row.SeqNum); err != nil {
			return nil, fromGoError(err)
		}
	}

	xattrs, err := tx.ListXAttrs(sh.ID)
	if err != nil {
		return nil, fromGoError(err)
	}
	for _, x := range xattrs {
		if err := tx.DeleteXAttr(sh.ID, x.Name); err != nil {
			return nil, fromGoError(err)
		}
	}

	if err := tx.DeleteShelf(sh.ID); err != nil {
		return nil, fromGoError(err)
	}
	return nil, nil
}

// transitionBook enforces invariant 3 (allocation monotonicity): the
// only legal transitions are FREE->IN_USE, IN_USE->ZOMBIE, ZOMBIE->FREE.
func transitionBook(tx store.Tx, book store.Book, next store.BookState) *EngineError {
	valid := (book.State == store.BookFree && next == store.BookInUse) ||
		(book.State == store.BookInUse && next == store.BookZombie) ||
		(book.State == store.BookZombie && next == store.BookFree)
	if !valid {
		return errUnclean("illegal book transition for book %d: %s -> %s", book.ID, book.State, next)
	}
	book.State = next
	if err := tx.ModifyBook(book); err != nil {
		return fromGoError(err)
	}
	return nil
}

type resizeShelfArgs struct {
	Name        string `json:"name"`
	MatchID     uint64 `json:"match_id"`
	NewSizeBytes uint64 `json:"new_size_bytes"`
}

func handleResizeShelf(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args resizeShelfArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	sh, eerr := resolveShelf(tx, args.Name, args.MatchID, args.MatchID != 0)
	if eerr != nil {
		return nil, eerr
	}

	bosRows, err := tx.GetBOSByShelfID(sh.ID)
	if err != nil {
		return nil, fromGoError(err)
	}
	if eerr := checkBOSConsistency(bosRows, sh.BookCount); eerr != nil {
		return nil, eerr
	}

	g, err := tx.GetGlobals()
	if err != nil {
		return nil, fromGoError(err)
	}
	if eerr := checkShelfConsistency(sh, g.BookSizeBytes); eerr != nil {
		return nil, eerr
	}

	if args.NewSizeBytes == sh.SizeBytes {
		return sh, nil
	}

	newBookCount := int(ceilDiv(args.NewSizeBytes, g.BookSizeBytes))
	delta := newBookCount - sh.BookCount

	switch {
	case delta == 0:
		sh.SizeBytes = args.NewSizeBytes
	case delta > 0:
		if eerr := growShelf(e, tx, &sh, ctx, delta, bosRows); eerr != nil {
			return nil, eerr
		}
		sh.SizeBytes = args.NewSizeBytes
		sh.BookCount = newBookCount
	default:
		if eerr := shrinkShelf(tx, &sh, -delta, bosRows); eerr != nil {
			return nil, eerr
		}
		sh.SizeBytes = args.NewSizeBytes
		sh.BookCount = newBookCount
	}

	if err := tx.ModifyShelf(sh); err != nil {
		return nil, fromGoError(err)
	}
	return sh, nil
}

func growShelf(e *Engine, tx store.Tx, sh *store.Shelf, ctx Context, delta int, existing []store.BOS) *EngineError {
	policyName := bookpolicy.Name(shelfPolicyOrDefault(tx, sh.ID))
	policy, err := e.policies.Get(policyName)
	if err != nil {
		return errNoSys("resize_shelf: %v", err)
	}

	exclude := make(map[uint64]bool, len(existing))
	for _, row := range existing {
		exclude[row.BookID] = true
	}

	books, perr := policy(tx, bookpolicy.Context{NodeID: ctx.NodeID}, delta, exclude)
	if perr != nil {
		return fromGoError(perr)
	}
	if len(books) < delta {
		return errNoSpc("resize_shelf: policy %s delivered %d of %d requested books", policyName, len(books), delta)
	}

	nextSeq := len(existing) + 1
	for _, book := range books {
		if eerr := transitionBook(tx, book, store.BookInUse); eerr != nil {
			return eerr
		}
		if err := tx.CreateBOS(store.BOS{ShelfID: sh.ID, BookID: book.ID, SeqNum: nextSeq}); err != nil {
			return fromGoError(err)
		}
		nextSeq++
	}
	return nil
}

func shrinkShelf(tx store.Tx, sh *store.Shelf, count int, existing []store.BOS) *EngineError {
	if count > len(existing) {
		return errRemoteIO("resize_shelf: cannot shrink by %d, shelf only has %d books", count, len(existing))
	}
	tail := existing[len(existing)-count:]
	for _, row := range tail {
		book, err := tx.GetBookByID(row.BookID)
		if err != nil {
			return fromGoError(err)
		}
		if eerr := transitionBook(tx, book, store.BookZombie); eerr != nil {
			return eerr
		}
		if err := tx.DeleteBOS(sh.ID, row.SeqNum); err != nil {
			return fromGoError(err)
		}
	}
	return nil
}

func shelfPolicyOrDefault(tx store.Tx, shelfID uint64) string {
	x, err := tx.GetXAttr(shelfID, xattrAllocationPolicy)
	if err != nil {
		return string(bookpolicy.RandomBooks)
	}
	return x.Value
}

type setAmTimeArgs struct {
	Name    string `json:"name"`
	MatchID uint64 `json:"match_id"`
	Mtime   int64  `json:"mtime"`
}

func handleSetAmTime(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args setAmTimeArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	sh, eerr := resolveShelf(tx, args.Name, args.MatchID, args.MatchID != 0)
	if eerr != nil {
		return nil, eerr
	}
	sh.ModTime = timeFromUnix(args.Mtime)
	if err := tx.ModifyShelf(sh); err != nil {
		return nil, fromGoError(err)
	}
	return sh, nil
}
