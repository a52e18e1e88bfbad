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

// Package librarian is the command dispatcher: shelf lifecycle,
// resize, xattr CRUD, book reclamation, and the consistency checks and
// error taxonomy that guard them. One Engine owns one metadata store
// and is the store's single writer.
package librarian

import (
	"encoding/json"

	"github.com/rackscale/lfs-librarian/internal/bookpolicy"
	"github.com/rackscale/lfs-librarian/internal/store"
)

// CommandTag names one entry in the engine's command registry.
type CommandTag string

const (
	CmdVersion         CommandTag = "version"
	CmdGetFsStats      CommandTag = "get_fs_stats"
	CmdCreateShelf     CommandTag = "create_shelf"
	CmdGetShelf        CommandTag = "get_shelf"
	CmdListShelves     CommandTag = "list_shelves"
	CmdOpenShelf       CommandTag = "open_shelf"
	CmdCloseShelf      CommandTag = "close_shelf"
	CmdDestroyShelf    CommandTag = "destroy_shelf"
	CmdResizeShelf     CommandTag = "resize_shelf"
	CmdGetXAttr        CommandTag = "get_xattr"
	CmdListXAttrs      CommandTag = "list_xattrs"
	CmdSetXAttr        CommandTag = "set_xattr"
	CmdRemoveXAttr     CommandTag = "remove_xattr"
	CmdSetAmTime       CommandTag = "set_am_time"
	CmdKillZombieBooks CommandTag = "kill_zombie_books"
	CmdLogZero         CommandTag = "log_zero"
	CmdSendOOB         CommandTag = "send_OOB"
)

// Context is the per-call caller identity threaded through every
// handler, mirroring the wire protocol's request context.
type Context struct {
	NodeID int
	UID    int
	GID    int
	PID    int
}

// HandlerFunc is one command's implementation. It runs inside tx and
// must not commit or roll back tx itself; Dispatch owns the
// transaction boundary.
type HandlerFunc func(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError)

// Engine is the single-writer command dispatcher. Its handler map is
// built once at construction from a static registry, grounded on the
// cobra.Command registration idiom (one map built at startup, never
// mutated after).
type Engine struct {
	st       store.Store
	policies *bookpolicy.Registry
	version  string
	handlers map[CommandTag]HandlerFunc
}

// New builds an Engine over st using the given policy registry. version
// is the string returned by the version/get_fs_stats commands.
func New(st store.Store, policies *bookpolicy.Registry, version string) *Engine {
	e := &Engine{st: st, policies: policies, version: version}
	e.handlers = map[CommandTag]HandlerFunc{
		CmdVersion:         handleVersion,
		CmdGetFsStats:      handleVersion,
		CmdCreateShelf:     handleCreateShelf,
		CmdGetShelf:        handleGetShelf,
		CmdListShelves:     handleListShelves,
		CmdOpenShelf:       handleOpenShelf,
		CmdCloseShelf:      handleCloseShelf,
		CmdDestroyShelf:    handleDestroyShelf,
		CmdResizeShelf:     handleResizeShelf,
		CmdGetXAttr:        handleGetXAttr,
		CmdListXAttrs:      handleListXAttrs,
		CmdSetXAttr:        handleSetXAttr,
		CmdRemoveXAttr:     handleRemoveXAttr,
		CmdSetAmTime:       handleSetAmTime,
		CmdKillZombieBooks: handleKillZombieBooks,
		CmdLogZero:         handleLogZero,
		CmdSendOOB:         handleSendOOB,
	}
	return e
}

// Dispatch runs one command to completion: begin a transaction, invoke
// the handler, commit on success or roll back on any failure. An
// unregistered tag fails ENOSYS without opening a transaction.
func (e *Engine) Dispatch(tag CommandTag, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	handler, ok := e.handlers[tag]
	if !ok {
		return nil, errNoSys("unimplemented command %q", tag)
	}

	tx, err := e.st.Begin()
	if err != nil {
		return nil, errRemoteIO("beginning transaction: %v", err)
	}

	value, eerr := handler(e, tx, ctx, raw)
	if eerr != nil {
		tx.Rollback()
		return nil, eerr
	}
	if err := tx.Commit(); err != nil {
		return nil, errRemoteIO("committing transaction: %v", err)
	}
	return value, nil
}

func decodeArgs(raw json.RawMessage, v interface{}) *EngineError {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errInval("decoding command arguments: %v", err)
	}
	return nil
}

// checkShelfConsistency enforces spec invariant 1 (size/count law) on
// every read of a shelf: ceil(size_bytes/book_size) == book_count.
func checkShelfConsistency(sh store.Shelf, bookSizeBytes uint64) *EngineError {
	want := ceilDiv(sh.SizeBytes, bookSizeBytes)
	if uint64(sh.BookCount) != want {
		return errBadF("shelf %q: size/book_count mismatch: ceil(%d/%d)=%d, have book_count=%d",
			sh.Name, sh.SizeBytes, bookSizeBytes, want, sh.BookCount)
	}
	return nil
}

// checkBOSConsistency enforces invariant 2 (BOS density law): the
// seq_num set of a shelf is exactly {1..book_count}, and the row count
// matches book_count exactly (EREMOTEIO on count mismatch, EBADFD on a
// broken seq_num progression).
func checkBOSConsistency(bos []store.BOS, bookCount int) *EngineError {
	if len(bos) != bookCount {
		return errRemoteIO("bos row count %d does not match book_count %d", len(bos), bookCount)
	}
	for i, row := range bos {
		if row.SeqNum != i+1 {
			return errBadFd("bos seq_num progression broken at index %d: got seq_num=%d, want %d", i, row.SeqNum, i+1)
		}
	}
	return nil
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func resolveShelf(tx store.Tx, name string, id uint64, byID bool) (store.Shelf, *EngineError) {
	sh, err := tx.GetShelf(store.ShelfMatch{Name: name, ID: id, ByID: byID})
	if err != nil {
		return store.Shelf{}, errNoEnt("shelf not found: %v", err)
	}
	return sh, nil
}
