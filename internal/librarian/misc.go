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
	"time"

	"github.com/rackscale/lfs-librarian/internal/store"
)

func timeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// kill_zombie_books moves every ZOMBIE book owned by the caller's node
// back to FREE, reported by the node daemon after it finishes zeroing.
func handleKillZombieBooks(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	zombies, err := tx.GetBookByNode(ctx.NodeID, store.BookZombie, 0)
	if err != nil {
		return nil, fromGoError(err)
	}
	for _, book := range zombies {
		if eerr := transitionBook(tx, book, store.BookFree); eerr != nil {
			return nil, eerr
		}
	}
	return len(zombies), nil
}

type logZeroArgs struct {
	IDs []uint64 `json:"ids"`
}

// log_zero lets a client confirm zeroing of specific book ids on its
// own node; every id must be owned by the caller's node (else EINVAL),
// then each moves ZOMBIE->FREE, committed once for the whole batch.
func handleLogZero(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args logZeroArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	for _, id := range args.IDs {
		book, err := tx.GetBookByID(id)
		if err != nil {
			return nil, errInval("log_zero: book %d not found", id)
		}
		if book.NodeID != ctx.NodeID {
			return nil, errInval("log_zero: book %d is owned by node %d, not caller's node %d", id, book.NodeID, ctx.NodeID)
		}
		if eerr := transitionBook(tx, book, store.BookFree); eerr != nil {
			return nil, eerr
		}
	}
	return nil, nil
}

type oobArgs struct {
	Msg string `json:"msg"`
}

// send_OOB is a liveness/echo probe: it records nothing server-side and
// simply echoes the message back through the reply's OOBmsg envelope
// (internal/wire constructs that envelope from this return value).
func handleSendOOB(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args oobArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	return args.Msg, nil
}
