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

// Package wire is the client-facing transport: length-prefixed JSON
// request/reply framing over a Unix domain socket, a single FIFO
// admission queue feeding one dispatcher goroutine into
// internal/librarian.Engine, and the process's metrics/health HTTP
// endpoint. Matches spec.md §6's wire shapes exactly.
package wire

import (
	"encoding/json"

	"github.com/rackscale/lfs-librarian/internal/librarian"
)

// requestContext is the wire shape of librarian.Context plus the umask
// field the engine itself doesn't need but the protocol still carries.
type requestContext struct {
	NodeID int `json:"node_id"`
	UID    int `json:"uid"`
	GID    int `json:"gid"`
	PID    int `json:"pid"`
	Umask  int `json:"umask"`
}

// request is the wire envelope a client sends: a command tag, its
// caller context, and command-specific fields folded into the same
// JSON object (re-decoded by the engine's per-command arg structs).
type request struct {
	Command librarian.CommandTag `json:"command"`
	Context requestContext       `json:"context"`
}

// reply is the wire envelope sent back for every request.
type reply struct {
	Value   interface{}    `json:"value"`
	Errmsg  string         `json:"errmsg"`
	Errno   int            `json:"errno"`
	Context requestContext `json:"context"`
}

// oobEnvelope is send_OOB's second frame, delivered alongside the
// regular reply per spec.md §6.
type oobEnvelope struct {
	OOBmsg interface{} `json:"OOBmsg"`
}

func (c requestContext) toEngineContext() librarian.Context {
	return librarian.Context{NodeID: c.NodeID, UID: c.UID, GID: c.GID, PID: c.PID}
}

// successReply builds the reply envelope for a command that completed
// without an EngineError.
func successReply(value interface{}, ctx requestContext) reply {
	return reply{Value: value, Errmsg: "", Errno: 0, Context: ctx}
}

// failureReply builds the reply envelope for a command that failed
// with ee.
func failureReply(ee *librarian.EngineError, ctx requestContext) reply {
	return reply{Value: nil, Errmsg: ee.Message, Errno: int(ee.Errno), Context: ctx}
}

// decodeEnvelope splits a raw request frame into its typed envelope and
// the full raw object, so engine handlers can re-decode
// command-specific fields directly from it.
func decodeEnvelope(frame []byte) (request, json.RawMessage, error) {
	var req request
	if err := json.Unmarshal(frame, &req); err != nil {
		return request{}, nil, err
	}
	return req, json.RawMessage(frame), nil
}
