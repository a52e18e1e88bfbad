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

package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rackscale/lfs-librarian/common"
	"github.com/rackscale/lfs-librarian/internal/librarian"
	"github.com/rackscale/lfs-librarian/internal/logger"
	"github.com/rackscale/lfs-librarian/metrics"
)

// job is one admitted command, queued in arrival order and drained by
// the single dispatcher goroutine, per spec.md §5's "ordering is total
// (FIFO of admission)". reqID is a per-admission identifier used only
// to correlate a connection's log lines with the dispatcher's; it never
// crosses the wire.
type job struct {
	reqID   string
	tag     librarian.CommandTag
	ctx     requestContext
	raw     []byte
	replies chan reply
	oob     chan interface{}
}

// Server is the librariand command socket: one admission queue, one
// dispatcher goroutine serializing every command into the engine, and
// one goroutine per accepted connection doing framing I/O.
//
// The FIFO is built on common.Queue rather than a channel so admission
// order is visible and boundless (a channel would need a fixed
// capacity or unbounded goroutine fan-out to match), grounded on
// common/queue.go.
type Server struct {
	engine  *librarian.Engine
	metrics *metrics.Handle

	mu    sync.Mutex
	cond  *sync.Cond
	queue common.Queue[*job]

	listener net.Listener
}

// NewServer builds a Server dispatching onto engine and recording
// command outcomes on m.
func NewServer(engine *librarian.Engine, m *metrics.Handle) *Server {
	s := &Server{
		engine:  engine,
		metrics: m,
		queue:   common.NewLinkedListQueue[*job](),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Serve listens on socketPath (removing a stale socket file left by a
// prior run) and blocks accepting connections until the listener is
// closed. The dispatcher goroutine is started once, before accepting
// any connection.
func (s *Server) Serve(socketPath string) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("clearing stale socket %q: %w", socketPath, err)
	}
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", socketPath, err)
	}
	s.listener = l

	go s.dispatchLoop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections. In-flight commands already
// admitted to the queue are allowed to finish.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// submit enqueues a job and wakes the dispatcher.
func (s *Server) submit(j *job) {
	s.mu.Lock()
	s.queue.Push(j)
	s.cond.Signal()
	s.mu.Unlock()
}

// dispatchLoop is the engine's single writer: it pops one job at a
// time, in admission order, and runs it to completion before popping
// the next.
func (s *Server) dispatchLoop() {
	for {
		s.mu.Lock()
		for s.queue.IsEmpty() {
			s.cond.Wait()
		}
		j := s.queue.Pop()
		s.mu.Unlock()

		s.run(j)
	}
}

func (s *Server) run(j *job) {
	start := time.Now()
	value, ee := s.engine.Dispatch(j.tag, j.ctx.toEngineContext(), j.raw)
	latency := time.Since(start)

	errnoLabel := ""
	if ee != nil {
		errnoLabel = ee.Errno.Error()
	}
	if s.metrics != nil {
		s.metrics.RecordCommand(string(j.tag), latency, errnoLabel)
	}
	if ee != nil {
		logger.Debugf("wire: req %s command %s failed: %s", j.reqID, j.tag, ee.Message)
	}

	var rep reply
	if ee != nil {
		rep = failureReply(ee, j.ctx)
	} else {
		rep = successReply(value, j.ctx)
		if j.tag == librarian.CmdSendOOB {
			select {
			case j.oob <- value:
			default:
			}
		}
	}
	j.replies <- rep
}

// handleConn reads one request per frame from conn, admits it, and
// writes back the reply (plus, for send_OOB, a trailing OOBmsg frame).
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		frame, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Errorf("wire: reading request from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		req, raw, err := decodeEnvelope(frame)
		if err != nil {
			writeFrame(conn, reply{Errmsg: fmt.Sprintf("malformed request: %v", err), Errno: badRequestErrno})
			continue
		}

		j := &job{
			reqID:   uuid.NewString(),
			tag:     req.Command,
			ctx:     req.Context,
			raw:     raw,
			replies: make(chan reply, 1),
			oob:     make(chan interface{}, 1),
		}
		s.submit(j)

		rep := <-j.replies
		if err := writeFrame(conn, rep); err != nil {
			logger.Errorf("wire: writing reply to %s: %v", conn.RemoteAddr(), err)
			return
		}

		if req.Command == librarian.CmdSendOOB {
			select {
			case msg := <-j.oob:
				writeFrame(conn, oobEnvelope{OOBmsg: msg})
			default:
			}
		}
	}
}

// badRequestErrno is returned to a client whose frame failed to decode
// at all, before any command tag is even known; EINVAL's numeric value
// is stable across the POSIX platforms librariand targets.
const badRequestErrno = 22
