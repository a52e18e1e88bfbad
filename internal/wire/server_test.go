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
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/rackscale/lfs-librarian/internal/bookpolicy"
	"github.com/rackscale/lfs-librarian/internal/librarian"
	"github.com/rackscale/lfs-librarian/internal/store"
	"github.com/rackscale/lfs-librarian/internal/store/memstore"
	"github.com/rackscale/lfs-librarian/metrics"
)

const bookSize = uint64(1 << 20)

type ServerTest struct {
	suite.Suite
	socketPath string
	server     *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTest))
}

func (t *ServerTest) SetupTest() {
	ms := memstore.New(store.Globals{BookSizeBytes: bookSize}, map[int]int{1: 10})
	engine := librarian.New(ms, bookpolicy.NewRegistry(), "test-version")
	t.server = NewServer(engine, metrics.NewHandle(prometheus.NewRegistry()))

	t.socketPath = filepath.Join(t.T().TempDir(), "librariand.sock")
	go t.server.Serve(t.socketPath)
	t.waitForSocket()
}

func (t *ServerTest) TearDownTest() {
	t.server.Close()
}

func (t *ServerTest) waitForSocket() {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", t.socketPath); err == nil {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.FailNow("server never opened its socket")
}

func (t *ServerTest) dial() net.Conn {
	conn, err := net.Dial("unix", t.socketPath)
	t.Require().NoError(err)
	return conn
}

func (t *ServerTest) TestVersionCommandRoundTrip() {
	conn := t.dial()
	defer conn.Close()

	t.Require().NoError(writeFrame(conn, request{Command: librarian.CmdVersion}))

	body, err := readFrame(conn)
	t.Require().NoError(err)
	t.Contains(string(body), "test-version")
}

func (t *ServerTest) TestMalformedFrameGetsErrorReply() {
	conn := t.dial()
	defer conn.Close()

	var lenPrefix [4]byte
	lenPrefix[3] = 3
	conn.Write(lenPrefix[:])
	conn.Write([]byte("{{{"))

	body, err := readFrame(conn)
	t.Require().NoError(err)
	t.Contains(string(body), "malformed request")
}

func (t *ServerTest) TestConcurrentRequestsAllAnswered() {
	const n = 5
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			conn := t.dial()
			defer conn.Close()
			if err := writeFrame(conn, request{Command: librarian.CmdVersion}); err != nil {
				results <- err
				return
			}
			_, err := readFrame(conn)
			results <- err
		}()
	}
	for i := 0; i < n; i++ {
		t.NoError(<-results)
	}
}
