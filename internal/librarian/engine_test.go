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
	"syscall"
	"testing"

	"github.com/rackscale/lfs-librarian/internal/bookpolicy"
	"github.com/rackscale/lfs-librarian/internal/store"
	"github.com/rackscale/lfs-librarian/internal/store/memstore"
	"github.com/stretchr/testify/suite"
)

const bookSize = uint64(1 << 20)

type EngineTest struct {
	suite.Suite
	e   *Engine
	ctx Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTest))
}

func (t *EngineTest) newEngine(booksPerNode map[int]int) *Engine {
	ms := memstore.New(store.Globals{BookSizeBytes: bookSize}, booksPerNode)
	return New(ms, bookpolicy.NewRegistry(), "test-version")
}

func (t *EngineTest) SetupTest() {
	t.e = t.newEngine(map[int]int{1: 100, 2: 100})
	t.ctx = Context{NodeID: 1, UID: 0, GID: 0, PID: 1}
}

func args(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// TestScenarioS1CreateOpenResizeDestroy mirrors spec scenario S1.
func (t *EngineTest) TestScenarioS1CreateOpenResizeDestroy() {
	createReply, eerr := t.e.Dispatch(CmdCreateShelf, t.ctx, args(shelfNameArgs{Name: "xyzzy"}))
	t.Require().Nil(eerr)
	opened := createReply.(OpenShelfReply)
	t.Equal(0, opened.Shelf.BookCount)

	resizeUp, eerr := t.e.Dispatch(CmdResizeShelf, t.ctx, args(resizeShelfArgs{Name: "xyzzy", NewSizeBytes: 70 * bookSize}))
	t.Require().Nil(eerr)
	sh := resizeUp.(store.Shelf)
	t.Equal(70, sh.BookCount)

	getReply, eerr := t.e.Dispatch(CmdGetShelf, t.ctx, args(shelfMatchArgs{Name: "xyzzy"}))
	t.Require().Nil(eerr)
	t.Equal(70, getReply.(store.Shelf).BookCount)

	resizeDown, eerr := t.e.Dispatch(CmdResizeShelf, t.ctx, args(resizeShelfArgs{Name: "xyzzy", NewSizeBytes: 50 * bookSize}))
	t.Require().Nil(eerr)
	t.Equal(50, resizeDown.(store.Shelf).BookCount)

	_, eerr = t.e.Dispatch(CmdCloseShelf, t.ctx, args(handleArgs{Handle: opened.Handle}))
	t.Require().Nil(eerr)

	_, eerr = t.e.Dispatch(CmdDestroyShelf, t.ctx, args(shelfNameArgs{Name: "xyzzy"}))
	t.Require().Nil(eerr)

	_, eerr = t.e.Dispatch(CmdGetShelf, t.ctx, args(shelfMatchArgs{Name: "xyzzy"}))
	t.Require().NotNil(eerr)
	t.Equal(syscall.ENOENT, eerr.Errno)
}

// TestScenarioS2ENOSPCRollback mirrors spec scenario S2: a resize that
// the allocation policy cannot satisfy must leave no trace.
func (t *EngineTest) TestScenarioS2ENOSPCRollback() {
	e := t.newEngine(map[int]int{1: 3})
	ctx := Context{NodeID: 1, PID: 1}

	created, eerr := e.Dispatch(CmdCreateShelf, ctx, args(shelfNameArgs{Name: "tight"}))
	t.Require().Nil(eerr)
	shelfID := created.(OpenShelfReply).Shelf.ID
	_, eerr = e.Dispatch(CmdSetXAttr, ctx, args(setXAttrArgs{ShelfID: shelfID, Name: xattrAllocationPolicy, Value: string(bookpolicy.LocalNode)}))
	t.Require().Nil(eerr)

	_, eerr = e.Dispatch(CmdResizeShelf, ctx, args(resizeShelfArgs{Name: "tight", NewSizeBytes: 10 * bookSize}))
	t.Require().NotNil(eerr)
	t.Equal(syscall.ENOSPC, eerr.Errno)

	got, eerr := e.Dispatch(CmdGetShelf, ctx, args(shelfMatchArgs{Name: "tight"}))
	t.Require().Nil(eerr)
	t.Equal(0, got.(store.Shelf).BookCount)
}

// TestScenarioS6XAttrPolicy mirrors spec scenario S6.
func (t *EngineTest) TestScenarioS6XAttrPolicy() {
	_, eerr := t.e.Dispatch(CmdCreateShelf, t.ctx, args(shelfNameArgs{Name: "s6"}))
	t.Require().Nil(eerr)

	_, eerr = t.e.Dispatch(CmdSetXAttr, t.ctx, args(setXAttrArgs{Name: xattrAllocationPolicy, Value: "LocalNode"}))
	t.Require().Nil(eerr)

	_, eerr = t.e.Dispatch(CmdSetXAttr, t.ctx, args(setXAttrArgs{Name: xattrAllocationPolicy, Value: "Bogus"}))
	t.Require().NotNil(eerr)
	t.Equal(syscall.EINVAL, eerr.Errno)

	_, eerr = t.e.Dispatch(CmdRemoveXAttr, t.ctx, args(xattrNameArgs{Name: xattrAllocationPolicy}))
	t.Require().NotNil(eerr)
	t.Equal(syscall.EINVAL, eerr.Errno)

	listReply, eerr := t.e.Dispatch(CmdGetXAttr, t.ctx, args(xattrNameArgs{Name: xattrAllocationPolicyList}))
	t.Require().Nil(eerr)
	t.Equal("LocalNode,Nearest,RandomBooks,LZAascending,LZAdescending", listReply.(string))
}

func (t *EngineTest) TestCloseShelfUnknownHandleFailsESTALE() {
	_, eerr := t.e.Dispatch(CmdCloseShelf, t.ctx, args(handleArgs{Handle: 999}))
	t.Require().NotNil(eerr)
	t.Equal(syscall.ESTALE, eerr.Errno)
}

func (t *EngineTest) TestDestroyShelfWithOpenHandleFailsEBUSY() {
	created, eerr := t.e.Dispatch(CmdCreateShelf, t.ctx, args(shelfNameArgs{Name: "busy"}))
	t.Require().Nil(eerr)
	t.NotZero(created.(OpenShelfReply).Handle)

	_, eerr = t.e.Dispatch(CmdDestroyShelf, t.ctx, args(shelfNameArgs{Name: "busy"}))
	t.Require().NotNil(eerr)
	t.Equal(syscall.EBUSY, eerr.Errno)
}

func (t *EngineTest) TestKillZombieBooksReturnsNodeOwnedOnly() {
	// Force a node-1 book into ZOMBIE by growing then shrinking a
	// LocalNode shelf from node 1.
	created, eerr := t.e.Dispatch(CmdCreateShelf, t.ctx, args(shelfNameArgs{Name: "z"}))
	t.Require().Nil(eerr)
	shelfID := created.(OpenShelfReply).Shelf.ID
	_, eerr = t.e.Dispatch(CmdSetXAttr, t.ctx, args(setXAttrArgs{ShelfID: shelfID, Name: xattrAllocationPolicy, Value: string(bookpolicy.LocalNode)}))
	t.Require().Nil(eerr)
	_, eerr = t.e.Dispatch(CmdResizeShelf, t.ctx, args(resizeShelfArgs{Name: "z", NewSizeBytes: 2 * bookSize}))
	t.Require().Nil(eerr)
	_, eerr = t.e.Dispatch(CmdResizeShelf, t.ctx, args(resizeShelfArgs{Name: "z", NewSizeBytes: 1 * bookSize}))
	t.Require().Nil(eerr)

	// A caller on node 2 must not reclaim node 1's zombie.
	otherCount, eerr := t.e.Dispatch(CmdKillZombieBooks, Context{NodeID: 2, PID: 1}, nil)
	t.Require().Nil(eerr)
	t.Equal(0, otherCount.(int))

	count, eerr := t.e.Dispatch(CmdKillZombieBooks, t.ctx, nil)
	t.Require().Nil(eerr)
	t.GreaterOrEqual(count.(int), 1)
}

func (t *EngineTest) TestUnknownCommandFailsENOSYS() {
	_, eerr := t.e.Dispatch(CommandTag("bogus_command"), t.ctx, nil)
	t.Require().NotNil(eerr)
	t.Equal(syscall.ENOSYS, eerr.Errno)
}
