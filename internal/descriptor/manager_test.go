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

package descriptor

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type fakeDevice struct {
	writes map[int]uint64
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{writes: map[int]uint64{}}
}

func (d *fakeDevice) WriteDescriptor(index int, value uint64) error {
	d.writes[index] = value
	return nil
}

func (d *fakeDevice) ReadDescriptor(index int) (uint64, error) {
	return d.writes[index], nil
}

func (d *fakeDevice) Close() error { return nil }

type ManagerTest struct {
	suite.Suite
	dev *fakeDevice
	m   *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerTest))
}

func (t *ManagerTest) SetupTest() {
	t.dev = newFakeDevice()
	t.m = NewManager([]int{0, 1, 2}, t.dev)
}

func (t *ManagerTest) TestEncodeDecodeRoundTrip() {
	reg := Encode(12345)
	t.Equal(uint32(12345), Decode(reg))
	t.Equal(uint64(1), reg&1, "bit 0 must be the valid bit")
}

func (t *ManagerTest) TestAssignMissesFillThePool() {
	for i, lza := range []uint32{10, 20, 30} {
		ev, err := t.m.ProposeAssign(lza, i+1, uint64(0x1000*(i+1)))
		t.Require().NoError(err)
		t.Nil(ev)
	}
	t.Equal(3, t.m.Occupied())
	t.Require().NoError(t.m.CheckInvariants())
}

func (t *ManagerTest) TestAssignHitAppendsMapping() {
	_, err := t.m.ProposeAssign(10, 1, 0x1000)
	t.Require().NoError(err)

	ev, err := t.m.ProposeAssign(10, 2, 0x2000)
	t.Require().NoError(err)
	t.Nil(ev)

	entry := t.m.descriptors[10]
	t.Equal(2, entry.MappingCount())
}

func (t *ManagerTest) TestOutOfRangeLZARejected() {
	_, err := t.m.ProposeAssign(LZALimit, 1, 0x1000)
	t.Error(err)
}

// TestScenarioS5ApertureEviction mirrors spec scenario S5: three
// indices filled by A, B, C; a fourth assign for D evicts A (the
// oldest mtime), and the invariant holds afterward.
func (t *ManagerTest) TestScenarioS5ApertureEviction() {
	_, err := t.m.ProposeAssign(0xA, 1, 0x100)
	t.Require().NoError(err)
	_, err = t.m.ProposeAssign(0xB, 2, 0x200)
	t.Require().NoError(err)
	_, err = t.m.ProposeAssign(0xC, 1, 0x300)
	t.Require().NoError(err)

	ev, err := t.m.ProposeAssign(0xD, 3, 0x400)
	t.Require().NoError(err)
	t.Require().NotNil(ev)
	t.Equal(uint32(0xA), ev.EvictLZA)
	t.Equal(uint32(0xD), ev.NewLZA)

	t.Require().NoError(t.m.CheckInvariants())

	t.Require().NoError(t.m.CommitAssign(*ev, 3, 0x400))
	t.Require().NoError(t.m.CheckInvariants())
	t.Equal(3, t.m.Occupied())
	_, stillThere := t.m.descriptors[0xA]
	t.False(stillThere)
	bound, ok := t.m.descriptors[0xD]
	t.True(ok)
	t.Equal([]uint64{0x400}, bound.Pids[3])
}

func (t *ManagerTest) TestEvictionPrefersFewestMappingsOnMtimeTie() {
	a := &Entry{Index: 0, LZA: 1, Mtime: 5, Pids: map[int][]uint64{1: {0x1, 0x2}}}
	b := &Entry{Index: 1, LZA: 2, Mtime: 5, Pids: map[int][]uint64{2: {0x1}}}
	order := byEvictionOrder([]*Entry{a, b})
	t.False(order.Less(0, 1), "a (2 mappings) must not sort before b (1 mapping) on an mtime tie")
	t.True(order.Less(1, 0), "b (1 mapping) must sort before a (2 mappings) on an mtime tie")
}
