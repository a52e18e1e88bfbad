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

// Package descriptor implements the fixed-size hardware aperture table:
// a small pool of descriptor slots, each bindable to one LZA-aligned
// book, managed under a two-phase assign protocol so a caller can
// invalidate PTEs of an evicted LZA before the new binding is
// committed.
package descriptor

import (
	"fmt"
	"sort"
	"sync"
)

// LZABits is the width of the LZA address space: a 7-bit IG field
// concatenated with a 13-bit in-IG book number.
const LZABits = 20

// LZALimit is the exclusive upper bound on a valid LZA value (2^20).
const LZALimit = 1 << LZABits

// bookShift is the bit position the LZA field starts at within the
// 64-bit descriptor register; bit 0 is the valid bit.
const bookShift = 33

// validBit marks a descriptor register as bound.
const validBit = 1

// Encode builds the 64-bit descriptor register value for lza.
func Encode(lza uint32) uint64 {
	return (uint64(lza) << bookShift) | validBit
}

// Decode extracts the LZA from a descriptor register value, masking the
// valid bit first per spec.md §4.5 ("read-back masks the LSB before
// decoding").
func Decode(reg uint64) uint32 {
	return uint32((reg &^ uint64(validBit)) >> bookShift)
}

// Entry is one bound aperture slot: the hardware index it occupies, the
// LZA it is bound to, and the set of pids that have faulted on it, each
// with its own bucket of fault virtual addresses.
type Entry struct {
	Index int
	LZA   uint32
	Pids  map[int][]uint64
	Mtime uint64
}

// MappingCount is the total number of fault mappings on this entry: the
// sum of len() over every pid's VA bucket, not the number of pids.
// spec.md Design Note §9 calls this out explicitly: the source's
// `_LZAinuse.__eq__` sums values while `__lt__` counts buckets: the
// design picks sum-of-len uniformly.
func (e *Entry) MappingCount() int {
	n := 0
	for _, vas := range e.Pids {
		n += len(vas)
	}
	return n
}

// Eviction reports a descriptor slot reassignment that has been chosen
// but not yet programmed into hardware. The caller must invalidate the
// PTEs of EvictLZA's fault mappings before calling CommitAssign.
type Eviction struct {
	EvictLZA uint32
	NewLZA   uint32
}

// Manager owns one aperture table: a fixed set of hardware indices, some
// free, the rest bound to an LZA. All access is mutually exclusive
// (spec.md §5: "assign operations are mutually exclusive").
type Manager struct {
	mu          sync.Mutex
	device      Device
	total       int
	available   []int
	descriptors map[uint32]*Entry
	byIndex     map[int]*Entry
	clock       uint64
}

// NewManager builds a Manager over the given hardware indices (default
// {0,1,2} for testing, per spec.md §4.5), issuing ioctls through device.
func NewManager(indices []int, device Device) *Manager {
	avail := append([]int(nil), indices...)
	return &Manager{
		device:      device,
		total:       len(indices),
		available:   avail,
		descriptors: make(map[uint32]*Entry, len(indices)),
		byIndex:     make(map[int]*Entry, len(indices)),
	}
}

// Occupied is the number of aperture slots currently bound.
func (m *Manager) Occupied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.descriptors)
}

// Capacity is the total number of aperture slots.
func (m *Manager) Capacity() int {
	return m.total
}

// Descriptor returns the current aperture entry bound to baseLZA, if any.
func (m *Manager) Descriptor(baseLZA uint32) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.descriptors[baseLZA]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// CheckInvariants verifies |available| + |descriptors| == |indices|,
// spec.md §8 invariant 8, mirroring the teacher's lrucache
// CheckInvariants helper.
func (m *Manager) CheckInvariants() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.available)+len(m.descriptors) != m.total {
		return fmt.Errorf("descriptor invariant violated: available=%d descriptors=%d total=%d",
			len(m.available), len(m.descriptors), m.total)
	}
	return nil
}

// ProposeAssign implements spec.md §4.5's assign contract for a fault at
// baseLZA from pid at userVA. A cache hit or a free-slot bind is
// performed and committed immediately (no hardware invalidation is
// needed); the returned Eviction is nil in both cases. When the pool is
// full, ProposeAssign selects a victim by the eviction ordering and
// returns the Eviction WITHOUT touching the table or the hardware — the
// caller invalidates evictLZA's PTEs and then calls CommitAssign.
func (m *Manager) ProposeAssign(baseLZA uint32, pid int, userVA uint64) (*Eviction, error) {
	if baseLZA >= LZALimit {
		return nil, fmt.Errorf("assign: lza %d out of range [0, %d)", baseLZA, LZALimit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock++

	if entry, ok := m.descriptors[baseLZA]; ok {
		entry.Pids[pid] = append(entry.Pids[pid], userVA)
		entry.Mtime = m.clock
		return nil, nil
	}

	if len(m.available) > 0 {
		idx := m.available[0]
		m.available = m.available[1:]
		if err := m.device.WriteDescriptor(idx, Encode(baseLZA)); err != nil {
			m.available = append([]int{idx}, m.available...)
			return nil, fmt.Errorf("assign: binding lza %d to index %d: %w", baseLZA, idx, err)
		}
		entry := &Entry{Index: idx, LZA: baseLZA, Pids: map[int][]uint64{pid: {userVA}}, Mtime: m.clock}
		m.descriptors[baseLZA] = entry
		m.byIndex[idx] = entry
		return nil, nil
	}

	victim := m.selectVictim()
	return &Eviction{EvictLZA: victim.LZA, NewLZA: baseLZA}, nil
}

// CommitAssign programs the hardware for an Eviction previously returned
// by ProposeAssign, reusing the victim's index for newLZA and recording
// pid/userVA as the new entry's first fault mapping. Callers must have
// already invalidated ev.EvictLZA's PTEs.
func (m *Manager) CommitAssign(ev Eviction, pid int, userVA uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	victim, ok := m.descriptors[ev.EvictLZA]
	if !ok {
		return fmt.Errorf("commit_assign: no bound entry for evicted lza %d", ev.EvictLZA)
	}
	if err := m.device.WriteDescriptor(victim.Index, Encode(ev.NewLZA)); err != nil {
		return fmt.Errorf("commit_assign: binding lza %d to index %d: %w", ev.NewLZA, victim.Index, err)
	}

	delete(m.descriptors, ev.EvictLZA)
	m.clock++
	entry := &Entry{Index: victim.Index, LZA: ev.NewLZA, Pids: map[int][]uint64{pid: {userVA}}, Mtime: m.clock}
	m.descriptors[ev.NewLZA] = entry
	m.byIndex[victim.Index] = entry
	return nil
}

// selectVictim picks the minimum entry under byEvictionOrder. Caller
// must hold m.mu. Only called when m.descriptors is non-empty (the pool
// is full).
func (m *Manager) selectVictim() *Entry {
	entries := make([]*Entry, 0, len(m.descriptors))
	for _, e := range m.descriptors {
		entries = append(entries, e)
	}
	sort.Sort(byEvictionOrder(entries))
	return entries[0]
}

// byEvictionOrder implements the single, uniformly-applied eviction
// comparator spec.md Design Note §9 requires: oldest mtime first, ties
// broken by fewest total mappings, final tie broken by index for
// determinism.
type byEvictionOrder []*Entry

func (s byEvictionOrder) Len() int      { return len(s) }
func (s byEvictionOrder) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byEvictionOrder) Less(i, j int) bool {
	a, b := s[i], s[j]
	if a.Mtime != b.Mtime {
		return a.Mtime < b.Mtime
	}
	if ac, bc := a.MappingCount(), b.MappingCount(); ac != bc {
		return ac < bc
	}
	return a.Index < b.Index
}
