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

package shadow

import "sync"

// Record is the single value shared by every index pointing at one open
// shelf: the by-name index and every live handle's by-handle index
// point at the same *Record. The cache is its exclusive writer; handle
// rows are weak references into it (spec.md Design Note §9).
type Record struct {
	ShelfID      uint64
	Name         string
	SizeBytes    uint64
	BOS          []BookRef
	HandlesByPID map[int][]uint64
}

// Cache is the process-local shelf cache: a dual index (by shelf name,
// by every live handle) onto one owned Record per shelf, grounded on
// the teacher's internal/lrucache single-owned-record design,
// generalized to two keys instead of one.
type Cache struct {
	mu       sync.Mutex
	byName   map[string]*Record
	byHandle map[uint64]*Record
}

// NewCache builds an empty shelf cache.
func NewCache() *Cache {
	return &Cache{
		byName:   make(map[string]*Record),
		byHandle: make(map[uint64]*Record),
	}
}

// Open records handle as a new open of the named shelf, owned by pid.
// It creates the shelf's Record on first open and updates it on every
// subsequent one. invalidate reports whether the caller must treat
// existing in-memory mappings for this shelf as stale: the shelf's
// first len(existing BOS) entries no longer match, typically because it
// grew or was resized between opens. In single-node mode this is a stub
// signal only — the cache itself never reprograms PTEs.
func (c *Cache) Open(shelfID uint64, name string, sizeBytes uint64, bos []BookRef, handle uint64, pid int) (invalidate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, exists := c.byName[name]
	if !exists {
		rec = &Record{
			ShelfID:      shelfID,
			Name:         name,
			SizeBytes:    sizeBytes,
			BOS:          bos,
			HandlesByPID: make(map[int][]uint64),
		}
		c.byName[name] = rec
	} else {
		invalidate = !sameBOSPrefix(rec.BOS, bos)
		rec.SizeBytes = sizeBytes
		rec.BOS = bos
	}

	rec.HandlesByPID[pid] = append(rec.HandlesByPID[pid], handle)
	c.byHandle[handle] = rec
	return invalidate
}

// sameBOSPrefix reports whether the first min(len(old),len(new))
// entries of old and new agree, the comparison the cache runs on
// re-open after growth.
func sameBOSPrefix(old, next []BookRef) bool {
	n := len(old)
	if len(next) < n {
		n = len(next)
	}
	for i := 0; i < n; i++ {
		if old[i] != next[i] {
			return false
		}
	}
	return true
}

// Close removes handle's by-handle entry and its (pid, handle) pair
// from the record's handle grouping, pruning the record's by-name entry
// once no handle references it.
func (c *Cache) Close(handle uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.byHandle[handle]
	if !ok {
		return
	}
	delete(c.byHandle, handle)

	for pid, handles := range rec.HandlesByPID {
		for i, h := range handles {
			if h == handle {
				rec.HandlesByPID[pid] = append(handles[:i], handles[i+1:]...)
				break
			}
		}
		if len(rec.HandlesByPID[pid]) == 0 {
			delete(rec.HandlesByPID, pid)
		}
	}
	if len(rec.HandlesByPID) == 0 {
		delete(c.byName, rec.Name)
	}
}

// ByName looks up a shelf's record by name.
func (c *Cache) ByName(name string) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byName[name]
	return rec, ok
}

// ByHandle looks up a shelf's record by one of its live handles.
func (c *Cache) ByHandle(handle uint64) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byHandle[handle]
	return rec, ok
}
