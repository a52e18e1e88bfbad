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

import (
	"fmt"

	"github.com/rackscale/lfs-librarian/internal/descriptor"
)

// lzaOf packs an (IG, in-IG book number) pair into the 20-bit baseLZA
// the descriptor manager keys on: a 7-bit IG concatenated with a 13-bit
// in-IG book number, per spec.md §4.5.
func lzaOf(ig, bookNum int) uint32 {
	return uint32(ig)<<13 | uint32(bookNum)
}

// FAMBackend backs a shelf with a single mmap over an IVSHMEM/FAM
// aperture window, indexed by shadow_offset. Every access first binds
// its book's baseLZA through the descriptor manager, committing any
// eviction the manager reports before touching the mapping, matching
// spec.md §4.4's "consults the descriptor manager on page fault"
// contract. A real kernel fault path would do this in the fault
// handler; here the backend does it inline on every call since there
// is no MMU trap to hook into from user space.
type FAMBackend struct {
	mapping    []byte
	bookSize   uint64
	translator *Translator
	manager    *descriptor.Manager
	pid        int
}

// NewFAMBackend wraps an already-mapped aperture (see ivshmem.Map) with
// its translator and descriptor manager. pid identifies this process to
// the manager's per-pid mapping buckets.
func NewFAMBackend(mapping []byte, bookSizeBytes uint64, translator *Translator, manager *descriptor.Manager, pid int) *FAMBackend {
	return &FAMBackend{
		mapping:    mapping,
		bookSize:   bookSizeBytes,
		translator: translator,
		manager:    manager,
		pid:        pid,
	}
}

// bind ensures baseLZA has a live aperture slot, committing any
// eviction the manager proposes. The evicted LZA's stale mapping is
// simply dropped: there is no separate PTE table in this process to
// invalidate beyond the aperture slot itself.
func (b *FAMBackend) bind(baseLZA uint32, userVA uint64) (windowIndex int, err error) {
	ev, err := b.manager.ProposeAssign(baseLZA, b.pid, userVA)
	if err != nil {
		return 0, fmt.Errorf("binding aperture for LZA %d: %w", baseLZA, err)
	}
	if ev != nil {
		if err := b.manager.CommitAssign(*ev, b.pid, userVA); err != nil {
			return 0, fmt.Errorf("committing eviction for LZA %d: %w", baseLZA, err)
		}
	}
	entry, ok := b.manager.Descriptor(baseLZA)
	if !ok {
		return 0, fmt.Errorf("aperture bind for LZA %d reported success but left no entry", baseLZA)
	}
	return entry.Index, nil
}

func (b *FAMBackend) transfer(bos []BookRef, off int64, p []byte, write bool) (int, error) {
	done := 0
	for _, seg := range b.translator.splitByBook(uint64(off), len(p)) {
		bookIdx := seg.shelfOff / b.bookSize
		if bookIdx >= uint64(len(bos)) {
			if write {
				return done, fmt.Errorf("shadow_offset: shelf offset %d is past the shelf's last book", seg.shelfOff)
			}
			return done, nil
		}
		book := bos[bookIdx]
		baseLZA := lzaOf(book.IG, book.BookNum)

		if _, err := b.bind(baseLZA, seg.shelfOff); err != nil {
			if write {
				return done, err
			}
			return done, nil
		}

		phys, err := b.translator.ShadowOffset(bos, seg.shelfOff)
		if err != nil {
			return done, err
		}
		winOff := uint64(phys)
		if winOff+uint64(seg.length) > uint64(len(b.mapping)) {
			return done, fmt.Errorf("shadow_offset %d overruns mapping of size %d", phys, len(b.mapping))
		}

		if write {
			copy(b.mapping[winOff:winOff+uint64(seg.length)], p[done:done+seg.length])
		} else {
			copy(p[done:done+seg.length], b.mapping[winOff:winOff+uint64(seg.length)])
		}
		done += seg.length
	}
	return done, nil
}

func (b *FAMBackend) ReadAt(_ string, bos []BookRef, off int64, p []byte) (int, error) {
	return b.transfer(bos, off, p, false)
}

func (b *FAMBackend) WriteAt(_ string, bos []BookRef, off int64, p []byte) (int, error) {
	return b.transfer(bos, off, p, true)
}

func (b *FAMBackend) Close() error {
	return nil
}
