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

// Package shadow is the shelf cache and LZA translator: a process-local
// cache of opened shelves keyed by both name and handle, plus the
// shadow_offset translation from a shelf-relative byte offset to a flat
// physical offset, and the three shelf data-path backends (directory,
// flat file, ivshmem) that consume it.
package shadow

import (
	"fmt"
	"sort"
)

// BookRef is the piece of a store.Book the translator needs: its
// interleave group and in-IG book number. Shelf caches carry a slice of
// these in BOS seq_num order rather than full store.Book values, so the
// translator has no store dependency.
type BookRef struct {
	BookID  uint64
	IG      int
	BookNum int
}

// IGStartOffsets computes ig_start[ig]: the cumulative byte offset of
// IG's first book within the flat address space, built from the
// *actual* per-IG book counts in ascending IG order (gaps in LZA are
// collapsed per spec.md §4.4).
func IGStartOffsets(booksPerIG map[int]int, bookSizeBytes uint64) map[int]uint64 {
	igs := make([]int, 0, len(booksPerIG))
	for ig := range booksPerIG {
		igs = append(igs, ig)
	}
	sort.Ints(igs)

	offsets := make(map[int]uint64, len(igs))
	var cum uint64
	for _, ig := range igs {
		offsets[ig] = cum
		cum += uint64(booksPerIG[ig]) * bookSizeBytes
	}
	return offsets
}

// Translator converts shelf-relative byte offsets to flat physical
// offsets, per spec.md §4.4.
type Translator struct {
	bookSizeBytes uint64
	igStart       map[int]uint64
}

// NewTranslator builds a Translator over the topology's per-IG book
// counts and the global book size.
func NewTranslator(bookSizeBytes uint64, booksPerIG map[int]int) *Translator {
	return &Translator{
		bookSizeBytes: bookSizeBytes,
		igStart:       IGStartOffsets(booksPerIG, bookSizeBytes),
	}
}

// BookSizeBytes returns the book size the translator was built with.
func (t *Translator) BookSizeBytes() uint64 {
	return t.bookSizeBytes
}

// ShadowOffset implements shadow_offset(name, off): given the shelf's
// BOS in seq_num order, translate a shelf-relative byte offset to its
// flat physical offset. It returns -1 (not an error) when off falls at
// or past the shelf's last book, matching spec.md scenario S4's EOF
// literal.
func (t *Translator) ShadowOffset(bos []BookRef, off uint64) (int64, error) {
	i := off / t.bookSizeBytes
	if i >= uint64(len(bos)) {
		return -1, nil
	}
	book := bos[i]
	start, ok := t.igStart[book.IG]
	if !ok {
		return 0, fmt.Errorf("shadow_offset: book at seq %d names unknown interleave group %d", i+1, book.IG)
	}
	return int64(start + uint64(book.BookNum)*t.bookSizeBytes + off%t.bookSizeBytes), nil
}

// segment is one book-aligned piece of a read/write span.
type segment struct {
	shelfOff uint64
	length   int
}

// splitByBook splits the half-open span [off, off+n) into pieces that
// never cross a book boundary, so each can be translated independently
// by ShadowOffset. Per spec.md §4.4, reads and writes spanning book
// boundaries are split on book-size alignment and translated piecewise.
func (t *Translator) splitByBook(off uint64, n int) []segment {
	var segments []segment
	remaining := n
	cur := off
	for remaining > 0 {
		bookEnd := (cur/t.bookSizeBytes + 1) * t.bookSizeBytes
		pieceLen := int(bookEnd - cur)
		if pieceLen > remaining {
			pieceLen = remaining
		}
		segments = append(segments, segment{shelfOff: cur, length: pieceLen})
		cur += uint64(pieceLen)
		remaining -= pieceLen
	}
	return segments
}
