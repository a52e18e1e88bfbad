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

// Backend is the shelf data path: the place reads and writes against a
// shelf's bytes actually land. Three backends satisfy it (spec.md
// §4.4): Directory (one host file per shelf, no translation), FlatFile
// (one pre-sized file, shadow_offset translated) and IVSHMEM (a single
// mmap, shadow_offset translated, additionally fault-aware).
type Backend interface {
	// ReadAt reads len(p) bytes of shelfName starting at the
	// shelf-relative offset off, given the shelf's BOS in seq_num order.
	// A translation failure mid-transfer (FlatFile/IVSHMEM only)
	// terminates the read, returning the bytes copied so far and a nil
	// error, per spec.md §4.4.
	ReadAt(shelfName string, bos []BookRef, off int64, p []byte) (int, error)
	// WriteAt writes p to shelfName starting at off. A translation
	// failure mid-transfer aborts the write with a non-nil error.
	WriteAt(shelfName string, bos []BookRef, off int64, p []byte) (int, error)
	Close() error
}
