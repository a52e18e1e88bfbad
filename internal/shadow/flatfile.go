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
	"os"
)

// FlatFileBackend backs every shelf with one pre-sized file covering
// nvm_bytes_total (spec.md §6: mode 0600); reads and writes are
// translated through shadow_offset, piecewise across book boundaries.
type FlatFileBackend struct {
	f          *os.File
	translator *Translator
}

// OpenFlatFile opens (creating if necessary) the single flat-file shadow
// at path, sized to nvmBytesTotal.
func OpenFlatFile(path string, nvmBytesTotal uint64, translator *Translator) (*FlatFileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening flat-file shadow %q: %w", path, err)
	}
	if err := f.Truncate(int64(nvmBytesTotal)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing flat-file shadow %q to %d bytes: %w", path, nvmBytesTotal, err)
	}
	return &FlatFileBackend{f: f, translator: translator}, nil
}

func (b *FlatFileBackend) ReadAt(_ string, bos []BookRef, off int64, p []byte) (int, error) {
	read := 0
	for _, seg := range b.translator.splitByBook(uint64(off), len(p)) {
		phys, err := b.translator.ShadowOffset(bos, seg.shelfOff)
		if err != nil {
			return read, fmt.Errorf("shadow_offset at shelf offset %d: %w", seg.shelfOff, err)
		}
		if phys < 0 {
			// Translation failure (EOF) mid-transfer terminates the read,
			// returning the bytes copied so far.
			return read, nil
		}
		n, err := b.f.ReadAt(p[read:read+seg.length], phys)
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func (b *FlatFileBackend) WriteAt(_ string, bos []BookRef, off int64, p []byte) (int, error) {
	written := 0
	for _, seg := range b.translator.splitByBook(uint64(off), len(p)) {
		phys, err := b.translator.ShadowOffset(bos, seg.shelfOff)
		if err != nil {
			return written, fmt.Errorf("shadow_offset at shelf offset %d: %w", seg.shelfOff, err)
		}
		if phys < 0 {
			// Unlike reads, a translation failure aborts the write.
			return written, fmt.Errorf("shadow_offset: shelf offset %d is past the shelf's last book", seg.shelfOff)
		}
		n, err := b.f.WriteAt(p[written:written+seg.length], phys)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (b *FlatFileBackend) Close() error {
	return b.f.Close()
}
