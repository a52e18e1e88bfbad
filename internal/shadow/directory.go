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
	"path/filepath"
	"sync"
)

// DirectoryBackend keeps one regular host file per shelf under root,
// per spec.md §6 ("path = shadow_dir/<shelf-name>"). Offset translation
// is not used: reads and writes go directly to the shelf's file
// descriptor at the given shelf-relative offset.
type DirectoryBackend struct {
	root string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewDirectoryBackend opens shelf files lazily under root.
func NewDirectoryBackend(root string) *DirectoryBackend {
	return &DirectoryBackend{root: root, files: make(map[string]*os.File)}
}

func (b *DirectoryBackend) fileFor(shelfName string) (*os.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f, ok := b.files[shelfName]; ok {
		return f, nil
	}
	path := filepath.Join(b.root, shelfName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening shelf file %q: %w", path, err)
	}
	b.files[shelfName] = f
	return f, nil
}

func (b *DirectoryBackend) ReadAt(shelfName string, _ []BookRef, off int64, p []byte) (int, error) {
	f, err := b.fileFor(shelfName)
	if err != nil {
		return 0, err
	}
	return f.ReadAt(p, off)
}

func (b *DirectoryBackend) WriteAt(shelfName string, _ []BookRef, off int64, p []byte) (int, error) {
	f, err := b.fileFor(shelfName)
	if err != nil {
		return 0, err
	}
	return f.WriteAt(p, off)
}

func (b *DirectoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for name, f := range b.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing shelf file %q: %w", name, err)
		}
	}
	return firstErr
}
