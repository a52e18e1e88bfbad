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

// Package topology parses the machine topology JSON document and
// extracts exactly the fields the rest of the daemon consumes: book
// size, per-IG book counts, the aggregate NVM total, node identity, and
// service transport endpoints. Everything else in the document is kept
// as an opaque map and never interpreted.
package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// NodeTopology is one node within an enclosure. Only Id is consumed;
// any other fields present in the source document ride along in Extra.
type NodeTopology struct {
	ID    int                    `mapstructure:"id"`
	Extra map[string]interface{} `mapstructure:",remain"`
}

// EnclosureTopology is one enclosure within a rack.
type EnclosureTopology struct {
	ID    int            `mapstructure:"id"`
	Nodes []NodeTopology `mapstructure:"nodes"`
}

// RackTopology is one rack within the document.
type RackTopology struct {
	ID         int                 `mapstructure:"id"`
	Enclosures []EnclosureTopology `mapstructure:"enclosures"`
}

// Topology is the parsed, immutable view of the machine topology
// document: racks -> enclosures -> nodes -> interleave groups, plus the
// few scalar fields the core consumes.
type Topology struct {
	BookSizeBytes uint64
	NVMBytesTotal uint64
	BooksPerIG    map[int]int
	Services      map[string]string
	Racks         []RackTopology

	// NodeIDs is every node id found in Racks, ascending.
	NodeIDs []int
	// Coordinates maps node id -> "R<rack>.E<enclosure>.N<node>", built
	// fresh from each rack/enclosure/node prefix as the tree is walked
	// (never reused across siblings, so collisions are always detected
	// against the coordinate actually produced for that node, not a
	// leftover buffer from the previous one).
	Coordinates map[int]string
}

// rawDoc is the subset of the topology JSON the core binds via
// mapstructure; any unrecognized top-level key is preserved in Extra and
// otherwise ignored.
type rawDoc struct {
	BookSize      string                 `mapstructure:"book_size"`
	NVMBytesTotal string                 `mapstructure:"nvm_bytes_total"`
	BooksPerIG    map[string]int         `mapstructure:"books_per_IG"`
	Services      map[string]string      `mapstructure:"services"`
	Racks         []RackTopology         `mapstructure:"racks"`
	Extra         map[string]interface{} `mapstructure:",remain"`
}

// Load reads and parses the topology document at path.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a topology document already read into memory.
func Parse(data []byte) (*Topology, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parsing topology json: %w", err)
	}

	var doc rawDoc
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("building topology decoder: %w", err)
	}
	if err := decoder.Decode(generic); err != nil {
		return nil, fmt.Errorf("decoding topology document: %w", err)
	}

	bookSize, err := ParseSize(doc.BookSize)
	if err != nil {
		return nil, fmt.Errorf("book_size: %w", err)
	}
	nvmTotal, err := ParseSize(doc.NVMBytesTotal)
	if err != nil {
		return nil, fmt.Errorf("nvm_bytes_total: %w", err)
	}

	booksPerIG := make(map[int]int, len(doc.BooksPerIG))
	for k, v := range doc.BooksPerIG {
		ig, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("books_per_IG key %q: not an integer IG", k)
		}
		booksPerIG[ig] = v
	}

	coords, nodeIDs, err := buildCoordinates(doc.Racks)
	if err != nil {
		return nil, err
	}

	t := &Topology{
		BookSizeBytes: bookSize,
		NVMBytesTotal: nvmTotal,
		BooksPerIG:    booksPerIG,
		Services:      doc.Services,
		Racks:         doc.Racks,
		NodeIDs:       nodeIDs,
		Coordinates:   coords,
	}
	if err := t.validateNVMTotal(); err != nil {
		return nil, err
	}
	return t, nil
}

// buildCoordinates walks racks -> enclosures -> nodes, producing a fresh
// "R<rack>.E<enclosure>.N<node>" string for each node from that node's
// own prefix and failing on any duplicate. Each coordinate is built from
// the current rack/enclosure/node triple only; nothing from a prior
// sibling's coordinate is reused, so a duplicate can only mean the
// document itself names the same node twice.
func buildCoordinates(racks []RackTopology) (map[int]string, []int, error) {
	coords := make(map[int]string)
	seen := make(map[string]bool)
	var nodeIDs []int

	for _, rack := range racks {
		for _, enc := range rack.Enclosures {
			for _, node := range enc.Nodes {
				prefix := fmt.Sprintf("R%d.E%d.N%d", rack.ID, enc.ID, node.ID)
				if seen[prefix] {
					return nil, nil, fmt.Errorf("duplicate topology coordinate %q", prefix)
				}
				seen[prefix] = true
				coords[node.ID] = prefix
				nodeIDs = append(nodeIDs, node.ID)
			}
		}
	}
	sort.Ints(nodeIDs)
	return coords, nodeIDs, nil
}

// validateNVMTotal enforces that the declared aggregate NVM total
// agrees with the per-IG book counts and book size; a mismatch is a
// fatal startup condition (spec §7), surfaced here as a plain error for
// cmd/librariand to treat as fatal.
func (t *Topology) validateNVMTotal() error {
	var sum uint64
	for _, count := range t.BooksPerIG {
		sum += uint64(count) * t.BookSizeBytes
	}
	if sum != t.NVMBytesTotal {
		return fmt.Errorf("topology NVM total conflict: declared %d, derived %d from books_per_IG * book_size", t.NVMBytesTotal, sum)
	}
	return nil
}

// IGForNode derives a node's interleave group under the design's 1:1
// IG<->node rule: IG = node_id - 1.
func IGForNode(nodeID int) int {
	return nodeID - 1
}

var sizeSuffixes = map[string]uint64{
	"B": 1,
	"K": 1 << 10,
	"M": 1 << 20,
	"G": 1 << 30,
	"T": 1 << 40,
}

// ParseSize parses an integer byte count with an optional single-letter
// K|M|G|T|B suffix (e.g. "8G", "512M", "4096").
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size value")
	}
	last := s[len(s)-1:]
	mult, hasSuffix := sizeSuffixes[strings.ToUpper(last)]
	numPart := s
	if hasSuffix {
		numPart = s[:len(s)-1]
	} else {
		mult = 1
	}
	n, err := strconv.ParseUint(strings.TrimSpace(numPart), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
