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

package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const sampleDoc = `{
  "book_size": "8G",
  "nvm_bytes_total": "16G",
  "books_per_IG": {"0": 1, "1": 1},
  "services": {"librarian": "unix:///run/librariand.sock"},
  "racks": [
    {
      "id": 1,
      "enclosures": [
        {"id": 1, "nodes": [{"id": 1}, {"id": 2}]}
      ]
    }
  ],
  "extraneous_field": {"ignored": true}
}`

type TopologyTest struct {
	suite.Suite
}

func TestTopologySuite(t *testing.T) {
	suite.Run(t, new(TopologyTest))
}

func (t *TopologyTest) TestParseConsumesNamedFields() {
	top, err := Parse([]byte(sampleDoc))
	t.Require().NoError(err)

	t.Equal(uint64(8<<30), top.BookSizeBytes)
	t.Equal(uint64(16<<30), top.NVMBytesTotal)
	t.Equal(map[int]int{0: 1, 1: 1}, top.BooksPerIG)
	t.Equal("unix:///run/librariand.sock", top.Services["librarian"])
	t.Equal([]int{1, 2}, top.NodeIDs)
	t.Equal("R1.E1.N1", top.Coordinates[1])
	t.Equal("R1.E1.N2", top.Coordinates[2])
}

func (t *TopologyTest) TestParseRejectsNVMTotalConflict() {
	bad := `{"book_size":"8G","nvm_bytes_total":"1G","books_per_IG":{"0":1},"racks":[]}`
	_, err := Parse([]byte(bad))
	t.Error(err)
}

func (t *TopologyTest) TestParseRejectsDuplicateCoordinate() {
	dup := `{
  "book_size": "8G",
  "nvm_bytes_total": "16G",
  "books_per_IG": {"0": 2},
  "racks": [
    {"id": 1, "enclosures": [
      {"id": 1, "nodes": [{"id": 1}]},
      {"id": 1, "nodes": [{"id": 1}]}
    ]}
  ]
}`
	_, err := Parse([]byte(dup))
	t.Error(err)
}

func (t *TopologyTest) TestIGForNode() {
	t.Equal(0, IGForNode(1))
	t.Equal(4, IGForNode(5))
}

func TestParseSize(t *testing.T) {
	cases := map[string]uint64{
		"8G":   8 << 30,
		"512M": 512 << 20,
		"1T":   1 << 40,
		"4096": 4096,
		"2K":   2 << 10,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	_, err := ParseSize("not-a-size")
	require.Error(t, err)
}
