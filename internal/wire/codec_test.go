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

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/suite"
)

type CodecTest struct {
	suite.Suite
}

func TestCodecSuite(t *testing.T) {
	suite.Run(t, new(CodecTest))
}

func (t *CodecTest) TestWriteThenReadFrameRoundTrip() {
	var buf bytes.Buffer
	t.Require().NoError(writeFrame(&buf, reply{Errno: 0, Value: "hello"}))

	body, err := readFrame(&buf)
	t.Require().NoError(err)
	t.Contains(string(body), "hello")
}

func (t *CodecTest) TestMultipleFramesInSequence() {
	var buf bytes.Buffer
	t.Require().NoError(writeFrame(&buf, reply{Errno: 1}))
	t.Require().NoError(writeFrame(&buf, reply{Errno: 2}))

	first, err := readFrame(&buf)
	t.Require().NoError(err)
	t.Contains(string(first), `"errno":1`)

	second, err := readFrame(&buf)
	t.Require().NoError(err)
	t.Contains(string(second), `"errno":2`)
}

func (t *CodecTest) TestFrameLengthOverLimitRejected() {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := readFrame(&buf)
	t.Error(err)
}
