// Copyright 2024 Google Inc. All Rights Reserved.
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

package cfg

const (
	// DefaultSocketPath is the Unix socket the command engine listens on
	// when no --socket-path flag is given.
	DefaultSocketPath = "/run/librariand.sock"

	// DefaultMetricsAddr is the address the Prometheus /metrics endpoint
	// binds to by default.
	DefaultMetricsAddr = "127.0.0.1:9401"

	// DefaultDescriptorDevicePath is the character device the descriptor
	// manager issues ioctls against by default.
	DefaultDescriptorDevicePath = "/dev/descioctl"
)
