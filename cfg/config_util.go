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

package cfg

import "runtime"

// DefaultCommandWorkers returns max(4, runtime.NumCPU()). Nothing in this
// module calls it; the command engine has no worker pool.
func DefaultCommandWorkers() int {
	return max(4, runtime.NumCPU())
}

// IsSQLStore reports whether the configured store backend is the SQL one.
func IsSQLStore(c *Config) bool {
	return c.Store.Backend == StoreBackendSQL
}
