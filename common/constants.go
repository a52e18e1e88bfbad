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

package common

// Librarian command tags, used as both the wire protocol's "command"
// field and as metric/log attribution labels.
const (
	OpVersion        = "version"
	OpGetFSStats     = "get_fs_stats"
	OpCreateShelf    = "create_shelf"
	OpGetShelf       = "get_shelf"
	OpListShelves    = "list_shelves"
	OpOpenShelf      = "open_shelf"
	OpCloseShelf     = "close_shelf"
	OpDestroyShelf   = "destroy_shelf"
	OpResizeShelf    = "resize_shelf"
	OpGetXAttr       = "get_xattr"
	OpListXAttrs     = "list_xattrs"
	OpSetXAttr       = "set_xattr"
	OpRemoveXAttr    = "remove_xattr"
	OpSetAMTime      = "set_am_time"
	OpKillZombie     = "kill_zombie_books"
	OpLogZero        = "log_zero"
	OpSendOOB        = "send_OOB"
)
