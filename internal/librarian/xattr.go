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

package librarian

import (
	"encoding/json"
	"strings"

	"github.com/rackscale/lfs-librarian/internal/bookpolicy"
	"github.com/rackscale/lfs-librarian/internal/store"
)

// Reserved LFS-namespace xattr names (spec §6).
const (
	xattrAllocationPolicy     = "user.LFS.AllocationPolicy"
	xattrAllocationPolicyList = "user.LFS.AllocationPolicyList"
	xattrInterleave           = "user.LFS.Interleave"
	lfsNamespacePrefix        = "user.LFS."
)

func isAllocationPolicyValid(v string) bool {
	for _, n := range bookpolicy.List {
		if string(n) == v {
			return true
		}
	}
	return false
}

type xattrNameArgs struct {
	ShelfID uint64 `json:"shelf_id"`
	Name    string `json:"name"`
}

func handleGetXAttr(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args xattrNameArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}

	switch args.Name {
	case xattrAllocationPolicyList:
		names := make([]string, len(bookpolicy.List))
		for i, n := range bookpolicy.List {
			names[i] = string(n)
		}
		return strings.Join(names, ","), nil
	case xattrInterleave:
		return interleaveSequence(tx, args.ShelfID)
	}

	x, err := tx.GetXAttr(args.ShelfID, args.Name)
	if err != nil {
		return nil, errNoEnt("xattr %q not found on shelf %d", args.Name, args.ShelfID)
	}
	return x.Value, nil
}

// interleaveSequence returns the per-book IG sequence of a shelf, used
// by the read-only user.LFS.Interleave xattr.
func interleaveSequence(tx store.Tx, shelfID uint64) ([]int, *EngineError) {
	bosRows, err := tx.GetBOSByShelfID(shelfID)
	if err != nil {
		return nil, fromGoError(err)
	}
	igs := make([]int, len(bosRows))
	for i, row := range bosRows {
		book, err := tx.GetBookByID(row.BookID)
		if err != nil {
			return nil, fromGoError(err)
		}
		igs[i] = book.IG
	}
	return igs, nil
}

func handleListXAttrs(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args struct {
		ShelfID uint64 `json:"shelf_id"`
	}
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	xattrs, err := tx.ListXAttrs(args.ShelfID)
	if err != nil {
		return nil, fromGoError(err)
	}
	return xattrs, nil
}

type setXAttrArgs struct {
	ShelfID uint64 `json:"shelf_id"`
	Name    string `json:"name"`
	Value   string `json:"value"`
}

// set_xattr requires user.LFS.AllocationPolicy's value to be a member
// of the policy enum; any other mutation in the LFS namespace fails
// EINVAL (AllocationPolicyList and Interleave are read-only derived
// values, not stored rows).
func handleSetXAttr(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args setXAttrArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}

	if strings.HasPrefix(args.Name, lfsNamespacePrefix) {
		if args.Name != xattrAllocationPolicy {
			return nil, errInval("xattr %q is read-only or reserved", args.Name)
		}
		if !isAllocationPolicyValid(args.Value) {
			return nil, errInval("xattr %s: %q is not a known allocation policy", xattrAllocationPolicy, args.Value)
		}
	}

	x := store.XAttr{ShelfID: args.ShelfID, Name: args.Name, Value: args.Value}
	if err := tx.ModifyXAttr(x); err != nil {
		return nil, fromGoError(err)
	}
	return nil, nil
}

// remove_xattr never succeeds for an LFS-namespace name.
func handleRemoveXAttr(e *Engine, tx store.Tx, ctx Context, raw json.RawMessage) (interface{}, *EngineError) {
	var args xattrNameArgs
	if eerr := decodeArgs(raw, &args); eerr != nil {
		return nil, eerr
	}
	if strings.HasPrefix(args.Name, lfsNamespacePrefix) {
		return nil, errInval("removing reserved xattr %q is not permitted", args.Name)
	}
	if err := tx.DeleteXAttr(args.ShelfID, args.Name); err != nil {
		return nil, errNoEnt("xattr %q not found on shelf %d", args.Name, args.ShelfID)
	}
	return nil, nil
}
