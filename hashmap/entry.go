// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package hashmap implements a lock-free concurrent hash table: many
// goroutines may Insert, Lookup and Remove entries without taking a lock,
// with progress guaranteed even under contention. Safe reclamation of
// removed entries is deferred through a lockfreemap/hazard.Domain rather
// than freed immediately, since a concurrent Lookup may still be
// dereferencing them.
//
// The table does not resize, does not support iteration, makes no
// ordering guarantee among entries that collide, and does not enforce
// per-key uniqueness: callers own both the keys and the node storage.
package hashmap

import (
	"sync/atomic"
	"unsafe"

	"github.com/aristanetworks/lockfreemap/hash"
)

// Entry is the intrusive header a caller's record embeds as its first
// field in order to participate in a Table. The zero value is a valid,
// unlinked Entry.
type Entry struct {
	cell hash.Cell

	// linked guards against the same Entry being inserted twice while
	// already part of a chain, the Go rendition of spec.md §7's
	// "double-insert of same node" fatal assertion.
	linked int32
}

// CompareFunc reports whether the record behind e matches key; it returns
// 0 on a match, matching spec.md §4.2's cmp_fn convention. It must be
// pure and may only dereference e itself: the hazard publication held
// during a Lookup only guarantees e's own storage is live, not anything
// it might point to elsewhere.
type CompareFunc func(e *Entry, key interface{}) int

// KeyExtractFunc extracts a displayable key from an Entry, used only by
// the debug-only Table.Check traversal.
type KeyExtractFunc func(e *Entry) interface{}

// reset reinitializes e as an empty head/tail: spec.md's "precondition
// cleanup" before an Entry may participate in any CAS.
func (e *Entry) reset() {
	e.cell.StoreRelease(nil)
	atomic.StoreInt32(&e.linked, 0)
}

// markLinked performs the double-insert assertion: it panics if e is
// already part of some chain.
func (e *Entry) markLinked() {
	if !atomic.CompareAndSwapInt32(&e.linked, 0, 1) {
		panic("hashmap: insert of an entry that is already linked")
	}
}

func entryOf(p unsafe.Pointer) *Entry {
	return (*Entry)(p)
}
