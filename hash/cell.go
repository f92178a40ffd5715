// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package hash

import (
	"sync/atomic"
	"unsafe"
)

// Cell is an atomically-swapped pointer to a Link. It is the field every
// hashmap.Entry (both bucket heads and regular nodes) embeds: loading,
// CAS-ing and OR-ing the (hash, next) pair all reduce to pointer ops on
// Cell, which is exactly the "atomic pair abstraction exposing
// LoadAcquire/CASRelease/FetchOrRelaxed" spec.md §9 asks a safe
// re-implementation to provide.
type Cell struct {
	link unsafe.Pointer // *Link, atomic
}

// LoadAcquire reads the current Link with acquire semantics: a concurrent
// reader observing a just-inserted node also observes that node's fully
// initialized contents.
func (c *Cell) LoadAcquire() *Link {
	return (*Link)(atomic.LoadPointer(&c.link))
}

// StoreRelease installs l unconditionally, with release semantics. Used
// only to seed an Entry before it is ever shared (spec.md's "precondition
// cleanup": entry.hash = 0; entry.next = NULL before insertion).
func (c *Cell) StoreRelease(l *Link) {
	atomic.StorePointer(&c.link, unsafe.Pointer(l))
}

// CASRelease attempts to replace old with new, with release semantics on
// success so a subsequent LoadAcquire by a reader observes new's fully
// initialized contents. Returns whether it succeeded.
func (c *Cell) CASRelease(old, new *Link) bool {
	return atomic.CompareAndSwapPointer(&c.link, unsafe.Pointer(old), unsafe.Pointer(new))
}

// FetchOrMarkRelaxed sets the REMOVE mark on the current Link's Next
// field, looping until it wins a CAS against whatever the Cell currently
// holds. It is relaxed: spec.md notes the subsequent physical-unlink CAS
// is what actually publishes the change, so no ordering is required here
// beyond what CASRelease already provides. Returns the now-marked Link,
// and true if this call was the one that set the mark (false if another
// goroutine already had, which must be treated as success by the caller:
// unlinking is idempotent).
func (c *Cell) FetchOrMarkRelaxed() (marked *Link, wasFirst bool) {
	for {
		cur := c.LoadAcquire()
		if cur == nil {
			// No Link box yet: this node has no successor, but it can
			// still be logically deleted — the REMOVE mark lives on the
			// Next field regardless of whether Next itself is nil.
			next := &Link{Next: Mark(nil)}
			if c.CASRelease(nil, next) {
				return next, true
			}
			continue
		}
		if Marked(cur.Next) {
			return cur, false
		}
		next := &Link{Hash: cur.Hash, Next: Mark(cur.Next)}
		if c.CASRelease(cur, next) {
			return next, true
		}
	}
}
