// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package hazard

import "unsafe"

// Acquire is the free-function rendition of spec.md §6's
// `acquire(loc, slot) -> ptr`: it atomically loads *loc, publishes the
// observed value in slot, and re-validates against *loc until stable.
// slot must have been created by some Handle's NewSlot.
func Acquire(loc *unsafe.Pointer, slot *Slot) unsafe.Pointer {
	return slot.h.Acquire(loc, slot)
}

// Release clears slot's publication.
func Release(slot *Slot) {
	slot.h.Release(slot)
}

// ReleaseReadonly is Release, named separately per spec.md §6's
// release_readonly hint.
func ReleaseReadonly(slot *Slot) {
	slot.h.ReleaseReadonly(slot)
}

// Publish stores ptr in slot without Acquire's own re-validation loop. It
// exists for collaborators like lockfreemap/hashmap whose (hash, next)
// pair is boxed rather than a single atomic word (Go has no native
// double-width CAS, see SPEC_FULL.md §3): they re-validate at the
// granularity of their own boxed pair and then hand the result off to a
// hazard.Slot with Publish rather than Acquire's flat-pointer loop.
func Publish(slot *Slot, ptr unsafe.Pointer) {
	slot.h.publish(ptr, slot)
}

// Retire hands ptr to slot's owning Handle for deferred reclamation.
func Retire(slot *Slot, ptr unsafe.Pointer, deleter Deleter) {
	slot.h.Retire(ptr, deleter)
}
