// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package hazard

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Handle is a registered goroutine's hazard-pointer context: a small pool
// of publication slots plus that goroutine's pending retirement list. A
// Handle must not be shared between goroutines; each goroutine that needs
// to traverse a lock-free structure protected by a Domain should Register
// its own Handle and Close it when done.
type Handle struct {
	domain    *Domain
	published []unsafe.Pointer
	free      []bool
	mu        sync.Mutex

	retireList []retirement
	closed     bool
}

// Slot is a single hazard-pointer publication cell owned exclusively by
// the Handle that created it via NewSlot.
type Slot struct {
	h   *Handle
	idx int
}

type retirement struct {
	ptr     unsafe.Pointer
	deleter Deleter
}

// NewSlot reserves one of the Handle's fixed publication slots. Panics if
// the Handle's slot pool (sized by slotsPerHandle at NewDomain time) is
// exhausted; callers size slotsPerHandle to the maximum number of hazard
// pointers any single operation needs to hold concurrently.
func (h *Handle) NewSlot() *Slot {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, f := range h.free {
		if f {
			h.free[i] = false
			return &Slot{h: h, idx: i}
		}
	}
	panic("hazard: handle has no free publication slots left")
}

// Free releases slot back to its Handle's pool for reuse. It implies
// Release.
func (s *Slot) Free() {
	s.h.Release(s)
	s.h.mu.Lock()
	s.h.free[s.idx] = true
	s.h.mu.Unlock()
}

// Acquire atomically loads *loc, publishes the observed value in slot, then
// reloads *loc; if the reload disagrees with what was published, it
// retries. On return, the pointer value returned is guaranteed stable:
// a concurrent Retire of that same pointer will see the publication before
// freeing it, per the Domain's scan protocol.
func (h *Handle) Acquire(loc *unsafe.Pointer, slot *Slot) unsafe.Pointer {
	for {
		p := atomic.LoadPointer(loc)
		h.publish(p, slot)
		if atomic.LoadPointer(loc) == p {
			return p
		}
	}
}

// publish stores ptr in slot without Acquire's re-validation loop; see
// the package-level Publish for why a caller would want that.
func (h *Handle) publish(ptr unsafe.Pointer, slot *Slot) {
	old := atomic.SwapPointer(&h.published[slot.idx], ptr)
	if h.domain.metrics != nil {
		h.domain.metrics.acquires.Inc()
		if old == nil && ptr != nil {
			h.domain.metrics.publishedGauge.Inc()
		} else if old != nil && ptr == nil {
			h.domain.metrics.publishedGauge.Dec()
		}
	}
}

// Release clears slot's publication, telling the domain this handle no
// longer needs ptr protected.
func (h *Handle) Release(slot *Slot) {
	if atomic.SwapPointer(&h.published[slot.idx], nil) != nil {
		if h.domain.metrics != nil {
			h.domain.metrics.publishedGauge.Dec()
		}
	}
}

// ReleaseReadonly is Release, named separately per spec.md's distinction
// between a slot that held a pointer intended for mutation and one that
// was only ever read; the two are mechanically identical here.
func (h *Handle) ReleaseReadonly(slot *Slot) {
	h.Release(slot)
}

// Retire hands ptr to the domain for deferred reclamation: once no live
// handle's slot publishes ptr, deleter(ptr) is invoked. Retirement lists
// are scanned once they exceed the domain's retire threshold, twice the
// number of slots one Handle has (see Domain.retireThreshold).
func (h *Handle) Retire(ptr unsafe.Pointer, deleter Deleter) {
	h.retireList = append(h.retireList, retirement{ptr: ptr, deleter: deleter})
	if h.domain.metrics != nil {
		h.domain.metrics.retires.Inc()
	}
	if len(h.retireList) > h.domain.retireThreshold() {
		h.retireList = h.domain.reclaim(h.retireList)
	}
}

// Close unregisters the handle from its domain. It makes one best-effort
// final reclamation pass over anything still on the retirement list. Any
// survivors (only possible if another handle still has them published)
// stay on this closed handle's list: no later scan covers that list, so
// their deleters never run. Their count is logged.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	if len(h.retireList) > 0 {
		h.retireList = h.domain.reclaim(h.retireList)
		if len(h.retireList) > 0 {
			h.domain.logger.Errorf("hazard: handle closed with %d nodes still protected by another handle", len(h.retireList))
		}
	}
	h.domain.unregister(h)
}
