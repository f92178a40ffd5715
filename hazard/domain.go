// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package hazard implements a hazard-pointer based safe memory reclamation
// domain: a process-wide (or, here, per-Domain) registry of per-goroutine
// reservation slots that lets a lock-free reader publish the address of a
// shared object it is about to dereference, and lets a retirement path
// defer freeing that object until no published reservation still names it.
package hazard

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/aristanetworks/lockfreemap/logger"
	"github.com/aristanetworks/lockfreemap/monotime"
	"github.com/aristanetworks/lockfreemap/sync/semaphore"
)

// ErrSlotsExhausted is returned by Register when the Domain already has its
// configured maximum number of live Handles registered. Spec-wise this is
// the "slot exhaustion is a configuration error reported at thread
// registration" case: the caller is expected to size NewDomain's
// maxHandles argument up front.
var ErrSlotsExhausted = errors.New("hazard: no hazard handles available")

// Deleter frees a retired pointer once the scan has determined no handle
// still publishes it.
type Deleter func(ptr unsafe.Pointer)

// Domain is a registry of per-goroutine hazard-pointer handles plus the
// retirement/scan machinery that reclaims memory those handles no longer
// protect. A zero Domain is not usable; construct one with NewDomain.
type Domain struct {
	slotsPerHandle int
	sem            *semaphore.Weighted
	maxHandles     int64

	mu      sync.Mutex
	handles []*Handle // registry of live handles, scanned during retire

	logger  logger.Logger
	metrics *metrics
}

// Option configures a Domain at construction time.
type Option func(*Domain)

// WithLogger overrides the Domain's logger (default: a no-op logger).
func WithLogger(l logger.Logger) Option {
	return func(d *Domain) { d.logger = l }
}

// WithMetrics registers the Domain's counters/gauges against reg.
func WithMetrics(reg metricsRegisterer) Option {
	return func(d *Domain) { d.metrics = newMetrics(reg) }
}

// NewDomain creates a hazard pointer domain allowing up to maxHandles
// concurrently-registered goroutines, each with slotsPerHandle publication
// slots (spec.md "typical: 2x total hazard slots" sizes the retire
// threshold off this number).
func NewDomain(maxHandles, slotsPerHandle int, opts ...Option) *Domain {
	if slotsPerHandle < 1 {
		slotsPerHandle = 2
	}
	d := &Domain{
		slotsPerHandle: slotsPerHandle,
		sem:            semaphore.NewWeighted(int64(maxHandles)),
		maxHandles:     int64(maxHandles),
		logger:         logger.Nop{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register reserves a Handle for the calling goroutine. The returned Handle
// must be used by a single goroutine at a time and released with
// Handle.Close when that goroutine is done with the domain.
func (d *Domain) Register() (*Handle, error) {
	if !d.sem.TryAcquire(1) {
		d.logger.Errorf("hazard: registration refused, %d handles already live", d.maxHandles)
		return nil, ErrSlotsExhausted
	}
	h := &Handle{
		domain:    d,
		published: make([]unsafe.Pointer, d.slotsPerHandle),
		free:      make([]bool, d.slotsPerHandle),
	}
	for i := range h.free {
		h.free[i] = true
	}
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.handlesRegistered.Inc()
	}
	return h, nil
}

func (d *Domain) unregister(h *Handle) {
	d.mu.Lock()
	for i, live := range d.handles {
		if live == h {
			d.handles = append(d.handles[:i], d.handles[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
	d.sem.Release(1)
}

// retireThreshold is the list length, per Handle, that triggers a scan:
// twice the number of slots one Handle has (slotsPerHandle), not twice
// the slot count across all registered Handles.
func (d *Domain) retireThreshold() int {
	return 2 * d.slotsPerHandle
}

// scan collects every pointer currently published across all live handles
// in the domain. The caller must hold no assumption about ordering; this
// is purely a snapshot used to decide what is safe to reclaim.
func (d *Domain) scan() map[unsafe.Pointer]struct{} {
	d.mu.Lock()
	handles := make([]*Handle, len(d.handles))
	copy(handles, d.handles)
	d.mu.Unlock()

	live := make(map[unsafe.Pointer]struct{})
	for _, h := range handles {
		for i := range h.published {
			if p := atomic.LoadPointer(&h.published[i]); p != nil {
				live[p] = struct{}{}
			}
		}
	}
	return live
}

// reclaim runs deleter against every retired pointer in list not present in
// the live set, returning the pointers that must be kept for another round.
func (d *Domain) reclaim(list []retirement) []retirement {
	start := monotime.Now()
	live := d.scan()
	kept := list[:0]
	reclaimed := 0
	for _, r := range list {
		if _, stillLive := live[r.ptr]; stillLive {
			kept = append(kept, r)
			continue
		}
		r.deleter(r.ptr)
		reclaimed++
	}
	if d.metrics != nil {
		d.metrics.scans.Inc()
		d.metrics.reclaimed.Add(float64(reclaimed))
		d.metrics.scanDuration.Observe(monotime.Since(start).Seconds())
	}
	d.logger.Infof("hazard: scan reclaimed %d/%d retired nodes", reclaimed, len(list))
	return kept
}
