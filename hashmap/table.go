// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package hashmap

import (
	"sync/atomic"
	"unsafe"

	"github.com/aristanetworks/lockfreemap/hash"
	"github.com/aristanetworks/lockfreemap/hazard"
	"github.com/aristanetworks/lockfreemap/logger"
)

const (
	defaultMaxConcurrentOps  = 256
	defaultSlotsPerOperation = 4
)

// Table is a lock-free open-addressed hash table: an array of buckets,
// each the head of its own overflow chain. It never resizes (spec.md
// Non-goal), never iterates its entries, and makes no uniqueness or
// ordering guarantee: callers own both keys and node storage.
type Table struct {
	buckets []Bucket
	nbkts   uint64
	nused   int64 // advisory; see SPEC_FULL.md §5

	domain  *hazard.Domain
	logger  logger.Logger
	metrics *metrics
	deleter hazard.Deleter

	// handles is a free list of registered hazard.Handles, never larger
	// than maxHandles: unlike a sync.Pool, items are never silently
	// dropped by the GC, so a Handle's domain.Register() permit is never
	// leaked. borrowHandle creates a new Handle (consuming one permit)
	// only while handleCount is still below maxHandles; once at the cap
	// it blocks on the channel until an in-flight operation returns one.
	handles     chan *hazard.Handle
	handleCount int64
	maxHandles  int64
}

type tableConfig struct {
	domain         *hazard.Domain
	logger         logger.Logger
	metricsReg     metricsRegisterer
	maxConcurrency int
	deleter        hazard.Deleter
}

// Option configures a Table at Alloc time.
type Option func(*tableConfig)

// WithDomain supplies a pre-built hazard.Domain, e.g. one shared across
// several tables or already wired to a Prometheus registry via
// hazard.WithMetrics.
func WithDomain(d *hazard.Domain) Option {
	return func(c *tableConfig) { c.domain = d }
}

// WithLogger overrides the Table's logger (default: a no-op logger).
func WithLogger(l logger.Logger) Option {
	return func(c *tableConfig) { c.logger = l }
}

// WithMetrics registers the Table's counters/gauges against reg.
func WithMetrics(reg metricsRegisterer) Option {
	return func(c *tableConfig) { c.metricsReg = reg }
}

// WithMaxConcurrentOps sets how many hazard.Handles the Table registers
// for its own operations (default 256) and, when no hazard.Domain is
// supplied via WithDomain, the handle capacity of the Domain it creates.
// Once that many handles are on loan, further operations that need one
// wait until one is returned. If registering a handle with the Domain
// fails (its capacity is already taken, e.g. by callers' own Handles),
// the operation panics rather than threading a second error return
// through every call.
func WithMaxConcurrentOps(n int) Option {
	return func(c *tableConfig) { c.maxConcurrency = n }
}

// WithDeleter overrides what happens to a node once Remove has
// physically unlinked it and no hazard pointer protects it any longer.
// The default deleter simply clears the node's linked flag so the caller
// may Insert it again; callers that pool node storage should supply one
// that also recycles it.
func WithDeleter(d hazard.Deleter) Option {
	return func(c *tableConfig) { c.deleter = d }
}

// Alloc allocates a zero-initialized table with enough buckets to hold
// capacityHint entries at one per head slot (⌈capacityHint/B⌉ buckets,
// spec.md §4.2). Alloc only fails to return a usable table on genuine
// allocation failure, which in Go surfaces as a panic rather than nil.
func Alloc(capacityHint uint32, opts ...Option) *Table {
	cfg := tableConfig{
		logger:         logger.Nop{},
		maxConcurrency: defaultMaxConcurrentOps,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	nbkts := (uint64(capacityHint) + uint64(hash.BucketHeads) - 1) / uint64(hash.BucketHeads)
	if nbkts == 0 {
		nbkts = 1
	}

	t := &Table{
		buckets: make([]Bucket, nbkts),
		nbkts:   nbkts,
		logger:  cfg.logger,
		deleter: cfg.deleter,
	}
	if t.deleter == nil {
		t.deleter = func(ptr unsafe.Pointer) {
			entryOf(ptr).reset()
		}
	}
	if cfg.metricsReg != nil {
		t.metrics = newMetrics(cfg.metricsReg)
	}
	t.domain = cfg.domain
	if t.domain == nil {
		t.domain = hazard.NewDomain(cfg.maxConcurrency, defaultSlotsPerOperation)
	}
	t.maxHandles = int64(cfg.maxConcurrency)
	t.handles = make(chan *hazard.Handle, cfg.maxConcurrency)
	return t
}

// Domain returns the hazard.Domain this table reclaims through. Callers
// that want to hold a Lookup result across further Table calls, rather
// than releasing it immediately, should Register their own Handle
// against this Domain rather than an unrelated one: only publications
// registered to a Table's own Domain are consulted by that Table's
// retirement scans.
func (t *Table) Domain() *hazard.Domain {
	return t.domain
}

func (t *Table) bucketIndex(hv uint64) uint64 {
	return (hv / uint64(hash.BucketHeads)) % t.nbkts
}

// borrowHandle returns a Handle from the free list, registering a new one
// against the domain only until maxHandles have been created; beyond that
// it waits for an in-flight operation to return one via returnHandle. Every
// Handle this creates is returned to t.handles by its borrower and is never
// otherwise discarded, so no domain.Register() permit is ever lost.
func (t *Table) borrowHandle() *hazard.Handle {
	select {
	case h := <-t.handles:
		return h
	default:
	}
	if atomic.AddInt64(&t.handleCount, 1) <= t.maxHandles {
		h, err := t.domain.Register()
		if err != nil {
			atomic.AddInt64(&t.handleCount, -1)
			panic(err)
		}
		return h
	}
	atomic.AddInt64(&t.handleCount, -1)
	return <-t.handles
}

func (t *Table) returnHandle(h *hazard.Handle) {
	t.handles <- h
}

func (t *Table) bumpUsed(delta int64) {
	atomic.AddInt64(&t.nused, delta)
	if t.metrics != nil {
		t.metrics.nusedGauge.Set(float64(atomic.LoadInt64(&t.nused)))
	}
}

// acquireNext reads parent's current Link, publishing its (mark-stripped)
// successor into scratch and re-validating against parent's own Cell
// until the read is stable. parent itself must already be safe to
// dereference: it is either permanent Table memory (a bucket head) or was
// the successor protected by the slot handed off from the previous hop.
// This is the composite-location analogue of hazard.Acquire that boxing
// the (hash, next) pair forces (SPEC_FULL.md §3: Go has no native
// double-width CAS).
func acquireNext(parent *Entry, scratch *hazard.Slot) *hash.Link {
	for {
		l := parent.cell.LoadAcquire()
		if l == nil {
			hazard.Publish(scratch, nil)
			return nil
		}
		cand := hash.Strip(l.Next)
		hazard.Publish(scratch, cand)
		if parent.cell.LoadAcquire() == l {
			return l
		}
	}
}

type unlinkResult int

const (
	unlinkDone unlinkResult = iota
	unlinkParentMarked
)

// physicalUnlink is §4.2.3 step 2: parentLink is parent's own observed
// (hash, next) pair with its Next stripped equal to target and unmarked.
// target must already be logically deleted (its own next carries REMOVE)
// by the time this is called.
func (t *Table) physicalUnlink(parent *Entry, parentLink *hash.Link, target *Entry) unlinkResult {
	tl := target.cell.LoadAcquire()
	var newHash uint64
	var newNext unsafe.Pointer
	if tl != nil {
		newHash = tl.Hash
		newNext = hash.Strip(tl.Next)
	}
	newLink := &hash.Link{Hash: newHash, Next: newNext}
	if parent.cell.CASRelease(parentLink, newLink) {
		t.bumpUsed(-1)
		t.retireNode(target)
		return unlinkDone
	}
	cur := parent.cell.LoadAcquire()
	if cur != nil && hash.Strip(cur.Next) == unsafe.Pointer(target) && hash.Marked(cur.Next) {
		return unlinkParentMarked
	}
	// Either cur == parentLink (a transient benign re-read) or parent's
	// successor is no longer target: someone else already completed this
	// physical unlink, which is the idempotent-helping outcome.
	return unlinkDone
}

func (t *Table) retireNode(target *Entry) {
	h := t.borrowHandle()
	defer t.returnHandle(h)
	h.Retire(unsafe.Pointer(target), t.deleter)
}

// Insert attaches e to the table under hv. e must not currently be linked
// in this or any other table; violating that is a fatal assertion
// (spec.md §7).
func (t *Table) Insert(e *Entry, hv uint64) {
	e.markLinked()
	e.cell.StoreRelease(nil)

	bix := t.bucketIndex(hv)
	b := &t.buckets[bix]

	for i := range b.heads {
		head := &b.heads[i]
		if l := head.cell.LoadAcquire(); l == nil || l.Next == nil {
			newLink := &hash.Link{Hash: hv, Next: unsafe.Pointer(e)}
			if head.cell.CASRelease(l, newLink) {
				t.bumpUsed(1)
				if t.metrics != nil {
					t.metrics.inserts.Inc()
				}
				return
			}
		}
	}

	root := &b.heads[bucketHeadIndex(hv)]
	t.listInsert(root, e, hv)
	if t.metrics != nil {
		t.metrics.inserts.Inc()
	}
}

func (t *Table) listInsert(root *Entry, e *Entry, hv uint64) {
	h := t.borrowHandle()
	defer t.returnHandle(h)
	protSlot := h.NewSlot()
	scratchSlot := h.NewSlot()
	defer protSlot.Free()
	defer scratchSlot.Free()

restart:
	parent := root
	for {
		l := acquireNext(parent, scratchSlot)
		if l == nil {
			newLink := &hash.Link{Hash: hv, Next: unsafe.Pointer(e)}
			if parent.cell.CASRelease(nil, newLink) {
				t.bumpUsed(1)
				return
			}
			continue
		}

		cur := hash.Strip(l.Next)
		if cur == nil {
			if hash.Marked(l.Next) {
				// parent is logically deleted: nothing may be appended
				// past it, so walk again and unlink it on the way.
				goto restart
			}
			newLink := &hash.Link{Hash: hv, Next: unsafe.Pointer(e)}
			if parent.cell.CASRelease(l, newLink) {
				t.bumpUsed(1)
				return
			}
			refreshed := parent.cell.LoadAcquire()
			if refreshed != nil && hash.Marked(refreshed.Next) {
				goto restart
			}
			continue
		}

		curEntry := entryOf(cur)
		curLink := curEntry.cell.LoadAcquire()
		if curLink != nil && hash.Marked(curLink.Next) {
			if t.physicalUnlink(parent, l, curEntry) == unlinkParentMarked {
				goto restart
			}
			continue
		}

		parent = curEntry
		protSlot, scratchSlot = scratchSlot, protSlot
	}
}

// Remove removes exactly the node identity e from the table. It returns
// true if e was unlinked by this call or had already been unlinked by a
// concurrent helper; false if e is not present under hv.
func (t *Table) Remove(e *Entry, hv uint64) bool {
	bix := t.bucketIndex(hv)
	b := &t.buckets[bix]

	for i := range b.heads {
		head := &b.heads[i]
		l := head.cell.LoadAcquire()
		if l == nil || hash.Marked(l.Next) || hash.Strip(l.Next) != unsafe.Pointer(e) {
			continue
		}
		t.unlinkIdentity(head, l, e)
		if t.metrics != nil {
			t.metrics.removes.Inc()
		}
		return true
	}

	root := &b.heads[bucketHeadIndex(hv)]
	ok := t.listRemove(root, e, hv)
	if ok && t.metrics != nil {
		t.metrics.removes.Inc()
	}
	return ok
}

// unlinkIdentity runs the two-phase unlink (spec.md §4.2.3) for a target
// whose parent and parent's current link are already known, looping the
// physical-unlink step until it either succeeds or a concurrent helper
// has already completed it.
func (t *Table) unlinkIdentity(parent *Entry, parentLink *hash.Link, target *Entry) {
	target.cell.FetchOrMarkRelaxed()
	for {
		if t.physicalUnlink(parent, parentLink, target) == unlinkDone {
			return
		}
		refreshed := parent.cell.LoadAcquire()
		if refreshed == nil || hash.Strip(refreshed.Next) != unsafe.Pointer(target) {
			return // someone else finished unlinking target
		}
		parentLink = refreshed
	}
}

func (t *Table) listRemove(root *Entry, target *Entry, hv uint64) bool {
	h := t.borrowHandle()
	defer t.returnHandle(h)
	protSlot := h.NewSlot()
	scratchSlot := h.NewSlot()
	defer protSlot.Free()
	defer scratchSlot.Free()

restart:
	parent := root
	for {
		l := acquireNext(parent, scratchSlot)
		if l == nil {
			return false
		}
		cur := hash.Strip(l.Next)
		if cur == nil {
			return false
		}

		curEntry := entryOf(cur)
		curLink := curEntry.cell.LoadAcquire()
		if curLink != nil && hash.Marked(curLink.Next) {
			if t.physicalUnlink(parent, l, curEntry) == unlinkParentMarked {
				goto restart
			}
			continue
		}

		if curEntry == target {
			t.unlinkIdentity(parent, l, curEntry)
			return true
		}

		parent = curEntry
		protSlot, scratchSlot = scratchSlot, protSlot
	}
}

// Lookup searches for an entry whose parent-observed hash equals hv and
// whose contents satisfy cmp(entry, key) == 0. If found, it leaves a
// hazard publication live in slot so the caller may safely dereference
// the result until it calls hazard.Release(slot); otherwise slot is
// cleared.
func (t *Table) Lookup(cmp CompareFunc, key interface{}, hv uint64, slot *hazard.Slot) *Entry {
	bix := t.bucketIndex(hv)
	b := &t.buckets[bix]

	h := t.borrowHandle()
	defer t.returnHandle(h)
	scratch := h.NewSlot()
	defer scratch.Free()
	prot := h.NewSlot()
	defer prot.Free()

	for i := range b.heads {
		head := &b.heads[i]
		l := head.cell.LoadAcquire()
		if l == nil || l.Hash != hv {
			continue
		}
		// Heads never carry the REMOVE mark (spec.md §3 invariant).
		next := acquireNext(head, scratch)
		if next == nil {
			continue
		}
		node := entryOf(hash.Strip(next.Next))
		if node == nil {
			continue
		}
		if cmp(node, key) == 0 {
			t.handOff(scratch, node, slot)
			t.countLookup(true)
			return node
		}
	}

	root := &b.heads[bucketHeadIndex(hv)]
	parent := root
	for {
		l := acquireNext(parent, scratch)
		if l == nil {
			break
		}
		cur := hash.Strip(l.Next)
		if cur == nil {
			break
		}
		node := entryOf(cur)
		// A REMOVE-marked successor is a normal link for Lookup's
		// purposes: the node may still be logically present to
		// concurrent callers until its physical unlink completes.
		if l.Hash == hv && cmp(node, key) == 0 {
			t.handOff(scratch, node, slot)
			t.countLookup(true)
			return node
		}
		parent = node
		prot, scratch = scratch, prot
	}

	hazard.Release(slot)
	t.countLookup(false)
	return nil
}

// handOff transfers found's protection from an internal scratch slot to
// the caller-owned slot, publishing into slot before releasing scratch so
// found is never unprotected for even an instant.
func (t *Table) handOff(scratch *hazard.Slot, found *Entry, slot *hazard.Slot) {
	hazard.Publish(slot, unsafe.Pointer(found))
	hazard.Release(scratch)
}

func (t *Table) countLookup(hit bool) {
	if t.metrics == nil {
		return
	}
	t.metrics.lookups.Inc()
	if hit {
		t.metrics.lookupHits.Inc()
	} else {
		t.metrics.lookupMisses.Inc()
	}
}
