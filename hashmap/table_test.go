// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package hashmap_test

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/aristanetworks/lockfreemap/hashmap"
	"github.com/aristanetworks/lockfreemap/hazard"
)

// testEntry embeds hashmap.Entry as its first field, the intrusive-header
// pattern spec.md's Entry assumes: the address of a testEntry and the
// address of its embedded Entry coincide, so the comparator can cast one
// back to the other.
type testEntry struct {
	hashmap.Entry
	key int
}

func newTestEntry(key int) *testEntry {
	return &testEntry{key: key}
}

func asEntry(e *testEntry) *hashmap.Entry {
	return &e.Entry
}

func fromEntry(e *hashmap.Entry) *testEntry {
	return (*testEntry)(unsafe.Pointer(e))
}

func cmpKey(e *hashmap.Entry, key interface{}) int {
	if fromEntry(e).key == key.(int) {
		return 0
	}
	return 1
}

func keyOf(e *hashmap.Entry) interface{} {
	return fromEntry(e).key
}

func hashOf(key int) uint64 {
	return uint64(key)
}

func lookup(t *hashmap.Table, key int) *testEntry {
	return lookupAt(t, key, hashOf(key))
}

// lookupAt is lookup for an entry inserted under hv rather than
// hashOf(key).
func lookupAt(t *hashmap.Table, key int, hv uint64) *testEntry {
	h, err := t.Domain().Register()
	if err != nil {
		panic(err)
	}
	defer h.Close()
	slot := h.NewSlot()
	defer slot.Free()
	found := t.Lookup(cmpKey, key, hv, slot)
	if found == nil {
		return nil
	}
	return fromEntry(found)
}

func TestInsertThenLookup(t *testing.T) {
	tbl := hashmap.Alloc(4)
	a := newTestEntry(5)
	tbl.Insert(asEntry(a), hashOf(5))

	if got := lookup(tbl, 5); got != a {
		t.Fatalf("lookup(5) = %v, want %v", got, a)
	}
}

func TestListInsertChain(t *testing.T) {
	tbl := hashmap.Alloc(1) // nbkts=1, B=4: everything collides in one bucket.
	entries := make([]*testEntry, 5)
	for i := range entries {
		entries[i] = newTestEntry(i)
		tbl.Insert(asEntry(entries[i]), hashOf(5))
	}

	// All five entries share hash 5 but have distinct keys; the fifth
	// necessarily chains off an overflow root since only 4 head slots exist.
	h, _ := tbl.Domain().Register()
	defer h.Close()
	slot := h.NewSlot()
	defer slot.Free()

	for _, e := range entries {
		found := tbl.Lookup(cmpKey, e.key, hashOf(5), slot)
		if found != asEntry(e) {
			t.Fatalf("lookup for entry %p did not find it via chained traversal", e)
		}
		hazard.Release(slot)
	}
}

func TestRemoveThenLookupMiss(t *testing.T) {
	tbl := hashmap.Alloc(1)
	a := newTestEntry(5)
	b := newTestEntry(6)
	tbl.Insert(asEntry(a), hashOf(5))
	tbl.Insert(asEntry(b), hashOf(5))

	if !tbl.Remove(asEntry(a), hashOf(5)) {
		t.Fatal("Remove(a) = false, want true")
	}
	// a and b share hash 5 but not their key; once a is physically
	// unlinked, a lookup of a's key misses while b is still found.
	if got := lookupAt(tbl, a.key, hashOf(5)); got != nil {
		t.Fatalf("lookup of a after removing a = %v, want nil", got)
	}
	if got := lookupAt(tbl, b.key, hashOf(5)); got != b {
		t.Fatalf("lookup of b after removing a = %v, want %v", got, b)
	}
	if tbl.Remove(asEntry(a), hashOf(5)) {
		t.Fatal("Remove(a) a second time = true, want false (already removed)")
	}
}

func TestLookupRejectsHashMismatch(t *testing.T) {
	tbl := hashmap.Alloc(1) // nbkts=1: A and B collide into the same bucket.
	a := newTestEntry(100)
	b := newTestEntry(200)
	tbl.Insert(asEntry(a), hashOf(5))
	tbl.Insert(asEntry(b), hashOf(9))

	h, _ := tbl.Domain().Register()
	defer h.Close()
	slot := h.NewSlot()
	defer slot.Free()

	// a's key under hash 9 must not be found: a was inserted under hash 5.
	if found := tbl.Lookup(cmpKey, a.key, hashOf(9), slot); found != nil {
		t.Fatalf("Lookup found %v despite a hash/key mismatch", fromEntry(found))
	}
}

// TestHelpedUnlinkDuringInsertTraversal exercises spec.md's helping
// guarantee (§4.2's "insert traversal helps unlink a marked node before
// proceeding"): a concurrent Remove racing an Insert that must traverse
// past the node being removed must neither block nor lose the inserted
// node.
func TestHelpedUnlinkDuringInsertTraversal(t *testing.T) {
	tbl := hashmap.Alloc(1) // nbkts=1, B=4: forces A, B, C to collide.
	a := newTestEntry(1001)
	b := newTestEntry(1002)
	tbl.Insert(asEntry(a), hashOf(5))
	// Fill the other three head slots so that b, and later c, chain off
	// the overflow root (head 5 mod 4 = 1) and c's insert walks past b.
	for i := 0; i < 3; i++ {
		tbl.Insert(asEntry(newTestEntry(2000+i)), hashOf(5))
	}
	tbl.Insert(asEntry(b), hashOf(5))

	c := newTestEntry(1003)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tbl.Remove(asEntry(b), hashOf(5))
	}()
	go func() {
		defer wg.Done()
		tbl.Insert(asEntry(c), hashOf(5))
	}()
	wg.Wait()

	if got := lookupAt(tbl, a.key, hashOf(5)); got != a {
		t.Fatalf("lookup(a) = %v, want %v", got, a)
	}
	if got := lookupAt(tbl, c.key, hashOf(5)); got != c {
		t.Fatalf("lookup(c) = %v, want %v", got, c)
	}
	if got := lookupAt(tbl, b.key, hashOf(5)); got != nil {
		t.Fatalf("lookup(b) after concurrent remove = %v, want nil", got)
	}
}

func TestRoundTrip(t *testing.T) {
	tbl := hashmap.Alloc(16)
	e := newTestEntry(42)
	tbl.Insert(asEntry(e), hashOf(42))
	if got := lookup(tbl, 42); got != e {
		t.Fatalf("lookup after insert = %v, want %v", got, e)
	}
	if !tbl.Remove(asEntry(e), hashOf(42)) {
		t.Fatal("Remove = false, want true")
	}
	if got := lookup(tbl, 42); got != nil {
		t.Fatalf("lookup after remove = %v, want nil", got)
	}
}

func TestDoubleInsertPanics(t *testing.T) {
	tbl := hashmap.Alloc(4)
	e := newTestEntry(1)
	tbl.Insert(asEntry(e), hashOf(1))

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic inserting an already-linked entry")
		}
	}()
	tbl.Insert(asEntry(e), hashOf(1))
}

func TestConcurrentInsertLookupRemove(t *testing.T) {
	const n = 200
	tbl := hashmap.Alloc(64, hashmap.WithMaxConcurrentOps(4*n))
	entries := make([]*testEntry, n)
	for i := range entries {
		entries[i] = newTestEntry(i)
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			tbl.Insert(asEntry(entries[i]), hashOf(i))
		}()
	}
	wg.Wait()

	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			if got := lookup(tbl, i); got != entries[i] {
				t.Errorf("lookup(%d) = %v, want entry %d", i, got, i)
			}
		}()
	}
	wg.Wait()

	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			if !tbl.Remove(asEntry(entries[i]), hashOf(i)) {
				t.Errorf("Remove(%d) = false, want true", i)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if got := lookup(tbl, i); got != nil {
			t.Errorf("lookup(%d) after removal = %v, want nil", i, got)
		}
	}
}

func TestCheckReportsKeys(t *testing.T) {
	tbl := hashmap.Alloc(1)
	a, b, c := newTestEntry(5), newTestEntry(5), newTestEntry(5)
	tbl.Insert(asEntry(a), hashOf(5))
	tbl.Insert(asEntry(b), hashOf(5))
	tbl.Insert(asEntry(c), hashOf(5))

	report := tbl.Check(keyOf)
	total := 0
	for _, bucket := range report.Buckets {
		total += len(bucket.Keys)
	}
	if total != 3 {
		t.Fatalf("Check found %d keys across buckets, want 3", total)
	}
	if report.String() == "" {
		t.Fatal("expected a non-empty pretty-printed report")
	}
}
