// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package hashmap

import (
	"fmt"
	"unsafe"

	"github.com/aristanetworks/lockfreemap/hash"
	"github.com/aristanetworks/lockfreemap/sliceutils"
	"github.com/kylelemons/godebug/pretty"
)

// BucketReport is one bucket's debug dump, produced by Check.
type BucketReport struct {
	Index int
	Keys  []interface{}
}

// CheckReport is the result of a full-table consistency walk.
type CheckReport struct {
	Buckets []BucketReport
	NUsed   int64
}

// String renders the report with kylelemons/godebug/pretty, the same
// library the teacher's other packages reach for whenever a test or debug
// command needs a readable struct dump instead of reflect's default one.
func (r *CheckReport) String() string {
	return pretty.Sprint(r)
}

// Check walks every bucket and chain without taking any hazard pointers,
// so the caller must guarantee no concurrent Insert/Remove is in flight:
// it is meant for tests and offline diagnostics, not for the hot path
// (spec.md §4.3's "debug-only" traversal). It panics if it finds a cycle
// or a node in a chain whose linked flag is not set, since by
// construction neither should ever happen.
func (t *Table) Check(keyOf KeyExtractFunc) *CheckReport {
	report := &CheckReport{Buckets: make([]BucketReport, 0, t.nbkts)}

	for bi := range t.buckets {
		b := &t.buckets[bi]
		var keys []interface{}
		visited := make(map[unsafe.Pointer]bool)

		for hi := range b.heads {
			head := &b.heads[hi]
			keys = append(keys, t.checkChain(head, keyOf, visited, bi, hi)...)
		}

		report.Buckets = append(report.Buckets, BucketReport{
			Index: bi,
			Keys:  sliceutils.ToAnySlice(keys),
		})
	}

	report.NUsed = t.nused
	return report
}

func (t *Table) checkChain(root *Entry, keyOf KeyExtractFunc, visited map[unsafe.Pointer]bool, bi, hi int) []interface{} {
	var keys []interface{}
	l := root.cell.LoadAcquire()
	for l != nil {
		next := hash.Strip(l.Next)
		if next == nil {
			break
		}
		if visited[next] {
			panic(fmt.Sprintf("hashmap: cycle detected in bucket %d head %d", bi, hi))
		}
		visited[next] = true

		node := entryOf(next)
		if node.linked != 1 {
			panic(fmt.Sprintf("hashmap: entry in bucket %d head %d is not flagged as linked", bi, hi))
		}
		keys = append(keys, keyOf(node))
		l = node.cell.LoadAcquire()
	}
	return keys
}
