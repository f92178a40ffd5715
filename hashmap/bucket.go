// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package hashmap

import "github.com/aristanetworks/lockfreemap/hash"

// Bucket is an array of hash.BucketHeads Entry head slots, sized to fill
// one cache line (64 bytes with 8-byte pointers); the slice holding a
// Table's buckets is not aligned to cache-line boundaries. Each head can
// root its own overflow chain. An empty head has cell == nil, or a Link
// whose Next is nil once its last successor has been removed (spec.md:
// "next = NULL, hash = 0").
//
// The B head slots are a small open-addressed probe set: when all of them
// are occupied, further inserts chain off the deterministic head at index
// hash mod B, giving each bucket unbounded overflow capacity while
// keeping its hottest cache line small (spec.md §4.2).
type Bucket struct {
	heads [hash.BucketHeads]Entry
}

func bucketHeadIndex(hv uint64) uint64 {
	return hv % uint64(hash.BucketHeads)
}
