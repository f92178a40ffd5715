// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package rwlock implements a 32-bit packed reader/writer lock: the top
// bit is a writer-held flag, the remaining 31 bits are a reader count.
// It is a standalone auxiliary type, sharing the hash table's spin-CAS
// style but never composed into it (spec.md §4.3, §6).
package rwlock

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	writerBit  = uint32(1) << 31
	readerMask = writerBit - 1
)

// RWLock is a reader/writer lock packed into a single uint32. The zero
// value is unlocked and ready to use.
type RWLock struct {
	word uint32
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 0 // acquire blocks until it succeeds
	return b
}

// AcquireRead blocks until the lock is held for reading: it succeeds as
// long as no writer holds it, and may be held by any number of readers
// at once.
func (l *RWLock) AcquireRead() {
	b := newBackoff()
	for {
		cur := atomic.LoadUint32(&l.word)
		if cur&writerBit == 0 && atomic.CompareAndSwapUint32(&l.word, cur, cur+1) {
			return
		}
		time.Sleep(b.NextBackOff())
	}
}

// ReleaseRead releases one reader's hold on the lock.
func (l *RWLock) ReleaseRead() {
	atomic.AddUint32(&l.word, ^uint32(0)) // -1
}

// AcquireWrite blocks until the lock is held exclusively: no reader and
// no other writer may hold it concurrently.
func (l *RWLock) AcquireWrite() {
	b := newBackoff()
	for {
		if atomic.CompareAndSwapUint32(&l.word, 0, writerBit) {
			return
		}
		time.Sleep(b.NextBackOff())
	}
}

// ReleaseWrite releases the exclusive hold acquired by AcquireWrite.
func (l *RWLock) ReleaseWrite() {
	atomic.StoreUint32(&l.word, 0)
}

// TryAcquireWrite attempts a single non-blocking exclusive acquire,
// returning false immediately if the lock is already held by a reader or
// writer.
func (l *RWLock) TryAcquireWrite() bool {
	return atomic.CompareAndSwapUint32(&l.word, 0, writerBit)
}

// Readers reports the current reader count; it is advisory, the same way
// hashmap.Table's nused is (spec.md §5).
func (l *RWLock) Readers() uint32 {
	return atomic.LoadUint32(&l.word) & readerMask
}
