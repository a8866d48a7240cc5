// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

// Package ring provides the fixed-capacity circular record store shared by
// the event log, stream log, bus capture and BLE MITM capture subsystems.
package ring

// Buffer is a fixed-capacity circular store. Once full, each push evicts the
// oldest record. Seq counts every record ever produced and never resets, so
// readers polling with absolute offsets can detect a wrap that happened
// between two polls: records older than Seq()-Count() are gone.
//
// Buffer is not safe for concurrent use; the owning engine serializes access.
type Buffer[T any] struct {
	records []T
	count   int
	head    int // next write index
	seq     uint32
}

// New creates a buffer with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{records: make([]T, capacity)}
}

// Push appends one record, evicting the oldest when full.
func (b *Buffer[T]) Push(rec T) {
	b.records[b.head] = rec
	b.head = (b.head + 1) % len(b.records)
	if b.count < len(b.records) {
		b.count++
	}
	b.seq++
}

// Count returns the number of records currently held (saturates at capacity).
func (b *Buffer[T]) Count() int { return b.count }

// Capacity returns the fixed capacity.
func (b *Buffer[T]) Capacity() int { return len(b.records) }

// Head returns the next write slot index.
func (b *Buffer[T]) Head() int { return b.head }

// Seq returns the total number of records ever pushed.
func (b *Buffer[T]) Seq() uint32 { return b.seq }

// OldestSeq returns the absolute producer index of the oldest held record.
func (b *Buffer[T]) OldestSeq() uint32 { return b.seq - uint32(b.count) }

// Reset discards all records. Seq is preserved: the producer counter is
// monotonic for the lifetime of the buffer.
func (b *Buffer[T]) Reset() {
	b.count = 0
	b.head = 0
}

// At returns the record at the given absolute producer index. The second
// result is false when the index has been evicted or not yet produced.
func (b *Buffer[T]) At(seq uint32) (T, bool) {
	var zero T
	if seq >= b.seq || seq < b.OldestSeq() {
		return zero, false
	}
	age := b.seq - seq // 1 = newest
	slot := (b.head - int(age) + len(b.records)*2) % len(b.records)
	return b.records[slot], true
}

// Snapshot copies up to limit records starting at the absolute producer
// offset. Offsets older than the oldest held record are clamped forward, so
// a reader that fell behind a wrap resumes at the oldest survivor; the
// returned base is the absolute index of the first copied record.
func (b *Buffer[T]) Snapshot(offset uint32, limit int) (base uint32, out []T) {
	if limit <= 0 || b.count == 0 {
		return b.seq, nil
	}
	if offset < b.OldestSeq() {
		offset = b.OldestSeq()
	}
	if offset >= b.seq {
		return b.seq, nil
	}
	n := int(b.seq - offset)
	if n > limit {
		n = limit
	}
	out = make([]T, 0, n)
	for i := 0; i < n; i++ {
		rec, ok := b.At(offset + uint32(i))
		if !ok {
			break
		}
		out = append(out, rec)
	}
	return offset, out
}

// Latest returns the most recently pushed record.
func (b *Buffer[T]) Latest() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}
	return b.At(b.seq - 1)
}
