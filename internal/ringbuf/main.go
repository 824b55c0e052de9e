// Package ringbuf implements a fixed-capacity circular byte buffer.
//
// A Buffer is not safe for concurrent use. Wrap it with Guard (or create it with NewLocked)
// when more than one goroutine needs access.
package ringbuf

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrCapacityExceeded is returned by writes longer than the buffer's total capacity.
	ErrCapacityExceeded = errors.New("write length exceeds buffer capacity")

	// ErrOverwriteRejected is returned by SafeWrite when the write would overwrite unread
	// bytes.
	ErrOverwriteRejected = errors.New("write would overwrite unread data")

	// ErrAllocationFailure is returned when the backing storage can't be obtained.
	ErrAllocationFailure = errors.New("buffer storage could not be allocated")

	// ErrEmptyBufferRead is returned by Pop when the buffer holds no data.
	ErrEmptyBufferRead = errors.New("pop from empty buffer")
)

// span is the inclusive range of storage indices holding unread bytes. It may wrap, in
// which case start > end.
type span struct {
	start int
	end   int
}

// A Buffer is a bounded FIFO of bytes backed by a single fixed-size slice.
type Buffer struct {
	storage []byte

	// data is only meaningful when occupied is true.
	data     span
	occupied bool
}

// New allocates a zero-filled buffer that holds up to capacity bytes.
func New(capacity int) (b *Buffer, err error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrAllocationFailure, capacity)
	}
	defer func() {
		// make panics rather than returning an error when the length can't be satisfied.
		if r := recover(); r != nil {
			b = nil
			err = fmt.Errorf("%w: capacity %d: %v", ErrAllocationFailure, capacity, r)
		}
	}()
	return &Buffer{storage: make([]byte, capacity)}, nil
}

// Release drops the buffer's storage. The buffer is left empty with a capacity of zero.
// Calling Release on a nil Buffer does nothing.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	b.storage = nil
	b.Clear()
}

// Write appends p, overwriting the oldest unread bytes if there isn't enough free space.
// It fails with ErrCapacityExceeded, leaving the buffer unchanged, when p is longer than
// the buffer's capacity.
func (b *Buffer) Write(p []byte) (int, error) {
	length := len(p)
	capacity := len(b.storage)
	if length > capacity {
		return 0, fmt.Errorf("%w: %d > %d", ErrCapacityExceeded, length, capacity)
	}
	if length == 0 {
		return 0, nil
	}

	if !b.occupied {
		copy(b.storage, p)
		b.data = span{start: 0, end: length - 1}
		b.occupied = true
		return length, nil
	}

	available := b.AvailableSpace()

	// The new bytes go immediately after end, running to the physical end of storage and
	// continuing from index 0 for whatever doesn't fit.
	next := (b.data.end + 1) % capacity
	n := copy(b.storage[next:], p)
	copy(b.storage[:length-n], p[n:])

	b.data.end = (b.data.end + length) % capacity
	if length > available {
		b.data.start = (b.data.start + length - available) % capacity
	}
	return length, nil
}

// SafeWrite appends p only if it fits in the free space. Otherwise it fails with
// ErrOverwriteRejected and leaves the buffer unchanged.
func (b *Buffer) SafeWrite(p []byte) (int, error) {
	if available := b.AvailableSpace(); available < len(p) {
		return 0, fmt.Errorf("%w: need %d bytes, %d available", ErrOverwriteRejected, len(p), available)
	}
	return b.Write(p)
}

// Pop removes and returns up to n of the oldest bytes. Requests larger than UsedSpace are
// clamped, so the result may be shorter than n. The returned slice is newly allocated and
// owned by the caller.
func (b *Buffer) Pop(n int) ([]byte, error) {
	if !b.occupied {
		return nil, ErrEmptyBufferRead
	}
	n = max(0, min(n, b.UsedSpace()))
	out := make([]byte, n)
	b.consume(out)
	return out, nil
}

// Read pops up to len(p) bytes into p. It returns io.EOF when the buffer is empty.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !b.occupied {
		return 0, io.EOF
	}
	n := min(len(p), b.UsedSpace())
	b.consume(p[:n])
	return n, nil
}

// consume fills dst with the oldest len(dst) bytes and advances past them. len(dst) must
// not exceed UsedSpace.
func (b *Buffer) consume(dst []byte) {
	length := len(dst)
	if length == 0 {
		return
	}
	capacity := len(b.storage)
	used := b.UsedSpace()

	start := b.data.start
	n := copy(dst, b.storage[start:min(start+length, capacity)])
	copy(dst[n:], b.storage[:length-n])

	if length == used {
		b.Clear()
		return
	}
	b.data.start = (start + length) % capacity
}

// Clear empties the buffer. Storage contents are left in place but are no longer
// reachable.
func (b *Buffer) Clear() {
	b.data = span{}
	b.occupied = false
}

// Cap returns the total number of bytes the buffer can hold.
func (b *Buffer) Cap() int {
	return len(b.storage)
}

// UsedSpace returns the number of unread bytes.
func (b *Buffer) UsedSpace() int {
	if !b.occupied {
		return 0
	}
	capacity := len(b.storage)
	return (capacity+b.data.end-b.data.start)%capacity + 1
}

// AvailableSpace returns the number of bytes that can be written without overwriting.
func (b *Buffer) AvailableSpace() int {
	return len(b.storage) - b.UsedSpace()
}

// DistToEnd returns the number of free positions after the newest byte before the next
// write has to wrap: up to the oldest byte when the data wraps, otherwise up to the last
// physical index. An empty buffer reports its full capacity.
func (b *Buffer) DistToEnd() int {
	switch {
	case !b.occupied:
		return len(b.storage)
	case b.data.start > b.data.end:
		return b.data.start - b.data.end - 1
	default:
		return len(b.storage) - b.data.end - 1
	}
}

// IsEmpty reports whether the buffer holds no unread bytes.
func (b *Buffer) IsEmpty() bool {
	return !b.occupied
}

// IsFull reports whether every position holds an unread byte.
func (b *Buffer) IsFull() bool {
	return b.occupied && b.UsedSpace() == len(b.storage)
}

// Span returns the storage indices of the oldest and newest unread bytes. ok is false when
// the buffer is empty.
func (b *Buffer) Span() (start, end int, ok bool) {
	if !b.occupied {
		return 0, 0, false
	}
	return b.data.start, b.data.end, true
}

// Storage returns the backing array, including stale bytes. It is meant for inspection and
// must not be modified.
func (b *Buffer) Storage() []byte {
	return b.storage
}
