// Package ringbuffer implements the fixed-capacity receive queue that sits between the
// receive-interrupt path and the handshake loop.
//
// A RingBuffer supports exactly one producer and one consumer running concurrently. The producer
// only touches the write index and the consumer only touches the read index; the fill level is
// the sole shared counter and is updated atomically, which publishes the slot contents between
// the two sides. No other locking is performed. Clear must not race with either side.
package ringbuffer

import (
	"errors"
	"sync/atomic"
)

// DefaultCapacity is the number of entries in a serial receive queue.
const DefaultCapacity = 500

var (
	// ErrOverflow indicates a byte was written to a full buffer. The byte is dropped.
	ErrOverflow = errors.New("ring buffer overflow")
	// ErrUnderflow indicates a read from an empty buffer.
	ErrUnderflow = errors.New("ring buffer underflow")
)

// RingBuffer is a fixed-capacity FIFO of received bytes.
type RingBuffer struct {
	entries  []byte
	readIdx  int
	writeIdx int
	fill     atomic.Int64
}

// New returns an empty RingBuffer that holds up to capacity bytes. A non-positive capacity
// selects DefaultCapacity.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{entries: make([]byte, capacity)}
}

// Write appends b. Returns ErrOverflow, leaving the buffer unchanged, if the buffer is full.
func (r *RingBuffer) Write(b byte) error {
	if int(r.fill.Load()) == len(r.entries) {
		return ErrOverflow
	}
	r.entries[r.writeIdx] = b
	r.writeIdx = (r.writeIdx + 1) % len(r.entries)
	r.fill.Add(1)
	return nil
}

// Read removes and returns the oldest byte. Returns ErrUnderflow, leaving the buffer unchanged,
// if the buffer is empty.
func (r *RingBuffer) Read() (byte, error) {
	if r.fill.Load() == 0 {
		return 0, ErrUnderflow
	}
	b := r.entries[r.readIdx]
	r.readIdx = (r.readIdx + 1) % len(r.entries)
	r.fill.Add(-1)
	return b, nil
}

// Clear discards all buffered bytes.
func (r *RingBuffer) Clear() {
	r.readIdx = 0
	r.writeIdx = 0
	r.fill.Store(0)
}

// FillLevel returns the number of bytes waiting to be read.
func (r *RingBuffer) FillLevel() int {
	return int(r.fill.Load())
}

// Capacity returns the maximum number of bytes the buffer holds.
func (r *RingBuffer) Capacity() int {
	return len(r.entries)
}
