package squeue

import "fmt"

// DoubleBuffer is the buffered queue variant: two fixed-size word
// buffers that swap roles on a ready_to_read/ready_to_write handshake,
// used for cross-stage values large enough (or produced infrequently
// enough) that a ring's per-word bookkeeping isn't worth it.
type DoubleBuffer struct {
	buffers       [2][]uint64
	readyToRead   [2]bool
	active        int // which buffer index the producer is currently filling
	fillCursor    int
}

// NewDoubleBuffer allocates a double buffer whose halves each hold
// capacity words.
func NewDoubleBuffer(capacity int) *DoubleBuffer {
	return &DoubleBuffer{buffers: [2][]uint64{make([]uint64, capacity), make([]uint64, capacity)}}
}

// Write appends v to the buffer currently being filled, returning true if
// the buffer just became full (ready_to_read) and swapped to the other
// half, which the caller must then signal to the consumer out of band
// (the runtime wires this to the worker's shared "stage done" flag).
func (d *DoubleBuffer) Write(v uint64) (swapped bool, err error) {
	if d.readyToRead[d.active] {
		return false, fmt.Errorf("squeue: active buffer %d is waiting on the consumer (ready_to_read)", d.active)
	}

	buf := d.buffers[d.active]
	if d.fillCursor >= len(buf) {
		return false, fmt.Errorf("squeue: active buffer %d already full", d.active)
	}

	buf[d.fillCursor] = v
	d.fillCursor++

	if d.fillCursor == len(buf) {
		d.readyToRead[d.active] = true
		d.active = 1 - d.active
		d.fillCursor = 0

		return true, nil
	}

	return false, nil
}

// Read drains whichever buffer is marked ready_to_read, returning its
// words and clearing the flag (ready_to_write again) once fully consumed.
func (d *DoubleBuffer) Read() ([]uint64, error) {
	readSide := 1 - d.active
	if !d.readyToRead[readSide] {
		return nil, fmt.Errorf("squeue: no buffer is ready_to_read")
	}

	out := append([]uint64(nil), d.buffers[readSide]...)
	d.readyToRead[readSide] = false

	return out, nil
}

// PartialFlush returns the words written so far to the currently-filling
// buffer and rewinds it, for the end-of-stream case where a stage finishes
// with a partially-filled buffer still holding unread values. It hands the
// words back directly and does not set ready_to_read.
func (d *DoubleBuffer) PartialFlush() []uint64 {
	out := append([]uint64(nil), d.buffers[d.active][:d.fillCursor]...)
	d.fillCursor = 0

	return out
}
