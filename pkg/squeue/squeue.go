// Package squeue implements the software queues workers use to pass
// cross-stage values through a PS-DSWP pipeline without a kernel round
// trip: single-producer/single-consumer ring buffers of fixed-size words,
// backed by a shared-memory segment so both ends can be separate
// processes.
package squeue

import (
	"fmt"
	"unsafe"
)

// WordSize is the unit every queue slot holds: a pointer, or a value
// narrow enough to fit in one (callers needing a wider value split it
// across consecutive slots).
const WordSize = 8

// cachelineBytes matches the target's L1 cache line size, the unit the
// streaming variant's chunking is derived from.
const cachelineBytes = 64

// ChunkSize is how many words the streaming queue moves per
// non-temporal-store batch: as many whole words as fit in sixteen cache
// lines once the chunk header (one size_t) is subtracted.
const ChunkSize = (16*cachelineBytes - 8) / WordSize

// QSize is the ring's total capacity in words.
const QSize = 1 << 16

// QPrefetch is how many words ahead of the read cursor the streaming
// consumer issues a prefetch for.
const QPrefetch = ChunkSize * 2

// QMargin is the minimum free space the producer insists on before
// writing a new chunk, keeping it from ever colliding with a consumer
// that has fallen behind by up to QPrefetch words.
const QMargin = QPrefetch + ChunkSize

// Ring is a fixed-capacity single-producer/single-consumer ring buffer of
// WordSize-byte words. It is not a generic concurrent queue: exactly one
// goroutine/process may call Produce and exactly one may call Consume.
type Ring struct {
	buf   []uint64
	head  *uint64 // next slot Consume will read
	tail  *uint64 // next slot Produce will write
	size  uint64
}

// NewRing allocates a ring with capacity QSize words backed by an
// ordinary Go slice, for in-process use and tests; the shared-memory
// variant a multi-process pipeline needs is built over the same layout by
// mapping a heap.Segment's bytes and reinterpreting them as a Ring's
// fields (see NewRingOverMemory).
func NewRing() *Ring {
	head, tail := uint64(0), uint64(0)

	return &Ring{buf: make([]uint64, QSize), head: &head, tail: &tail, size: QSize}
}

// NewRingOverMemory constructs a Ring whose buffer and cursors live inside
// an externally-owned byte slice (typically a mapped heap.Segment region
// two processes both have mapped), so producer and consumer see the same
// cursors without any IPC beyond the shared mapping itself. mem must be at
// least headerBytes (two words) + QSize*WordSize bytes.
func NewRingOverMemory(mem []byte) (*Ring, error) {
	need := headerBytes + QSize*WordSize
	if len(mem) < need {
		return nil, fmt.Errorf("squeue: backing memory too small: need %d bytes, have %d", need, len(mem))
	}

	words := bytesToUint64Slice(mem)

	return &Ring{
		buf:  words[2 : 2+QSize],
		head: &words[0],
		tail: &words[1],
		size: QSize,
	}, nil
}

const headerBytes = 2 * WordSize

// bytesToUint64Slice reinterprets mem's backing array as a []uint64 in
// place, so writes through the returned slice are visible to every
// process that mapped the same underlying memory.
func bytesToUint64Slice(mem []byte) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(&mem[0])), len(mem)/8)
}

// free returns how many words can still be written before the ring is
// full; the head and tail cursors only ever increase, so their difference
// is the number of words buffered.
func (r *Ring) free() uint64 {
	used := *r.tail - *r.head

	return r.size - used
}

// Produce writes a single word, or returns an error without writing if the
// ring is full; it does not wait for room. Streaming producers should prefer ProduceChunk, which
// amortizes the availability check over ChunkSize words.
func (r *Ring) Produce(v uint64) error {
	if r.free() < 1 {
		return fmt.Errorf("squeue: ring full")
	}

	r.buf[*r.tail%r.size] = v
	*r.tail++

	return nil
}

// Consume reads a single word, or an error if the ring is empty.
func (r *Ring) Consume() (uint64, error) {
	if *r.head == *r.tail {
		return 0, fmt.Errorf("squeue: ring empty")
	}

	v := r.buf[*r.head%r.size]
	*r.head++

	return v, nil
}

// Len returns the number of words currently buffered.
func (r *Ring) Len() uint64 {
	return *r.tail - *r.head
}
