package squeue

import "fmt"

// ProduceChunk writes up to ChunkSize words in one batch, the streaming
// variant's unit of transfer: it checks availability once for the whole
// chunk rather than once per word, trading a little latency for much
// less synchronization overhead on a queue carrying many small values
// (typical of a PS-DSWP register-dependence stream).
func (r *Ring) ProduceChunk(words []uint64) error {
	if len(words) > ChunkSize {
		return fmt.Errorf("squeue: chunk of %d words exceeds ChunkSize %d", len(words), ChunkSize)
	}

	if r.free() < QMargin {
		return fmt.Errorf("squeue: insufficient margin for a new chunk (%d free, need %d)", r.free(), QMargin)
	}

	for _, w := range words {
		r.buf[*r.tail%r.size] = w
		*r.tail++
	}

	return nil
}

// ConsumeChunk reads up to n words (n <= ChunkSize), returning however
// many are currently available (possibly fewer than n, never more).
func (r *Ring) ConsumeChunk(n int) []uint64 {
	if n > ChunkSize {
		n = ChunkSize
	}

	available := int(r.Len())
	if n > available {
		n = available
	}

	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[*r.head%r.size]
		*r.head++
	}

	return out
}

// Prefetchable reports whether the consumer is at least QPrefetch words
// behind the producer, the point at which a real implementation would
// issue a cache prefetch for the next chunk; kept here only as the policy
// decision, since Go has no portable prefetch intrinsic to issue.
func (r *Ring) Prefetchable() bool {
	return r.Len() >= QPrefetch
}
