// Package buffer implements the double-buffer exchange protocol shared
// by all four producers and the writer (spec §3, §5).
//
// Each Pair owns two fixed-capacity byte slices, "generation 0" and
// "generation 1", corresponding to the original firmware's buffers_one
// and buffers_two. A producer fills one generation while the writer
// drains the other; ownership is exchanged by schedule, not by lock —
// Pair itself never blocks a caller.
package buffer

import (
	"fmt"
	"sync/atomic"
)

// Pair is a per-sensor double buffer. Reserve, Offset and Frames are
// safe to call only from the single owning producer goroutine.
// Generation and CurrentGeneration are safe to call from the writer
// goroutine concurrently with producer writes, subject to the
// grace-period disjointness guarantee described in spec §5 — callers
// must not read a generation the producer might still be filling.
type Pair struct {
	gens   [2][]byte
	genIdx atomic.Int32 // generation currently being filled by the producer
	offset int          // producer-owned, valid only for gens[genIdx]
	frames atomic.Uint64
}

// NewPair allocates a zero-initialized pair sized for size bytes per
// generation. A size of 0 yields an always-empty pair, matching the
// "left empty" rule for disabled sensors in spec §3.
func NewPair(size int) *Pair {
	return &Pair{gens: [2][]byte{make([]byte, size), make([]byte, size)}}
}

// Len returns the capacity of one generation (both generations are the
// same size).
func (p *Pair) Len() int {
	return len(p.gens[0])
}

// Reserve returns the next n-byte slot to write a frame into,
// implementing the swap-then-overrun-check protocol described in
// spec §3 invariant (ii) and §4.2: if the active generation is exactly
// full, it swaps to the other generation first (resetting the offset);
// only then does it check whether n bytes fit. A reservation that still
// doesn't fit after a possible swap is a protocol violation — the
// frames written do not evenly tile the generation's capacity — and is
// reported as an error rather than silently truncated, matching the
// "fail fatally" contract for buffer overruns.
func (p *Pair) Reserve(n int) ([]byte, error) {
	cur := p.gens[p.genIdx.Load()]
	if p.offset == len(cur) {
		p.swap()
		cur = p.gens[p.genIdx.Load()]
	}
	if p.offset+n > len(cur) {
		return nil, fmt.Errorf("buffer: overran generation (offset=%d n=%d cap=%d)", p.offset, n, len(cur))
	}
	slot := cur[p.offset : p.offset+n]
	p.offset += n
	p.frames.Add(1)
	return slot, nil
}

func (p *Pair) swap() {
	next := 1 - p.genIdx.Load()
	p.genIdx.Store(next)
	p.offset = 0
}

// Generation returns generation idx (0 or 1) for the writer to read. It
// does not copy; callers must not mutate the returned slice.
func (p *Pair) Generation(idx int) []byte {
	return p.gens[idx]
}

// CurrentGeneration returns the generation index the producer is
// currently filling.
func (p *Pair) CurrentGeneration() int {
	return int(p.genIdx.Load())
}

// Offset returns the producer's current write offset into the active
// generation.
func (p *Pair) Offset() int {
	return p.offset
}

// Frames returns the number of successful Reserve calls (the
// producer's captured-frame counter).
func (p *Pair) Frames() uint64 {
	return p.frames.Load()
}
