package planner

import (
	"errors"
	"sync/atomic"

	"stepcore/core"
)

var ErrQueueSize = errors.New("block queue size must be a power of two")

// Queue is the block ring shared by the planner (producer, background
// context) and the step interrupt (consumer). Only head, tail, the
// per-block flags and the discard/halt bits cross contexts. head and tail
// are free-running counters; the slot is the counter masked by size-1.
type Queue struct {
	blocks []Block
	mask   uint32

	head atomic.Uint32 // Next slot the planner fills
	tail atomic.Uint32 // Oldest queued block, possibly executing

	discard    atomic.Bool   // Consumer must drop its work
	halted     atomic.Bool   // Emergency stop latched
	generation atomic.Uint32 // Bumped on every Reset
}

// NewQueue creates a ring of size blocks
func NewQueue(size int) (*Queue, error) {
	if size < 2 || size&(size-1) != 0 || size > 256 {
		return nil, ErrQueueSize
	}
	return &Queue{
		blocks: make([]Block, size),
		mask:   uint32(size - 1),
	}, nil
}

// Capacity returns the number of blocks the ring holds
func (q *Queue) Capacity() int {
	return len(q.blocks)
}

// Len returns the number of queued blocks including the executing one
func (q *Queue) Len() int {
	return int(q.head.Load() - q.tail.Load())
}

// IsEmpty reports whether no block is queued
func (q *Queue) IsEmpty() bool {
	return q.head.Load() == q.tail.Load()
}

// IsFull reports whether the producer must wait for a free slot
func (q *Queue) IsFull() bool {
	return q.head.Load()-q.tail.Load() >= uint32(len(q.blocks))
}

// Slot maps a queue counter to its ring index
func (q *Queue) Slot(i uint32) uint8 {
	return uint8(i & q.mask)
}

func (q *Queue) at(i uint32) *Block {
	return &q.blocks[i&q.mask]
}

// contains reports whether counter i is between tail and head
func (q *Queue) contains(i uint32) bool {
	tail := q.tail.Load()
	return i-tail < q.head.Load()-tail
}

// Generation changes whenever the queue is reset
func (q *Queue) Generation() uint32 {
	return q.generation.Load()
}

// Discarding reports whether an abort is in progress
func (q *Queue) Discarding() bool {
	return q.discard.Load()
}

// SetDiscard raises or clears the discard flag
func (q *Queue) SetDiscard(on bool) {
	q.discard.Store(on)
}

// Halted reports whether an emergency stop is latched
func (q *Queue) Halted() bool {
	return q.halted.Load()
}

// Halt latches an emergency stop. Safe from interrupt context; the ring
// itself is left for the background context to reset.
func (q *Queue) Halt() {
	q.halted.Store(true)
	q.discard.Store(true)
}

// Resume clears a latched emergency stop. Call Reset first.
func (q *Queue) Resume() {
	q.discard.Store(false)
	q.halted.Store(false)
}

// Reset drops every queued block. The caller holds a critical section and
// has masked the step interrupt.
func (q *Queue) Reset() {
	for i := range q.blocks {
		q.blocks[i].flags.Store(0)
	}
	q.tail.Store(q.head.Load())
	q.generation.Add(1)
}

// Consumer side. Called only from the step interrupt.

// Acquire returns the tail block and marks it busy. It returns nil when the
// ring is empty, when the consumer must discard, or when the planner still
// owns the tail (deferred is then true).
func (q *Queue) Acquire() (b *Block, deferred bool) {
	if q.discard.Load() {
		return nil, false
	}
	tail := q.tail.Load()
	if tail == q.head.Load() {
		return nil, false
	}
	b = q.at(tail)
	for {
		f := b.flags.Load()
		if f&flagRecalculate != 0 {
			return nil, true
		}
		if b.flags.CompareAndSwap(f, f|flagBusy) {
			return b, false
		}
	}
}

// Release frees the executing block. The tail moves before the flags are
// cleared so the planner never sees a free slot as a queued block.
func (q *Queue) Release() {
	tail := q.tail.Load()
	b := q.at(tail)
	q.tail.Store(tail + 1)
	b.flags.Store(0)
}

// TailSlot returns the ring index of the tail block
func (q *Queue) TailSlot() uint8 {
	return q.Slot(q.tail.Load())
}

// Producer side. Called only from the background context.

// claim takes planner ownership of b unless the step interrupt already has
// it
func claim(b *Block) bool {
	for {
		f := b.flags.Load()
		if f&flagBusy != 0 {
			return false
		}
		if f&flagRecalculate != 0 {
			return true
		}
		if b.flags.CompareAndSwap(f, f|flagRecalculate) {
			return true
		}
	}
}

// claimQueued claims block i and confirms it is still queued. A block
// released between the two checks has its flag cleared again.
func (q *Queue) claimQueued(i uint32) bool {
	b := q.at(i)
	if !claim(b) {
		return false
	}
	if !q.contains(i) {
		b.flags.Store(0)
		return false
	}
	return true
}

// setEntrySpeed changes the entry speed of block i. The tail and any block
// whose predecessor is executing keep their entry speed, since the step
// interrupt already committed to the matching exit. On success both blocks
// are flagged for a trapezoid recalculation.
func (q *Queue) setEntrySpeed(i uint32, v float64) bool {
	state := core.DisableInterrupts()
	ok := i != q.tail.Load() && q.claimQueued(i-1) && claim(q.at(i))
	if ok {
		q.at(i).EntrySpeed = v
	}
	core.RestoreInterrupts(state)
	return ok
}

// claimLast claims the newest queued block as the predecessor of the block
// being planned. last is nil when the ring is empty; claimed is false when
// the step interrupt already runs it.
func (q *Queue) claimLast() (last *Block, claimed bool) {
	state := core.DisableInterrupts()
	head := q.head.Load()
	if head != q.tail.Load() {
		last = q.at(head - 1)
		claimed = q.claimQueued(head - 1)
		if !claimed && !q.contains(head-1) {
			last = nil
		}
	}
	core.RestoreInterrupts(state)
	return last, claimed
}

// reserve returns the head slot for the planner to fill
func (q *Queue) reserve() *Block {
	return q.at(q.head.Load())
}

// publish makes the reserved block visible to the step interrupt
func (q *Queue) publish() {
	q.head.Add(1)
}

// Snapshot copies the profile of every queued block, oldest first
func (q *Queue) Snapshot() []BlockInfo {
	tail, head := q.tail.Load(), q.head.Load()
	out := make([]BlockInfo, 0, head-tail)
	for i := tail; i != head; i++ {
		out = append(out, q.at(i).Info())
	}
	return out
}
