// Package realtime is the asynchronous shell: a dedicated tick thread, a
// publication ring buffer, epoch-pinned egress workers, and a shutdown FSM.
// It shares the tick engine, propagator pipeline, command sort, and arena
// with the lockstep shell (murk.World); this package only adds the
// concurrency structure around repeatedly driving one.
package realtime

import (
	"math"
	"sync/atomic"

	"github.com/dm-vev/murk/arena"
)

// ringSlot is one generation-tagged publication record.
type ringSlot struct {
	snapshot   atomic.Pointer[arena.Snapshot]
	generation atomic.Uint64
	valid      atomic.Bool
}

// Ring is the outbound publication ring buffer (§4.5). Slot indexing
// computes (pos % capacity) in uint64 throughout, since a 32-bit modulo
// would truncate incorrectly once pos wraps past 2^32 in a long-running
// realtime world.
type Ring struct {
	capacity   uint64
	slots      []ringSlot
	writePos   atomic.Uint64
	overwrites atomic.Uint64
}

// NewRing constructs a ring with the given slot capacity; a capacity below 1
// falls back to the default of 8.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 8
	}
	return &Ring{capacity: uint64(capacity), slots: make([]ringSlot, capacity)}
}

// Publish writes snapshot into the next slot and release-stores the
// advanced write position, so readers that observe the new write_pos also
// observe the snapshot write (§5 ordering guarantee: publish is the release
// half of a release/acquire pair with ring reads as the acquire half).
func (r *Ring) Publish(snapshot *arena.Snapshot, generation uint64) {
	pos := r.writePos.Load()
	if pos == math.MaxUint64 {
		// write_pos saturates rather than wraps: a wrapped position would
		// break Latest's monotonicity reasoning. Unreachable at any
		// realistic tick rate, but never silent.
		return
	}
	slot := &r.slots[pos%r.capacity]
	if slot.valid.Load() {
		r.overwrites.Add(1)
	}
	slot.snapshot.Store(snapshot)
	slot.generation.Store(generation)
	slot.valid.Store(true)
	r.writePos.Store(pos + 1) // release: readers acquire-load writePos before trusting slot contents
}

// Latest scans all slots and returns the one with the highest generation.
// Under concurrent overwrite it retries a bounded number of times, since a
// torn read (generation bumped mid-scan) can only ever under-report, never
// spuriously report None for a non-empty ring — scanning again resolves it.
func (r *Ring) Latest() (*arena.Snapshot, uint64, bool) {
	const maxRetries = 4
	for attempt := 0; attempt < maxRetries; attempt++ {
		var best *arena.Snapshot
		var bestGen uint64
		found := false
		for i := range r.slots {
			if !r.slots[i].valid.Load() {
				continue
			}
			gen := r.slots[i].generation.Load()
			snap := r.slots[i].snapshot.Load()
			if snap == nil {
				continue
			}
			if !found || gen > bestGen {
				best, bestGen, found = snap, gen, true
			}
		}
		if found {
			return best, bestGen, true
		}
		if r.writePos.Load() == 0 {
			return nil, 0, false
		}
	}
	return nil, 0, false
}

// LatestGeneration returns the highest generation currently held by any
// valid slot, without resolving its snapshot. Egress workers pin this value
// before resolving Latest, so the window between "decide what to read" and
// "declare it held" never spans a full snapshot resolution.
func (r *Ring) LatestGeneration() (uint64, bool) {
	var best uint64
	found := false
	for i := range r.slots {
		if !r.slots[i].valid.Load() {
			continue
		}
		if gen := r.slots[i].generation.Load(); !found || gen > best {
			best, found = gen, true
		}
	}
	return best, found
}

// Reset invalidates every slot, emptying the ring without disturbing the
// monotonic write position. Used by the realtime shell's reset path: the
// arena rebuild restarts its generation counter, so stale slots carrying
// higher pre-reset generations must not shadow post-reset publishes in
// Latest. Readers racing a Reset may briefly observe an empty ring, exactly
// as they would before the first publish.
func (r *Ring) Reset() {
	for i := range r.slots {
		r.slots[i].valid.Store(false)
		r.slots[i].snapshot.Store(nil)
		r.slots[i].generation.Store(0)
	}
}

// WritePos returns the current write position (an acquire-load, paired with
// Publish's release-store).
func (r *Ring) WritePos() uint64 { return r.writePos.Load() }

// Capacity returns the ring's slot count.
func (r *Ring) Capacity() int { return int(r.capacity) }

// Overwrites returns the running count of publishes that clobbered a slot
// still holding a previously valid snapshot, feeding the ring-eviction
// per-tick metric.
func (r *Ring) Overwrites() uint64 { return r.overwrites.Load() }
