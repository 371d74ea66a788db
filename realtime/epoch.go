package realtime

import (
	"sync/atomic"
	"time"
)

// WorkerEpoch is the per-worker pin an egress task takes before borrowing a
// published snapshot out of the ring, so the tick thread can tell whether it
// is safe to let a generation's backing arrays be reused. It carries a
// pinned flag, the pinned generation, the pin-start timestamp, and a
// sequence counter bumped on every transition. The counter serves two jobs:
// readers detect a torn sample (odd value means a transition is mid-flight,
// a changed value means a transition landed during the read), and an
// unpin/repin cycle that lands on the SAME generation value still advances
// it, so a reader can never mistake a fresh pin span for the old one (ABA).
type WorkerEpoch struct {
	seq      atomic.Uint64
	pinned   atomic.Bool
	gen      atomic.Uint64
	pinStart atomic.Int64
}

// Pin marks the epoch as entered at the given ring generation, returning the
// (even) seq value the pin settled at.
func (e *WorkerEpoch) Pin(generation uint64) uint64 {
	e.seq.Add(1)
	e.gen.Store(generation)
	e.pinStart.Store(time.Now().UnixNano())
	e.pinned.Store(true)
	return e.seq.Add(1)
}

// Repin moves an already-held pin to a newer generation without opening an
// unpinned window, used when a publish lands between taking the pin and
// resolving the ring's latest slot. The seq bump makes the move visible to
// samplers even when the generation value itself is unchanged.
func (e *WorkerEpoch) Repin(generation uint64) {
	e.seq.Add(1)
	e.gen.Store(generation)
	e.seq.Add(1)
}

// Unpin clears the pin.
func (e *WorkerEpoch) Unpin() {
	e.seq.Add(1)
	e.pinned.Store(false)
	e.seq.Add(1)
}

// ForceUnpin is Unpin called by the tick thread's stall check rather than by
// the pinning worker itself: the worker is presumed stuck (or dead) and the
// generation it held is reclaimed regardless. The worker, if it eventually
// does call its own Unpin, only records one more transition; it does not
// resurrect the reclaimed generation.
func (e *WorkerEpoch) ForceUnpin() {
	e.Unpin()
}

// sample atomically snapshots (pinned, generation, pinStart): read seq, read
// the state, reread seq; retry while seq is odd (a transition is mid-flight)
// or changed (a transition landed mid-read).
func (e *WorkerEpoch) sample() (generation uint64, startNs int64, pinned bool) {
	for {
		s1 := e.seq.Load()
		if s1%2 != 0 {
			continue
		}
		p := e.pinned.Load()
		g := e.gen.Load()
		ts := e.pinStart.Load()
		if e.seq.Load() == s1 {
			return g, ts, p
		}
	}
}

// Pinned reports whether the epoch is currently inside a Pin/Unpin span, and
// if so, the generation it pinned at.
func (e *WorkerEpoch) Pinned() (generation uint64, pinned bool) {
	g, _, p := e.sample()
	if !p {
		return 0, false
	}
	return g, true
}

// PinDuration reports how long the epoch has been continuously pinned as of
// now, if it is currently pinned at all.
func (e *WorkerEpoch) PinDuration(now time.Time) (time.Duration, bool) {
	_, startNs, pinned := e.sample()
	if !pinned {
		return 0, false
	}
	return now.Sub(time.Unix(0, startNs)), true
}

// MinPinnedGeneration scans a set of worker epochs and returns the lowest
// generation any of them is currently pinned to, so a reclaimer can avoid
// recycling ring slots a worker might still be reading. ok is false if no
// worker is currently pinned.
func MinPinnedGeneration(epochs []*WorkerEpoch) (min uint64, ok bool) {
	for _, e := range epochs {
		gen, pinned := e.Pinned()
		if !pinned {
			continue
		}
		if !ok || gen < min {
			min, ok = gen, true
		}
	}
	return min, ok
}
