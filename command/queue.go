package command

import (
	"errors"
	"math"
	"sync"
)

// ErrQueueFull is returned by Submit when the ingress queue is already at
// its configured maximum length.
var ErrQueueFull = errors.New("command: ingress queue full")

// ErrArrivalSeqOverflow is returned by Submit when the arrival-sequence
// counter is already at its maximum value; this is a hard error, never a
// silent wraparound, since arrival_seq ordering must stay monotonic for the
// lifetime of a world.
var ErrArrivalSeqOverflow = errors.New("command: arrival sequence overflow")

// Queue is the bounded, non-blocking ingress queue shared by the lockstep
// and realtime shells. Submission never blocks: a full queue returns
// ErrQueueFull immediately.
type Queue struct {
	mu         sync.Mutex
	items      []Command
	maxLen     int
	arrivalSeq uint64
	closed     bool
	policy     DrainOverflowPolicy
	evictions  int
}

// NewQueue constructs an empty queue bounded at maxLen. The overflow policy
// defaults to DropOldestFirst; use SetOverflowPolicy to change it.
func NewQueue(maxLen int) *Queue {
	return &Queue{maxLen: maxLen}
}

// SetOverflowPolicy configures the eviction policy SubmitOrEvict falls back
// to once the queue is full, instead of rejecting the incoming command
// outright.
func (q *Queue) SetOverflowPolicy(policy DrainOverflowPolicy) {
	q.mu.Lock()
	q.policy = policy
	q.mu.Unlock()
}

// Evictions reports the running count of commands this queue has dropped to
// make room for an admission under its configured overflow policy.
func (q *Queue) Evictions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evictions
}

// Submit assigns the next arrival_seq to cmd and admits it, or returns
// ErrQueueFull / ErrArrivalSeqOverflow / ErrShuttingDown-equivalent (callers
// map Close to ErrQueueFull-adjacent shutdown codes themselves; Queue only
// tracks closed-ness as a guard against racing against a torn-down world).
// Submit never evicts on its own: lockstep treats a full queue as a caller
// error. Realtime ingress that wants deterministic overflow dropping instead
// of rejection calls SubmitOrEvict.
func (q *Queue) Submit(cmd Command) (Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitLocked(cmd)
}

func (q *Queue) submitLocked(cmd Command) (Command, error) {
	if q.closed {
		return Command{}, errClosed
	}
	if len(q.items) >= q.maxLen {
		return Command{}, ErrQueueFull
	}
	if q.arrivalSeq == math.MaxUint64 {
		return Command{}, ErrArrivalSeqOverflow
	}
	cmd.ArrivalSeq = q.arrivalSeq
	q.arrivalSeq++
	q.items = append(q.items, cmd)
	return cmd, nil
}

// SubmitOrEvict behaves like Submit, except that when the queue is already
// at maxLen it first drops one queued command under the configured overflow
// policy (SetOverflowPolicy) to make room, rather than rejecting cmd. It
// reports the evicted command alongside the outcome so the caller can build
// a rejection receipt for it. This is the realtime shell's ingress path
// (§4.5); lockstep callers use plain Submit since a full queue there is
// always a caller error, not a backlog to drop from.
func (q *Queue) SubmitOrEvict(cmd Command) (admitted Command, evicted Command, didEvict bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Command{}, Command{}, false, errClosed
	}
	if len(q.items) >= q.maxLen {
		ev, ok := q.evictLocked(q.policy)
		if !ok {
			return Command{}, Command{}, false, ErrQueueFull
		}
		q.evictions++
		evicted, didEvict = ev, true
	}
	admitted, err = q.submitLocked(cmd)
	return admitted, evicted, didEvict, err
}

// errClosed is unexported: callers (the tick engine, the realtime shell)
// translate it into their own ShuttingDown error code rather than exposing
// a second sentinel with identical meaning.
var errClosed = errors.New("command: queue closed")

// ErrClosed reports whether err is the queue's closed-submission sentinel.
func ErrClosed(err error) bool { return errors.Is(err, errClosed) }

// Close marks the queue as no longer accepting submissions. Already-queued
// commands remain available to Drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len reports the number of currently-queued, undrained commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every currently-queued command.
func (q *Queue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// DrainOverflowPolicy names the deterministic drop policy realtime ingress
// applies when the tick thread falls behind and the queue saturates between
// drains (§4.5): oldest commands dropped first, or lowest-priority commands
// dropped first. Lockstep never needs this since Submit itself is the only
// admission path and overflow there is a caller error.
type DrainOverflowPolicy uint8

const (
	DropOldestFirst DrainOverflowPolicy = iota
	DropLowestPriorityFirst
)

// DrainBounded removes and returns at most limit of the oldest queued
// commands, in admission order, leaving the remainder queued. It never
// discards a command and ignores the overflow policy.
func (q *Queue) DrainBounded(limit int) []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit >= len(q.items) {
		out := q.items
		q.items = nil
		return out
	}
	out := q.items[:limit]
	q.items = q.items[limit:]
	return out
}

// EvictForAdmission makes room for one more command under the configured
// overflow policy, dropping exactly one queued command and returning it
// (the caller is responsible for building its rejection receipt). ok is
// false if the queue was not actually full (no eviction performed).
func (q *Queue) EvictForAdmission(policy DrainOverflowPolicy) (dropped Command, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) < q.maxLen {
		return Command{}, false
	}
	return q.evictLocked(policy)
}

// evictLocked drops exactly one queued command under policy and returns it.
// Callers must already hold q.mu. ok is false if the queue is empty (nothing
// to evict regardless of how full maxLen says it should be).
func (q *Queue) evictLocked(policy DrainOverflowPolicy) (dropped Command, ok bool) {
	if len(q.items) == 0 {
		return Command{}, false
	}
	switch policy {
	case DropLowestPriorityFirst:
		worst := 0
		for i, c := range q.items {
			if c.PriorityClass > q.items[worst].PriorityClass {
				worst = i
			}
		}
		dropped = q.items[worst]
		q.items = append(q.items[:worst], q.items[worst+1:]...)
	default: // DropOldestFirst
		dropped = q.items[0]
		q.items = q.items[1:]
	}
	return dropped, true
}
