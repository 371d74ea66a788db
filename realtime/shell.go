package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	murk "github.com/dm-vev/murk"
	"github.com/dm-vev/murk/command"
)

// State is the realtime shell's shutdown lifecycle (§4.5): Running accepts
// ingress and ticks normally; Draining stops accepting new commands but
// keeps ticking until the queue empties; Quiescing runs one final tick with
// an empty command batch so the last published snapshot reflects no
// in-flight commands; Stopped means the tick thread has exited.
type State uint8

const (
	StateRunning State = iota
	StateDraining
	StateQuiescing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateQuiescing:
		return "Quiescing"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Shell is the realtime shell: a dedicated tick thread driving murk.World,
// fed by a bounded ingress Queue, publishing into a Ring that a WorkerPool
// of egress tasks reads from. Unlike Lockstep, Shell owns its own goroutine
// (Run) and is safe to Submit into from any goroutine.
type Shell struct {
	world   *murk.World
	queue   *command.Queue
	ring    *Ring
	pool    *WorkerPool
	backoff *Backoff
	period  time.Duration

	maxPerTick int

	mu         sync.Mutex
	state      State
	lastResult *murk.StepResult

	disabled       atomic.Bool
	tickID         atomic.Uint64
	stalledWorkers atomic.Uint64
	lastEvictions  int
	lastOverwrites uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	resetCh  chan chan error
	doneCh   chan struct{}
}

// NewShell constructs a World from cfg and wraps it in a realtime shell,
// including the egress worker pool, wired into the world's arena as its
// reclamation pin gate. A construction failure here is a partial-startup
// failure: nothing has been started yet (no goroutine, no ring), so the
// caller simply never calls Run and the half-built Shell is discarded —
// goroutines, unlike OS threads, cannot fail to spawn, so there is never a
// tick thread to signal and join on a failed construction.
func NewShell(cfg murk.Config) (*Shell, error) {
	cfg = cfg.WithDefaults()
	if cfg.Arena.GenerationPoolSize == 0 {
		// Live generations in realtime are bounded by ring capacity plus the
		// workers that may be pinned to something the ring already evicted.
		cfg.Arena.GenerationPoolSize = cfg.RingSize + 2
	}
	w, err := murk.New(cfg)
	if err != nil {
		return nil, err
	}
	var period time.Duration
	if cfg.TickRateHz > 0 {
		period = time.Duration(float64(time.Second) / cfg.TickRateHz)
	}
	queue := command.NewQueue(cfg.MaxQueueLen)
	queue.SetOverflowPolicy(cfg.OverflowPolicy)
	ring := NewRing(cfg.RingSize)
	pool := NewWorkerPool(ring, cfg.EgressWorkers)
	w.SetPinGate(pool)
	return &Shell{
		world:      w,
		queue:      queue,
		ring:       ring,
		pool:       pool,
		backoff:    NewBackoff(cfg.Backoff.Initial, cfg.Backoff.Cap, cfg.Backoff.Factor, cfg.Backoff.Threshold, cfg.Backoff.Decay),
		period:     period,
		maxPerTick: cfg.MaxCommandsPerTick,
		state:      StateRunning,
		stopCh:     make(chan struct{}),
		resetCh:    make(chan chan error),
		doneCh:     make(chan struct{}),
	}, nil
}

// Submit enqueues cmd for the next tick. A full queue evicts one queued
// command under the configured overflow policy rather than rejecting cmd
// (the eviction is counted and surfaces through per-tick metrics). Once the
// shell has left Running, submission is rejected with CodeShuttingDown;
// while the world is tick-disabled after consecutive rollbacks, with
// CodeTickDisabled.
func (s *Shell) Submit(cmd command.Command) (command.Command, error) {
	if s.disabled.Load() {
		return command.Command{}, murk.NewError(murk.CodeTickDisabled, murk.ErrTickDisabled)
	}
	admitted, _, _, err := s.queue.SubmitOrEvict(cmd)
	if err != nil {
		if command.ErrClosed(err) {
			return command.Command{}, murk.NewError(murk.CodeShuttingDown, murk.ErrShuttingDown)
		}
		return command.Command{}, err
	}
	return admitted, nil
}

// SubmitWithTTL converts a wall-clock TTL into a tick-expressible
// expires_after_tick using the *configured* tick period — never a measured
// duration, so a replay of the resolved command record stays deterministic —
// and submits the command. A TTL that would overflow the tick counter
// saturates to "never expires" rather than wrapping.
func (s *Shell) SubmitWithTTL(cmd command.Command, ttl time.Duration) (command.Command, error) {
	if s.period <= 0 {
		return command.Command{}, murk.NewError(murk.CodeInvalidComposition, murk.ErrInvalidConfig)
	}
	ticks := uint64(ttl / s.period)
	basis := s.tickID.Load()
	if basis > ^uint64(0)-ticks {
		cmd.ExpiresAfterTick = ^uint64(0)
	} else {
		cmd.ExpiresAfterTick = basis + ticks
	}
	return s.Submit(cmd)
}

// State returns the shell's current lifecycle state.
func (s *Shell) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ring exposes the publication ring for worker pools to read from.
func (s *Shell) Ring() *Ring { return s.ring }

// Pool exposes the egress worker pool callers submit observation tasks to.
func (s *Shell) Pool() *WorkerPool { return s.pool }

// World exposes the underlying world for read-only queries.
func (s *Shell) World() *murk.World { return s.world }

// Backoff exposes the adaptive effective_max_skew controller.
func (s *Shell) Backoff() *Backoff { return s.backoff }

// StalledWorkers returns the running count of egress tasks the stall check
// has force-unpinned.
func (s *Shell) StalledWorkers() uint64 { return s.stalledWorkers.Load() }

func (s *Shell) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Shell) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// beginDrain transitions Running -> Draining exactly once; calling it again
// (or while already past Running) is a no-op.
func (s *Shell) beginDrain() {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateDraining
		s.queue.Close()
	}
	s.mu.Unlock()
}

// Stop requests a graceful shutdown: Run will stop admitting further ticks
// once the queue drains, then exit. Stop does not block; wait on Done() for
// the tick thread to actually exit.
func (s *Shell) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done returns a channel closed once the tick thread has reached Stopped and
// Run has returned.
func (s *Shell) Done() <-chan struct{} { return s.doneCh }

// LastResult returns the most recently produced StepResult (nil before the
// first tick).
func (s *Shell) LastResult() *murk.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// Reset asks the tick thread to rebuild world state at the next tick
// boundary, clearing the tick-disabled latch, and blocks until it has. It
// never panics on a failed rebuild; the error flows back to the caller.
func (s *Shell) Reset() error {
	reply := make(chan error, 1)
	select {
	case s.resetCh <- reply:
		return <-reply
	case <-s.doneCh:
		return murk.NewError(murk.CodeShuttingDown, murk.ErrShuttingDown)
	}
}

// Run drives the tick thread until Stop is called or ctx is cancelled,
// advancing the FSM Running -> Draining -> Quiescing -> Stopped. It blocks
// until Stopped; callers typically invoke it in its own goroutine.
func (s *Shell) Run(ctx context.Context) {
	defer close(s.doneCh)

	var tickCh <-chan time.Time
	if s.period > 0 {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	for {
		switch s.getState() {
		case StateStopped:
			return
		case StateQuiescing:
			// One final tick with no commands so the last published
			// snapshot reflects a fully quiesced world, then cancel any
			// egress task still in flight and stop.
			s.tickOnce(nil)
			s.pool.CancelStalled(time.Now(), 0)
			s.setState(StateStopped)
			return
		}

		if tickCh != nil {
			select {
			case <-ctx.Done():
				s.beginDrain()
				continue
			case <-s.stopCh:
				s.beginDrain()
				continue
			case reply := <-s.resetCh:
				reply <- s.handleReset()
				continue
			case <-tickCh:
			}
		} else {
			select {
			case <-ctx.Done():
				s.beginDrain()
				continue
			case <-s.stopCh:
				s.beginDrain()
				continue
			case reply := <-s.resetCh:
				reply <- s.handleReset()
				continue
			default:
			}
		}

		s.runStallCheck()

		cmds := s.drainForTick()
		s.tickOnce(cmds)

		if s.getState() == StateDraining && s.queue.Len() == 0 {
			s.setState(StateQuiescing)
		}
	}
}

// runStallCheck applies the two-stage stall policy each tick: tasks pinned
// longer than the backoff-scaled threshold get a cooperative cancellation
// request; tasks that overstay a further one-period grace window are
// force-unpinned so the arena can reclaim their generation.
func (s *Shell) runStallCheck() {
	if s.period <= 0 {
		return
	}
	now := time.Now()
	threshold := time.Duration(float64(s.period) * s.backoff.Effective())
	if threshold <= 0 {
		return
	}
	s.pool.CancelStalled(now, threshold)
	if forced := s.pool.ForceUnpinStalled(now, threshold+s.period); forced > 0 {
		s.stalledWorkers.Add(uint64(forced))
	}
}

// handleReset rebuilds world state on the tick thread, clears the ring of
// pre-reset generations, republishes the fresh tick-0 snapshot, and lifts
// the tick-disabled latch.
func (s *Shell) handleReset() error {
	snap, err := s.world.Reset()
	if err != nil {
		return err
	}
	s.ring.Reset()
	s.ring.Publish(snap, uint64(snap.Generation()))
	s.disabled.Store(false)
	s.tickID.Store(0)
	s.mu.Lock()
	s.lastResult = nil
	s.mu.Unlock()
	return nil
}

// drainForTick pulls up to maxPerTick commands (or everything queued, if
// maxPerTick is unset) for this tick.
func (s *Shell) drainForTick() []command.Command {
	if s.maxPerTick <= 0 {
		return s.queue.Drain()
	}
	return s.queue.DrainBounded(s.maxPerTick)
}

func (s *Shell) tickOnce(cmds []command.Command) {
	result, err := s.world.Step(cmds)
	s.disabled.Store(s.world.TickDisabled())
	s.tickID.Store(s.world.TickId())
	if result == nil {
		// BeginTick refused outright: either storage exhaustion, or a pinned
		// generation holding the tick back (retried next period, after the
		// stall check has had a chance to free the pin).
		return
	}

	// Ingress/egress pressure counters accumulate shell-side; surface the
	// per-tick deltas through this tick's metrics.
	evictions := s.queue.Evictions()
	overwrites := s.ring.Overwrites()
	result.Metrics.QueueSaturationEvents = evictions - s.lastEvictions
	result.Metrics.RingEvictions = int(overwrites - s.lastOverwrites)
	s.lastEvictions = evictions
	s.lastOverwrites = overwrites
	// Staleness sampled before this tick's publish lands: how far behind the
	// freshest ring snapshot egress readers were while the tick computed.
	if latest, _, ok := s.ring.Latest(); ok {
		result.Metrics.RingStaleness = int(latest.AgeTicks(s.world.TickId()))
	}

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()

	if err == nil {
		s.ring.Publish(result.Snapshot, uint64(result.Snapshot.Generation()))
	}

	rejected := 0
	for _, r := range result.Receipts {
		if !r.Accepted {
			rejected++
		}
	}
	if len(result.Receipts) > 0 {
		s.backoff.Observe(float64(rejected) / float64(len(result.Receipts)))
	} else {
		s.backoff.Observe(0)
	}
}
