package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	murk "github.com/dm-vev/murk"
	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/space"
)

// ErrRingEmpty is returned by WorkerPool.Run when no snapshot has ever been
// published to the ring yet.
var ErrRingEmpty = errors.New("realtime: ring has no published snapshot")

// ErrEmptyPlan is returned by WorkerPool.Run when the region plan compiled
// for this extraction carries no groups at all, which almost always means
// the plan was built against a topology the space no longer matches.
var ErrEmptyPlan = errors.New("realtime: region plan has no groups")

// RegionExtractor computes egress output for one coordinate group of a
// compiled region plan (space.RegionPlan), reading from a borrowed snapshot.
// Groups are the unit of cooperative cancellation: a shutdown or extraction
// error lets in-flight groups finish but abandons any group not yet started.
type RegionExtractor interface {
	ExtractGroup(snapshot *arena.Snapshot, group []uint32) error
}

// WorkerPool runs observation tasks against the ring's latest published
// snapshot. Each task (one Run call) owns one WorkerEpoch for its whole
// duration: the epoch is pinned before the snapshot is resolved and unpinned
// after the last group finishes, so a reclaimer consulting
// MinPinnedGeneration never recycles storage a task is still reading. The
// groups within a task fan out concurrently up to the pool's worker bound.
type WorkerPool struct {
	ring    *Ring
	workers int
	epochs  []*WorkerEpoch
	free    chan int

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
}

// NewWorkerPool constructs a pool of the given concurrency bound over ring.
func NewWorkerPool(ring *Ring, workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	epochs := make([]*WorkerEpoch, workers)
	free := make(chan int, workers)
	for i := range epochs {
		epochs[i] = &WorkerEpoch{}
		free <- i
	}
	return &WorkerPool{
		ring:    ring,
		workers: workers,
		epochs:  epochs,
		free:    free,
		cancels: make(map[int]context.CancelFunc, workers),
	}
}

// Epochs exposes the pool's per-slot epochs for a reclaimer to consult.
func (p *WorkerPool) Epochs() []*WorkerEpoch { return p.epochs }

// MinPinnedGeneration implements arena.PinGate by scanning the pool's own
// epochs, letting the arena's BeginTick refuse to stage into a generation
// pool slot one of these epochs is still pinned to.
func (p *WorkerPool) MinPinnedGeneration() (generation uint64, ok bool) {
	return MinPinnedGeneration(p.epochs)
}

// StalledWorkers returns the index of every epoch that has been continuously
// pinned for at least maxAge as of now.
func (p *WorkerPool) StalledWorkers(now time.Time, maxAge time.Duration) []int {
	var stalled []int
	for i, e := range p.epochs {
		if d, pinned := e.PinDuration(now); pinned && d >= maxAge {
			stalled = append(stalled, i)
		}
	}
	return stalled
}

// CancelStalled requests cooperative cancellation of every task whose epoch
// has been pinned longer than maxAge: the task observes it between region
// groups and returns WorkerStalled. It reports how many tasks were signalled.
func (p *WorkerPool) CancelStalled(now time.Time, maxAge time.Duration) int {
	stalled := p.StalledWorkers(now, maxAge)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, i := range stalled {
		if cancel, ok := p.cancels[i]; ok {
			cancel()
			n++
		}
	}
	return n
}

// ForceUnpinStalled force-unpins every epoch held longer than maxAge and
// reports how many were reclaimed, so the caller can fold that count into a
// CodeWorkerStalled report. Called after CancelStalled's grace period has
// passed without the task unpinning on its own.
func (p *WorkerPool) ForceUnpinStalled(now time.Time, maxAge time.Duration) int {
	stalled := p.StalledWorkers(now, maxAge)
	for _, i := range stalled {
		p.epochs[i].ForceUnpin()
	}
	return len(stalled)
}

// Run executes one observation task: it acquires an epoch slot, pins it,
// resolves the ring's latest snapshot, extracts every group of plan against
// that one snapshot (concurrently, bounded by the pool's worker count, with
// a cancellation check between groups), then unpins. The snapshot's own
// TickId is the engine tick every group observes — never a second read of a
// global counter, which could have advanced mid-task.
func (p *WorkerPool) Run(ctx context.Context, plan space.RegionPlan, extractor RegionExtractor) error {
	if len(plan.Groups) == 0 {
		return murk.NewError(murk.CodePlanInvalidated, ErrEmptyPlan)
	}

	var idx int
	select {
	case idx = <-p.free:
	case <-ctx.Done():
		return murk.NewError(murk.CodeWorkerStalled, ctx.Err())
	}
	defer func() { p.free <- idx }()
	epoch := p.epochs[idx]

	// cctx is cancelled either by the caller or by the tick thread's stall
	// check (CancelStalled); gctx additionally cancels on the first group
	// error. The post-wait verdict consults cctx, never gctx — errgroup
	// cancels its derived context as Wait returns, so gctx.Err() is
	// meaningless by then.
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancels[idx] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, idx)
		p.mu.Unlock()
	}()

	snap, err := p.pinLatest(epoch)
	if err != nil {
		return err
	}
	defer epoch.Unpin()

	g, gctx := errgroup.WithContext(cctx)
	g.SetLimit(p.workers)
	for _, group := range plan.Groups {
		group := group
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return extractor.ExtractGroup(snap, group)
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return murk.NewError(murk.CodeWorkerStalled, err)
		}
		return err
	}
	if err := cctx.Err(); err != nil {
		return murk.NewError(murk.CodeWorkerStalled, err)
	}
	return nil
}

// pinLatest pins epoch to the ring's newest generation and then resolves its
// snapshot. If a publish lands in between, the pin is moved up to the
// resolved generation (Repin) rather than released and retaken, so there is
// no window in which the reclaimer could see this task unpinned.
func (p *WorkerPool) pinLatest(epoch *WorkerEpoch) (*arena.Snapshot, error) {
	gen, ok := p.ring.LatestGeneration()
	if !ok {
		return nil, murk.NewError(murk.CodeSnapshotNotAvailable, ErrRingEmpty)
	}
	epoch.Pin(gen)
	snap, resolved, ok := p.ring.Latest()
	if !ok {
		epoch.Unpin()
		return nil, murk.NewError(murk.CodeSnapshotNotAvailable, ErrRingEmpty)
	}
	if resolved != gen {
		epoch.Repin(resolved)
	}
	return snap, nil
}
