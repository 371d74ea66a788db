package murk

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/command"
)

// Lockstep is the synchronous shell: a callable object whose sole operation
// is StepSync. &mut-style exclusivity (§5) is emulated in Go by requiring
// every call to go through this single, non-concurrent-safe receiver —
// callers must not invoke StepSync from two goroutines at once, the same
// discipline Rust's borrow checker would enforce at compile time.
type Lockstep struct {
	world      *World
	last       *StepResult
	arrivalSeq uint64
}

// NewLockstep constructs a Lockstep shell around a freshly built World.
func NewLockstep(cfg Config) (*Lockstep, error) {
	w, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Lockstep{world: w}, nil
}

// StepSync drains commands, runs one tick, and returns the step result.
// Ingress is direct inline submission; there is no queue to overflow in
// lockstep (submitting more commands than fit in one tick is a programming
// error, signalled here as ErrQueueFull rather than silently truncated).
func (l *Lockstep) StepSync(commands []command.Command, maxPerTick int) (*StepResult, error) {
	if maxPerTick > 0 && len(commands) > maxPerTick {
		return nil, NewError(CodeQueueFull, ErrQueueFull)
	}
	// arrival_seq is engine-assigned (§6.3): inline submission stamps it
	// here, taking the place of the admission queue's counter in realtime.
	stamped := make([]command.Command, len(commands))
	for i, c := range commands {
		if l.arrivalSeq == ^uint64(0) {
			return nil, NewError(CodeExecutionFailed, ErrArrivalSeqOverflow)
		}
		c.ArrivalSeq = l.arrivalSeq
		l.arrivalSeq++
		stamped[i] = c
	}
	res, err := l.world.step(stamped)
	if res != nil {
		l.last = res
	}
	return res, err
}

// Reset zeroes world state, preserves field layout, and returns a fresh
// snapshot.
func (l *Lockstep) Reset() (*arena.Snapshot, error) {
	snap, err := l.world.Reset()
	if err == nil {
		l.last = nil
		l.arrivalSeq = 0
	}
	return snap, err
}

// Snapshot returns the last published snapshot (valid only until the next
// StepSync/Reset call).
func (l *Lockstep) Snapshot() *arena.Snapshot { return l.world.Snapshot() }

// LastResult returns the most recent StepResult (nil before the first
// StepSync and after a Reset). Like Snapshot, the references inside are only
// valid until the next StepSync/Reset call.
func (l *Lockstep) LastResult() *StepResult { return l.last }

// World exposes the underlying World for read-only queries (ParameterVersion,
// InstanceID, WorldGenerationId).
func (l *Lockstep) World() *World { return l.world }

// ObservationExtractor consumes a batch of per-world snapshots and produces
// observation/validity-mask outputs. It is an external collaborator (§6.2).
// Validate is called before any world's tick advances, so an infeasible
// observation plan (output buffer shape mismatch, for instance) is caught
// before the batch mutates any world state; Extract runs after every world
// has stepped.
type ObservationExtractor interface {
	Validate(worlds []*World, obsOut, maskOut [][]float64) error
	Extract(snapshots []*arena.Snapshot, obsOut, maskOut [][]float64) error
}

// Batch is the N-world aggregate engine (§4.4). Every member world must
// share a compatible spatial topology and observation schema with the
// reference world (worlds[0]): equal-length per-field snapshot slices where
// both are present. A field missing on every world is a construction-time
// error, not a silently-skipped one.
type Batch struct {
	worlds []*World
}

// NewBatch validates topology/schema compatibility across worlds and
// constructs a Batch. worlds must be non-empty.
func NewBatch(worlds []*World) (*Batch, error) {
	if len(worlds) == 0 {
		return nil, fmt.Errorf("%w: batch requires at least one world", ErrInvalidConfig)
	}
	ref := worlds[0]
	refFields := make(map[FieldId]int)
	for id, d := range ref.fieldDef {
		refFields[id] = d.Shape.Components
	}
	for _, w := range worlds[1:] {
		if w.cfg.Space.InstanceID() != ref.cfg.Space.InstanceID() {
			return nil, fmt.Errorf("%w: batch worlds have incompatible spatial topology", ErrInvalidConfig)
		}
		for id, components := range refFields {
			if d, ok := w.fieldDef[id]; ok && d.Shape.Components != components {
				return nil, fmt.Errorf("%w: batch worlds disagree on field %d shape", ErrInvalidConfig, id)
			}
		}
	}
	// The observation schema is the union of every member's field set; a
	// field in that union that no world declares cannot arise by
	// construction here, but a member declaring a field the reference lacks
	// means the schemas have silently diverged.
	for _, w := range worlds[1:] {
		for id := range w.fieldDef {
			if _, ok := refFields[id]; !ok {
				return nil, fmt.Errorf("%w: field %d is declared by a member world but not the reference world", ErrInvalidConfig, id)
			}
		}
	}
	return &Batch{worlds: append([]*World(nil), worlds...)}, nil
}

// StepAndObserve steps every world with its corresponding command batch
// before invoking extractor, preserving atomicity: if extractor fails, no
// world's tick (and no partial observation result) is exposed to the
// caller. Worlds step concurrently via errgroup, mirroring the teacher's use
// of structured concurrency for its own batched-tick fan-out.
func (b *Batch) StepAndObserve(commandsPerWorld [][]command.Command, extractor ObservationExtractor, obsOut, maskOut [][]float64) ([]*StepResult, error) {
	if len(commandsPerWorld) != len(b.worlds) {
		return nil, fmt.Errorf("%w: commandsPerWorld length mismatch", ErrInvalidConfig)
	}
	if err := extractor.Validate(b.worlds, obsOut, maskOut); err != nil {
		return nil, NewError(CodeInvalidComposition, err)
	}
	results := make([]*StepResult, len(b.worlds))
	var g errgroup.Group
	for i := range b.worlds {
		i := i
		g.Go(func() error {
			res, err := b.worlds[i].step(commandsPerWorld[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshots := make([]*arena.Snapshot, len(results))
	for i, r := range results {
		snapshots[i] = r.Snapshot
	}
	if err := extractor.Extract(snapshots, obsOut, maskOut); err != nil {
		return nil, NewError(CodeInvalidComposition, err)
	}
	return results, nil
}
