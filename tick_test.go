package murk

import (
	"testing"

	"github.com/google/uuid"

	"github.com/dm-vev/murk/command"
	"github.com/dm-vev/murk/propagator"
	"github.com/dm-vev/murk/space"
)

// diffusionLineConfig builds the spec §8 Scenario A/B fixture: a 1D
// absorbing line of length 4, one PerTick scalar field, dt=1.
func diffusionLineConfig(t *testing.T, extra ...propagator.Propagator) Config {
	t.Helper()
	grid, err := space.NewGrid([]uint32{4}, space.GridBoundaryAbsorb)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	props := append([]propagator.Propagator{propagator.Diffusion{Field: 1}}, extra...)
	return Config{
		Space:       grid,
		Fields:      []FieldDef{{ID: 1, Name: "F", Shape: Shape{Components: 1}, Mutability: PerTick, Boundary: BoundaryAbsorb}},
		Propagators: props,
		Dt:          1.0,
		MaxQueueLen: 8,
		Arena:       ArenaConfig{SegmentSize: 1024, MaxSegments: 3},
	}
}

func setField(coord int32, v float64) command.Command {
	return command.Command{
		Payload:          command.SetField{Field: 1, Coord: space.Coord{coord}, Values: []float64{v}},
		ExpiresAfterTick: ^uint64(0),
	}
}

// TestScenarioATwoTickDiffusionIdempotence matches spec §8 Scenario A: an
// impulse at coord 2 on tick 1, an empty tick 2, expected field
// [0, 0.5, 0, 0.5], and bit-identical hashes across two independent runs.
func TestScenarioATwoTickDiffusionIdempotence(t *testing.T) {
	run := func() ([]float64, uint64) {
		ls, err := NewLockstep(diffusionLineConfig(t))
		if err != nil {
			t.Fatalf("NewLockstep: %v", err)
		}
		if _, err := ls.StepSync([]command.Command{setField(2, 1.0)}, 8); err != nil {
			t.Fatalf("tick 1: %v", err)
		}
		res, err := ls.StepSync(nil, 8)
		if err != nil {
			t.Fatalf("tick 2: %v", err)
		}
		v, ok := res.Snapshot.Read(1)
		if !ok {
			t.Fatalf("Read(1) missing after tick 2")
		}
		return append([]float64(nil), v...), res.Snapshot.Hash()
	}

	want := []float64{0, 0.5, 0, 0.5}
	got1, hash1 := run()
	got2, hash2 := run()

	for i := range want {
		if got1[i] != want[i] {
			t.Fatalf("run1 F = %v; want %v", got1, want)
		}
		if got2[i] != want[i] {
			t.Fatalf("run2 F = %v; want %v", got2, want)
		}
	}
	if hash1 != hash2 {
		t.Fatalf("snapshot hashes differ across independent runs: %x vs %x", hash1, hash2)
	}
}

// failingPropagator always returns PropagatorFailed, used to exercise
// rollback (spec §8 Scenario B).
type failingPropagator struct{}

func (failingPropagator) Name() string                       { return "always-fails" }
func (failingPropagator) Reads() []FieldId                   { return nil }
func (failingPropagator) ReadsPrevious() []FieldId            { return nil }
func (failingPropagator) Writes() []propagator.Write          { return nil }
func (failingPropagator) MaxDt(space.Space) (float64, bool)   { return 0, false }
func (failingPropagator) ScratchBytes() int                   { return 0 }
func (failingPropagator) Step(propagator.Context) error       { return errAlwaysFails }

var errAlwaysFails = &Error{Code: CodePropagatorFailed}

// TestScenarioBRollbackPreservesState matches spec §8 Scenario B: a second
// propagator that always fails rolls the whole tick back, leaving the
// published snapshot, generation, and command receipts exactly as if the
// tick never ran.
func TestScenarioBRollbackPreservesState(t *testing.T) {
	cfg := diffusionLineConfig(t, failingPropagator{})
	ls, err := NewLockstep(cfg)
	if err != nil {
		t.Fatalf("NewLockstep: %v", err)
	}
	genBefore := ls.Snapshot().Generation()

	res, err := ls.StepSync([]command.Command{setField(0, 1.0)}, 8)
	if err == nil {
		t.Fatalf("StepSync succeeded; want PropagatorFailed")
	}
	var murkErr *Error
	if !asError(err, &murkErr) || murkErr.Code != CodePropagatorFailed {
		t.Fatalf("error = %v; want CodePropagatorFailed", err)
	}

	v, ok := ls.Snapshot().Read(1)
	if !ok {
		t.Fatalf("Read(1) missing after rollback")
	}
	for i, want := range []float64{0, 0, 0, 0} {
		if v[i] != want {
			t.Fatalf("F after rollback = %v; want all zero", v)
		}
	}
	if len(res.Receipts) != 1 || res.Receipts[0].Accepted {
		t.Fatalf("receipt = %+v; want Accepted=false", res.Receipts)
	}
	if res.Receipts[0].Reason != command.ReasonTickRollback {
		t.Fatalf("reason = %v; want TickRollback", res.Receipts[0].Reason)
	}
	if ls.Snapshot().Generation() != genBefore {
		t.Fatalf("generation changed after rollback: %d -> %d", genBefore, ls.Snapshot().Generation())
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// TestScenarioCConsecutiveRollbackDisable matches spec §8 Scenario C: three
// consecutive rollbacks disable ticking until Reset.
func TestScenarioCConsecutiveRollbackDisable(t *testing.T) {
	cfg := diffusionLineConfig(t, failingPropagator{})
	cfg.MaxConsecutiveRollbacks = 3
	ls, err := NewLockstep(cfg)
	if err != nil {
		t.Fatalf("NewLockstep: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := ls.StepSync([]command.Command{setField(0, 1.0)}, 8); err == nil {
			t.Fatalf("tick %d: expected PropagatorFailed", i)
		}
	}

	_, err = ls.StepSync(nil, 8)
	var murkErr *Error
	if !asError(err, &murkErr) || murkErr.Code != CodeTickDisabled {
		t.Fatalf("after 3 rollbacks, error = %v; want CodeTickDisabled", err)
	}

	if _, err := ls.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}

// TestScenarioDCommandOrderingDeterminism matches spec §8 Scenario D: two
// producers racing to set the same coordinate resolve by source_id
// ascending, never by submission timing, repeatably.
func TestScenarioDCommandOrderingDeterminism(t *testing.T) {
	sid1 := mustUUID(t, 1)
	sid2 := mustUUID(t, 2)

	for i := 0; i < 1000; i++ {
		ls, err := NewLockstep(diffusionLineConfig(t))
		if err != nil {
			t.Fatalf("NewLockstep: %v", err)
		}
		c1 := command.Command{
			Payload:          command.SetField{Field: 1, Coord: space.Coord{0}, Values: []float64{1.0}},
			SourceID:         &sid1,
			ExpiresAfterTick: ^uint64(0),
		}
		c2 := command.Command{
			Payload:          command.SetField{Field: 1, Coord: space.Coord{0}, Values: []float64{2.0}},
			SourceID:         &sid2,
			ExpiresAfterTick: ^uint64(0),
		}
		// Submit P2 first to make sure ordering is by source_id, not
		// submission order.
		res, err := ls.StepSync([]command.Command{c2, c1}, 8)
		if err != nil {
			t.Fatalf("StepSync: %v", err)
		}
		v, ok := res.Snapshot.Read(1)
		if !ok || v[0] != 1.0 {
			t.Fatalf("iteration %d: F[0] = %v; want 1.0 (source_id 1 sorts first and wins, source_id 2 is superseded)", i, v)
		}
	}
}

func mustUUID(t *testing.T, b byte) (out uuid.UUID) {
	t.Helper()
	out[15] = b
	return out
}

// TestLockstepMemoryBoundedOverManyTicks checks the bounded-recycling
// property: arena footprint after 10 000 ticks stays within 2.2x the
// footprint at tick 1, since PerTick storage ping-pongs in place instead of
// accumulating a generation per tick.
func TestLockstepMemoryBoundedOverManyTicks(t *testing.T) {
	ls, err := NewLockstep(diffusionLineConfig(t))
	if err != nil {
		t.Fatalf("NewLockstep: %v", err)
	}
	first, err := ls.StepSync(nil, 8)
	if err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	base := first.Metrics.ArenaBytesAllocated

	last := base
	for i := 0; i < 10000; i++ {
		res, err := ls.StepSync(nil, 8)
		if err != nil {
			t.Fatalf("tick %d: %v", i+2, err)
		}
		last = res.Metrics.ArenaBytesAllocated
	}
	if float64(last) > 2.2*float64(base) {
		t.Fatalf("arena bytes after 10000 ticks = %d; want <= 2.2 x %d", last, base)
	}
}

// TestLockstepReplayDeterminism checks that the same ordered command stream
// produces a bit-identical snapshot hash at tick 1000 across two independent
// runs.
func TestLockstepReplayDeterminism(t *testing.T) {
	run := func() uint64 {
		ls, err := NewLockstep(diffusionLineConfig(t))
		if err != nil {
			t.Fatalf("NewLockstep: %v", err)
		}
		var h uint64
		for i := 0; i < 1000; i++ {
			var cmds []command.Command
			if i%10 == 0 {
				cmds = []command.Command{setField(int32(i%4), float64(i%7))}
			}
			res, err := ls.StepSync(cmds, 8)
			if err != nil {
				t.Fatalf("tick %d: %v", i+1, err)
			}
			h = res.Snapshot.Hash()
		}
		return h
	}
	if h1, h2 := run(), run(); h1 != h2 {
		t.Fatalf("replay hashes diverge: %x vs %x", h1, h2)
	}
}

// TestResetYieldsIdenticalInitialSnapshots checks that two worlds with the
// same config produce bit-identical snapshots at tick 0, both at
// construction and after an episode reset.
func TestResetYieldsIdenticalInitialSnapshots(t *testing.T) {
	ls1, err := NewLockstep(diffusionLineConfig(t))
	if err != nil {
		t.Fatalf("NewLockstep: %v", err)
	}
	ls2, err := NewLockstep(diffusionLineConfig(t))
	if err != nil {
		t.Fatalf("NewLockstep: %v", err)
	}
	if ls1.Snapshot().Hash() != ls2.Snapshot().Hash() {
		t.Fatalf("fresh worlds disagree at tick 0")
	}

	if _, err := ls1.StepSync([]command.Command{setField(2, 1.0)}, 8); err != nil {
		t.Fatalf("StepSync: %v", err)
	}
	reset, err := ls1.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reset.Hash() != ls2.Snapshot().Hash() {
		t.Fatalf("reset world differs from a fresh world at tick 0")
	}
}
