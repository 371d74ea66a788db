package murk

import (
	"testing"

	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/command"
	"github.com/dm-vev/murk/space"
)

type fakeExtractor struct {
	validateErr error
	extractErr  error
	extracted   bool
}

func (f *fakeExtractor) Validate(worlds []*World, obsOut, maskOut [][]float64) error {
	return f.validateErr
}

func (f *fakeExtractor) Extract(snapshots []*arena.Snapshot, obsOut, maskOut [][]float64) error {
	f.extracted = true
	return f.extractErr
}

func newBatchWorld(t *testing.T) *World {
	t.Helper()
	w, err := New(baseConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestNewBatchRejectsEmpty(t *testing.T) {
	if _, err := NewBatch(nil); err == nil {
		t.Fatalf("NewBatch accepted zero worlds")
	}
}

func TestNewBatchRejectsIncompatibleTopology(t *testing.T) {
	w1 := newBatchWorld(t)
	cfg2 := baseConfig(t)
	g, err := space.NewGrid([]uint32{8}, space.GridBoundaryAbsorb)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	cfg2.Space = g
	w2, err := New(cfg2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := NewBatch([]*World{w1, w2}); err == nil {
		t.Fatalf("NewBatch accepted worlds with incompatible spatial topology")
	}
}

func TestBatchStepAndObserveAtomicOnValidationFailure(t *testing.T) {
	w1, w2 := newBatchWorld(t), newBatchWorld(t)
	b, err := NewBatch([]*World{w1, w2})
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	genBefore := w1.TickId()

	ext := &fakeExtractor{validateErr: errAlwaysFails}
	_, err = b.StepAndObserve([][]command.Command{nil, nil}, ext, nil, nil)
	if err == nil {
		t.Fatalf("StepAndObserve succeeded despite a failing Validate")
	}
	if ext.extracted {
		t.Fatalf("Extract was invoked despite Validate failing")
	}
	if w1.TickId() != genBefore {
		t.Fatalf("world ticked despite Validate failing: %d -> %d", genBefore, w1.TickId())
	}
}

func TestBatchWorldsShareStaticPool(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Fields = append(cfg.Fields, FieldDef{ID: 2, Name: "mask", Shape: Shape{Components: 1}, Mutability: Static})
	w1, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg2 := cfg
	cfg2.SharedStatic = w1.StaticPool()
	w2, err := New(cfg2)
	if err != nil {
		t.Fatalf("New with shared static pool: %v", err)
	}
	if w2.StaticPool() != w1.StaticPool() {
		t.Fatalf("second world did not adopt the shared static pool")
	}
	if _, err := NewBatch([]*World{w1, w2}); err != nil {
		t.Fatalf("NewBatch: %v", err)
	}

	w2.Close()
	if last := w1.StaticPool().Release(); !last {
		t.Fatalf("pool still referenced after both worlds released")
	}
}

func TestBatchStepAndObserveStepsAllWorlds(t *testing.T) {
	w1, w2 := newBatchWorld(t), newBatchWorld(t)
	b, err := NewBatch([]*World{w1, w2})
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}

	ext := &fakeExtractor{}
	results, err := b.StepAndObserve([][]command.Command{nil, nil}, ext, nil, nil)
	if err != nil {
		t.Fatalf("StepAndObserve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d; want 2", len(results))
	}
	if !ext.extracted {
		t.Fatalf("Extract was never invoked")
	}
	if w1.TickId() != 1 || w2.TickId() != 1 {
		t.Fatalf("worlds did not both advance: w1=%d w2=%d", w1.TickId(), w2.TickId())
	}
}
