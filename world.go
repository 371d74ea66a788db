package murk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/propagator"
)

// World ties the arena, the validated propagator pipeline, the parameter
// store, and the field-layout bookkeeping into one fail-fast-constructed unit. It is
// Send but not Sync (§5): a World must only ever be driven by the goroutine
// that owns it (directly in lockstep, via the tick thread in realtime).
type World struct {
	cfg      Config
	fieldDef map[FieldId]FieldDef

	arena    *arena.PingPongArena
	static   *arena.StaticPool
	pipeline *propagator.Pipeline

	paramStore   map[string]float64
	paramVersion uint64

	budget   budgetMonitor
	watchdog map[string]int

	tickID               uint64
	consecutiveRollbacks int
	tickDisabled         bool
	worldGenID           uint64
	instanceID           InstanceID
	closeOnce            sync.Once
}

// New validates cfg and constructs a World. All construction-time
// validation happens here; a failure here never defers to the first tick.
func New(cfg Config) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	fieldDef := make(map[FieldId]FieldDef, len(cfg.Fields))
	fieldIDs := make(map[arena.FieldId]struct{}, len(cfg.Fields))
	var perTick, sparse []FieldDef
	var staticDefs []FieldDef
	cells := int(cfg.Space.CellCount())
	for _, d := range cfg.Fields {
		fieldDef[d.ID] = d
		fieldIDs[d.ID] = struct{}{}
		// Storage holds one element per cell per component, so the arena and
		// static pool are handed the whole-field element count.
		sized := d
		sized.Shape.Components = d.Shape.Components * cells
		switch d.Mutability {
		case PerTick:
			perTick = append(perTick, sized)
		case Sparse:
			sparse = append(sparse, sized)
		case Static:
			staticDefs = append(staticDefs, sized)
		}
	}

	var static *arena.StaticPool
	if cfg.SharedStatic != nil {
		// Batched worlds share one read-only pool by reference; every Static
		// field this world declares must already live there with the right
		// shape.
		static = cfg.SharedStatic.Acquire()
		for _, d := range staticDefs {
			v, ok := static.Read(d.ID)
			if !ok || len(v) != d.Shape.Components {
				static.Release()
				return nil, NewError(CodeInvalidComposition, fmt.Errorf("%w: shared static pool lacks field %d (%q)", ErrInvalidConfig, d.ID, d.Name))
			}
		}
	} else {
		static = arena.NewStaticPool(cfg.Arena.SegmentSize, cfg.Arena.MaxSegments, len(staticDefs))
		for _, d := range staticDefs {
			if err := static.Allocate(d.ID, d.Shape.Components); err != nil {
				return nil, NewError(CodeAllocationFailed, err)
			}
		}
	}

	worldGenID := uint64(1)
	instanceID := computeInstanceID(cfg)

	pp, err := arena.New(cfg.arenaConfig(), perTick, sparse, static, worldGenID)
	if err != nil {
		return nil, NewError(CodeAllocationFailed, err)
	}

	pipeline, err := propagator.Validate(fieldIDs, cfg.Propagators, cfg.Dt, cfg.Space)
	if err != nil {
		return nil, NewError(CodeInvalidSpec, err)
	}

	w := &World{
		cfg:        cfg,
		fieldDef:   fieldDef,
		arena:      pp,
		static:     static,
		pipeline:   pipeline,
		paramStore: make(map[string]float64),
		worldGenID: worldGenID,
		instanceID: instanceID,
		budget:     budgetMonitor{budget: cfg.TickBudget, log: cfg.Log},
		watchdog:   make(map[string]int, len(cfg.Propagators)),
	}
	return w, nil
}

// budgetMonitor keeps a rolling average of wall-clock tick duration and
// warns once when it falls behind the configured budget, clearing the latch
// (with a recovery line) once the average drops back under. The same
// warn-once hysteresis the teacher applies to its TPS counter, so a
// persistently slow pipeline produces one warning, not one per tick.
type budgetMonitor struct {
	budget  time.Duration
	log     *slog.Logger
	rolling time.Duration
	warned  bool
}

func (m *budgetMonitor) observe(tick uint64, elapsed time.Duration) {
	if m.budget <= 0 || m.log == nil {
		return
	}
	if m.rolling == 0 {
		m.rolling = elapsed
	} else {
		m.rolling = (m.rolling*7 + elapsed) / 8
	}
	switch {
	case !m.warned && m.rolling > m.budget:
		m.warned = true
		m.log.Warn("tick running over budget", "tick", tick, "rolling", m.rolling, "budget", m.budget)
	case m.warned && m.rolling <= m.budget:
		m.warned = false
		m.log.Info("tick back under budget", "tick", tick, "rolling", m.rolling)
	}
}

func computeInstanceID(cfg Config) InstanceID {
	d := xxhash.New()
	if cfg.Space != nil {
		sid := cfg.Space.InstanceID()
		_, _ = d.Write(sid[:])
	}
	for _, f := range cfg.Fields {
		var buf [5]byte
		buf[0] = byte(f.ID)
		buf[1] = byte(f.ID >> 8)
		buf[2] = byte(f.ID >> 16)
		buf[3] = byte(f.ID >> 24)
		buf[4] = byte(f.Mutability)
		_, _ = d.Write(buf[:])
	}
	sum := d.Sum64()
	var out InstanceID
	for i := 0; i < 8; i++ {
		out[i] = byte(sum >> (8 * i))
		out[i+8] = byte(sum >> (8 * i))
	}
	return out
}

// Snapshot borrows the currently-published buffer.
func (w *World) Snapshot() *arena.Snapshot { return w.arena.Snapshot() }

// TickId returns the last tick id a successful publish committed.
func (w *World) TickId() uint64 { return w.tickID }

// WorldGenerationId returns the topology generation this world was built
// with; fixed for the world's lifetime in v1.
func (w *World) WorldGenerationId() uint64 { return w.worldGenID }

// ParameterVersion returns the current parameter-store version.
func (w *World) ParameterVersion() uint64 { return w.paramVersion }

// InstanceID returns the opaque stable-under-unchanged-config identifier.
func (w *World) InstanceID() InstanceID { return w.instanceID }

// StaticPool exposes the world's Static field storage so further worlds in a
// batch can share it by reference (Config.SharedStatic).
func (w *World) StaticPool() *arena.StaticPool { return w.static }

// Parameter reads a named parameter's current value.
func (w *World) Parameter(name string) (float64, bool) {
	v, ok := w.paramStore[name]
	return v, ok
}

// TickDisabled reports whether consecutive rollbacks have disabled ticking.
// Only Reset clears it. Must only be called from the goroutine driving the
// world, like every other World method.
func (w *World) TickDisabled() bool { return w.tickDisabled }

// SetPinGate installs gate as the arena's reclamation veto: BeginTick will
// refuse to stage into a generation-pool slot whose last published generation
// some reader is still pinned to. The realtime shell wires its worker pool in
// here; lockstep worlds never need one.
func (w *World) SetPinGate(gate arena.PinGate) { w.arena.SetPinGate(gate) }

// Close drops this world's reference on its (possibly shared) Static pool.
// Safe to call more than once; only the first call releases.
func (w *World) Close() {
	w.closeOnce.Do(func() {
		if w.static != nil {
			w.static.Release()
		}
	})
}

// Reset zeroes arena state, preserves field layout, clears tick_disabled and
// consecutive-rollback bookkeeping, and returns a fresh snapshot. Used at RL
// episode boundaries.
func (w *World) Reset() (*arena.Snapshot, error) {
	if err := w.arena.Reset(); err != nil {
		return nil, NewError(CodeAllocationFailed, err)
	}
	w.tickID = 0
	w.consecutiveRollbacks = 0
	w.tickDisabled = false
	w.paramVersion = 0
	w.paramStore = make(map[string]float64)
	w.budget.rolling, w.budget.warned = 0, false
	w.watchdog = make(map[string]int, len(w.cfg.Propagators))
	return w.arena.Snapshot(), nil
}

func (w *World) fieldComponents(id FieldId) (int, error) {
	d, ok := w.fieldDef[id]
	if !ok {
		return 0, fmt.Errorf("%w: field %d", ErrInvalidSpec, id)
	}
	return d.Shape.Components, nil
}
