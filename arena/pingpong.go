package arena

import "math"

// WriteMode declares how a propagator's write slice is pre-seeded. It is not
// an optimisation hint but a dataflow contract: Full permits uninitialised
// staging (the propagator must fully cover the logical range); Incremental
// guarantees the slice arrives seeded with the previously published
// contents.
type WriteMode uint8

const (
	// Full means the staging slice may contain arbitrary leftover bytes from
	// two generations ago; the propagator must write every element.
	Full WriteMode = iota
	// Incremental means the staging slice is memcpy-seeded from the
	// currently published contents before the propagator runs.
	Incremental
)

// FieldSpec is the per-field layout the arena needs to service writes:
// element count and mutability class.
type FieldSpec struct {
	Components int
	Mutability Mutability
}

// Config bounds a PingPongArena's storage. Segment size must be a power of
// two of at least 1024 elements; MaxSegments bounds how many segments a
// SegmentList may ever materialise. GenerationPoolSize bounds how many
// generations of the PerTick buffer the arena keeps alive at once: 0 (the
// lockstep default) means the classic two-buffer ping-pong; a realtime shell
// sizes this from ring capacity + the worst-case number of stalled egress
// workers (spec memory bound: "ring capacity + max_stalled_workers"), since
// a pinned reader can hold a generation live for longer than one tick.
type Config struct {
	SegmentSize        int
	MaxSegments        int
	GenerationPoolSize int

	// MaxGenerationAge bounds how many consecutive BeginTick calls the arena
	// will defer to a PinGate before forcing the tick through regardless. 0
	// means unlimited deferral (BeginTick keeps returning
	// ErrGenerationPinned for as long as the gate blocks). A realtime shell
	// sets this so one hung egress worker can never wedge the tick thread
	// forever; a forced tick is flagged via TickGuard.Forced so the caller
	// can report a worker-stalled event instead of silently treating the
	// tick as ordinary.
	MaxGenerationAge uint64
}

func (c Config) validate() error {
	if c.SegmentSize < 1024 {
		return ErrInvalidConfig
	}
	if c.SegmentSize&(c.SegmentSize-1) != 0 {
		return ErrInvalidConfig
	}
	if c.MaxSegments < 3 {
		return ErrInvalidConfig
	}
	if c.GenerationPoolSize != 0 && c.GenerationPoolSize < 2 {
		return ErrInvalidConfig
	}
	return nil
}

// poolSize returns the number of PerTick buffer slots the arena allocates:
// exactly 2 (the ping-pong case) unless GenerationPoolSize asks for more.
func (c Config) poolSize() int {
	if c.GenerationPoolSize <= 0 {
		return 2
	}
	return c.GenerationPoolSize
}

// PinGate lets a realtime reclaimer veto a generation-pool slot reuse: if a
// worker is still pinned to the generation BeginTick would otherwise
// overwrite, BeginTick must refuse rather than stage into live storage a
// reader may still be scanning. Lockstep never sets one (nothing pins
// generations outside a single synchronous caller), so the zero value (nil)
// means "never block".
type PinGate interface {
	MinPinnedGeneration() (generation uint64, ok bool)
}

// PingPongArena is the PerTick store: a pool of SegmentLists (2 for
// lockstep, ring-sized for realtime), exactly one of which is the published
// (reader-visible) role at any time, the others either staging or retired
// pending a future reclaim. The published role advances to the slot that was
// staging on every successful publish. It also owns a reference to a shared
// StaticPool and an owned SparseSlab.
type PingPongArena struct {
	cfg    Config
	fields map[FieldId]FieldSpec
	// order is the declared order of PerTick/Sparse field ids, kept so
	// Reset can re-seed buffers deterministically.
	perTickOrder []FieldId
	sparseOrder  []FieldId

	bufs  []*SegmentList
	descs []*FieldDescriptor

	// publishedIdx is the slot currently readable via Snapshot/Read.
	// slotGen/slotValid track, per slot, which generation (if any) it last
	// published so BeginTick can consult pinGate before reusing a slot.
	publishedIdx int
	slotGen      []uint32
	slotValid    []bool

	pinGate PinGate
	// stallStreak counts consecutive BeginTick calls refused by pinGate for
	// the slot currently next in line; reset to 0 the moment a tick actually
	// begins (forced or not).
	stallStreak uint64

	generation     uint32
	tickInProgress bool

	static *StaticPool
	sparse *SparseSlab

	worldGenID uint64

	current *Snapshot

	// staging state for the in-progress tick, valid only while
	// tickInProgress is true.
	stagingIdx  int
	stagingGen  uint32
	stagingDesc *FieldDescriptor
	base        *Snapshot

	// sparseUndo records each Sparse slot rewritten this tick so Discard can
	// restore the slab to its pre-tick state; sparsePendingBase is the
	// pendingRetired length at BeginTick, so a discard can drop exactly the
	// retirements this tick queued and nothing older.
	sparseUndo        []sparseUndoEntry
	sparsePendingBase int
}

type sparseUndoEntry struct {
	id      FieldId
	prev    FieldHandle
	prevGen uint32
}

// SetPinGate installs gate as the arena's reclamation veto. Called once by
// the realtime shell after construction; left nil (the zero value) for
// lockstep worlds, which never need it.
func (a *PingPongArena) SetPinGate(gate PinGate) {
	a.pinGate = gate
}

// BytesAllocated returns the arena's total live byte footprint across every
// generation-pool slot, the SparseSlab, and (if owned rather than shared) the
// StaticPool, for the per-tick memory metric.
func (a *PingPongArena) BytesAllocated() int {
	total := 0
	for _, b := range a.bufs {
		total += b.AllocatedBytes()
	}
	if a.sparse != nil {
		total += a.sparse.segments.AllocatedBytes()
	}
	if a.static != nil {
		total += a.static.BytesAllocated()
	}
	return total
}

// New constructs a PingPongArena. perTick and sparseDefs declare the fields
// hosted by each tier; static is a (possibly shared) pool of already-resolved
// Static fields. worldGenID is the topology generation this arena's
// snapshots will report.
func New(cfg Config, perTick, sparseDefs []FieldDef, static *StaticPool, worldGenID uint64) (*PingPongArena, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &PingPongArena{
		cfg:        cfg,
		fields:     make(map[FieldId]FieldSpec, len(perTick)+len(sparseDefs)),
		static:     static,
		worldGenID: worldGenID,
	}
	for _, d := range perTick {
		a.fields[d.ID] = FieldSpec{Components: d.Shape.Components, Mutability: PerTick}
		a.perTickOrder = append(a.perTickOrder, d.ID)
	}
	for _, d := range sparseDefs {
		a.fields[d.ID] = FieldSpec{Components: d.Shape.Components, Mutability: Sparse}
		a.sparseOrder = append(a.sparseOrder, d.ID)
	}
	if err := a.rebuild(); err != nil {
		return nil, err
	}
	return a, nil
}

// rebuild (re)allocates every PerTick generation-pool slot from scratch and a
// fresh SparseSlab, then publishes an initial zeroed snapshot at generation
// 0 out of slot 0. Shared by New and Reset.
func (a *PingPongArena) rebuild() error {
	n := a.cfg.poolSize()
	a.bufs = make([]*SegmentList, n)
	a.descs = make([]*FieldDescriptor, n)
	a.slotGen = make([]uint32, n)
	a.slotValid = make([]bool, n)
	for i := range a.bufs {
		a.bufs[i] = NewSegmentList(a.cfg.SegmentSize, a.cfg.MaxSegments)
		a.descs[i] = NewFieldDescriptor(len(a.perTickOrder))
	}
	a.publishedIdx = 0
	a.stagingIdx = 0
	a.generation = 0
	a.tickInProgress = false

	for _, id := range a.perTickOrder {
		spec := a.fields[id]
		segIndex, offset, err := a.bufs[0].Allocate(spec.Components)
		if err != nil {
			return err
		}
		a.descs[0].Set(id, FieldHandle{Segment: segIndex, Offset: offset, Length: spec.Components}, FieldMeta{Components: spec.Components})
	}
	a.slotValid[0] = true

	a.sparse = NewSparseSlab(a.cfg.SegmentSize, a.cfg.MaxSegments)
	for _, id := range a.sparseOrder {
		spec := a.fields[id]
		if _, err := a.sparse.Init(id, spec.Components); err != nil {
			return err
		}
	}

	sparseDesc := a.snapshotSparseDescriptor()
	a.current = NewSnapshot(a.static, a.bufs[0], a.descs[0], a.sparse.segments, sparseDesc, 0, a.worldGenID, 0, 0)
	return nil
}

func (a *PingPongArena) publishedBuf() *SegmentList {
	return a.bufs[a.publishedIdx]
}

func (a *PingPongArena) stagingBuf() *SegmentList {
	return a.bufs[a.stagingIdx]
}

func (a *PingPongArena) snapshotSparseDescriptor() *FieldDescriptor {
	d := NewFieldDescriptor(len(a.sparseOrder))
	for _, id := range a.sparseOrder {
		if h, ok := a.sparse.Handle(id); ok {
			d.Set(id, h, FieldMeta{Components: h.Length})
		}
	}
	return d
}

// BeginTick produces an exclusive write context bound to the staging buffer.
// It picks the slot following the currently published one and, if a PinGate
// is installed, refuses to stage into it while some worker is still pinned
// to the generation that slot last published (ErrGenerationPinned) — the
// caller (the realtime tick loop) is expected to retry after running its own
// stall check rather than treat this as fatal.
func (a *PingPongArena) BeginTick() (*TickGuard, error) {
	if a.tickInProgress {
		return nil, ErrTickInProgress
	}
	if a.generation == math.MaxUint32 {
		return nil, ErrGenerationOverflow
	}
	next := (a.publishedIdx + 1) % len(a.bufs)
	forced := false
	if a.pinGate != nil && a.slotValid[next] {
		if minGen, ok := a.pinGate.MinPinnedGeneration(); ok && uint64(a.slotGen[next]) >= minGen {
			if a.cfg.MaxGenerationAge == 0 || a.stallStreak < a.cfg.MaxGenerationAge {
				a.stallStreak++
				return nil, ErrGenerationPinned
			}
			forced = true
		}
	}
	a.stallStreak = 0

	a.stagingIdx = next
	a.bufs[next].Reset()

	a.stagingGen = a.generation + 1
	a.stagingDesc = NewFieldDescriptor(len(a.perTickOrder))
	a.base = a.current
	a.sparseUndo = a.sparseUndo[:0]
	a.sparsePendingBase = len(a.sparse.pendingRetired)
	a.tickInProgress = true

	return &TickGuard{arena: a, Forced: forced}, nil
}

// Publish atomically advances the published slot to the one that was
// staging, commits the generation, flushes pendingRetired into
// retiredRanges for the next tick, and clears the in-progress flag.
func (a *PingPongArena) Publish(tickID, parameterVersion uint64) (*Snapshot, error) {
	if !a.tickInProgress {
		return nil, ErrNoTickInProgress
	}
	// Every declared PerTick field must appear in the published descriptor,
	// written this tick or not; a field nothing touched carries forward its
	// previously published contents.
	for _, id := range a.perTickOrder {
		if a.stagingDesc.Has(id) {
			continue
		}
		spec := a.fields[id]
		segIndex, offset, err := a.stagingBuf().Allocate(spec.Components)
		if err != nil {
			return nil, err
		}
		h := FieldHandle{Segment: segIndex, Offset: offset, Length: spec.Components}
		slice, _ := a.stagingBuf().Slice(h.Segment, h.Offset, h.Length)
		if prev, ok := a.base.Read(id); ok {
			copy(slice, prev)
		}
		a.stagingDesc.Set(id, h, FieldMeta{Components: spec.Components})
	}

	a.generation = a.stagingGen
	a.publishedIdx = a.stagingIdx
	a.descs[a.publishedIdx] = a.stagingDesc
	a.slotGen[a.publishedIdx] = a.generation
	a.slotValid[a.publishedIdx] = true

	sparseDesc := a.snapshotSparseDescriptor()
	snap := NewSnapshot(a.static, a.publishedBuf(), a.stagingDesc, a.sparse.segments, sparseDesc, tickID, a.worldGenID, parameterVersion, a.generation)

	a.sparse.FlushRetirement()
	a.tickInProgress = false
	a.stagingDesc = nil
	a.base = nil
	a.sparseUndo = a.sparseUndo[:0]
	a.current = snap
	return snap, nil
}

// Discard releases the staging guard without publishing. The staging bump
// cursor is left wherever it was (the next BeginTick resets it before any
// allocation occurs), and Sparse slots rewritten this tick are restored to
// their pre-tick handles: the discarded ranges were never published, so they
// go straight back into retiredRanges for reuse, while the retirements this
// tick queued are dropped (the previously live ranges stay live).
func (a *PingPongArena) Discard(_ *TickGuard) error {
	if !a.tickInProgress {
		return ErrNoTickInProgress
	}
	for i := len(a.sparseUndo) - 1; i >= 0; i-- {
		u := a.sparseUndo[i]
		fresh := a.sparse.slotHandle[u.id]
		a.sparse.slotHandle[u.id] = u.prev
		a.sparse.slotGeneration[u.id] = u.prevGen
		class := sizeClass(fresh.Length)
		a.sparse.retiredRanges[class] = append(a.sparse.retiredRanges[class], sparseRange{handle: fresh})
	}
	a.sparse.pendingRetired = a.sparse.pendingRetired[:a.sparsePendingBase]
	a.sparseUndo = a.sparseUndo[:0]
	a.tickInProgress = false
	a.stagingDesc = nil
	a.base = nil
	return nil
}

// Snapshot borrows the currently-published buffer.
func (a *PingPongArena) Snapshot() *Snapshot {
	return a.current
}

// SparseCounters exposes the owned SparseSlab's retirement/reuse
// bookkeeping for per-tick metrics.
func (a *PingPongArena) SparseCounters() (retired, pending, hits, misses int) {
	return a.sparse.Counters()
}

// Reset reallocates every generation-pool slot from scratch, reallocates
// PerTick fields in the (newly) published slot, recreates the Sparse slab,
// and preserves the Static pool. Used at RL episode boundaries.
func (a *PingPongArena) Reset() error {
	return a.rebuild()
}

// TickGuard is the exclusive write context produced by BeginTick. It is
// passed to Publish or Discard to close out the tick it opened.
type TickGuard struct {
	arena *PingPongArena
	// Forced is true if BeginTick proceeded despite a PinGate still
	// reporting the reused slot's generation pinned, because
	// Config.MaxGenerationAge's deferral budget was exhausted. The caller
	// should report this as a worker-stalled event.
	Forced bool
}

// Write returns the staging slice for field id, pre-seeded per mode. Calling
// Write twice for the same field within one tick returns the same slice
// (idempotent), since a field may only ever be written to by one propagator
// per pipeline validation.
func (g *TickGuard) Write(id FieldId, mode WriteMode) ([]float64, error) {
	a := g.arena
	spec, ok := a.fields[id]
	if !ok {
		return nil, ErrUnknownField
	}
	switch spec.Mutability {
	case Sparse:
		return g.writeSparse(id, spec)
	case PerTick:
		return g.writePerTick(id, spec, mode)
	default:
		return nil, ErrUnknownField
	}
}

func (g *TickGuard) writePerTick(id FieldId, spec FieldSpec, mode WriteMode) ([]float64, error) {
	a := g.arena
	if h, _, ok := a.stagingDesc.Get(id); ok {
		if slice, sliceOk := a.stagingBuf().Slice(h.Segment, h.Offset, h.Length); sliceOk {
			return slice, nil
		}
		return nil, ErrUnknownField
	}
	segIndex, offset, err := a.stagingBuf().Allocate(spec.Components)
	if err != nil {
		return nil, err
	}
	h := FieldHandle{Segment: segIndex, Offset: offset, Length: spec.Components}
	a.stagingDesc.Set(id, h, FieldMeta{Components: spec.Components})
	slice, _ := a.stagingBuf().Slice(h.Segment, h.Offset, h.Length)
	if mode == Incremental {
		if prev, ok := a.base.Read(id); ok {
			copy(slice, prev)
		}
	}
	return slice, nil
}

func (g *TickGuard) writeSparse(id FieldId, spec FieldSpec) ([]float64, error) {
	a := g.arena
	prevGen := a.sparse.slotGeneration[id]
	current, previous, err := a.sparse.WriteRange(id, spec.Components, a.stagingGen)
	if err != nil {
		return nil, err
	}
	if current != previous {
		a.sparseUndo = append(a.sparseUndo, sparseUndoEntry{id: id, prev: previous, prevGen: prevGen})
	}
	slice, _ := a.sparse.segments.Slice(current.Segment, current.Offset, current.Length)
	if current != previous {
		if prevSlice, ok := a.sparse.segments.Slice(previous.Segment, previous.Offset, previous.Length); ok {
			copy(slice, prevSlice)
		}
	}
	return slice, nil
}

// StagedRead returns the in-tick staged value for field id if it has already
// been written earlier this tick (Euler semantics: a propagator's `reads`
// set first consults this staged cache). ok is false if the field has not
// yet been written this tick, in which case the caller should fall back to
// Base().Read(id).
func (g *TickGuard) StagedRead(id FieldId) ([]float64, bool) {
	a := g.arena
	spec, ok := a.fields[id]
	if !ok {
		return nil, false
	}
	if spec.Mutability == Sparse {
		if a.sparse.slotGeneration[id] == a.stagingGen {
			return a.sparse.Read(id)
		}
		return nil, false
	}
	if h, _, ok := a.stagingDesc.Get(id); ok {
		s, ok := a.stagingBuf().Slice(h.Segment, h.Offset, h.Length)
		return s, ok
	}
	return nil, false
}

// Base returns the frozen published snapshot this tick began from, used for
// Jacobi (`reads_previous`) semantics and as the fallback layer of the reads
// overlay.
func (g *TickGuard) Base() *Snapshot { return g.arena.base }

// Generation returns the prospective generation this tick will commit to if
// published.
func (g *TickGuard) Generation() uint32 { return g.arena.stagingGen }
