package arena

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Snapshot is a lightweight reference to a published buffer plus its frozen
// descriptors. It borrows storage rather than owning it: in lockstep mode a
// Snapshot is a short-lived borrow scoped to the single-threaded caller
// (valid only until the next &mut call on the world); in realtime mode,
// epoch pinning (see the realtime package) keeps the underlying buffers
// live for as long as any reader holds a Snapshot, which is why Snapshot
// itself carries no finalizer or reference count — that bookkeeping lives
// one level up, in the ring buffer and epoch counter.
type Snapshot struct {
	static      *StaticPool
	perTick     *SegmentList
	perTickDesc *FieldDescriptor
	// sparseSegments is shared with every other live Snapshot and the
	// SparseSlab itself; this is safe because a range is never reused while
	// pendingRetired/retiredRanges still references it as the previous live
	// range for a not-yet-flushed field.
	sparseSegments *SegmentList
	sparseDesc     *FieldDescriptor

	tickID       uint64
	worldGenID   uint64
	paramVersion uint64
	generation   uint32
}

// NewSnapshot is called by PingPongArena.Publish to freeze a consistent view
// of the three storage tiers at publication time.
func NewSnapshot(static *StaticPool, perTick *SegmentList, perTickDesc *FieldDescriptor, sparseSegments *SegmentList, sparseDesc *FieldDescriptor, tickID, worldGenID, paramVersion uint64, generation uint32) *Snapshot {
	return &Snapshot{
		static:         static,
		perTick:        perTick,
		perTickDesc:    perTickDesc,
		sparseSegments: sparseSegments,
		sparseDesc:     sparseDesc,
		tickID:         tickID,
		worldGenID:     worldGenID,
		paramVersion:   paramVersion,
		generation:     generation,
	}
}

// TickId returns the tick at which this snapshot was published.
func (s *Snapshot) TickId() uint64 { return s.tickID }

// WorldGenerationId returns the topology generation this snapshot binds to.
func (s *Snapshot) WorldGenerationId() uint64 { return s.worldGenID }

// ParameterVersion returns the parameter-store version at publication time.
func (s *Snapshot) ParameterVersion() uint64 { return s.paramVersion }

// Generation returns the arena's internal ping-pong generation counter for
// this snapshot, used by the invariant tests in spec §8 (published.generation
// = prior_published.generation + 1).
func (s *Snapshot) Generation() uint32 { return s.generation }

// AgeTicks returns how many ticks have elapsed between this snapshot's
// publication and currentTick, for the realtime "egress always returns"
// staleness metadata: an egress caller consulting a ring slot published
// several ticks ago can tell it is stale instead of mistaking it for fresh.
// Returns 0 if currentTick precedes the snapshot's own tick (never negative).
func (s *Snapshot) AgeTicks(currentTick uint64) uint64 {
	if currentTick < s.tickID {
		return 0
	}
	return currentTick - s.tickID
}

// Read resolves a field to its live slice. It returns ok=false for a field
// with no entry in any descriptor (never declared to this arena) or whose
// recorded range exceeds its segment's cursor
// (a stale/invalid handle). An allocated-but-empty field (zero-length but
// present) is a distinct, valid outcome and is never conflated with "missing".
func (s *Snapshot) Read(id FieldId) ([]float64, bool) {
	if h, _, ok := s.perTickDesc.Get(id); ok {
		return s.perTick.Slice(h.Segment, h.Offset, h.Length)
	}
	if h, _, ok := s.sparseDesc.Get(id); ok {
		return s.sparseSegments.Slice(h.Segment, h.Offset, h.Length)
	}
	if s.static != nil {
		return s.static.Read(id)
	}
	return nil, false
}

// Hash returns a deterministic content hash over every readable field,
// suitable for the bit-identical replay checks in spec §8 (Scenario A/D).
// It is not a cryptographic hash and it is not the persisted replay
// checksum that an external replay collaborator would own — it exists
// purely so the core's own tests (and callers that want a cheap
// equality check) can compare two snapshots without an external codec.
func (s *Snapshot) Hash() uint64 {
	ids := make([]FieldId, 0, len(s.perTickDesc.Ids())+len(s.sparseDesc.Ids()))
	ids = append(ids, s.perTickDesc.Ids()...)
	ids = append(ids, s.sparseDesc.Ids()...)
	if s.static != nil {
		ids = append(ids, s.static.Descriptor().Ids()...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	d := xxhash.New()
	var buf [8]byte
	seen := make(map[FieldId]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		binary.LittleEndian.PutUint32(buf[:4], uint32(id))
		_, _ = d.Write(buf[:4])
		data, ok := s.Read(id)
		if !ok {
			continue
		}
		for _, v := range data {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			_, _ = d.Write(buf[:])
		}
	}
	return d.Sum64()
}

// OwnedSnapshot is a self-contained copy used for replay and cross-thread
// handoff: every field's slice is cloned into an owned buffer so the
// snapshot stays valid regardless of arena reclamation.
type OwnedSnapshot struct {
	TickID       uint64
	WorldGenID   uint64
	ParamVersion uint64
	Fields       map[FieldId][]float64
}

// Own clones every readable field of s into an OwnedSnapshot.
func Own(s *Snapshot) *OwnedSnapshot {
	out := &OwnedSnapshot{
		TickID:       s.tickID,
		WorldGenID:   s.worldGenID,
		ParamVersion: s.paramVersion,
		Fields:       make(map[FieldId][]float64),
	}
	for _, id := range s.perTickDesc.Ids() {
		if data, ok := s.Read(id); ok {
			out.Fields[id] = append([]float64(nil), data...)
		}
	}
	for _, id := range s.sparseDesc.Ids() {
		if _, already := out.Fields[id]; already {
			continue
		}
		if data, ok := s.Read(id); ok {
			out.Fields[id] = append([]float64(nil), data...)
		}
	}
	if s.static != nil {
		for _, id := range s.static.Descriptor().Ids() {
			if _, already := out.Fields[id]; already {
				continue
			}
			if data, ok := s.Read(id); ok {
				out.Fields[id] = append([]float64(nil), data...)
			}
		}
	}
	return out
}

// Read resolves a field from the owned copy.
func (o *OwnedSnapshot) Read(id FieldId) ([]float64, bool) {
	v, ok := o.Fields[id]
	return v, ok
}
