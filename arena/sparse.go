package arena

import (
	"github.com/segmentio/fasthash/fnv1a"
)

// sparseRange is a retired (segment, offset, length) triple awaiting reuse.
type sparseRange struct {
	handle FieldHandle
}

// SparseSlab is the long-lived copy-on-write store for Sparse fields. Each
// Sparse field has a slot holding its currently-live range and the
// generation at which it was last written. On write, if the slot's
// generation differs from the current staging generation, a new range is
// sourced — first by an exact-size match in retiredRanges, else by bump
// allocation — and the previous range moves to pendingRetired. At the start
// of each tick, pendingRetired flushes into retiredRanges, so a range is
// never reused while it might still be the one a live published snapshot
// points at.
type SparseSlab struct {
	segments *SegmentList

	slotGeneration map[FieldId]uint32
	slotHandle     map[FieldId]FieldHandle

	// retiredRanges buckets retired ranges by a hash of their element
	// length, so an exact-size match can be found in O(1) expected time
	// without a linear scan. fasthash/fnv1a keeps this off the GC-visible
	// map-of-struct-key path that a naive map[int][]sparseRange key
	// comparison would otherwise take.
	retiredRanges map[uint64][]sparseRange
	pendingRetired []sparseRange

	reuseHits   int
	reuseMisses int
}

func sizeClass(length int) uint64 {
	h := fnv1a.Init64
	h = fnv1a.AddUint64(h, uint64(length))
	return h
}

// NewSparseSlab constructs an empty slab backed by its own SegmentList.
func NewSparseSlab(segmentSize, maxSegments int) *SparseSlab {
	return &SparseSlab{
		segments:       NewSegmentList(segmentSize, maxSegments),
		slotGeneration: make(map[FieldId]uint32),
		slotHandle:     make(map[FieldId]FieldHandle),
		retiredRanges:  make(map[uint64][]sparseRange),
	}
}

// Init allocates the generation-0 zeroed range for a Sparse field. Called
// once per Sparse field at world construction.
func (s *SparseSlab) Init(id FieldId, components int) (FieldHandle, error) {
	segIndex, offset, err := s.segments.Allocate(components)
	if err != nil {
		return FieldHandle{}, err
	}
	h := FieldHandle{Segment: segIndex, Offset: offset, Length: components}
	s.slotGeneration[id] = 0
	s.slotHandle[id] = h
	return h, nil
}

// WriteRange returns the handle a write to field id should target for the
// given staging generation, performing copy-on-write reallocation if the
// field's slot was not already written this generation. previous reports
// the range that held the field's data before this generation's write (or
// the same handle, if the slot was already current for this generation), so
// the caller can memcpy forward the prior contents if needed.
func (s *SparseSlab) WriteRange(id FieldId, components int, generation uint32) (current, previous FieldHandle, err error) {
	gen, ok := s.slotGeneration[id]
	existing := s.slotHandle[id]
	if ok && gen == generation {
		return existing, existing, nil
	}

	fresh, err := s.acquireRange(components)
	if err != nil {
		return FieldHandle{}, FieldHandle{}, err
	}
	if ok {
		s.pendingRetired = append(s.pendingRetired, sparseRange{handle: existing})
	}
	s.slotGeneration[id] = generation
	s.slotHandle[id] = fresh
	return fresh, existing, nil
}

// acquireRange sources a range of the given size, preferring an exact-size
// match from retiredRanges over bump allocation.
func (s *SparseSlab) acquireRange(components int) (FieldHandle, error) {
	class := sizeClass(components)
	if bucket := s.retiredRanges[class]; len(bucket) > 0 {
		last := len(bucket) - 1
		r := bucket[last]
		s.retiredRanges[class] = bucket[:last]
		s.reuseHits++
		return r.handle, nil
	}
	s.reuseMisses++
	segIndex, offset, err := s.segments.Allocate(components)
	if err != nil {
		return FieldHandle{}, err
	}
	return FieldHandle{Segment: segIndex, Offset: offset, Length: components}, nil
}

// Handle returns the currently-live handle for a Sparse field.
func (s *SparseSlab) Handle(id FieldId) (FieldHandle, bool) {
	h, ok := s.slotHandle[id]
	return h, ok
}

// Read resolves a Sparse field to its live slice.
func (s *SparseSlab) Read(id FieldId) ([]float64, bool) {
	h, ok := s.slotHandle[id]
	if !ok {
		return nil, false
	}
	return s.segments.Slice(h.Segment, h.Offset, h.Length)
}

// FlushRetirement moves pendingRetired into retiredRanges, making those
// ranges eligible for reuse. Called by PingPongArena.Publish once per
// published tick, so ranges retired during that tick become reusable from
// the next tick on.
func (s *SparseSlab) FlushRetirement() {
	for _, r := range s.pendingRetired {
		class := sizeClass(r.handle.Length)
		s.retiredRanges[class] = append(s.retiredRanges[class], r)
	}
	s.pendingRetired = s.pendingRetired[:0]
}

// Counters returns the retirement/reuse bookkeeping used by per-tick metrics
// (retired range count, pending count, reuse hits/misses).
func (s *SparseSlab) Counters() (retired, pending, hits, misses int) {
	for _, bucket := range s.retiredRanges {
		retired += len(bucket)
	}
	return retired, len(s.pendingRetired), s.reuseHits, s.reuseMisses
}
