package arena

import "golang.org/x/exp/constraints"

// Segment is a fixed-capacity bump-allocated page of float elements. It
// allocates contiguous ranges by advancing a monotonic cursor; nothing below
// the cursor is ever moved, so a previously returned range's backing slice
// stays stable until the segment itself is reset.
//
// Segment is generic over the float element type so the arena can host both
// float32 observation-friendly fields and float64 physically-scaled fields
// without duplicating the bump-allocation logic.
type Segment[T constraints.Float] struct {
	data   []T
	cursor int
}

// NewSegment allocates a segment with the given element capacity.
func NewSegment[T constraints.Float](capacity int) *Segment[T] {
	return &Segment[T]{data: make([]T, capacity)}
}

// Capacity returns the total number of elements the segment can hold.
func (s *Segment[T]) Capacity() int { return len(s.data) }

// Cursor returns the current bump cursor (number of elements allocated).
func (s *Segment[T]) Cursor() int { return s.cursor }

// Remaining returns the number of elements still available before the
// segment is exhausted.
func (s *Segment[T]) Remaining() int { return len(s.data) - s.cursor }

// Allocate advances the cursor by n elements and returns the offset at which
// the new range begins. It returns ok=false without mutating state if the
// segment cannot satisfy the request.
func (s *Segment[T]) Allocate(n int) (offset int, ok bool) {
	if n < 0 || n > s.Remaining() {
		return 0, false
	}
	offset = s.cursor
	s.cursor += n
	return offset, true
}

// Slice returns the backing elements for [offset, offset+length). It is only
// valid to call when offset+length does not exceed the current cursor;
// callers (FieldHandle resolution) are responsible for that check, since a
// Segment has no notion of which field owns which range.
func (s *Segment[T]) Slice(offset, length int) []T {
	return s.data[offset : offset+length]
}

// Reset returns the bump cursor to zero. The backing array is not zeroed;
// callers that require Full write-mode coverage must not rely on stale
// bytes being absent, and callers of Incremental write mode must re-seed
// from the previously published buffer themselves.
func (s *Segment[T]) Reset() {
	s.cursor = 0
}

// Zero resets the cursor to zero and clears the backing array
// (SegmentList.ResetZero applies it to every segment).
func (s *Segment[T]) Zero() {
	s.cursor = 0
	for i := range s.data {
		s.data[i] = 0
	}
}
