package arena

import "testing"

func TestSegmentAllocate(t *testing.T) {
	s := NewSegment[float64](8)
	off, ok := s.Allocate(3)
	if !ok || off != 0 {
		t.Fatalf("Allocate(3) = %d, %v; want 0, true", off, ok)
	}
	off, ok = s.Allocate(4)
	if !ok || off != 3 {
		t.Fatalf("Allocate(4) = %d, %v; want 3, true", off, ok)
	}
	if s.Remaining() != 1 {
		t.Fatalf("Remaining() = %d; want 1", s.Remaining())
	}
	if _, ok := s.Allocate(2); ok {
		t.Fatalf("Allocate(2) succeeded with only 1 element remaining")
	}
	if _, ok := s.Allocate(1); !ok {
		t.Fatalf("Allocate(1) failed with exactly 1 element remaining")
	}
}

func TestSegmentResetZero(t *testing.T) {
	s := NewSegment[float64](4)
	off, _ := s.Allocate(4)
	slice := s.Slice(off, 4)
	for i := range slice {
		slice[i] = float64(i + 1)
	}
	s.Reset()
	if s.Cursor() != 0 {
		t.Fatalf("Cursor() after Reset = %d; want 0", s.Cursor())
	}
	// Reset does not zero backing storage; a fresh allocation over the same
	// bytes still observes the old contents until explicitly zeroed.
	off2, _ := s.Allocate(4)
	if s.Slice(off2, 4)[0] != 1 {
		t.Fatalf("Reset unexpectedly zeroed backing storage")
	}
	s.Zero()
	if s.Slice(off2, 4)[0] != 0 {
		t.Fatalf("Zero() did not clear backing storage")
	}
}
