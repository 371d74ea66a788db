package realtime

import "testing"

func TestBackoffGrowsOnSustainedRejection(t *testing.T) {
	b := NewBackoff(1.0, 8.0, 2.0, 0.1, 2.0)
	for i := 0; i < 3; i++ {
		b.Observe(0.9)
	}
	if got := b.Effective(); got <= 1.0 {
		t.Fatalf("effective_max_skew = %v; want growth above initial after sustained rejection", got)
	}
	if got := b.Effective(); got > 8.0 {
		t.Fatalf("effective_max_skew = %v; exceeds cap 8.0", got)
	}
}

func TestBackoffDecaysTowardInitialWhenHealthy(t *testing.T) {
	b := NewBackoff(1.0, 8.0, 2.0, 0.1, 2.0)
	b.Observe(0.9)
	b.Observe(0.9)
	grown := b.Effective()
	for i := 0; i < 10; i++ {
		b.Observe(0.0)
	}
	if b.Effective() >= grown {
		t.Fatalf("effective_max_skew did not decay: before=%v after=%v", grown, b.Effective())
	}
	if b.Effective() < 1.0 {
		t.Fatalf("effective_max_skew decayed below initial: %v", b.Effective())
	}
}

func TestBackoffNeverExceedsCap(t *testing.T) {
	b := NewBackoff(1.0, 4.0, 3.0, 0.0, 1.5)
	for i := 0; i < 100; i++ {
		b.Observe(1.0)
	}
	if b.Effective() > 4.0 {
		t.Fatalf("effective_max_skew = %v; exceeds cap 4.0", b.Effective())
	}
}
