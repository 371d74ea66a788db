package realtime

import "math"

// Backoff tracks the realtime shell's adaptive effective_max_skew (§4.5): it
// grows multiplicatively whenever the observer-rejection rate over a window
// exceeds Threshold, and otherwise decays geometrically back toward Initial,
// always clamped to [Initial, Cap].
type Backoff struct {
	initial   float64
	cap       float64
	factor    float64
	threshold float64
	decay     float64

	effective float64
}

// NewBackoff constructs a Backoff starting at initial.
func NewBackoff(initial, cap, factor, threshold, decay float64) *Backoff {
	return &Backoff{initial: initial, cap: cap, factor: factor, threshold: threshold, decay: decay, effective: initial}
}

// Observe records one window's rejection rate (rejected/total observed
// commands, in [0,1]) and returns the updated effective_max_skew.
func (b *Backoff) Observe(rejectionRate float64) float64 {
	if rejectionRate > b.threshold {
		b.effective = math.Min(b.cap, b.effective*b.factor)
	} else {
		b.effective = math.Max(b.initial, b.effective/b.decay)
	}
	return b.effective
}

// Effective returns the current effective_max_skew without recording an
// observation.
func (b *Backoff) Effective() float64 { return b.effective }
