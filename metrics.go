package murk

import "time"

// TickMetrics captures the per-tick timing and bookkeeping counters named in
// spec §4.3, grounded on the teacher's redstone.Metrics struct (same idea:
// one flat counters struct filled in by the engine as it walks its stages,
// read out once per tick rather than sampled).
type TickMetrics struct {
	TotalElapsed          time.Duration
	CommandProcessing     time.Duration
	PerPropagator         map[string]time.Duration
	SnapshotPublish       time.Duration
	ArenaBytesAllocated   int
	SparseRetiredCount    int
	SparsePendingCount    int
	SparseReuseHits       int
	SparseReuseMisses     int
	QueueSaturationEvents int
	RingEvictions         int
	RingStaleness         int

	// ScratchOverruns counts Scratch requests this tick that exceeded the
	// validated per-pipeline budget (a propagator under-declared
	// ScratchBytes and got a heap fallback instead).
	ScratchOverruns int
	// PropagatorPenalties is the watchdog's saturation counter per
	// propagator: bumped when a propagator eats more than its share of the
	// tick budget or overruns scratch, decayed while it behaves. Persistent
	// non-zero values point at the propagator that keeps blowing the budget.
	PropagatorPenalties map[string]int
}

func newTickMetrics() TickMetrics {
	return TickMetrics{PerPropagator: make(map[string]time.Duration)}
}
