// Package propagator declares the dataflow contract executed each tick: a
// stateless, declared-reads/declared-writes unit that either computes into
// staging under Euler (in-tick staged) or Jacobi (frozen base) read
// semantics.
package propagator

import (
	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/space"
)

// WriteMode re-exports arena.WriteMode so callers never need to import the
// arena package just to declare a write.
type WriteMode = arena.WriteMode

const (
	Full        = arena.Full
	Incremental = arena.Incremental
)

// Write pairs a declared write target with its seeding contract.
type Write struct {
	Field arena.FieldId
	Mode  WriteMode
}

// Context is the per-tick view a Propagator's Step body operates through.
// It exposes the reads overlay, write handles, a scratch region, the space
// reference, and the current tick id / dt.
type Context interface {
	// Read resolves a field through the two-layer overlay: a staged-field
	// cache (outputs of propagators invoked earlier this tick) falling back
	// to the base published view. Valid only for fields in this
	// propagator's declared Reads() set.
	Read(id arena.FieldId) ([]float64, bool)
	// ReadPrevious resolves a field from the frozen base view only (Jacobi
	// semantics). Valid only for fields in this propagator's declared
	// ReadsPrevious() set.
	ReadPrevious(id arena.FieldId) ([]float64, bool)
	// Write returns the mutable staging slice for a field in this
	// propagator's declared Writes() set, pre-seeded per its declared mode.
	Write(id arena.FieldId) ([]float64, error)
	// Scratch returns a bump-allocated slice of n float64 elements from the
	// per-tick scratch region, reset between propagators.
	Scratch(n int) []float64
	// Space returns the world's spatial topology.
	Space() space.Space
	// TickId returns the tick id this step is computing.
	TickId() uint64
	// Dt returns the configured timestep.
	Dt() float64
}

// Propagator is a stateless per-tick dataflow unit. Implementations must be
// safe to invoke from a single goroutine per Step call; the engine never
// calls Step concurrently for two propagators of the same pipeline.
type Propagator interface {
	// Name identifies the propagator in metrics and error messages.
	Name() string
	// Reads declares fields read through the in-tick overlay (Euler).
	Reads() []arena.FieldId
	// ReadsPrevious declares fields read from the frozen base generation
	// only (Jacobi).
	ReadsPrevious() []arena.FieldId
	// Writes declares fields this propagator writes, and the seeding
	// contract for each.
	Writes() []Write
	// MaxDt returns a topology-aware upper bound on stable dt, if this
	// propagator imposes one.
	MaxDt(sp space.Space) (dt float64, ok bool)
	// ScratchBytes returns the bytes required in the per-pipeline bump
	// scratch region.
	ScratchBytes() int
	// Step executes the propagator's per-tick body.
	Step(ctx Context) error
}
