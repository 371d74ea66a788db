package propagator

import (
	"errors"
	"fmt"
	"math"

	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/space"
)

// Sentinel errors for pipeline validation failures. Validation runs once at
// world construction; any of these prevents the world from being built.
var (
	ErrUnknownField     = errors.New("propagator: write or read references an undeclared field")
	ErrConflictingWrite = errors.New("propagator: two propagators write the same field")
	ErrJacobiViolation  = errors.New("propagator: a later propagator's reads_previous field is written by an earlier propagator")
	ErrInvalidDt        = errors.New("propagator: dt is not finite and positive")
	ErrMaxDtExceeded    = errors.New("propagator: dt exceeds a propagator's declared max_dt")
)

// Pipeline is the validated, ordered sequence of propagators a world
// executes every tick, plus the scratch budget computed across all of them.
type Pipeline struct {
	propagators  []Propagator
	scratchFloat int
}

// ceilDivFloats converts a byte requirement into a float64-element count,
// rounding up.
func ceilDivFloats(bytes int) int {
	const sz = 8
	return (bytes + sz - 1) / sz
}

// Validate runs the one-shot pipeline validation described for world
// construction: field existence, write-conflict freedom, Jacobi safety, and
// dt/max_dt bounds. fieldIDs is the complete set of FieldIds declared by the
// world (Static, PerTick, and Sparse alike, since a propagator may read a
// Static field even though it can never write one).
func Validate(fieldIDs map[arena.FieldId]struct{}, propagators []Propagator, dt float64, sp space.Space) (*Pipeline, error) {
	if isNonFinite(dt) || dt <= 0 {
		return nil, fmt.Errorf("%w: dt=%v", ErrInvalidDt, dt)
	}

	writerOf := make(map[arena.FieldId]int, len(propagators))
	scratchBytes := 0

	for i, p := range propagators {
		for _, id := range p.Reads() {
			if _, ok := fieldIDs[id]; !ok {
				return nil, fmt.Errorf("%w: propagator %q reads field %d", ErrUnknownField, p.Name(), id)
			}
		}
		for _, id := range p.ReadsPrevious() {
			if _, ok := fieldIDs[id]; !ok {
				return nil, fmt.Errorf("%w: propagator %q reads_previous field %d", ErrUnknownField, p.Name(), id)
			}
		}
		for _, w := range p.Writes() {
			if _, ok := fieldIDs[w.Field]; !ok {
				return nil, fmt.Errorf("%w: propagator %q writes field %d", ErrUnknownField, p.Name(), w.Field)
			}
			if prior, ok := writerOf[w.Field]; ok {
				return nil, fmt.Errorf("%w: field %d written by both %q and %q", ErrConflictingWrite, w.Field, propagators[prior].Name(), p.Name())
			}
			writerOf[w.Field] = i
		}

		if b := p.ScratchBytes(); b > scratchBytes {
			scratchBytes = b
		}

		if maxDt, ok := p.MaxDt(sp); ok {
			if isNonFinite(maxDt) || maxDt <= 0 {
				return nil, fmt.Errorf("%w: propagator %q declared non-finite max_dt=%v", ErrInvalidDt, p.Name(), maxDt)
			}
			if dt > maxDt {
				return nil, fmt.Errorf("%w: propagator %q max_dt=%v, dt=%v", ErrMaxDtExceeded, p.Name(), maxDt, dt)
			}
		}
	}

	// Jacobi safety: for every (i, j) with i < j, j's reads_previous must
	// not be written by any propagator k < j (in particular i, but we check
	// every predecessor since a Jacobi read must see the pristine base
	// regardless of which earlier propagator would otherwise have staged a
	// write to it).
	for j, q := range propagators {
		for _, id := range q.ReadsPrevious() {
			if writer, ok := writerOf[id]; ok && writer < j {
				return nil, fmt.Errorf("%w: field %d written by %q before %q reads_previous it", ErrJacobiViolation, id, propagators[writer].Name(), q.Name())
			}
		}
	}

	return &Pipeline{
		propagators:  append([]Propagator(nil), propagators...),
		scratchFloat: ceilDivFloats(scratchBytes),
	}, nil
}

// Propagators returns the validated, declared-order propagator sequence.
func (p *Pipeline) Propagators() []Propagator { return p.propagators }

// ScratchFloats returns the per-tick scratch region size in float64
// elements, the max over every propagator's ScratchBytes (ceiling-divided).
func (p *Pipeline) ScratchFloats() int { return p.scratchFloat }

func isNonFinite(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
