package arena

import (
	"fmt"
	"math"
)

// Mutability classifies how often, and through what path, a field's storage
// is reallocated.
type Mutability uint8

const (
	// Static fields are allocated once at world construction and never
	// reallocated; they are shared read-only across ticks (and, in the
	// batched lockstep engine, across world instances).
	Static Mutability = iota
	// PerTick fields get one allocation per tick per field in the staging
	// buffer; the previous allocation becomes unreachable after the next
	// role swap (lockstep) or epoch reclamation (realtime).
	PerTick
	// Sparse fields live in a long-lived copy-on-write slab; they are
	// reallocated only when written, with two-phase retirement of the
	// previous range.
	Sparse
)

func (m Mutability) String() string {
	switch m {
	case Static:
		return "Static"
	case PerTick:
		return "PerTick"
	case Sparse:
		return "Sparse"
	default:
		return "Mutability(?)"
	}
}

// Shape describes the per-cell element layout of a field.
type Shape struct {
	// Components is the number of float components stored per cell. 1 for a
	// scalar field, N for a fixed-dim vector field or an N-category
	// categorical (one-hot) field. Zero is rejected at construction.
	Components int
}

// Boundary tags the behaviour a propagator should apply at the edge of the
// space when reading neighbours of a field. The arena itself does not
// interpret this tag; it is advisory metadata threaded through to
// propagators via FieldDef.
type Boundary uint8

const (
	BoundaryAbsorb Boundary = iota
	BoundaryReflect
	BoundaryWrap
	BoundaryClamp
)

// Bounds optionally constrains the legal numeric range of a field's values.
// A nil *Bounds means unconstrained.
type Bounds struct {
	Min, Max float64
}

// FieldDef declares a field at world construction. FieldDefs are immutable
// after construction; the full set is validated once (unique FieldIds, valid
// shape, valid bounds) before the world is built.
type FieldDef struct {
	ID         FieldId
	Name       string
	Shape      Shape
	Mutability Mutability
	Boundary   Boundary
	Bounds     *Bounds
}

// Validate checks the invariants a single FieldDef must satisfy in
// isolation: a non-empty name, and a positive component count. Uniqueness
// across a set of FieldDefs is checked separately by ValidateFieldDefs,
// since it requires comparing defs against each other.
func (f FieldDef) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: field %d has empty name", ErrInvalidConfig, f.ID)
	}
	if f.Shape.Components <= 0 {
		return fmt.Errorf("%w: field %q has zero-component shape", ErrInvalidConfig, f.Name)
	}
	if f.Bounds != nil {
		if f.Bounds.Min > f.Bounds.Max || nonFinite(f.Bounds.Min) || nonFinite(f.Bounds.Max) {
			return fmt.Errorf("%w: field %q has invalid bounds [%v, %v]", ErrInvalidConfig, f.Name, f.Bounds.Min, f.Bounds.Max)
		}
	}
	return nil
}

// ValidateFieldDefs checks that a slice of FieldDefs is individually valid
// and carries no duplicate FieldId. An empty slice is legal.
func ValidateFieldDefs(defs []FieldDef) error {
	seen := make(map[FieldId]struct{}, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: %w: duplicate field id %d (%q)", ErrInvalidConfig, ErrDuplicateField, d.ID, d.Name)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

func nonFinite(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
