package murk

import "github.com/dm-vev/murk/arena"

// The field-declaration types live in the arena package, since the arena is
// what interprets them (tier placement, allocation sizing); they are
// re-exported here so callers describing a world never have to import arena
// directly, the same convention FieldId follows.

// Mutability classifies how often, and through what path, a field's storage
// is reallocated.
type Mutability = arena.Mutability

const (
	Static  = arena.Static
	PerTick = arena.PerTick
	Sparse  = arena.Sparse
)

// Shape describes the per-cell element layout of a field.
type Shape = arena.Shape

// Boundary tags the behaviour a propagator should apply at the edge of the
// Space when reading neighbours of a field.
type Boundary = arena.Boundary

const (
	BoundaryAbsorb  = arena.BoundaryAbsorb
	BoundaryReflect = arena.BoundaryReflect
	BoundaryWrap    = arena.BoundaryWrap
	BoundaryClamp   = arena.BoundaryClamp
)

// Bounds optionally constrains the legal numeric range of a field's values.
type Bounds = arena.Bounds

// FieldDef declares a field at world construction.
type FieldDef = arena.FieldDef

// ValidateFieldDefs checks that a slice of FieldDefs is individually valid
// and carries no duplicate FieldId. An empty slice is legal.
func ValidateFieldDefs(defs []FieldDef) error {
	return arena.ValidateFieldDefs(defs)
}
