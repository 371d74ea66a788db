// Package space declares the spatial topology contract the simulation
// kernel consumes. Concrete topologies (grids, graphs, meshes) are plug-in
// collaborators; this package only fixes the interface and ships one
// reference implementation (Grid) used by the kernel's own tests.
package space

import "errors"

// ErrOutOfBounds is returned by CanonicalRank for a coordinate that does not
// belong to the space.
var ErrOutOfBounds = errors.New("space: coordinate out of bounds")

// Coord is a general multi-dimensional coordinate. Its length must equal the
// owning Space's NDim.
type Coord []int32

// Clone returns an independent copy of c.
func (c Coord) Clone() Coord {
	out := make(Coord, len(c))
	copy(out, c)
	return out
}

// RegionSpec describes a region of a Space to be compiled into an iteration
// plan; its shape is backend-specific (a bounding box, a radius around a
// centre, an explicit cell list). The kernel never interprets a RegionSpec
// itself, only the RegionPlan a Space compiles it into.
type RegionSpec struct {
	Cells []Coord
}

// RegionPlan is a precomputed iteration order over a region, already
// resolved to canonical ranks so a consumer (an egress worker, for example)
// never has to re-run CanonicalRank per cell. Plans are grouped into
// sub-regions so cooperative cancellation can check a flag between groups
// rather than between individual cells.
type RegionPlan struct {
	Groups [][]uint32
}

// CellCount returns the total number of cells across every group.
func (p RegionPlan) CellCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g)
	}
	return n
}

// Space is the topology contract consumed by the kernel. The core uses
// CanonicalRank to map coordinates into field-data offsets (one element per
// cell per component) and CellCount to size allocations.
type Space interface {
	// CellCount is the total number of addressable cells.
	CellCount() uint32
	// NDim is the number of coordinate components.
	NDim() uint8
	// Neighbours returns a fixed, ordered list of adjacent coordinates.
	Neighbours(c Coord) []Coord
	// Distance returns a scalar distance between two coordinates (graph
	// geodesic by default for topologies without an embedding).
	Distance(a, b Coord) float64
	// CanonicalRank maps a coordinate to its O(1), total offset over all
	// cells. Returns ErrOutOfBounds for a coordinate not in the space.
	CanonicalRank(c Coord) (uint32, error)
	// CompileRegion precomputes an iteration plan for spec.
	CompileRegion(spec RegionSpec) (RegionPlan, error)
	// InstanceID is an opaque token stable under unchanged configuration,
	// used as a compatibility key by the batched lockstep engine and
	// included in build/replay metadata headers.
	InstanceID() [16]byte
}
