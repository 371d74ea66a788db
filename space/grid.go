package space

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl64"
)

// Grid is a reference Space implementation: an N-dimensional axis-aligned
// lattice with per-axis size and a single Boundary policy applied uniformly
// across axes. It is the topology used by the kernel's own scenario tests
// (a 1D line of length 4 is simply NewGrid([]uint32{4}, GridBoundaryAbsorb)).
type Grid struct {
	dims     []uint32
	boundary GridBoundary
	strides  []uint32
	total    uint32
	instance [16]byte
}

// GridBoundary mirrors murk.Boundary without importing the root package
// (space sits below murk in the dependency order).
type GridBoundary uint8

const (
	GridBoundaryAbsorb GridBoundary = iota
	GridBoundaryReflect
	GridBoundaryWrap
	GridBoundaryClamp
)

// NewGrid constructs a Grid with the given per-axis extents. dims must be
// non-empty and every extent must be positive.
func NewGrid(dims []uint32, boundary GridBoundary) (*Grid, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("space: grid requires at least one dimension")
	}
	strides := make([]uint32, len(dims))
	total := uint32(1)
	for i, d := range dims {
		if d == 0 {
			return nil, fmt.Errorf("space: grid dimension %d has zero extent", i)
		}
		strides[i] = total
		total *= d
	}
	g := &Grid{dims: append([]uint32(nil), dims...), boundary: boundary, strides: strides, total: total}
	g.instance = g.computeInstanceID()
	return g, nil
}

func (g *Grid) computeInstanceID() [16]byte {
	d := xxhash.New()
	for _, dim := range g.dims {
		var buf [4]byte
		buf[0] = byte(dim)
		buf[1] = byte(dim >> 8)
		buf[2] = byte(dim >> 16)
		buf[3] = byte(dim >> 24)
		_, _ = d.Write(buf[:])
	}
	_, _ = d.Write([]byte{byte(g.boundary)})
	sum := d.Sum64()
	var out [16]byte
	for i := 0; i < 8; i++ {
		out[i] = byte(sum >> (8 * i))
		out[i+8] = byte(sum >> (8 * i))
	}
	return out
}

func (g *Grid) CellCount() uint32 { return g.total }

func (g *Grid) NDim() uint8 { return uint8(len(g.dims)) }

func (g *Grid) InstanceID() [16]byte { return g.instance }

// CanonicalRank computes the row-major offset of c, applying Wrap/Clamp
// normalisation per axis before bounds-checking, and rejecting out-of-range
// coordinates under Absorb/Reflect (Reflect normalisation is handled by
// Neighbours, not here: a reflected neighbour coordinate is always already
// in range by construction).
func (g *Grid) CanonicalRank(c Coord) (uint32, error) {
	if len(c) != len(g.dims) {
		return 0, fmt.Errorf("%w: dimension mismatch", ErrOutOfBounds)
	}
	rank := uint32(0)
	for i, v := range c {
		n := normalizeAxis(v, g.dims[i], g.boundary)
		if n < 0 {
			return 0, ErrOutOfBounds
		}
		rank += uint32(n) * g.strides[i]
	}
	return rank, nil
}

func normalizeAxis(v int32, extent uint32, b GridBoundary) int32 {
	switch b {
	case GridBoundaryWrap:
		m := int32(extent)
		v %= m
		if v < 0 {
			v += m
		}
		return v
	case GridBoundaryClamp:
		if v < 0 {
			return 0
		}
		if v >= int32(extent) {
			return int32(extent) - 1
		}
		return v
	default: // Absorb, Reflect
		if v < 0 || v >= int32(extent) {
			return -1
		}
		return v
	}
}

// Neighbours returns the 2*NDim axis-aligned neighbours of c, in
// (-axis0, +axis0, -axis1, +axis1, ...) order. Under Absorb, an out-of-range
// neighbour is omitted; under Wrap/Clamp/Reflect it is normalised into
// range.
func (g *Grid) Neighbours(c Coord) []Coord {
	out := make([]Coord, 0, 2*len(g.dims))
	for axis := range g.dims {
		for _, delta := range [2]int32{-1, 1} {
			n := c.Clone()
			switch g.boundary {
			case GridBoundaryReflect:
				nv := n[axis] + delta
				if nv < 0 {
					nv = 1
				} else if nv >= int32(g.dims[axis]) {
					nv = int32(g.dims[axis]) - 2
				}
				n[axis] = nv
			default:
				n[axis] = normalizeAxis(n[axis]+delta, g.dims[axis], g.boundary)
			}
			if _, err := g.CanonicalRank(n); err != nil {
				continue
			}
			out = append(out, n)
		}
	}
	return out
}

// Distance returns Euclidean distance between two coordinates, using mgl64
// for the vector arithmetic. Dimensions above 3 fall back to a component-wise
// sum (mgl64 only models up to Vec4).
func (g *Grid) Distance(a, b Coord) float64 {
	if len(a) <= 3 && len(b) <= 3 {
		va, vb := toVec3(a), toVec3(b)
		return va.Sub(vb).Len()
	}
	sum := 0.0
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func toVec3(c Coord) mgl64.Vec3 {
	var v mgl64.Vec3
	for i := 0; i < len(c) && i < 3; i++ {
		v[i] = float64(c[i])
	}
	return v
}

// CompileRegion resolves every coordinate in spec to a canonical rank,
// grouped into a single region (a Grid has no natural sub-region
// granularity finer than "all requested cells").
func (g *Grid) CompileRegion(spec RegionSpec) (RegionPlan, error) {
	group := make([]uint32, 0, len(spec.Cells))
	for _, c := range spec.Cells {
		rank, err := g.CanonicalRank(c)
		if err != nil {
			return RegionPlan{}, err
		}
		group = append(group, rank)
	}
	return RegionPlan{Groups: [][]uint32{group}}, nil
}
