package space

import "testing"

func TestGridCanonicalRankAbsorb(t *testing.T) {
	g, err := NewGrid([]uint32{4}, GridBoundaryAbsorb)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	if g.CellCount() != 4 {
		t.Fatalf("CellCount() = %d; want 4", g.CellCount())
	}
	rank, err := g.CanonicalRank(Coord{2})
	if err != nil || rank != 2 {
		t.Fatalf("CanonicalRank({2}) = %d, %v; want 2, nil", rank, err)
	}
	if _, err := g.CanonicalRank(Coord{4}); err != ErrOutOfBounds {
		t.Fatalf("CanonicalRank({4}) = %v; want ErrOutOfBounds", err)
	}
	if _, err := g.CanonicalRank(Coord{-1}); err != ErrOutOfBounds {
		t.Fatalf("CanonicalRank({-1}) = %v; want ErrOutOfBounds", err)
	}
}

func TestGridCanonicalRankWrap(t *testing.T) {
	g, err := NewGrid([]uint32{4}, GridBoundaryWrap)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	rank, err := g.CanonicalRank(Coord{-1})
	if err != nil || rank != 3 {
		t.Fatalf("CanonicalRank({-1}) = %d, %v; want 3, nil", rank, err)
	}
	rank, err = g.CanonicalRank(Coord{5})
	if err != nil || rank != 1 {
		t.Fatalf("CanonicalRank({5}) = %d, %v; want 1, nil", rank, err)
	}
}

func TestGridNeighboursAbsorbOmitsOutOfRange(t *testing.T) {
	g, err := NewGrid([]uint32{4}, GridBoundaryAbsorb)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	n := g.Neighbours(Coord{0})
	if len(n) != 1 || n[0][0] != 1 {
		t.Fatalf("Neighbours({0}) = %v; want a single neighbour {1}", n)
	}
	n = g.Neighbours(Coord{2})
	if len(n) != 2 {
		t.Fatalf("Neighbours({2}) = %v; want 2 neighbours", n)
	}
}

func TestGridInstanceIDStableAcrossConstruction(t *testing.T) {
	a, _ := NewGrid([]uint32{4, 4}, GridBoundaryWrap)
	b, _ := NewGrid([]uint32{4, 4}, GridBoundaryWrap)
	if a.InstanceID() != b.InstanceID() {
		t.Fatalf("two grids with identical topology produced different instance ids")
	}
	c, _ := NewGrid([]uint32{4, 4}, GridBoundaryClamp)
	if a.InstanceID() == c.InstanceID() {
		t.Fatalf("grids differing only in boundary produced the same instance id")
	}
}

func TestGridCompileRegion(t *testing.T) {
	g, err := NewGrid([]uint32{4}, GridBoundaryAbsorb)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	plan, err := g.CompileRegion(RegionSpec{Cells: []Coord{{0}, {1}, {2}}})
	if err != nil {
		t.Fatalf("CompileRegion: %v", err)
	}
	if plan.CellCount() != 3 {
		t.Fatalf("CellCount() = %d; want 3", plan.CellCount())
	}
	if _, err := g.CompileRegion(RegionSpec{Cells: []Coord{{9}}}); err == nil {
		t.Fatalf("CompileRegion with an out-of-range cell succeeded")
	}
}
