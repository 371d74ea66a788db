package propagator

import (
	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/space"
)

// Diffusion is a reference Propagator implementing simple Jacobi diffusion
// along a 1-D grid's axis-0 neighbours: each cell's next value is the
// average of its two neighbours' previous-tick values (an absorbing
// boundary's missing neighbour contributes zero). It exists as a worked,
// minimal example of the Propagator contract — the kind of thing a teaching
// demo or an integration test builds a pipeline around.
type Diffusion struct {
	Field arena.FieldId
}

func (d Diffusion) Name() string { return "diffusion" }

func (d Diffusion) Reads() []arena.FieldId { return nil }

func (d Diffusion) ReadsPrevious() []arena.FieldId { return []arena.FieldId{d.Field} }

func (d Diffusion) Writes() []Write { return []Write{{Field: d.Field, Mode: Full}} }

func (d Diffusion) MaxDt(sp space.Space) (float64, bool) { return 0, false }

func (d Diffusion) ScratchBytes() int { return 0 }

func (d Diffusion) Step(ctx Context) error {
	prev, ok := ctx.ReadPrevious(d.Field)
	if !ok {
		return nil
	}
	out, err := ctx.Write(d.Field)
	if err != nil {
		return err
	}
	n := len(prev)
	for i := 0; i < n; i++ {
		var left, right float64
		if i > 0 {
			left = prev[i-1]
		}
		if i < n-1 {
			right = prev[i+1]
		}
		out[i] = 0.5*left + 0.5*right
	}
	return nil
}
