// Command murk-diffuse runs the worked diffusion scenario as a tiny
// lockstep demo: a four-cell absorbing line, one scalar field, a single
// Jacobi diffusion propagator, an impulse injected at tick 1, and the
// resulting field printed after each tick.
package main

import (
	"fmt"
	"log/slog"
	"os"

	murk "github.com/dm-vev/murk"
	"github.com/dm-vev/murk/command"
	"github.com/dm-vev/murk/propagator"
	"github.com/dm-vev/murk/space"
)

const fieldID murk.FieldId = 1

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "murk-diffuse:", err)
		os.Exit(1)
	}
}

func run() error {
	grid, err := space.NewGrid([]uint32{4}, space.GridBoundaryAbsorb)
	if err != nil {
		return err
	}

	cfg := murk.Config{
		Space: grid,
		Fields: []murk.FieldDef{
			{ID: fieldID, Name: "temperature", Shape: murk.Shape{Components: 1}, Mutability: murk.PerTick, Boundary: murk.BoundaryAbsorb},
		},
		Propagators: []propagator.Propagator{propagator.Diffusion{Field: fieldID}},
		Dt:          1.0,
		MaxQueueLen: 16,
		Arena:       murk.ArenaConfig{SegmentSize: 1024, MaxSegments: 4},
		Log:         slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	ls, err := murk.NewLockstep(cfg)
	if err != nil {
		return err
	}

	impulse := []command.Command{{
		Payload:          command.SetField{Field: fieldID, Coord: space.Coord{2}, Values: []float64{1}},
		ExpiresAfterTick: ^uint64(0),
	}}

	res, err := ls.StepSync(impulse, 16)
	if err != nil {
		return err
	}
	printTick(res)

	res, err = ls.StepSync(nil, 16)
	if err != nil {
		return err
	}
	printTick(res)

	return nil
}

func printTick(res *murk.StepResult) {
	values, _ := res.Snapshot.Read(fieldID)
	fmt.Printf("tick=%d field=%v\n", res.Snapshot.TickId(), values)
}
