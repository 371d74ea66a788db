// Command murk-console is an interactive REPL around a lockstep world,
// mirroring the teacher's in-process server console: a line of input names
// a command, the console dispatches it against the running world, and
// prints the outcome before reading the next line.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"

	murk "github.com/dm-vev/murk"
	"github.com/dm-vev/murk/command"
	"github.com/dm-vev/murk/propagator"
	"github.com/dm-vev/murk/space"
)

const fieldID murk.FieldId = 1

func main() {
	grid, err := space.NewGrid([]uint32{8}, space.GridBoundaryAbsorb)
	if err != nil {
		fmt.Fprintln(os.Stderr, "murk-console:", err)
		os.Exit(1)
	}

	cfg := murk.Config{
		Space: grid,
		Fields: []murk.FieldDef{
			{ID: fieldID, Name: "temperature", Shape: murk.Shape{Components: 1}, Mutability: murk.PerTick, Boundary: murk.BoundaryAbsorb},
		},
		Propagators: []propagator.Propagator{propagator.Diffusion{Field: fieldID}},
		Dt:          1.0,
		MaxQueueLen: 64,
		Arena:       murk.ArenaConfig{SegmentSize: 1024, MaxSegments: 4},
		Log:         slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	ls, err := murk.NewLockstep(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "murk-console:", err)
		os.Exit(1)
	}

	c := &console{ls: ls}
	fmt.Println("murk-console: type `help` for commands, `quit` to exit")
	prompt.New(c.execute, completer, prompt.OptionPrefix("murk> ")).Run()
}

type console struct {
	ls *murk.Lockstep
}

func (c *console) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "help":
		fmt.Println("commands: step, set <coord> <value>, snapshot, param <name> <value>, quit")
	case "quit", "exit":
		os.Exit(0)
	case "step":
		res, err := c.ls.StepSync(nil, 64)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		c.printSnapshot(res)
	case "set":
		if len(fields) != 3 {
			fmt.Println("usage: set <coord> <value>")
			return
		}
		coord, err1 := strconv.Atoi(fields[1])
		value, err2 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil {
			fmt.Println("usage: set <coord> <value>")
			return
		}
		cmd := command.Command{
			Payload:          command.SetField{Field: fieldID, Coord: space.Coord{int32(coord)}, Values: []float64{value}},
			ExpiresAfterTick: ^uint64(0),
		}
		res, err := c.ls.StepSync([]command.Command{cmd}, 64)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		c.printSnapshot(res)
	case "param":
		if len(fields) != 3 {
			fmt.Println("usage: param <name> <value>")
			return
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			fmt.Println("usage: param <name> <value>")
			return
		}
		cmd := command.Command{
			Payload:          command.SetParameter{Name: fields[1], Value: value},
			ExpiresAfterTick: ^uint64(0),
		}
		res, err := c.ls.StepSync([]command.Command{cmd}, 64)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		c.printSnapshot(res)
	case "snapshot":
		snap := c.ls.Snapshot()
		values, _ := snap.Read(fieldID)
		fmt.Printf("tick=%d field=%v\n", snap.TickId(), values)
	default:
		fmt.Println("unknown command, type `help`")
	}
}

func (c *console) printSnapshot(res *murk.StepResult) {
	values, _ := res.Snapshot.Read(fieldID)
	fmt.Printf("tick=%d field=%v receipts=%d\n", res.Snapshot.TickId(), values, len(res.Receipts))
}

func completer(d prompt.Document) []prompt.Suggest {
	suggestions := []prompt.Suggest{
		{Text: "step", Description: "advance one tick with no commands"},
		{Text: "set", Description: "set <coord> <value>"},
		{Text: "param", Description: "param <name> <value>"},
		{Text: "snapshot", Description: "print the current snapshot"},
		{Text: "help", Description: "list commands"},
		{Text: "quit", Description: "exit the console"},
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}
