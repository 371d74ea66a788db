package murk

import (
	"errors"
	"sort"
	"time"

	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/command"
	"github.com/dm-vev/murk/propagator"
	"github.com/dm-vev/murk/space"
)

// StepResult is returned from Step: a snapshot (the freshly published one
// on success, or the unchanged previously-published one after a rollback),
// one Receipt per submitted command, and this tick's metrics.
type StepResult struct {
	Snapshot *arena.Snapshot
	Receipts []command.Receipt
	Metrics  TickMetrics
}

// tickContext implements propagator.Context for exactly one propagator's
// Step call; writeModes is rebuilt from that propagator's declared Writes()
// before each invocation.
type tickContext struct {
	guard           *arena.TickGuard
	writeModes      map[FieldId]arena.WriteMode
	scratch         []float64
	scratchPos      int
	scratchOverruns int
	sp              space.Space
	tickID          uint64
	dt              float64
}

var _ propagator.Context = (*tickContext)(nil)

func (c *tickContext) Read(id FieldId) ([]float64, bool) {
	if v, ok := c.guard.StagedRead(id); ok {
		return v, ok
	}
	return c.guard.Base().Read(id)
}

func (c *tickContext) ReadPrevious(id FieldId) ([]float64, bool) {
	return c.guard.Base().Read(id)
}

func (c *tickContext) Write(id FieldId) ([]float64, error) {
	mode := c.writeModes[id]
	return c.guard.Write(id, mode)
}

func (c *tickContext) Scratch(n int) []float64 {
	if c.scratchPos+n > len(c.scratch) {
		// Pipeline validation sizes the scratch region from the max
		// declared ScratchBytes(), so this only triggers if a propagator
		// under-declared its usage; fail soft rather than corrupt a
		// neighbouring propagator's scratch slice, and let the watchdog
		// surface the overrun.
		c.scratchOverruns++
		return make([]float64, n)
	}
	s := c.scratch[c.scratchPos : c.scratchPos+n]
	c.scratchPos += n
	return s
}

func (c *tickContext) Space() space.Space { return c.sp }
func (c *tickContext) TickId() uint64     { return c.tickID }
func (c *tickContext) Dt() float64        { return c.dt }

type touchKey struct {
	field FieldId
	coord uint32
}

// drainedCommand pairs an admitted command with the receipt slot it reports
// into, so receipts keep their submission-order position through the
// deterministic sort.
type drainedCommand struct {
	cmd  command.Command
	rcpt *command.Receipt
}

// step is the shared per-tick state machine (§4.3) driven by both the
// lockstep shell's StepSync and the realtime tick thread.
//
// Field-write ordering note: a SetField command and the propagator that owns
// its target field are not actually racing for the same write — SetField is
// a single-coordinate external perturbation, while the propagator computes
// the field's bulk evolution from the frozen previous-tick state. The
// coordinate poke therefore lands after the propagator pipeline has produced
// its output for this tick, overwriting just that one coordinate.
// SetParameter(Batch), which never touches field storage, applies before the
// pipeline runs.
func (w *World) step(cmds []command.Command) (*StepResult, error) {
	start := time.Now()
	metrics := newTickMetrics()

	if w.tickDisabled {
		receipts := make([]command.Receipt, len(cmds))
		for i := range cmds {
			receipts[i] = command.Receipt{Accepted: false, Reason: command.ReasonTickDisabled, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
		}
		return &StepResult{Snapshot: w.arena.Snapshot(), Receipts: receipts, Metrics: metrics}, NewError(CodeTickDisabled, ErrTickDisabled)
	}

	nextTickID := w.tickID + 1

	cmdStart := time.Now()
	receipts := make([]command.Receipt, len(cmds))
	accepted := make([]drainedCommand, 0, len(cmds))
	for i, c := range cmds {
		if c.ExpiresAfterTick < nextTickID {
			receipts[i] = command.Receipt{Accepted: false, Reason: command.ReasonStale, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
			continue
		}
		accepted = append(accepted, drainedCommand{cmd: c, rcpt: &receipts[i]})
	}
	sort.SliceStable(accepted, func(i, j int) bool { return command.Less(accepted[i].cmd, accepted[j].cmd) })

	guard, err := w.arena.BeginTick()
	if err != nil {
		return nil, NewError(arenaErrCode(err), err)
	}
	metrics.CommandProcessing = time.Since(cmdStart)

	// The first parameter write of the tick goes to a copy of the store, so a
	// rollback can put back the pre-tick store and version.
	paramsBefore, versionBefore := w.paramStore, w.paramVersion
	cloneParams := func() {
		if w.paramVersion == versionBefore {
			next := make(map[string]float64, len(paramsBefore)+1)
			for k, v := range paramsBefore {
				next[k] = v
			}
			w.paramStore = next
		}
	}

	var pendingFields []drainedCommand
	for _, d := range accepted {
		r := d.rcpt
		switch p := d.cmd.Payload.(type) {
		case command.SetParameter:
			cloneParams()
			w.paramStore[p.Name] = p.Value
			w.paramVersion++
			applied := nextTickID
			*r = command.Receipt{Accepted: true, AppliedTickId: &applied, Reason: command.ReasonNone, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
		case command.SetParameterBatch:
			cloneParams()
			for k, v := range p.Values {
				w.paramStore[k] = v
			}
			w.paramVersion++
			applied := nextTickID
			*r = command.Receipt{Accepted: true, AppliedTickId: &applied, Reason: command.ReasonNone, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
		case command.SetField:
			components, cerr := w.fieldComponents(p.Field)
			if cerr != nil {
				*r = command.Receipt{Accepted: false, Reason: command.ReasonUnknownField, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
				continue
			}
			if _, rerr := w.cfg.Space.CanonicalRank(p.Coord); rerr != nil || len(p.Values) != components {
				*r = command.Receipt{Accepted: false, Reason: command.ReasonInvalidCoord, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
				continue
			}
			pendingFields = append(pendingFields, d)
		default:
			*r = command.Receipt{Accepted: false, Reason: command.ReasonUnsupportedPayload, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
		}
	}

	scratch := make([]float64, w.pipeline.ScratchFloats())
	for _, p := range w.pipeline.Propagators() {
		propStart := time.Now()
		writeModes := make(map[FieldId]arena.WriteMode, len(p.Writes()))
		for _, wr := range p.Writes() {
			writeModes[wr.Field] = wr.Mode
		}
		ctx := &tickContext{guard: guard, writeModes: writeModes, scratch: scratch, sp: w.cfg.Space, tickID: nextTickID, dt: w.cfg.Dt}
		if err := p.Step(ctx); err != nil {
			w.paramStore, w.paramVersion = paramsBefore, versionBefore
			return w.rollback(guard, receipts, metrics, CodePropagatorFailed, err)
		}
		elapsed := time.Since(propStart)
		metrics.PerPropagator[p.Name()] = elapsed
		metrics.ScratchOverruns += ctx.scratchOverruns
		w.observeWatchdog(p.Name(), elapsed, ctx.scratchOverruns)
	}

	touched := make(map[touchKey]struct{}, len(pendingFields))
	for _, d := range pendingFields {
		sf := d.cmd.Payload.(command.SetField)
		rank, _ := w.cfg.Space.CanonicalRank(sf.Coord)
		key := touchKey{field: sf.Field, coord: rank}
		if _, already := touched[key]; already {
			*d.rcpt = command.Receipt{Accepted: false, Reason: command.ReasonSuperseded, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
			continue
		}
		touched[key] = struct{}{}
		components, _ := w.fieldComponents(sf.Field)
		// Incremental: a field no propagator wrote this tick must keep its
		// previously published contents everywhere but the poked coordinate.
		slice, werr := guard.Write(sf.Field, arena.Incremental)
		if werr != nil {
			*d.rcpt = command.Receipt{Accepted: false, Reason: command.ReasonUnknownField, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
			continue
		}
		off := int(rank) * components
		if off+components > len(slice) {
			*d.rcpt = command.Receipt{Accepted: false, Reason: command.ReasonInvalidCoord, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
			continue
		}
		copy(slice[off:off+components], sf.Values)
		applied := nextTickID
		*d.rcpt = command.Receipt{Accepted: true, AppliedTickId: &applied, Reason: command.ReasonNone, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
	}

	publishStart := time.Now()
	snap, err := w.arena.Publish(nextTickID, w.paramVersion)
	if err != nil {
		w.paramStore, w.paramVersion = paramsBefore, versionBefore
		return w.rollback(guard, receipts, metrics, arenaErrCode(err), err)
	}
	metrics.SnapshotPublish = time.Since(publishStart)
	metrics.ArenaBytesAllocated = w.arena.BytesAllocated()
	metrics.SparseRetiredCount, metrics.SparsePendingCount, metrics.SparseReuseHits, metrics.SparseReuseMisses = w.arena.SparseCounters()

	w.tickID = nextTickID
	w.consecutiveRollbacks = 0
	metrics.TotalElapsed = time.Since(start)
	if len(w.watchdog) > 0 {
		metrics.PropagatorPenalties = make(map[string]int, len(w.watchdog))
		for name, n := range w.watchdog {
			metrics.PropagatorPenalties[name] = n
		}
	}
	w.budget.observe(nextTickID, metrics.TotalElapsed)

	return &StepResult{Snapshot: snap, Receipts: receipts, Metrics: metrics}, nil
}

// observeWatchdog bumps a propagator's saturation counter when it overruns
// its scratch declaration or eats more than its share of the tick budget,
// and decays the counter while it behaves — the same penalty/decay shape the
// per-target update watchdog uses, repurposed from scheduling pressure to
// per-tick diagnostics.
func (w *World) observeWatchdog(name string, elapsed time.Duration, scratchOverruns int) {
	over := scratchOverruns > 0
	if b := w.cfg.TickBudget; b > 0 {
		if share := b / time.Duration(len(w.cfg.Propagators)); elapsed > share {
			over = true
		}
	}
	if over {
		w.watchdog[name] += 2
	} else if w.watchdog[name] > 0 {
		w.watchdog[name]--
	}
}

// Step is the exported entry point driving one tick; it is the same state
// machine Lockstep.StepSync calls, exposed so the realtime shell (a separate
// package) can drive it from its own tick thread.
func (w *World) Step(cmds []command.Command) (*StepResult, error) {
	return w.step(cmds)
}

// rollback discards the open tick and marks every drained, non-stale command
// dropped with TickRollback. Commands already rejected as stale keep their
// original receipt; nothing is re-enqueued.
func (w *World) rollback(guard *arena.TickGuard, receipts []command.Receipt, metrics TickMetrics, code Code, cause error) (*StepResult, error) {
	_ = w.arena.Discard(guard)
	for i := range receipts {
		if !receipts[i].Accepted && receipts[i].Reason == command.ReasonStale {
			continue
		}
		receipts[i] = command.Receipt{Accepted: false, Reason: command.ReasonTickRollback, BasisTickId: w.tickID, ParameterVersionAfter: w.paramVersion}
	}

	w.consecutiveRollbacks++
	if w.consecutiveRollbacks >= w.cfg.MaxConsecutiveRollbacks {
		w.tickDisabled = true
	}
	return &StepResult{Snapshot: w.arena.Snapshot(), Receipts: receipts, Metrics: metrics}, NewError(code, cause)
}

// arenaErrCode maps an arena sentinel onto the boundary taxonomy: a pinned
// generation is a (possibly stalled) reader holding the tick back, tick-state
// misuse and counter exhaustion are execution faults, and everything else is
// storage exhaustion.
func arenaErrCode(err error) Code {
	switch {
	case errors.Is(err, arena.ErrGenerationPinned):
		return CodeWorkerStalled
	case errors.Is(err, arena.ErrGenerationOverflow),
		errors.Is(err, arena.ErrTickInProgress),
		errors.Is(err, arena.ErrNoTickInProgress):
		return CodeExecutionFailed
	default:
		return CodeAllocationFailed
	}
}
