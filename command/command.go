// Package command defines the ingress envelope: payload variants, the
// deterministic ordering key, and the bounded admission queue. Commands are
// engine-agnostic; both the lockstep and realtime shells drain through the
// same queue and sort.
package command

import (
	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/space"
	"github.com/google/uuid"
)

// Payload is the sum type of command bodies a world accepts. Concrete
// variants are SetField, SetParameter, SetParameterBatch, and Reserved (the
// v1 placeholder for spawn/despawn/custom payloads the engine must
// explicitly reject).
type Payload interface {
	payload()
}

// SetField writes Values into Field at Coord, applied once the propagator
// pipeline has finished computing the tick's staged output (see
// the field-write ordering note on murk.World.step for why field writes are deferred past propagator
// execution rather than applied up front).
type SetField struct {
	Field  arena.FieldId
	Coord  space.Coord
	Values []float64
}

func (SetField) payload() {}

// SetParameter mutates a single named parameter, bumping the world's
// ParameterVersion.
type SetParameter struct {
	Name  string
	Value float64
}

func (SetParameter) payload() {}

// SetParameterBatch mutates several named parameters as one ParameterVersion
// bump.
type SetParameterBatch struct {
	Values map[string]float64
}

func (SetParameterBatch) payload() {}

// Reserved names a spawn/despawn/custom payload kind the v1 engine does not
// implement. It is always explicitly rejected with ReasonUnsupportedPayload; it
// exists so the wire envelope has a stable variant to decode into rather
// than failing to parse.
type Reserved struct {
	Kind string
}

func (Reserved) payload() {}

// ReasonCode explains why a command was not accepted, or, for an accepted
// command whose effect was ultimately superseded, why it did not end up
// applied.
type ReasonCode uint8

const (
	ReasonNone ReasonCode = iota
	ReasonStale
	ReasonInvalidCoord
	ReasonTickRollback
	ReasonTickDisabled
	ReasonUnsupportedPayload
	ReasonSuperseded
	ReasonUnknownField
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonStale:
		return "Stale"
	case ReasonInvalidCoord:
		return "InvalidCoord"
	case ReasonTickRollback:
		return "TickRollback"
	case ReasonTickDisabled:
		return "TickDisabled"
	case ReasonUnsupportedPayload:
		return "UnsupportedPayload"
	case ReasonSuperseded:
		return "Superseded"
	case ReasonUnknownField:
		return "UnknownField"
	default:
		return "Unknown"
	}
}

// Command is one ingress envelope. ArrivalSeq is engine-assigned at admit
// time and is never supplied by a submitter.
type Command struct {
	Payload          Payload
	PriorityClass    uint8
	SourceID         *uuid.UUID
	SourceSeq        uint64
	ArrivalSeq       uint64
	ExpiresAfterTick uint64
}

// Receipt is the per-command outcome returned from a step. AppliedTickId is
// non-nil iff the command's payload was actually executed; a command can be
// Accepted (it passed validation) yet never applied, if a later command in
// the same tick's sort order superseded its effect (ReasonSuperseded).
type Receipt struct {
	Accepted              bool
	AppliedTickId         *uint64
	Reason                ReasonCode
	BasisTickId           uint64
	ParameterVersionAfter uint64
}
