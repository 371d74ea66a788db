// Package murk is a tick-based world-simulation runtime for reinforcement
// learning training and realtime applications. It implements the simulation
// kernel: the generational arena allocator, the propagator pipeline, the
// snapshot publication protocol, the command ingress/ordering path, and the
// two runtime topologies (synchronous lockstep and asynchronous realtime).
package murk

import "github.com/dm-vev/murk/arena"

// FieldId re-exports arena.FieldId so callers never need to import the arena
// package just to name a field.
type FieldId = arena.FieldId

// TickId is a monotonic counter identifying a simulation tick.
type TickId uint64

// WorldGenerationId is a monotonic counter that bumps only on plan-relevant
// topology changes. In v1, field layout is fixed at construction, so a
// World's WorldGenerationId never changes after New returns; it exists so
// observation plans (an external collaborator) have a stable key to bind to
// that is decoupled from the per-tick ParameterVersion.
type WorldGenerationId uint64

// ParameterVersion is a monotonic counter that bumps whenever a SetParameter
// or SetParameterBatch command mutates the parameter store. It is
// deliberately decoupled from WorldGenerationId so that curriculum-learning
// parameter tweaks never invalidate an observation plan.
type ParameterVersion uint64

// InstanceID is an opaque, stable-under-unchanged-config token identifying a
// World (or, by delegation, the Space it was constructed with). It mirrors
// Space.InstanceID and is included in build/replay metadata headers.
type InstanceID [16]byte
