package arena

import "errors"

// Sentinel errors returned by the arena. Callers should use errors.Is against
// these values rather than matching on message text.
var (
	// ErrCapacityExceeded is returned when no segment in a SegmentList can
	// satisfy an allocation request and the list is already at its configured
	// maximum size.
	ErrCapacityExceeded = errors.New("arena: capacity exceeded")
	// ErrInvalidConfig is returned at construction time for a non-power-of-two
	// segment size, a segment size below 1024 elements, or a duplicate
	// FieldId in the construction input.
	ErrInvalidConfig = errors.New("arena: invalid config")
	// ErrGenerationOverflow is returned by BeginTick when the generation
	// counter is already at its maximum value.
	ErrGenerationOverflow = errors.New("arena: generation overflow")
	// ErrTickInProgress is returned by BeginTick when a prior tick has not
	// yet been published or discarded.
	ErrTickInProgress = errors.New("arena: tick already in progress")
	// ErrNoTickInProgress is returned by Publish or Discard when no tick is
	// currently open.
	ErrNoTickInProgress = errors.New("arena: no tick in progress")
	// ErrUnknownField is returned when a FieldId has no entry in a
	// FieldDescriptor.
	ErrUnknownField = errors.New("arena: unknown field")
	// ErrDuplicateField is returned by ValidateFieldDefs for a repeated
	// FieldId, alongside ErrInvalidConfig.
	ErrDuplicateField = errors.New("arena: duplicate field id")
	// ErrGenerationPinned is returned by BeginTick when the generation pool
	// slot the next tick would stage into still backs a Snapshot some
	// realtime egress worker is pinned to; the caller should retry once that
	// worker unpins rather than overwrite storage it may still be reading.
	ErrGenerationPinned = errors.New("arena: generation pool slot still pinned by a reader")
)
