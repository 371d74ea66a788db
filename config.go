package murk

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/command"
	"github.com/dm-vev/murk/propagator"
	"github.com/dm-vev/murk/space"
)

// ArenaConfig bounds the PingPongArena and SparseSlab storage a world
// allocates.
type ArenaConfig struct {
	SegmentSize      int    `toml:"segment_size"`
	MaxSegments      int    `toml:"max_segments"`
	MaxGenerationAge uint64 `toml:"max_generation_age"`
	// GenerationPoolSize sizes the arena's generation pool (§8: ring
	// capacity + max_stalled_workers in realtime, otherwise 2 for plain
	// ping-pong). Zero means "let the arena pick its own default".
	GenerationPoolSize int `toml:"generation_pool_size"`
}

// BackoffConfig bounds the realtime shell's adaptive effective_max_skew
// curve (§4.5): it grows multiplicatively on sustained rejection and decays
// toward Initial otherwise, never exceeding Cap.
type BackoffConfig struct {
	Initial   float64 `toml:"initial"`
	Cap       float64 `toml:"cap"`
	Factor    float64 `toml:"factor"`
	Threshold float64 `toml:"threshold"`
	Decay     float64 `toml:"decay"`
}

// zero reports whether b is the zero value, meaning "use defaults" rather
// than a configuration to validate.
func (b BackoffConfig) zero() bool {
	return b == BackoffConfig{}
}

func (b BackoffConfig) validate() error {
	if b.zero() {
		return nil
	}
	if isNonFinite(b.Initial) || isNonFinite(b.Cap) || b.Initial > b.Cap {
		return fmt.Errorf("%w: backoff initial must be <= cap", ErrInvalidConfig)
	}
	if isNonFinite(b.Factor) || b.Factor < 1.0 {
		return fmt.Errorf("%w: backoff factor must be >= 1.0", ErrInvalidConfig)
	}
	if isNonFinite(b.Threshold) || b.Threshold < 0 || b.Threshold > 1 {
		return fmt.Errorf("%w: backoff threshold must be in [0,1]", ErrInvalidConfig)
	}
	if isNonFinite(b.Decay) || b.Decay < 1.0 {
		return fmt.Errorf("%w: backoff decay must be >= 1.0", ErrInvalidConfig)
	}
	return nil
}

// Config is a world's full construction-time configuration. All validation
// happens in Validate, called by New before anything is allocated; invalid
// config never defers failure to the first tick.
type Config struct {
	Space       space.Space
	Fields      []FieldDef
	Propagators []propagator.Propagator
	Dt          float64
	Seed        uint64

	RingSize                int
	MaxQueueLen             int
	TickRateHz              float64
	Backoff                 BackoffConfig
	Arena                   ArenaConfig
	MaxConsecutiveRollbacks int

	// EgressWorkers sizes the realtime shell's WorkerPool (concurrent region
	// extractions against the ring's latest snapshot). Lockstep worlds never
	// read this.
	EgressWorkers int
	// MaxCommandsPerTick bounds how many queued commands the realtime shell
	// drains per tick (0 means unbounded, drain everything queued).
	MaxCommandsPerTick int
	// OverflowPolicy selects the deterministic drop policy the realtime
	// shell's ingress queue applies once it is full, instead of rejecting
	// the incoming command outright.
	OverflowPolicy command.DrainOverflowPolicy
	// SharedStatic, if non-nil, is Acquired rather than allocated fresh: it
	// lets a batch of worlds that declare the same Static field layout share
	// one backing pool (§4.4), instead of each world paying for its own copy
	// of read-only data none of them ever mutates.
	SharedStatic *arena.StaticPool
	// TickBudget is the target wall-clock duration of one tick. The tick
	// engine maintains a rolling average of actual tick duration and warns
	// (once, clearing on recovery) when it falls behind. Zero disables the
	// telemetry.
	TickBudget time.Duration

	// Log follows the same field-on-Config convention as the teacher's
	// server.Config.Log: a *slog.Logger the world logs through, defaulting
	// to a text handler on stderr when nil.
	Log *slog.Logger
}

// Validate checks every invariant named in spec §6.4. It never mutates cfg.
func (c Config) Validate() error {
	if c.Space == nil {
		return fmt.Errorf("%w: space is required", ErrInvalidConfig)
	}
	if err := ValidateFieldDefs(c.Fields); err != nil {
		return err
	}
	if isNonFinite(c.Dt) || c.Dt <= 0 {
		return fmt.Errorf("%w: dt must be finite and positive", ErrInvalidConfig)
	}
	if c.MaxQueueLen <= 0 {
		return fmt.Errorf("%w: max_queue_len must be positive", ErrInvalidConfig)
	}
	if c.RingSize < 0 {
		return fmt.Errorf("%w: ring_size must be non-negative", ErrInvalidConfig)
	}
	if c.TickRateHz != 0 {
		if isNonFinite(c.TickRateHz) || c.TickRateHz <= 0 {
			return fmt.Errorf("%w: tick_rate_hz must be finite and positive", ErrInvalidConfig)
		}
		period := 1.0 / c.TickRateHz
		if isNonFinite(period) || period <= 0 {
			return fmt.Errorf("%w: tick_rate_hz reciprocal is not a representable finite duration", ErrInvalidConfig)
		}
	}
	if err := c.Backoff.validate(); err != nil {
		return err
	}
	if c.Arena.SegmentSize < 1024 || c.Arena.SegmentSize&(c.Arena.SegmentSize-1) != 0 {
		return fmt.Errorf("%w: arena segment_size must be a power of two >= 1024", ErrInvalidConfig)
	}
	if c.Arena.MaxSegments < 3 {
		return fmt.Errorf("%w: arena max_segments must be >= 3", ErrInvalidConfig)
	}
	if c.TickBudget < 0 {
		return fmt.Errorf("%w: tick_budget must be non-negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) arenaConfig() arena.Config {
	return arena.Config{
		SegmentSize:        c.Arena.SegmentSize,
		MaxSegments:        c.Arena.MaxSegments,
		GenerationPoolSize: c.Arena.GenerationPoolSize,
		MaxGenerationAge:   c.Arena.MaxGenerationAge,
	}
}

// withDefaults fills the zero-value gaps Validate leaves legal-but-unset
// (MaxConsecutiveRollbacks, Log, RingSize, EgressWorkers,
// Arena.MaxGenerationAge, Backoff) with working defaults, mirroring the
// teacher's server.New pattern of resolving a usable Config from partial
// input rather than requiring every field spelled out.
func (c Config) withDefaults() Config {
	if c.MaxConsecutiveRollbacks <= 0 {
		c.MaxConsecutiveRollbacks = 3
	}
	if c.Log == nil {
		c.Log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if c.RingSize == 0 {
		c.RingSize = 8
	}
	if c.EgressWorkers <= 0 {
		c.EgressWorkers = 4
	}
	if c.Arena.MaxGenerationAge == 0 {
		c.Arena.MaxGenerationAge = 4
	}
	if c.Backoff.zero() {
		c.Backoff = BackoffConfig{Initial: 1.0, Cap: 8.0, Factor: 2.0, Threshold: 0.5, Decay: 2.0}
	}
	return c
}

// WithDefaults resolves every zero-value-but-legal field to its working
// default, exposed so the realtime shell (a separate package) can apply the
// same resolution World.New applies internally before reading fields like
// EgressWorkers that New itself never needs.
func (c Config) WithDefaults() Config {
	return c.withDefaults()
}

// LoadFile reads a TOML-encoded Config from path, layering it over base
// (base supplies Space, Fields, and Propagators — structures a file format
// cannot express — while the file supplies the scalar tuning knobs).
func LoadFile(path string, base Config) (Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("murk: loading config file %s: %w", path, err)
	}
	// Pre-seeded from base so a key absent from the file keeps its base
	// value instead of silently zeroing.
	fileCfg := struct {
		Dt                      float64       `toml:"dt"`
		Seed                    uint64        `toml:"seed"`
		RingSize                int           `toml:"ring_size"`
		MaxQueueLen             int           `toml:"max_queue_len"`
		TickRateHz              float64       `toml:"tick_rate_hz"`
		MaxConsecutiveRollbacks int           `toml:"max_consecutive_rollbacks"`
		Backoff                 BackoffConfig `toml:"backoff"`
		Arena                   ArenaConfig   `toml:"arena"`
		EgressWorkers           int           `toml:"egress_workers"`
		MaxCommandsPerTick      int           `toml:"max_commands_per_tick"`
		OverflowPolicy          uint8         `toml:"overflow_policy"`
		TickBudgetMillis        int64         `toml:"tick_budget_millis"`
	}{
		Dt:                      base.Dt,
		Seed:                    base.Seed,
		RingSize:                base.RingSize,
		MaxQueueLen:             base.MaxQueueLen,
		TickRateHz:              base.TickRateHz,
		MaxConsecutiveRollbacks: base.MaxConsecutiveRollbacks,
		Backoff:                 base.Backoff,
		Arena:                   base.Arena,
		EgressWorkers:           base.EgressWorkers,
		MaxCommandsPerTick:      base.MaxCommandsPerTick,
		OverflowPolicy:          uint8(base.OverflowPolicy),
		TickBudgetMillis:        base.TickBudget.Milliseconds(),
	}
	if err := tree.Unmarshal(&fileCfg); err != nil {
		return Config{}, fmt.Errorf("murk: decoding config file %s: %w", path, err)
	}
	base.Dt = fileCfg.Dt
	base.Seed = fileCfg.Seed
	base.RingSize = fileCfg.RingSize
	base.MaxQueueLen = fileCfg.MaxQueueLen
	base.TickRateHz = fileCfg.TickRateHz
	base.MaxConsecutiveRollbacks = fileCfg.MaxConsecutiveRollbacks
	base.Backoff = fileCfg.Backoff
	base.Arena = fileCfg.Arena
	base.EgressWorkers = fileCfg.EgressWorkers
	base.MaxCommandsPerTick = fileCfg.MaxCommandsPerTick
	base.OverflowPolicy = command.DrainOverflowPolicy(fileCfg.OverflowPolicy)
	base.TickBudget = time.Duration(fileCfg.TickBudgetMillis) * time.Millisecond
	return base, nil
}
