package murk

import (
	"testing"

	"github.com/dm-vev/murk/propagator"
	"github.com/dm-vev/murk/space"
)

func testSpace(t *testing.T) space.Space {
	t.Helper()
	g, err := space.NewGrid([]uint32{4}, space.GridBoundaryAbsorb)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g
}

func baseConfig(t *testing.T) Config {
	return Config{
		Space:       testSpace(t),
		Fields:      []FieldDef{{ID: 1, Name: "f", Shape: Shape{Components: 1}, Mutability: PerTick}},
		Propagators: []propagator.Propagator{propagator.Diffusion{Field: 1}},
		Dt:          1.0,
		MaxQueueLen: 8,
		Arena:       ArenaConfig{SegmentSize: 1024, MaxSegments: 3},
	}
}

func TestConfigValidateRejectsMissingSpace(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Space = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate accepted a nil space")
	}
}

func TestConfigValidateRejectsNonPositiveDt(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Dt = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate accepted dt=0")
	}
}

func TestConfigValidateRejectsBadArenaSegmentSize(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Arena.SegmentSize = 100 // not a power of two, and below the 1024 floor
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate accepted a non-power-of-two segment size")
	}
}

func TestConfigWithDefaultsFillsGaps(t *testing.T) {
	cfg := baseConfig(t).withDefaults()
	if cfg.MaxConsecutiveRollbacks != 3 {
		t.Fatalf("MaxConsecutiveRollbacks default = %d; want 3", cfg.MaxConsecutiveRollbacks)
	}
	if cfg.Log == nil {
		t.Fatalf("Log default not filled in")
	}
	if cfg.RingSize != 8 {
		t.Fatalf("RingSize default = %d; want 8", cfg.RingSize)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Dt = -1
	if _, err := New(cfg); err == nil {
		t.Fatalf("New accepted an invalid config")
	}
}
