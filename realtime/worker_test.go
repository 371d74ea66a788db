package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dm-vev/murk/arena"
	"github.com/dm-vev/murk/space"
)

type collectingExtractor struct {
	mu     sync.Mutex
	groups [][]uint32
	fail   bool
}

func (c *collectingExtractor) ExtractGroup(_ *arena.Snapshot, group []uint32) error {
	if c.fail {
		return errors.New("boom")
	}
	c.mu.Lock()
	c.groups = append(c.groups, group)
	c.mu.Unlock()
	return nil
}

func TestWorkerPoolRunErrorsOnEmptyRing(t *testing.T) {
	ring := NewRing(4)
	pool := NewWorkerPool(ring, 2)
	ext := &collectingExtractor{}
	plan := regionPlanOf([]uint32{0, 1})
	if err := pool.Run(context.Background(), plan, ext); !errors.Is(err, ErrRingEmpty) {
		t.Fatalf("Run on empty ring = %v; want ErrRingEmpty", err)
	}
}

func TestWorkerPoolRunVisitsEveryGroup(t *testing.T) {
	ring := NewRing(4)
	ring.Publish(&arena.Snapshot{}, 1)
	pool := NewWorkerPool(ring, 2)
	ext := &collectingExtractor{}
	plan := regionPlanOf([]uint32{0, 1}, []uint32{2, 3})
	if err := pool.Run(context.Background(), plan, ext); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ext.groups) != 2 {
		t.Fatalf("groups visited = %d; want 2", len(ext.groups))
	}
	// every epoch must be unpinned once the pool's Run returns, so a
	// reclaimer never sees a stale pin from a finished worker.
	if min, ok := MinPinnedGeneration(pool.Epochs()); ok {
		t.Fatalf("epoch still pinned after Run returned: generation %d", min)
	}
}

func TestWorkerPoolRunPropagatesExtractionError(t *testing.T) {
	ring := NewRing(4)
	ring.Publish(&arena.Snapshot{}, 1)
	pool := NewWorkerPool(ring, 1)
	ext := &collectingExtractor{fail: true}
	plan := regionPlanOf([]uint32{0})
	if err := pool.Run(context.Background(), plan, ext); err == nil {
		t.Fatalf("Run succeeded with a failing extractor")
	}
}

func regionPlanOf(groups ...[]uint32) space.RegionPlan {
	return space.RegionPlan{Groups: groups}
}
