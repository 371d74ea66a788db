package arena

import "sync/atomic"

// StaticPool holds Static-mutability fields: allocated once at world
// construction, released at world destruction, and read-shared across every
// tick. In the batched lockstep engine, a single StaticPool may be shared by
// reference across N world instances that declare the same field layout,
// which is why it carries its own reference count rather than relying on the
// Go garbage collector alone to decide when to log a release.
type StaticPool struct {
	segments   *SegmentList
	descriptor *FieldDescriptor
	refCount   atomic.Int64
}

// NewStaticPool constructs a pool with room for the given segment size and
// maximum segment count, used only for Static fields.
func NewStaticPool(segmentSize, maxSegments, expectedFields int) *StaticPool {
	p := &StaticPool{
		segments:   NewSegmentList(segmentSize, maxSegments),
		descriptor: NewFieldDescriptor(expectedFields),
	}
	p.refCount.Store(1)
	return p
}

// Allocate bump-allocates storage for a Static field and installs its entry
// in the pool's descriptor. It is only ever called during world
// construction, before any reader can observe the pool.
func (p *StaticPool) Allocate(id FieldId, components int) error {
	segIndex, offset, err := p.segments.Allocate(components)
	if err != nil {
		return err
	}
	p.descriptor.Set(id, FieldHandle{Segment: segIndex, Offset: offset, Length: components}, FieldMeta{Components: components})
	return nil
}

// Descriptor returns the pool's field descriptor.
func (p *StaticPool) Descriptor() *FieldDescriptor { return p.descriptor }

// Read resolves a Static field to its live slice.
func (p *StaticPool) Read(id FieldId) ([]float64, bool) {
	h, _, ok := p.descriptor.Get(id)
	if !ok {
		return nil, false
	}
	return p.segments.Slice(h.Segment, h.Offset, h.Length)
}

// BytesAllocated returns the pool's live byte footprint, for the arena's
// memory-usage metric.
func (p *StaticPool) BytesAllocated() int {
	return p.segments.AllocatedBytes()
}

// Acquire increments the pool's reference count, returning the pool itself
// for chained construction (world_B := pool.Acquire()).
func (p *StaticPool) Acquire() *StaticPool {
	p.refCount.Add(1)
	return p
}

// Release decrements the reference count. It reports whether this was the
// last reference; callers that own the last reference are responsible for
// dropping it (Go's GC reclaims the backing arrays once unreferenced, there
// is no explicit free, but batched-engine bookkeeping needs to know when the
// shared pool is no longer attached to any world).
func (p *StaticPool) Release() (last bool) {
	return p.refCount.Add(-1) == 0
}
