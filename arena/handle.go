package arena

import (
	"github.com/brentp/intintmap"
)

// FieldId names a field within a world. It is stable for the world's
// lifetime.
type FieldId uint32

// FieldHandle is an opaque locator resolving to a contiguous range of floats
// in a specific arena buffer. A handle is only valid when presented to the
// buffer (SegmentList) that issued it; FieldHandle values are interchanged
// between the staging and published descriptors across a publish, but always
// resolved against the descriptor that currently owns them.
type FieldHandle struct {
	Segment int
	Offset  int
	Length  int
}

// FieldMeta carries the shape information a descriptor entry needs to
// interpret the raw float range addressed by a FieldHandle.
type FieldMeta struct {
	// Components is the number of floats the entry's range holds: the
	// field's per-cell component count (1 for a scalar field, N for a
	// fixed-dim vector field, N for an N-category one-hot categorical field)
	// times the number of cells the owning world allocated it for.
	Components int
}

type descriptorEntry struct {
	handle FieldHandle
	meta   FieldMeta
}

// FieldDescriptor maps FieldId to (FieldHandle, FieldMeta) for one arena
// buffer. FieldIds within a descriptor are unique: Set on an id that already
// has an entry replaces that entry. Lookups run through an int->int map
// (github.com/brentp/intintmap) rather than a generic Go map, since FieldId
// and the descriptor's internal slot index are both small integers and this
// is the hottest read path in the engine (resolved on every Snapshot.Read).
type FieldDescriptor struct {
	index   *intintmap.Map
	entries []descriptorEntry
	ids     []FieldId
}

// NewFieldDescriptor constructs an empty descriptor with room for the given
// number of expected fields.
func NewFieldDescriptor(expected int) *FieldDescriptor {
	if expected < 1 {
		expected = 1
	}
	return &FieldDescriptor{
		index:   intintmap.New(expected, 0.6),
		entries: make([]descriptorEntry, 0, expected),
		ids:     make([]FieldId, 0, expected),
	}
}

// Set installs or replaces the entry for id. It is used both at initial
// construction (where a duplicate is a caller error, checked by
// ValidateFieldDefs beforehand) and during normal operation, where a Sparse
// field's handle changes on every copy-on-write reallocation.
func (d *FieldDescriptor) Set(id FieldId, h FieldHandle, m FieldMeta) {
	key := int64(id)
	if slot, ok := d.index.Get(key); ok {
		d.entries[slot] = descriptorEntry{handle: h, meta: m}
		return
	}
	slot := int64(len(d.entries))
	d.entries = append(d.entries, descriptorEntry{handle: h, meta: m})
	d.ids = append(d.ids, id)
	d.index.Put(key, slot)
}

// Get resolves id to its handle and metadata. ok is false if id has no entry
// (never allocated in this descriptor's buffer, e.g. a Static field looked
// up in a PerTick descriptor).
func (d *FieldDescriptor) Get(id FieldId) (FieldHandle, FieldMeta, bool) {
	slot, ok := d.index.Get(int64(id))
	if !ok {
		return FieldHandle{}, FieldMeta{}, false
	}
	e := d.entries[slot]
	return e.handle, e.meta, true
}

// Has reports whether id has an entry in the descriptor.
func (d *FieldDescriptor) Has(id FieldId) bool {
	_, ok := d.index.Get(int64(id))
	return ok
}

// Ids returns the set of FieldIds currently present, in insertion order.
func (d *FieldDescriptor) Ids() []FieldId {
	out := make([]FieldId, len(d.ids))
	copy(out, d.ids)
	return out
}

// Clone returns a deep copy of the descriptor, used when staging and
// published descriptors must diverge (a Sparse write rewrites the staging
// descriptor's entry without touching the published one).
func (d *FieldDescriptor) Clone() *FieldDescriptor {
	out := NewFieldDescriptor(max(1, len(d.entries)))
	for i, id := range d.ids {
		out.Set(id, d.entries[i].handle, d.entries[i].meta)
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
