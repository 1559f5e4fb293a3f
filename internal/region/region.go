// Package region owns TrackedRegion records and the registry that
// allocates, looks up, and retires them.
//
// The growth strategy mirrors the teacher's block-device Device, which
// treats its backing slice as append-only and fixed-size per allocation;
// here the registry grows geometrically instead since the caller doesn't
// know the final region count up front (spec.md §4.1: "Registry grows
// capacity geometrically").
package region

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Mode is the detection mode a region's page currently operates under.
type Mode int32

const (
	ModeFaultDriven Mode = iota
	ModePolling
)

// ID is a process-unique, monotonically assigned, never-reused region
// identifier.
type ID uint64

var (
	// ErrInvalidArgument is returned by Watch when size == 0.
	ErrInvalidArgument = errors.New("memwatch: invalid argument")
	// ErrTooManyRegions is returned by Watch when the registry's hard cap
	// (if configured) is exhausted.
	ErrTooManyRegions = errors.New("memwatch: too many regions")
)

// TrackedRegion is the registry's record for one watched byte range.
//
// Addr and Size are immutable for the region's lifetime. LastHash, Epoch,
// mode and the fault-count window are read and written concurrently by
// the Worker, the Poll Adapter and API callers; they are therefore held
// behind atomics rather than a mutex.
type TrackedRegion struct {
	ID           ID
	AdapterID    uint32
	Addr         uintptr
	Size         uintptr
	Name         string
	MetadataRef  int64

	lastHash         atomic.Uint64
	epoch            atomic.Uint64
	mode             atomic.Int32
	faultCountWindow atomic.Uint32

	retired atomic.Bool
}

// LastHash returns the hash recorded at (or after) the last emitted event.
func (r *TrackedRegion) LastHash() uint64 { return r.lastHash.Load() }

// SetLastHash stores the hash captured for the most recent emitted event.
func (r *TrackedRegion) SetLastHash(h uint64) { r.lastHash.Store(h) }

// Epoch returns the region's current change-epoch.
func (r *TrackedRegion) Epoch() uint64 { return r.epoch.Load() }

// NextEpoch increments and returns the region's change-epoch; used to
// namespace large-value storage keys (spec.md §3, §4.5).
func (r *TrackedRegion) NextEpoch() uint64 { return r.epoch.Add(1) }

// Mode returns the region's current detection mode.
func (r *TrackedRegion) Mode() Mode { return Mode(r.mode.Load()) }

// SetMode updates the region's detection mode.
func (r *TrackedRegion) SetMode(m Mode) { r.mode.Store(int32(m)) }

// Retired reports whether Unwatch has already been called for this region.
func (r *TrackedRegion) Retired() bool { return r.retired.Load() }

// Bytes returns the region's live byte range. The caller owns the backing
// memory; the registry only reads it (spec.md §3, Ownership).
func (r *TrackedRegion) Bytes() []byte {
	return unsafeRegionBytes(r.Addr, r.Size)
}

// Registry owns every TrackedRegion for one Core instance.
type Registry struct {
	mu      sync.Mutex // serializes allocation/growth only
	slots   atomic.Pointer[[]*TrackedRegion]
	nextID  atomic.Uint64
	maxSize int // 0 means unbounded
}

// NewRegistry creates an empty registry. maxRegions <= 0 means unbounded.
func NewRegistry(maxRegions int) *Registry {
	reg := &Registry{maxSize: maxRegions}
	empty := make([]*TrackedRegion, 0, 64)
	reg.slots.Store(&empty)
	return reg
}

// Watch allocates a new region. region_id is the next unused slot and is
// never reused, even after Unwatch, for the lifetime of the Registry.
func (reg *Registry) Watch(addr, size uintptr, adapterID uint32, name string, metadataRef int64) (*TrackedRegion, error) {
	if size == 0 {
		return nil, ErrInvalidArgument
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	cur := *reg.slots.Load()
	if reg.maxSize > 0 && len(cur) >= reg.maxSize {
		return nil, ErrTooManyRegions
	}

	tr := &TrackedRegion{
		ID:          ID(reg.nextID.Add(1)),
		AdapterID:   adapterID,
		Addr:        addr,
		Size:        size,
		Name:        name,
		MetadataRef: metadataRef,
	}

	grown := make([]*TrackedRegion, len(cur)+1)
	copy(grown, cur)
	grown[len(cur)] = tr
	reg.slots.Store(&grown)

	return tr, nil
}

// Get looks up a region by slot index without taking a lock: regions are
// never reallocated in place once appended, so reading through the
// current slice snapshot is always consistent with some past state of the
// registry (spec.md §4.1).
func (reg *Registry) Get(id ID) (*TrackedRegion, bool) {
	slots := *reg.slots.Load()
	idx := int(id) - 1
	if idx < 0 || idx >= len(slots) {
		return nil, false
	}
	tr := slots[idx]
	if tr == nil || tr.Retired() {
		return nil, false
	}
	return tr, true
}

// Unwatch retires a region. It is idempotent: calling it twice, or with a
// stale/unknown id, returns false on the second and later calls.
func (reg *Registry) Unwatch(id ID) bool {
	tr, ok := reg.Get(id)
	if !ok {
		return false
	}
	return tr.retired.CompareAndSwap(false, true)
}

// Snapshot returns the live (non-retired) regions at the time of the call.
// Used by the Poll Adapter, which must rehash every registered region on
// each cadence tick.
func (reg *Registry) Snapshot() []*TrackedRegion {
	slots := *reg.slots.Load()
	out := make([]*TrackedRegion, 0, len(slots))
	for _, tr := range slots {
		if tr != nil && !tr.Retired() {
			out = append(out, tr)
		}
	}
	return out
}

// Count returns the number of currently live regions.
func (reg *Registry) Count() int {
	slots := *reg.slots.Load()
	n := 0
	for _, tr := range slots {
		if tr != nil && !tr.Retired() {
			n++
		}
	}
	return n
}
