// Package pageindex maps a page-aligned base address to the regions that
// touch it, reversing the page granularity of the OS write-protection
// primitive back to region granularity.
//
// spec.md §4.2 describes the reference implementation's table as
// "linear-probed open-addressed," a constraint that exists because the
// reference core's allocator cannot call into a general-purpose hash map
// from inside constrained contexts. None of that mutation happens on
// memwatch's fault path (the fault source never touches the index; the
// Worker mirrors a lifted protection onto Entry.SetProtected); all structural mutation
// happens in the Worker and the Registry, so a regular Go map guarded by
// a mutex gives the same contract (spec.md §5: "one mutex protects
// structural mutation; read-only lookup under the same lock... upgrade to
// RW-lock is an optimization, not a requirement") without hand-rolling a
// probing scheme Go's runtime already solves well.
package pageindex

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/memwatch-dev/memwatch/internal/region"
)

// Entry is one page's worth of tracking state.
type Entry struct {
	PageBase uintptr

	// Regions is an owned slice of region IDs touching this page, not an
	// intrusive linked list (spec.md §9 redesign note).
	Regions []region.ID

	// slot is this page's position in the index's shared bitset state.
	// Assigned once, at creation, and never reused.
	slot  uint
	state *bitsetState

	lastFaultNs   atomic.Int64
	faultRateEWMA atomic.Uint64 // math.Float64bits
	polling       atomic.Bool
	lastChangeNs  atomic.Int64
}

// Protected reports whether the page is currently OS-write-protected.
func (e *Entry) Protected() bool { return e.state.protected(e.slot) }

// SetProtected updates the page's protection flag. The fault source lifts
// OS-level write protection the instant a fault arrives, and the worker
// mirrors that onto this flag when it pops the fault record; the worker
// flips it back to true once it re-arms (spec.md §4.4 step 4).
func (e *Entry) SetProtected(v bool) { e.state.setProtected(e.slot, v) }

// Pending reports whether a fault on this page has been popped off the
// ring but not yet confirmed against its linked regions.
func (e *Entry) Pending() bool { return e.state.pending(e.slot) }

// SetPending marks or clears the page's in-flight-fault flag. The Worker
// sets it before confirming a popped fault and clears it once confirmation
// finishes, so a page stuck mid-confirmation is visible in stats even
// though nothing here affects correctness of the confirmation itself.
func (e *Entry) SetPending(v bool) { e.state.setPending(e.slot, v) }

// LastFaultNs returns the timestamp of the most recent fault observed on
// this page.
func (e *Entry) LastFaultNs() int64 { return e.lastFaultNs.Load() }

// SetLastFaultNs records the timestamp of the most recent fault.
func (e *Entry) SetLastFaultNs(ns int64) { e.lastFaultNs.Store(ns) }

// FaultRateEWMA returns the page's exponential moving average of faults
// per second, maintained by the throttle controller.
func (e *Entry) FaultRateEWMA() float64 {
	return math.Float64frombits(e.faultRateEWMA.Load())
}

// SetFaultRateEWMA updates the page's fault-rate estimate.
func (e *Entry) SetFaultRateEWMA(v float64) {
	e.faultRateEWMA.Store(math.Float64bits(v))
}

// Polling reports whether the throttle controller has demoted this page
// to polling mode.
func (e *Entry) Polling() bool { return e.polling.Load() }

// SetPolling flips the page between fault-driven and polling mode.
func (e *Entry) SetPolling(v bool) { e.polling.Store(v) }

// LastChangeNs returns the timestamp of the last observed fault or
// poll-detected change on this page, used for cooldown tracking.
func (e *Entry) LastChangeNs() int64 { return e.lastChangeNs.Load() }

// SetLastChangeNs records a fault or poll-detected change.
func (e *Entry) SetLastChangeNs(ns int64) { e.lastChangeNs.Store(ns) }

// Index is the page→regions map.
type Index struct {
	mu       sync.Mutex
	entries  map[uintptr]*Entry
	state    *bitsetState
	nextSlot uint
}

// New creates an empty page index.
func New() *Index {
	return &Index{
		entries: make(map[uintptr]*Entry),
		state:   newBitsetState(),
	}
}

// Link adds a region to every page's entry in pageBases, creating entries
// as needed. Called by Watch once per page the new region intersects
// (spec.md §4.2).
func (idx *Index) Link(pageBases []uintptr, id region.ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, pb := range pageBases {
		e, ok := idx.entries[pb]
		if !ok {
			e = &Entry{PageBase: pb, slot: idx.nextSlot, state: idx.state}
			idx.nextSlot++
			idx.entries[pb] = e
		}
		e.Regions = append(e.Regions, id)
	}
}

// Unlink removes a region from a page's entry. If the entry's region list
// becomes empty, the slot is cleared and Unlink reports that the page
// should be made OS-writable (spec.md §4.1, §4.2).
func (idx *Index) Unlink(pageBase uintptr, id region.ID) (nowEmpty bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[pageBase]
	if !ok {
		return false
	}

	for i, r := range e.Regions {
		if r == id {
			e.Regions = append(e.Regions[:i], e.Regions[i+1:]...)
			break
		}
	}

	if len(e.Regions) == 0 {
		delete(idx.entries, pageBase)
		return true
	}

	return false
}

// Get returns the entry and linked region ids for a faulted page.
func (idx *Index) Get(pageBase uintptr) (*Entry, []region.ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[pageBase]
	if !ok {
		return nil, nil
	}

	out := make([]region.ID, len(e.Regions))
	copy(out, e.Regions)
	return e, out
}

// Pages returns every currently-tracked page entry. Used by the Worker's
// writable-window sweep and by the Poll Adapter's hot-page sweep.
func (idx *Index) Pages() []*Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	out := make([]*Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	return out
}

// Len reports how many distinct pages are currently indexed.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// PendingFaultCount reports how many pages currently have a fault popped
// off the ring but not yet confirmed, for GetStats diagnostics.
func (idx *Index) PendingFaultCount() int {
	return int(idx.state.pendingCount())
}
