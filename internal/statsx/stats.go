// Package statsx holds the counters behind get_stats (spec.md §6): every
// transient-error condition the worker absorbs per spec.md §7 is counted
// here rather than surfaced to the caller.
package statsx

import "sync/atomic"

// Counters are the mutable, worker-incremented side of the stats surface.
type Counters struct {
	CallbackErrors   atomic.Uint64
	ResolverTimeouts atomic.Uint64
	MprotectFailures atomic.Uint64
	ValueStoreErrors atomic.Uint64
	OOMAtWorker      atomic.Uint64
}

// Snapshot is the point-in-time view returned by get_stats.
type Snapshot struct {
	TrackedRegions          int
	FaultDrivenRegions      int
	PollingRegions          int
	PendingFaultPages       int
	RingCapacity            int
	RingDepth               int
	DroppedEvents           uint64
	NativeOverheadBytes     uint64
	PageProtectionAvailable bool
	CallbackErrors          uint64
	ResolverTimeouts        uint64
	MprotectFailures        uint64
	ValueStoreErrors        uint64
}
