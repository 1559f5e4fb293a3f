package pageindex

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// pageState tracks the "protected" and "has-fault-pending" flags for
// every indexed page by a compact slot number, the same role the
// teacher's block.Bitset plays for per-block dirty flags
// (internal/block/bitset.go, pkg/block/bitset.go), generalized here to
// two independent flags per page instead of one per block.
//
// The interface lists the per-slot operations a representation provides
// (the teacher's own comment on block.HashMap notes "we may want to use a
// different (compressed) bitset implementation... based on the
// performance"). Entry and Index hold the concrete *bitsetState, so
// swapping the representation also changes their state fields.
type pageState interface {
	protected(slot uint) bool
	setProtected(slot uint, v bool)
	pending(slot uint) bool
	setPending(slot uint, v bool)
}

// bitsetState is the default pageState. A single RWMutex guards both
// bitsets: flag flips are rare enough next to lookups that one lock is
// simpler than per-bit atomics, and nothing on the fault-delivery path
// (the ring push in the uffd handler goroutine) touches it directly —
// only the Worker, Watch, and the Poll Adapter's promotion flip flags.
type bitsetState struct {
	mu            sync.RWMutex
	protectedBits bitset.BitSet
	pendingBits   bitset.BitSet
}

func newBitsetState() *bitsetState {
	return &bitsetState{}
}

func (s *bitsetState) protected(slot uint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protectedBits.Test(slot)
}

func (s *bitsetState) setProtected(slot uint, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.protectedBits.Set(slot)
	} else {
		s.protectedBits.Clear(slot)
	}
}

func (s *bitsetState) pending(slot uint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingBits.Test(slot)
}

func (s *bitsetState) setPending(slot uint, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.pendingBits.Set(slot)
	} else {
		s.pendingBits.Clear(slot)
	}
}

// protectedCount and pendingCount count set flags with bitset.Count(), a
// word-popcount scan, cheaper than visiting every Entry individually once
// the page count is large. pendingCount backs GetStats' PendingFaultPages;
// protectedCount is not reported in stats.
func (s *bitsetState) protectedCount() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protectedBits.Count()
}

func (s *bitsetState) pendingCount() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingBits.Count()
}
