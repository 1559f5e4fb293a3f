// Package worker implements the change-confirmation and event-materialization
// logic from spec.md §4.5, shared by the fault-driven Worker and the
// poll-driven detector in internal/poll.
package worker

import (
	"sync"
	"sync/atomic"

	"github.com/memwatch-dev/memwatch/internal/callbackbox"
	"github.com/memwatch-dev/memwatch/internal/event"
	"github.com/memwatch-dev/memwatch/internal/region"
	"github.com/memwatch-dev/memwatch/internal/resolver"
	"github.com/memwatch-dev/memwatch/internal/statsx"
	"github.com/memwatch-dev/memwatch/internal/valuestore"
)

type prevState struct {
	preview    []byte
	fullValue  []byte // nil unless the region is small enough to retain in full
	storageKey string // nil/"" unless the prior emission stored an oversized value
}

// Engine compares a region's freshly computed hash with its last one, and
// on a confirmed change, materializes and delivers a ChangeEvent. It holds no notion of "how was this triggered"
// (fault vs. poll) — both paths feed it the same inputs.
type Engine struct {
	Resolvers      *resolver.Table
	Store          valuestore.Store
	Callback       *callbackbox.Box
	Counters       *statsx.Counters
	SmallThreshold uintptr

	seq  atomic.Uint64
	mu   sync.Mutex
	prev map[region.ID]*prevState
}

// NewEngine constructs an Engine. smallThreshold is spec.md §6's small
// inline threshold (default 4096 bytes).
func NewEngine(resolvers *resolver.Table, store valuestore.Store, cb *callbackbox.Box, counters *statsx.Counters, smallThreshold uintptr) *Engine {
	return &Engine{
		Resolvers:      resolvers,
		Store:          store,
		Callback:       cb,
		Counters:       counters,
		SmallThreshold: smallThreshold,
		prev:           make(map[region.ID]*prevState),
	}
}

// Prime captures tr's content as the retained "prior content" at the
// moment watch() returns, without emitting an event. Without this, the
// very first confirmed change for a region would have nothing to report
// as old_value/old_preview even though the baseline was, in fact,
// observed (spec.md §8 scenario 1 expects old_value on the first change).
// Large regions are not written to the value store here: an unwritten,
// never-changed baseline getting a storage key would be wasted work, so
// a region's first reported change simply has no storage_key_old.
func (e *Engine) Prime(tr *region.TrackedRegion) {
	data := tr.Bytes()

	previewLen := len(data)
	if previewLen > event.PreviewSize {
		previewLen = event.PreviewSize
	}
	ps := &prevState{preview: append([]byte(nil), data[:previewLen]...)}

	if uintptr(len(data)) <= e.SmallThreshold {
		ps.fullValue = append([]byte(nil), data...)
	}

	e.mu.Lock()
	e.prev[tr.ID] = ps
	e.mu.Unlock()
}

// Check compares newHash (the caller's hash of tr's current bytes) with
// tr's last hash and, if changed, materializes and delivers an event.
// faultIP/threadID are zero for poll-detected changes (spec.md §4.7:
// "where.fault_ip is null in this mode"). It returns the emitted event,
// or nil if the hash was unchanged (a false positive from page sharing,
// or a no-op poll tick).
func (e *Engine) Check(tr *region.TrackedRegion, newHash uint64, faultIP uintptr, threadID int32, timestampNs int64) *event.Event {
	if newHash == tr.LastHash() {
		return nil
	}

	data := tr.Bytes()
	ev := e.materialize(tr, data, faultIP, threadID, timestampNs)

	tr.SetLastHash(newHash)

	invoked, panicked := e.Callback.Invoke(ev)
	if panicked {
		e.Counters.CallbackErrors.Add(1)
	}
	_ = invoked

	return ev
}

func (e *Engine) materialize(tr *region.TrackedRegion, data []byte, faultIP uintptr, threadID int32, timestampNs int64) *event.Event {
	epoch := tr.NextEpoch()

	newPreviewLen := len(data)
	if newPreviewLen > event.PreviewSize {
		newPreviewLen = event.PreviewSize
	}
	newPreview := append([]byte(nil), data[:newPreviewLen]...)

	ev := &event.Event{
		Seq:          e.seq.Add(1),
		TimestampNs:  timestampNs,
		AdapterID:    tr.AdapterID,
		RegionID:     uint64(tr.ID),
		VariableName: tr.Name,
		HowBig:       tr.Size,
		NewPreview:   newPreview,
		MetadataRef:  tr.MetadataRef,
		Where: event.Where{
			FaultIP:  faultIP,
			ThreadID: threadID,
		},
	}

	if uintptr(len(data)) <= e.SmallThreshold {
		ev.NewValue = append([]byte(nil), data...)
	} else {
		key := valuestore.Key(tr.AdapterID, uint64(tr.ID), epoch)
		if err := e.Store.Put(key, data); err != nil {
			e.Counters.ValueStoreErrors.Add(1)
		} else {
			ev.StorageKeyNew = key
		}
	}

	e.fillOld(tr.ID, ev)
	e.retain(tr.ID, ev)

	loc, hadResolver, timedOut := e.Resolvers.Resolve(tr.AdapterID, faultIP)
	if timedOut {
		e.Counters.ResolverTimeouts.Add(1)
	}
	if hadResolver {
		ev.Where.File = loc.File
		ev.Where.Function = loc.Function
		ev.Where.Line = loc.Line
	}

	return ev
}

// fillOld populates Old* from whatever was retained from the region's prior
// emission. The invariant from spec.md §3 ("old_preview present iff the
// worker has retained the prior content") holds naturally here: an event
// for a region that was never primed and has not emitted before finds
// nothing in e.prev and leaves Old* unset.
func (e *Engine) fillOld(id region.ID, ev *event.Event) {
	e.mu.Lock()
	prev, ok := e.prev[id]
	e.mu.Unlock()

	if !ok {
		return
	}

	ev.OldPreview = prev.preview
	ev.OldValue = prev.fullValue
	ev.StorageKeyOld = prev.storageKey
}

func (e *Engine) retain(id region.ID, ev *event.Event) {
	ps := &prevState{preview: ev.NewPreview, storageKey: ev.StorageKeyNew}
	if ev.NewValue != nil {
		ps.fullValue = ev.NewValue
	}

	e.mu.Lock()
	e.prev[id] = ps
	e.mu.Unlock()
}

// Forget drops retained snapshot state for a region. Called on Unwatch so
// a stale region's content cannot leak into a future region_id's event
// (region ids are never reused, so this is only a memory-hygiene concern).
func (e *Engine) Forget(id region.ID) {
	e.mu.Lock()
	delete(e.prev, id)
	e.mu.Unlock()
}
