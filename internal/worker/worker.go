package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/memwatch-dev/memwatch/internal/clock"
	"github.com/memwatch-dev/memwatch/internal/faultsource"
	"github.com/memwatch-dev/memwatch/internal/hashutil"
	"github.com/memwatch-dev/memwatch/internal/pagefault"
	"github.com/memwatch-dev/memwatch/internal/pageindex"
	"github.com/memwatch-dev/memwatch/internal/region"
	"github.com/memwatch-dev/memwatch/internal/ring"
	"github.com/memwatch-dev/memwatch/internal/throttle"
)

// sweepInterval governs how often Worker checks for unprotected pages
// whose writable window has expired. It is a fraction of the default writable window so
// that re-protection latency stays a small part of the window itself.
const sweepInterval = 1 * time.Millisecond

// Worker drains the fault ring, confirms changes against each faulted
// page's linked regions, and re-arms write protection once a page's
// writable window closes (spec.md §4.5).
type Worker struct {
	Ring      *ring.Ring
	Index     *pageindex.Index
	Registry  *region.Registry
	Source    faultsource.Source // nil when running poll-only
	Throttle  *throttle.Controller
	Engine    *Engine
	Window    time.Duration
	PageSize  int
	Log       *zap.Logger
}

// Run drains the ring and sweeps for writable-window expiry until ctx is
// cancelled. It returns once the ring has been fully drained after
// cancellation, so callers can rely on "no event for an already-observed
// fault is lost on shutdown" (spec.md §4.8).
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.sweep()
			w.drainAvailable()
		}
	}
}

// drainAvailable pops every record currently published without blocking.
func (w *Worker) drainAvailable() {
	for {
		pf, ok := w.Ring.Pop()
		if !ok {
			return
		}
		w.process(pf)
	}
}

// drain is drainAvailable's shutdown variant: it keeps popping until the
// ring reports empty, tolerating the brief window where a producer has
// claimed a slot but not yet published it.
func (w *Worker) drain() {
	empty := 0
	for empty < 3 {
		pf, ok := w.Ring.Pop()
		if !ok {
			empty++
			time.Sleep(time.Millisecond)
			continue
		}
		empty = 0
		w.process(pf)
	}
}

// process confirms a single fault record against its page's linked
// regions, emitting an event for every region whose content actually
// changed (spec.md §4.5 steps a-d). A page fault with no surviving linked
// regions (the page's last region was unwatched between fault and drain)
// is silently dropped.
func (w *Worker) process(pf pagefault.PageFault) {
	entry, ids := w.Index.Get(pf.PageBase)
	if entry == nil {
		return
	}

	// The fault source already lifted OS write protection on this page to
	// let the faulting store complete (spec.md §4.4 step 4); mirror that
	// here so sweep() observes the real state and re-arms it.
	entry.SetProtected(false)

	entry.SetPending(true)
	defer entry.SetPending(false)

	now := clock.NowNanos()
	shouldPoll := w.Throttle.OnFault(entry, now)

	for _, id := range ids {
		tr, ok := w.Registry.Get(id)
		if !ok {
			continue
		}

		newHash := hashutil.Sum64(tr.Bytes())
		if ev := w.Engine.Check(tr, newHash, pf.FaultIP, pf.ThreadID, pf.TimestampNs); ev != nil {
			entry.SetLastChangeNs(now)
		}

		if shouldPoll {
			tr.SetMode(region.ModePolling)
		}
	}

	// Leave the page writable: sweep() re-protects it once the writable
	// window elapses, unless the throttle controller just demoted it.
}

// sweep re-protects any fault-driven page whose writable window has
// elapsed since its last fault, skipping pages the throttle controller
// has moved to polling; a page whose re-protect fails is demoted to
// polling (spec.md §4.4 step 4, §4.6).
func (w *Worker) sweep() {
	now := clock.NowNanos()
	for _, e := range w.Index.Pages() {
		if e.Polling() {
			continue
		}
		if e.Protected() {
			continue
		}
		if now-e.LastFaultNs() < w.Window.Nanoseconds() {
			continue
		}
		if w.Source == nil {
			continue
		}
		if err := w.Source.Protect(e.PageBase, w.PageSize); err != nil {
			w.demote(e)
			continue
		}
		e.SetProtected(true)
	}
}

// demote pushes every region on a page into polling mode after a
// Protect failure, matching spec.md §4.7's "native OS-level failure ...
// downgrades the affected region(s) to polling mode rather than aborting."
func (w *Worker) demote(e *pageindex.Entry) {
	e.SetPolling(true)
	_, ids := w.Index.Get(e.PageBase)
	for _, id := range ids {
		if tr, ok := w.Registry.Get(id); ok {
			tr.SetMode(region.ModePolling)
		}
	}
	if w.Log != nil {
		w.Log.Warn("mprotect failed, demoting page to polling", zap.Uintptr("page_base", e.PageBase))
	}
}
