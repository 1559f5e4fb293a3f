// Package poll implements the polling fallback and hot-page detector from
// spec.md §4.7: periodic rehash-and-compare, used either as the sole
// detection mechanism (no fault source available) or alongside a fault
// source for pages the throttle controller has demoted.
package poll

import (
	"context"
	"time"

	"github.com/memwatch-dev/memwatch/internal/clock"
	"github.com/memwatch-dev/memwatch/internal/event"
	"github.com/memwatch-dev/memwatch/internal/faultsource"
	"github.com/memwatch-dev/memwatch/internal/hashutil"
	"github.com/memwatch-dev/memwatch/internal/pageindex"
	"github.com/memwatch-dev/memwatch/internal/region"
	"github.com/memwatch-dev/memwatch/internal/throttle"
	"github.com/memwatch-dev/memwatch/internal/worker"
)

// Defaults from spec.md §6.
const (
	DefaultGlobalCadence = 100 * time.Millisecond
	DefaultHotCadence    = 10 * time.Millisecond
)

// Adapter runs one or both of: a global cadence that rehashes every
// registered region (used when no fault source exists at all), and a hot
// cadence that rehashes only the regions on pages the throttle controller
// has demoted to polling.
type Adapter struct {
	Registry *region.Registry
	Index    *pageindex.Index
	Throttle *throttle.Controller
	Engine   *worker.Engine
	Source   faultsource.Source // nil when polling is the sole detection mode

	GlobalCadence time.Duration
	HotCadence    time.Duration
	PageSize      int
}

// New returns an Adapter configured with spec.md §6's default cadences.
func New(reg *region.Registry, idx *pageindex.Index, th *throttle.Controller, eng *worker.Engine, src faultsource.Source, pageSize int) *Adapter {
	return &Adapter{
		Registry:      reg,
		Index:         idx,
		Throttle:      th,
		Engine:        eng,
		Source:        src,
		GlobalCadence: DefaultGlobalCadence,
		HotCadence:    DefaultHotCadence,
		PageSize:      pageSize,
	}
}

// Run drives both cadences until ctx is cancelled. When Source is nil,
// global-fallback mode is the only one that does useful work (hot-page
// mode never has a page to promote back to, since there's no protection
// to re-arm); it still runs, harmlessly, against an always-empty polling
// set.
func (a *Adapter) Run(ctx context.Context) {
	global := time.NewTicker(a.GlobalCadence)
	hot := time.NewTicker(a.HotCadence)
	defer global.Stop()
	defer hot.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-global.C:
			if a.Source == nil {
				a.sweepGlobal()
			}
		case <-hot.C:
			a.sweepHot()
		}
	}
}

// sweepGlobal rehashes every live region regardless of page state. This is
// the sole detection path when no fault source is available on the host
// platform (spec.md §4.7, SPEC_FULL.md §13).
func (a *Adapter) sweepGlobal() {
	now := clock.NowNanos()
	for _, tr := range a.Registry.Snapshot() {
		newHash := hashutil.Sum64(tr.Bytes())
		a.Engine.Check(tr, newHash, 0, 0, now)
	}
}

// sweepHot rehashes only the regions linked to pages currently in polling
// mode, and promotes a page back to fault-driven detection once it has
// been quiet for the throttle controller's cooldown.
func (a *Adapter) sweepHot() {
	now := clock.NowNanos()
	for _, e := range a.Index.Pages() {
		if !e.Polling() {
			continue
		}

		changed := false
		_, ids := a.Index.Get(e.PageBase)
		for _, id := range ids {
			tr, ok := a.Registry.Get(id)
			if !ok {
				continue
			}
			newHash := hashutil.Sum64(tr.Bytes())
			if ev := a.Engine.Check(tr, newHash, 0, 0, now); ev != nil {
				changed = true
			}
		}

		if changed {
			a.Throttle.OnChangeWhilePolling(e, now)
			continue
		}

		if a.Throttle.OnQuietPoll(e, now) {
			a.promote(e, ids)
		}
	}
}

// SweepOnce rehashes live regions on demand and returns up to max emitted
// events, backing the check_changes ABI entry's "polling-mode
// convenience" (spec.md §6). It reuses the same Engine as the background
// cadences, so events it produces still reach the registered callback.
func (a *Adapter) SweepOnce(max int) []*event.Event {
	now := clock.NowNanos()
	out := make([]*event.Event, 0, max)

	for _, tr := range a.Registry.Snapshot() {
		if len(out) >= max {
			break
		}
		newHash := hashutil.Sum64(tr.Bytes())
		if ev := a.Engine.Check(tr, newHash, 0, 0, now); ev != nil {
			out = append(out, ev)
		}
	}

	return out
}

// promote re-arms OS write protection on a page whose cooldown has
// elapsed and flips its linked regions back to fault-driven mode. If
// re-arming fails, or there is no fault source, the page stays in
// polling mode.
func (a *Adapter) promote(e *pageindex.Entry, ids []region.ID) {
	if a.Source == nil {
		e.SetPolling(true)
		return
	}

	if err := a.Source.Protect(e.PageBase, a.PageSize); err != nil {
		e.SetPolling(true)
		return
	}

	e.SetProtected(true)
	for _, id := range ids {
		if tr, ok := a.Registry.Get(id); ok {
			tr.SetMode(region.ModeFaultDriven)
		}
	}
}
