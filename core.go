// Package memwatch is a language-agnostic memory change watcher: it
// registers caller-supplied byte ranges ("regions") and, whenever any
// byte inside a region changes, emits a structured ChangeEvent describing
// what changed, when, where, and how big the change was.
//
// A Core owns every piece of state for one watched process. Most hosts
// only need the package-level Init/Watch/SetCallback/Shutdown wrappers,
// which dispatch to a single process-wide Core the way the source
// system's C ABI expects; embedders that want more than one independent
// instance can call New directly.
package memwatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/memwatch-dev/memwatch/internal/callbackbox"
	"github.com/memwatch-dev/memwatch/internal/faultsource"
	"github.com/memwatch-dev/memwatch/internal/hashutil"
	"github.com/memwatch-dev/memwatch/internal/logging"
	"github.com/memwatch-dev/memwatch/internal/pageindex"
	"github.com/memwatch-dev/memwatch/internal/poll"
	"github.com/memwatch-dev/memwatch/internal/region"
	"github.com/memwatch-dev/memwatch/internal/resolver"
	"github.com/memwatch-dev/memwatch/internal/ring"
	"github.com/memwatch-dev/memwatch/internal/statsx"
	"github.com/memwatch-dev/memwatch/internal/throttle"
	"github.com/memwatch-dev/memwatch/internal/valuestore"
	"github.com/memwatch-dev/memwatch/internal/worker"
)

// Core is one instance of the change-detection pipeline: Registry, Page
// Index, Ring, Fault Handler (when available), Worker, Throttle
// Controller, and Poll Adapter, wired together per spec.md §2's
// dependency order.
type Core struct {
	id uuid.UUID
	cfg Config
	log *zap.Logger

	registry  *region.Registry
	index     *pageindex.Index
	ring      *ring.Ring
	source    faultsource.Source // nil when running poll-only
	throttle  *throttle.Controller
	resolvers *resolver.Table
	callback  *callbackbox.Box
	engine    *worker.Engine
	wrk       *worker.Worker
	poller    *poll.Adapter
	counters  *statsx.Counters

	pageSize int

	cancel context.CancelFunc
	group  *errgroup.Group

	mu     sync.Mutex
	closed bool
}

// New constructs and starts a Core. It never returns
// ErrOsProtectionUnavailable: when the platform has no page-protection
// fault source, New logs the condition and falls back to poll-only mode
// globally, exactly as spec.md §7 prescribes for that resource error.
func New(cfg Config) (*Core, error) {
	log, err := logging.New()
	if err != nil {
		return nil, fmt.Errorf("memwatch: build logger: %w", err)
	}

	pageSize := unix.Getpagesize()

	registry := region.NewRegistry(cfg.MaxRegions)
	index := pageindex.New()
	r := ring.New(cfg.RingCapacity)
	counters := &statsx.Counters{}
	resolvers := resolver.NewTable()
	cb := &callbackbox.Box{}
	store := valuestore.Store(valuestore.Noop{})

	engine := worker.NewEngine(resolvers, store, cb, counters, uintptr(cfg.SmallThresholdBytes))

	throttleCtl := &throttle.Controller{
		ThresholdPerSec: cfg.ThrottleThresholdPerSec,
		Cooldown:        time.Duration(cfg.ThrottleCooldownSec) * time.Second,
		Alpha:           0.3,
	}

	var src faultsource.Source
	if !cfg.ForcePollOnly {
		s, serr := faultsource.New(r)
		if serr != nil {
			log.Info("page protection unavailable, falling back to poll-only mode", zap.Error(serr))
		} else {
			src = s
		}
	}

	wrk := &worker.Worker{
		Ring:     r,
		Index:    index,
		Registry: registry,
		Source:   src,
		Throttle: throttleCtl,
		Engine:   engine,
		Window:   time.Duration(cfg.WritableWindowMs) * time.Millisecond,
		PageSize: pageSize,
		Log:      log,
	}

	poller := poll.New(registry, index, throttleCtl, engine, src, pageSize)
	poller.HotCadence = time.Duration(cfg.PollHotCadenceMs) * time.Millisecond
	poller.GlobalCadence = time.Duration(cfg.PollGlobalCadenceMs) * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	c := &Core{
		id:        uuid.New(),
		cfg:       cfg,
		log:       log,
		registry:  registry,
		index:     index,
		ring:      r,
		source:    src,
		throttle:  throttleCtl,
		resolvers: resolvers,
		callback:  cb,
		engine:    engine,
		wrk:       wrk,
		poller:    poller,
		counters:  counters,
		pageSize:  pageSize,
		cancel:    cancel,
		group:     g,
	}

	if src != nil {
		g.Go(func() error {
			return src.Start(gctx)
		})
	}

	g.Go(func() error {
		wrk.Run(gctx)
		return nil
	})

	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})

	log.Info("memwatch core started",
		zap.String("instance_id", c.id.String()),
		zap.Int("page_size", pageSize),
		zap.Bool("page_protection_available", src != nil),
	)

	return c, nil
}

// Watch registers a byte range for change detection (spec.md §4.1). name
// and metadataRef are opaque and passed through unchanged on every event
// for this region.
func (c *Core) Watch(addr, size uintptr, name string, adapterID uint32, metadataRef int64) (uint64, error) {
	if addr == 0 || size == 0 {
		return 0, ErrInvalidArgument
	}

	tr, err := c.registry.Watch(addr, size, adapterID, name, metadataRef)
	if err != nil {
		switch err {
		case region.ErrInvalidArgument:
			return 0, ErrInvalidArgument
		case region.ErrTooManyRegions:
			return 0, ErrTooManyRegions
		default:
			return 0, err
		}
	}

	// Capture the baseline hash and content before Watch returns,
	// establishing the happens-before relation spec.md §5 requires
	// between registration and any future event for this region.
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))
	c.engine.Prime(tr)

	pages := pageindex.PagesFor(addr, size, c.pageSize)
	c.index.Link(pages, tr.ID)

	if c.source == nil {
		tr.SetMode(region.ModePolling)
		return uint64(tr.ID), nil
	}

	for _, pb := range pages {
		entry, _ := c.index.Get(pb)
		if entry == nil || entry.Protected() || entry.Polling() {
			continue
		}
		if err := c.source.Protect(pb, c.pageSize); err != nil {
			c.counters.MprotectFailures.Add(1)
			entry.SetPolling(true)
			tr.SetMode(region.ModePolling)
			c.log.Warn("initial mprotect failed, watching in polling mode",
				zap.Uintptr("page_base", pb), zap.Error(err))
			continue
		}
		entry.SetProtected(true)
	}

	return uint64(tr.ID), nil
}

// Unwatch retires a region. It is idempotent: a stale or unknown id
// returns false (spec.md §4.1).
func (c *Core) Unwatch(regionID uint64) bool {
	tr, ok := c.registry.Get(region.ID(regionID))
	if !ok {
		return false
	}

	if !c.registry.Unwatch(tr.ID) {
		return false
	}

	for _, pb := range pageindex.PagesFor(tr.Addr, tr.Size, c.pageSize) {
		nowEmpty := c.index.Unlink(pb, tr.ID)
		if nowEmpty && c.source != nil {
			if err := c.source.Unprotect(pb, c.pageSize); err != nil {
				c.log.Warn("unprotect on last-region-removed failed", zap.Uintptr("page_base", pb), zap.Error(err))
			}
		}
	}

	c.engine.Forget(tr.ID)
	return true
}

// SetCallback installs the event delivery callback, replacing any
// previous one. Safe to call concurrently with event delivery.
func (c *Core) SetCallback(fn Callback) {
	c.callback.Set(callbackbox.Func(adapt(fn)))
}

// RegisterResolver associates a Resolver with an adapter id.
func (c *Core) RegisterResolver(adapterID uint32, r Resolver) {
	c.resolvers.Register(adapterID, r)
}

// UnregisterResolver removes an adapter's resolver, if any.
func (c *Core) UnregisterResolver(adapterID uint32) {
	c.resolvers.Unregister(adapterID)
}

// SetValueStore wires a backend for oversized region snapshots. The
// default is a no-op store that always fails (events are still emitted,
// with storage_key_new left unset, per spec.md §7).
func (c *Core) SetValueStore(s ValueStore) {
	c.engine.Store = s
}

// CheckChanges forces an immediate rehash of every registered region and
// returns up to max resulting events, the polling-mode convenience entry
// from spec.md §6's ABI table. It works regardless of detection mode: for
// fault-driven regions it is a way to catch changes sooner than the next
// writable-window boundary.
func (c *Core) CheckChanges(max int) []*ChangeEvent {
	return c.poller.SweepOnce(max)
}

// GetStats returns a point-in-time snapshot of the core's operational
// counters (spec.md §6).
func (c *Core) GetStats() Stats {
	// Tallied per region, not per page: several regions can share one
	// page (spec.md §4.2, §8 scenario 3), and a per-page count would fold
	// them into a single tally entry.
	faultDriven, polling := 0, 0
	for _, tr := range c.registry.Snapshot() {
		if tr.Mode() == region.ModePolling {
			polling++
		} else {
			faultDriven++
		}
	}

	return Stats{
		TrackedRegions:          c.registry.Count(),
		FaultDrivenRegions:      faultDriven,
		PollingRegions:          polling,
		PendingFaultPages:       c.index.PendingFaultCount(),
		RingCapacity:            c.ring.Capacity(),
		RingDepth:               c.ring.Depth(),
		DroppedEvents:           c.ring.Dropped(),
		NativeOverheadBytes:     uint64(c.registry.Count()) * uint64(c.pageSize),
		PageProtectionAvailable: c.source != nil,
		CallbackErrors:          c.counters.CallbackErrors.Load(),
		ResolverTimeouts:        c.counters.ResolverTimeouts.Load(),
		MprotectFailures:        c.counters.MprotectFailures.Load(),
		ValueStoreErrors:        c.counters.ValueStoreErrors.Load(),
	}
}

// Shutdown stops the worker, poll adapter, and fault source, restoring
// the process to its unwatched state. It is idempotent (spec.md §5).
func (c *Core) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.group.Wait()

	if c.source != nil {
		if cerr := c.source.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	c.log.Info("memwatch core stopped", zap.String("instance_id", c.id.String()), zap.Time("at", time.Now()))
	_ = c.log.Sync()

	return err
}
