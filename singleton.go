package memwatch

import "sync"

// Package-level dispatch mirrors the ABI table in spec.md §6: adapters
// built against a C-style API expect one process-wide handle created by
// init() and dropped by shutdown(), rather than an explicit Go value
// threaded through every call.
var (
	globalMu sync.Mutex
	global   *Core
)

// Init creates the process-wide Core from the environment if one does not
// already exist. Calling it again while already initialized is a no-op
// that returns nil (spec.md §6: "already-initialized → ok").
func Init() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global != nil {
		return nil
	}

	cfg, err := ConfigFromEnv()
	if err != nil {
		return err
	}

	c, err := New(cfg)
	if err != nil {
		return err
	}

	global = c
	return nil
}

// Shutdown stops and releases the process-wide Core. Idempotent.
func Shutdown() error {
	globalMu.Lock()
	c := global
	global = nil
	globalMu.Unlock()

	if c == nil {
		return nil
	}
	return c.Shutdown()
}

func instance() (*Core, error) {
	globalMu.Lock()
	c := global
	globalMu.Unlock()

	if c == nil {
		return nil, ErrNotInitialized
	}
	return c, nil
}

// Watch registers a byte range on the process-wide Core.
func Watch(addr, size uintptr, name string, adapterID uint32, metadataRef int64) (uint64, error) {
	c, err := instance()
	if err != nil {
		return 0, err
	}
	return c.Watch(addr, size, name, adapterID, metadataRef)
}

// Unwatch retires a region on the process-wide Core.
func Unwatch(regionID uint64) bool {
	c, err := instance()
	if err != nil {
		return false
	}
	return c.Unwatch(regionID)
}

// SetCallback installs the event callback on the process-wide Core.
func SetCallback(fn Callback) error {
	c, err := instance()
	if err != nil {
		return err
	}
	c.SetCallback(fn)
	return nil
}

// RegisterResolver associates a Resolver with an adapter id on the
// process-wide Core.
func RegisterResolver(adapterID uint32, r Resolver) error {
	c, err := instance()
	if err != nil {
		return err
	}
	c.RegisterResolver(adapterID, r)
	return nil
}

// GetStats returns the process-wide Core's current stats.
func GetStats() (Stats, error) {
	c, err := instance()
	if err != nil {
		return Stats{}, err
	}
	return c.GetStats(), nil
}

// CheckChanges forces a rehash sweep on the process-wide Core.
func CheckChanges(max int) ([]*ChangeEvent, error) {
	c, err := instance()
	if err != nil {
		return nil, err
	}
	return c.CheckChanges(max), nil
}
