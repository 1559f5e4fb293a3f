package worker

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memwatch-dev/memwatch/internal/callbackbox"
	"github.com/memwatch-dev/memwatch/internal/event"
	"github.com/memwatch-dev/memwatch/internal/hashutil"
	"github.com/memwatch-dev/memwatch/internal/region"
	"github.com/memwatch-dev/memwatch/internal/resolver"
	"github.com/memwatch-dev/memwatch/internal/statsx"
	"github.com/memwatch-dev/memwatch/internal/valuestore"
)

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func newTestEngine(t *testing.T, store valuestore.Store, smallThreshold uintptr) (*Engine, *region.Registry, *callbackbox.Box) {
	t.Helper()
	reg := region.NewRegistry(0)
	cb := &callbackbox.Box{}
	eng := NewEngine(resolver.NewTable(), store, cb, &statsx.Counters{}, smallThreshold)
	return eng, reg, cb
}

func TestCheckSkipsUnchangedHash(t *testing.T) {
	eng, reg, _ := newTestEngine(t, valuestore.Noop{}, 4096)
	buf := []byte("Hello, World!")
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 1, "greeting", 0)
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))

	ev := eng.Check(tr, hashutil.Sum64(tr.Bytes()), 0, 0, 1)
	assert.Nil(t, ev)
}

func TestCheckSmallValueRoundTrip(t *testing.T) {
	eng, reg, cb := newTestEngine(t, valuestore.Noop{}, 4096)

	buf := []byte("Hello, World!")
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 7, "greeting", 99)
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))

	var delivered *event.Event
	cb.Set(func(ev *event.Event) { delivered = ev })

	buf[0] = 'J'
	ev := eng.Check(tr, hashutil.Sum64(tr.Bytes()), 0xdead, 3, 123)

	require.NotNil(t, ev)
	assert.Equal(t, uintptr(13), ev.HowBig)
	assert.Equal(t, []byte("Jello, World!"), ev.NewValue)
	assert.Empty(t, ev.StorageKeyNew)
	assert.Equal(t, "greeting", ev.VariableName)
	assert.Equal(t, int64(99), ev.MetadataRef)
	assert.Same(t, ev, delivered)
	// First event for this region: nothing retained yet.
	assert.Nil(t, ev.OldValue)
}

func TestCheckRetainsOldValueAcrossEvents(t *testing.T) {
	eng, reg, _ := newTestEngine(t, valuestore.Noop{}, 4096)

	buf := []byte("Hello, World!")
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 1, "greeting", 0)
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))

	buf[0] = 'J'
	eng.Check(tr, hashutil.Sum64(tr.Bytes()), 0, 0, 1)

	buf[0] = 'M'
	ev := eng.Check(tr, hashutil.Sum64(tr.Bytes()), 0, 0, 2)

	require.NotNil(t, ev)
	assert.Equal(t, []byte("Jello, World!"), ev.OldValue)
	assert.Equal(t, []byte("Mello, World!"), ev.NewValue)
}

func TestCheckLargeRegionUsesStorageKey(t *testing.T) {
	store := valuestore.NewInMemory()
	eng, reg, _ := newTestEngine(t, store, 16)

	buf := make([]byte, 1024)
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 4, "blob", 0)
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))

	buf[100] = 0xFF
	ev := eng.Check(tr, hashutil.Sum64(tr.Bytes()), 0, 0, 1)

	require.NotNil(t, ev)
	assert.Nil(t, ev.NewValue)
	assert.NotEmpty(t, ev.StorageKeyNew)
	assert.Len(t, ev.NewPreview, event.PreviewSize)

	stored, ok := store.Get(ev.StorageKeyNew)
	require.True(t, ok)
	assert.Equal(t, buf, stored)
}

func TestCheckCallbackPanicIsIsolated(t *testing.T) {
	eng, reg, cb := newTestEngine(t, valuestore.Noop{}, 4096)

	buf := []byte("Hello, World!")
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 1, "greeting", 0)
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))

	cb.Set(func(*event.Event) { panic("boom") })

	buf[0] = 'J'
	assert.NotPanics(t, func() {
		eng.Check(tr, hashutil.Sum64(tr.Bytes()), 0, 0, 1)
	})
}

func TestPrimeSeedsOldValueForFirstChange(t *testing.T) {
	eng, reg, _ := newTestEngine(t, valuestore.Noop{}, 4096)

	buf := []byte("Hello, World!")
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 1, "greeting", 0)
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))
	eng.Prime(tr)

	buf[0] = 'J'
	ev := eng.Check(tr, hashutil.Sum64(tr.Bytes()), 0, 0, 1)

	require.NotNil(t, ev)
	assert.Equal(t, []byte("Hello, World!"), ev.OldValue)
	assert.Equal(t, []byte("Hello, World!"), ev.OldPreview)
	assert.Equal(t, []byte("Jello, World!"), ev.NewValue)
}

func TestPrimeDoesNotRetainFullValueForLargeRegions(t *testing.T) {
	eng, reg, _ := newTestEngine(t, valuestore.NewInMemory(), 16)

	buf := make([]byte, 1024)
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 1, "blob", 0)
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))
	eng.Prime(tr)

	buf[0] = 0xFF
	ev := eng.Check(tr, hashutil.Sum64(tr.Bytes()), 0, 0, 1)

	require.NotNil(t, ev)
	assert.Nil(t, ev.OldValue)
	assert.Empty(t, ev.StorageKeyOld)
	assert.Len(t, ev.OldPreview, event.PreviewSize)
}

func TestForgetDropsRetainedState(t *testing.T) {
	eng, reg, _ := newTestEngine(t, valuestore.Noop{}, 4096)

	buf := []byte("Hello, World!")
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 1, "greeting", 0)
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))

	buf[0] = 'J'
	eng.Check(tr, hashutil.Sum64(tr.Bytes()), 0, 0, 1)
	eng.Forget(tr.ID)

	eng.mu.Lock()
	_, ok := eng.prev[tr.ID]
	eng.mu.Unlock()
	assert.False(t, ok)
}
