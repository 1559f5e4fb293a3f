package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memwatch-dev/memwatch/internal/callbackbox"
	"github.com/memwatch-dev/memwatch/internal/event"
	"github.com/memwatch-dev/memwatch/internal/faultsource"
	"github.com/memwatch-dev/memwatch/internal/hashutil"
	"github.com/memwatch-dev/memwatch/internal/pagefault"
	"github.com/memwatch-dev/memwatch/internal/pageindex"
	"github.com/memwatch-dev/memwatch/internal/region"
	"github.com/memwatch-dev/memwatch/internal/resolver"
	"github.com/memwatch-dev/memwatch/internal/ring"
	"github.com/memwatch-dev/memwatch/internal/statsx"
	"github.com/memwatch-dev/memwatch/internal/throttle"
	"github.com/memwatch-dev/memwatch/internal/valuestore"
)

// fakeSource is a minimal faultsource.Source double for exercising the
// worker's re-arm and demotion paths without a real platform backend.
type fakeSource struct {
	protectCalls   []uintptr
	unprotectCalls []uintptr
	protectErr     error
}

func (f *fakeSource) Start(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeSource) Protect(pageBase uintptr, pageSize int) error {
	f.protectCalls = append(f.protectCalls, pageBase)
	return f.protectErr
}
func (f *fakeSource) Unprotect(pageBase uintptr, pageSize int) error {
	f.unprotectCalls = append(f.unprotectCalls, pageBase)
	return nil
}
func (f *fakeSource) PageSize() int { return 4096 }
func (f *fakeSource) Close() error  { return nil }

var _ faultsource.Source = (*fakeSource)(nil)

func newTestWorker(t *testing.T, src faultsource.Source) (*Worker, *region.Registry, *pageindex.Index) {
	t.Helper()
	reg := region.NewRegistry(0)
	idx := pageindex.New()
	r := ring.New(64)
	cb := &callbackbox.Box{}
	eng := NewEngine(resolver.NewTable(), valuestore.Noop{}, cb, &statsx.Counters{}, 4096)

	w := &Worker{
		Ring:     r,
		Index:    idx,
		Registry: reg,
		Source:   src,
		Throttle: throttle.New(),
		Engine:   eng,
		Window:   5 * time.Millisecond,
		PageSize: 4096,
	}
	return w, reg, idx
}

func TestProcessEmitsEventForChangedRegion(t *testing.T) {
	w, reg, idx := newTestWorker(t, nil)

	buf := []byte("Hello, World!")
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 1, "greeting", 0)
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))

	idx.Link([]uintptr{0x1000}, tr.ID)

	var delivered []byte
	w.Engine.Callback.Set(func(ev *event.Event) { delivered = ev.NewValue })

	buf[0] = 'J'
	w.process(pagefault.PageFault{PageBase: 0x1000, TimestampNs: 1})

	require.NotNil(t, delivered)
	assert.Equal(t, []byte("Jello, World!"), delivered)
}

func TestProcessClearsProtectedSoSweepCanReArm(t *testing.T) {
	src := &fakeSource{}
	w, reg, idx := newTestWorker(t, src)

	buf := []byte("Hello, World!")
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 1, "greeting", 0)
	tr.SetLastHash(hashutil.Sum64(tr.Bytes()))

	idx.Link([]uintptr{0x1000}, tr.ID)
	entry, _ := idx.Get(0x1000)
	entry.SetProtected(true)

	w.process(pagefault.PageFault{PageBase: 0x1000, TimestampNs: 1})
	assert.False(t, entry.Protected())

	w.Window = 1 * time.Millisecond
	entry.SetLastFaultNs(0)
	w.sweep()

	assert.Contains(t, src.protectCalls, uintptr(0x1000))
	assert.True(t, entry.Protected())
}

func TestProcessIgnoresUnknownPage(t *testing.T) {
	w, _, _ := newTestWorker(t, nil)
	assert.NotPanics(t, func() {
		w.process(pagefault.PageFault{PageBase: 0xBEEF})
	})
}

func TestSweepReprotectsAfterWindow(t *testing.T) {
	src := &fakeSource{}
	w, _, idx := newTestWorker(t, src)

	idx.Link([]uintptr{0x1000}, region.ID(1))
	entry, _ := idx.Get(0x1000)
	entry.SetLastFaultNs(0)
	entry.SetProtected(false)

	w.Window = 1 * time.Millisecond
	w.sweep()

	assert.Contains(t, src.protectCalls, uintptr(0x1000))
	assert.True(t, entry.Protected())
}

func TestSweepDemotesOnProtectFailure(t *testing.T) {
	src := &fakeSource{protectErr: assert.AnError}
	w, reg, idx := newTestWorker(t, src)

	buf := []byte("0123456789abcdef")
	tr, _ := reg.Watch(addrOf(buf), uintptr(len(buf)), 1, "x", 0)
	idx.Link([]uintptr{0x1000}, tr.ID)
	entry, _ := idx.Get(0x1000)
	entry.SetLastFaultNs(0)
	entry.SetProtected(false)

	w.Window = 1 * time.Millisecond
	w.sweep()

	assert.True(t, entry.Polling())
	assert.Equal(t, region.ModePolling, tr.Mode())
}
