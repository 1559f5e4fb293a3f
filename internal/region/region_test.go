package region

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func TestWatchAssignsIncreasingIDs(t *testing.T) {
	reg := NewRegistry(0)
	buf := make([]byte, 16)

	a, err := reg.Watch(addrOf(buf), 16, 1, "a", 0)
	assert.NoError(t, err)

	b, err := reg.Watch(addrOf(buf), 16, 1, "b", 0)
	assert.NoError(t, err)

	assert.Less(t, a.ID, b.ID)
}

func TestWatchRejectsZeroSize(t *testing.T) {
	reg := NewRegistry(0)
	_, err := reg.Watch(0x1000, 0, 1, "x", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWatchEnforcesMaxRegions(t *testing.T) {
	reg := NewRegistry(1)
	buf := make([]byte, 16)

	_, err := reg.Watch(addrOf(buf), 16, 1, "a", 0)
	assert.NoError(t, err)

	_, err = reg.Watch(addrOf(buf), 16, 1, "b", 0)
	assert.ErrorIs(t, err, ErrTooManyRegions)
}

func TestUnwatchIsIdempotent(t *testing.T) {
	reg := NewRegistry(0)
	buf := make([]byte, 16)
	tr, _ := reg.Watch(addrOf(buf), 16, 1, "a", 0)

	assert.True(t, reg.Unwatch(tr.ID))
	assert.False(t, reg.Unwatch(tr.ID))
}

func TestGetExcludesRetiredRegions(t *testing.T) {
	reg := NewRegistry(0)
	buf := make([]byte, 16)
	tr, _ := reg.Watch(addrOf(buf), 16, 1, "a", 0)

	reg.Unwatch(tr.ID)

	_, ok := reg.Get(tr.ID)
	assert.False(t, ok)
}

func TestBytesReflectsLiveMemory(t *testing.T) {
	reg := NewRegistry(0)
	buf := make([]byte, 4)
	copy(buf, "abcd")

	tr, _ := reg.Watch(addrOf(buf), 4, 1, "x", 0)
	assert.Equal(t, []byte("abcd"), tr.Bytes())

	buf[0] = 'Z'
	assert.Equal(t, []byte("Zbcd"), tr.Bytes())
}

func TestSnapshotExcludesRetired(t *testing.T) {
	reg := NewRegistry(0)
	buf := make([]byte, 16)
	a, _ := reg.Watch(addrOf(buf), 16, 1, "a", 0)
	_, _ = reg.Watch(addrOf(buf), 16, 1, "b", 0)

	reg.Unwatch(a.ID)

	assert.Len(t, reg.Snapshot(), 1)
	assert.Equal(t, 1, reg.Count())
}
