// Package testarena allocates page-aligned, OS-backed memory for tests
// that exercise write-trapping. Go heap objects can move under the
// garbage collector, so they are unsafe to mprotect directly; tests that
// need real page protection allocate from here instead of using a plain
// []byte, the same way the teacher's block-device tests back their device
// files with a real mmap rather than an in-process buffer.
package testarena

import (
	"fmt"

	"github.com/edsrzf/mmap-go"
)

// Arena is a single anonymous memory mapping carved into page-sized
// regions for test use.
type Arena struct {
	mm       mmap.MMap
	pageSize int
}

// New maps nPages anonymous, read-write pages and returns an Arena backed
// by them. The mapping is never moved or resized for the Arena's
// lifetime.
func New(nPages, pageSize int) (*Arena, error) {
	size := nPages * pageSize
	if size <= 0 {
		return nil, fmt.Errorf("memwatch/testarena: invalid size")
	}

	m, err := mmap.MapRegion(nil, size, mmap.RDWR, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("memwatch/testarena: map: %w", err)
	}

	return &Arena{mm: m, pageSize: pageSize}, nil
}

// Bytes returns the full backing slice.
func (a *Arena) Bytes() []byte { return a.mm }

// Page returns the byte slice for the n'th page in the arena.
func (a *Arena) Page(n int) []byte {
	start := n * a.pageSize
	return a.mm[start : start+a.pageSize]
}

// Addr returns the page-aligned starting address of the n'th page, for
// use as a Watch() addr argument.
func (a *Arena) Addr(n int) uintptr {
	return addrOf(a.Page(n))
}

// Close unmaps the arena.
func (a *Arena) Close() error {
	return a.mm.Unmap()
}
