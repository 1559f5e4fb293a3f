// Package faultsource implements the fault-detection path from spec.md
// §4.4: installing a write trap on a page, observing a fault, and
// publishing a PageFault record without allocating or blocking.
//
// The only implementation shipped is Linux userfaultfd-based
// write-protection (uffd_linux.go), grounded directly on the teacher's
// own orchestrator/internal/sandbox/uffd/userfaultfd package. Userfaultfd
// delivers fault notifications to a dedicated file descriptor read from a
// plain goroutine instead of a true POSIX signal handler, which sidesteps
// the async-signal-safety restrictions spec.md §4.4 describes for a
// classic SIGSEGV/VEH handler while still satisfying the same contract:
// no allocation, no locks, and no host-language runtime calls on the path
// between "a write faulted" and "a PageFault record is published."
//
// Platforms without userfaultfd (and non-Linux platforms entirely) get
// ErrUnsupported from New, and the core falls back to the Poll Adapter
// globally per spec.md §4.7 and SPEC_FULL.md §13.
package faultsource

import (
	"context"
	"errors"

	"github.com/memwatch-dev/memwatch/internal/ring"
)

// ErrUnsupported is returned by New when the host platform has no
// page-protection-based fault trapping available.
var ErrUnsupported = errors.New("memwatch: page-protection fault source unavailable on this platform")

// Source installs write traps on pages and publishes PageFault records
// into the ring passed to New.
type Source interface {
	// Start runs the fault-notification loop until ctx is cancelled or
	// Close is called.
	Start(ctx context.Context) error

	// Protect write-protects the page at pageBase. Called by Watch for
	// each not-yet-protected page of a new region, by the worker to
	// re-arm a page once its writable window has elapsed, and by the poll
	// adapter when it promotes a page back from polling.
	Protect(pageBase uintptr, pageSize int) error

	// Unprotect lifts write-protection for the page. Called by the
	// source's own fault loop right after a fault is published, and by
	// Unwatch when a page's last region is removed.
	Unprotect(pageBase uintptr, pageSize int) error

	// PageSize returns the OS page size this source operates at
	// (spec.md §6: "Page size: obtained from the OS at init").
	PageSize() int

	Close() error
}

// New constructs the platform fault source backed by ring r. It returns
// ErrUnsupported on platforms without a page-protection primitive.
func New(r *ring.Ring) (Source, error) {
	return newPlatformSource(r)
}
