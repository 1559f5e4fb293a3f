//go:build !linux

package faultsource

import "github.com/memwatch-dev/memwatch/internal/ring"

// newPlatformSource always fails on non-Linux platforms: the Poll Adapter
// (spec.md §4.7) is the canonical fallback everywhere userfaultfd-based
// write-protection isn't available.
func newPlatformSource(_ *ring.Ring) (Source, error) {
	return nil, ErrUnsupported
}
