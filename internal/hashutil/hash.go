// Package hashutil computes the 64-bit fingerprint used to confirm that a
// region's content actually changed after a page fault or poll tick.
//
// spec.md names the algorithm class explicitly ("64-bit byte-range
// fingerprint (FNV-1a-class)"); hash/fnv is the standard library's direct
// implementation of FNV-1a, so no third-party hash library is pulled in
// for this concern (see DESIGN.md).
package hashutil

import "hash/fnv"

// Sum64 returns the FNV-1a hash of b.
func Sum64(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b) //nolint:errcheck // hash.Hash.Write never returns an error
	return h.Sum64()
}
