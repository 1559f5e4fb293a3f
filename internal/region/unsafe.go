package region

import "unsafe"

// unsafeRegionBytes views the caller-owned memory at [addr, addr+size) as a
// byte slice. The registry never frees or relocates this memory; lifetime
// is the adapter's contract (spec.md §3, Ownership).
func unsafeRegionBytes(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
