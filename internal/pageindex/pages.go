package pageindex

// PagesFor returns every page-aligned base address that [addr, addr+size)
// intersects, given pageSize.
func PagesFor(addr, size uintptr, pageSize int) []uintptr {
	ps := uintptr(pageSize)
	start := addr &^ (ps - 1)
	end := (addr + size + ps - 1) &^ (ps - 1)

	out := make([]uintptr, 0, (end-start)/ps)
	for pb := start; pb < end; pb += ps {
		out = append(out, pb)
	}
	return out
}
