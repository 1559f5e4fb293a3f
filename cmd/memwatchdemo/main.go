// Command memwatchdemo exercises the memwatch core end to end: it watches
// a small buffer, registers a callback that prints each event, mutates
// the buffer a few times, and shuts down cleanly. It is not the
// SQLite-backed CLI front-end spec.md places out of scope — just enough
// of a host to prove the pipeline wires together.
package main

import (
	"flag"
	"fmt"
	"time"
	"unsafe"

	"github.com/memwatch-dev/memwatch"
)

var writeInterval time.Duration

func parseFlags() {
	flag.DurationVar(&writeInterval, "interval", 50*time.Millisecond, "delay between demo writes")
	flag.Parse()
}

func main() {
	parseFlags()

	if err := memwatch.Init(); err != nil {
		panic(err)
	}
	defer memwatch.Shutdown()

	buf := make([]byte, 13)
	copy(buf, "Hello, World!")
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))

	memwatch.SetCallback(func(ev *memwatch.ChangeEvent) {
		fmt.Printf("seq=%d region=%d var=%q old=%q new=%q\n",
			ev.Seq, ev.RegionID, ev.VariableName, ev.OldValue, ev.NewValue)
	})

	regionID, err := memwatch.Watch(addr, uintptr(len(buf)), "greeting", 1, 0)
	if err != nil {
		panic(err)
	}

	buf[0] = 'J'
	time.Sleep(writeInterval)
	buf[0] = 'M'
	time.Sleep(writeInterval)

	stats, _ := memwatch.GetStats()
	fmt.Printf("tracked_regions=%d dropped_events=%d page_protection_available=%t\n",
		stats.TrackedRegions, stats.DroppedEvents, stats.PageProtectionAvailable)

	memwatch.Unwatch(regionID)
}
