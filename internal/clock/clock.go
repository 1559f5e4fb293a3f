// Package clock provides the monotonic timestamp source shared by every
// component that must not call into the scheduler-sensitive pieces of the
// runtime (the fault path in particular).
package clock

import "time"

// start anchors NowNanos' elapsed-time measurement. Its wall-clock value
// is never read back out; only time.Since(start) is, which uses the
// monotonic reading time.Time carries internally, not the wall clock.
var start = time.Now()

// NowNanos returns a monotonic nanosecond timestamp: nanoseconds elapsed
// since the package was initialized. It allocates nothing and never
// blocks, so it is safe to call from the fault-detection path.
//
// Callers only ever difference two NowNanos() values (writable-window
// expiry, the throttle's fault-rate EWMA, cooldown checks) or pass one
// through unchanged as ChangeEvent.timestamp_ns; none of them need it to
// equal wall-clock time. time.Now().UnixNano() would make those
// differences vulnerable to NTP steps and wall-clock adjustments
// (spec.md §2 calls for "monotonic nanosecond timestamps"); time.Since
// keeps time.Time's monotonic reading, so it does not have that problem.
func NowNanos() int64 {
	return time.Since(start).Nanoseconds()
}
