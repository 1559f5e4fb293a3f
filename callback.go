package memwatch

import "github.com/memwatch-dev/memwatch/internal/event"

// Callback is the event delivery signature (spec.md §6). The ChangeEvent
// passed to it is owned by the worker goroutine that delivers it; a
// callback must not retain the pointer past return.
type Callback func(*ChangeEvent)

func adapt(fn Callback) func(*event.Event) {
	if fn == nil {
		return nil
	}
	return func(ev *event.Event) { fn(ev) }
}
