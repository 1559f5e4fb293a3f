// Package callbackbox holds the single user-supplied event callback
// behind a dedicated mutex, per spec.md §5: "set_callback is safe to
// call concurrently with event delivery; the worker takes this mutex
// only for the duration of the invocation."
package callbackbox

import (
	"sync"

	"github.com/memwatch-dev/memwatch/internal/event"
)

// Func is the event callback signature (spec.md §6).
type Func func(*event.Event)

// Box is a goroutine-safe single-slot callback holder.
type Box struct {
	mu sync.Mutex
	fn Func
}

// Set installs fn as the current callback, replacing any previous one.
// Safe to call while the worker is mid-delivery.
func (b *Box) Set(fn Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fn = fn
}

// Invoke calls the current callback with ev, holding the box's mutex for
// the duration of the call. Any panic inside fn is recovered and reported
// via the panicked return so the worker can count it in stats and
// continue (spec.md §4.5 step d: "Callback exceptions/failures are
// isolated... never abort the worker").
func (b *Box) Invoke(ev *event.Event) (invoked, panicked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fn == nil {
		return false, false
	}

	defer func() {
		if r := recover(); r != nil {
			panicked = true
		}
	}()

	b.fn(ev)
	return true, false
}
