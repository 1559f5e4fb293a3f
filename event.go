package memwatch

import "github.com/memwatch-dev/memwatch/internal/event"

// Where locates a change at the source level (spec.md §3).
type Where = event.Where

// ChangeEvent is the structured record delivered to a registered callback
// describing what changed, when, where, and how big the change is
// (spec.md §3).
type ChangeEvent = event.Event

// PreviewSize and SmallValueDefault are the compile-time constants from
// spec.md §6.
const (
	PreviewSize       = event.PreviewSize
	SmallValueDefault = event.SmallValueDefault
)
