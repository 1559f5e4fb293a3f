package memwatch

import "github.com/memwatch-dev/memwatch/internal/statsx"

// Stats is the structure returned by GetStats (spec.md §6).
type Stats = statsx.Snapshot
