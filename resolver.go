package memwatch

import (
	"github.com/memwatch-dev/memwatch/internal/resolver"
	"github.com/memwatch-dev/memwatch/internal/valuestore"
)

// Location is the source-level position a Resolver attaches to a fault
// (spec.md §4.5 step b).
type Location = resolver.Location

// Resolver maps a fault instruction pointer to source-level location
// metadata. Each adapter registers its own implementation; memwatch only
// calls the interface (spec.md §9's "trait-object-like capability").
type Resolver = resolver.Resolver

// ValueStore persists an oversized region snapshot under an opaque key,
// returned to callers as storage_key_new/storage_key_old (spec.md §3).
// The store itself is out of scope; hosts that need large-value delivery
// wire a real implementation with SetValueStore.
type ValueStore = valuestore.Store
