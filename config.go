package memwatch

import "github.com/caarlos0/env/v11"

// Config holds the compile-time constants spec.md §6 documents for
// implementers, exposed as env-tunable operational knobs in the style of
// the teacher's own service configs (env tag + envDefault, parsed with
// caarlos0/env).
type Config struct {
	// RingCapacity is R: the fault ring's fixed slot count, rounded up to
	// the next power of two.
	RingCapacity int `env:"MEMWATCH_RING_CAPACITY" envDefault:"65536"`

	// WritableWindowMs is W_ms: how long a page stays writable after a
	// fault before the worker re-arms protection.
	WritableWindowMs int `env:"MEMWATCH_WRITABLE_WINDOW_MS" envDefault:"5"`

	// SmallThresholdBytes is the size at or below which a region's full
	// content is embedded in events rather than written to the value
	// store.
	SmallThresholdBytes int `env:"MEMWATCH_SMALL_THRESHOLD_BYTES" envDefault:"4096"`

	// MaxRegions bounds the registry; 0 means unbounded.
	MaxRegions int `env:"MEMWATCH_MAX_REGIONS" envDefault:"0"`

	// ThrottleThresholdPerSec is H: the per-page fault-rate EWMA above
	// which a page demotes to polling.
	ThrottleThresholdPerSec float64 `env:"MEMWATCH_THROTTLE_THRESHOLD_PER_SEC" envDefault:"100"`

	// ThrottleCooldownSec is how long a polling-mode page must stay quiet
	// before it is promoted back to fault-driven.
	ThrottleCooldownSec int `env:"MEMWATCH_THROTTLE_COOLDOWN_SEC" envDefault:"10"`

	// PollHotCadenceMs is the rehash cadence for pages the throttle
	// controller has demoted to polling.
	PollHotCadenceMs int `env:"MEMWATCH_POLL_HOT_CADENCE_MS" envDefault:"10"`

	// PollGlobalCadenceMs is the rehash cadence used when no fault source
	// is available on the host platform at all.
	PollGlobalCadenceMs int `env:"MEMWATCH_POLL_GLOBAL_CADENCE_MS" envDefault:"100"`

	// ForcePollOnly disables the platform fault source even when one is
	// available, for hosts that want polling's simpler failure mode.
	ForcePollOnly bool `env:"MEMWATCH_FORCE_POLL_ONLY" envDefault:"false"`
}

// ConfigFromEnv parses a Config from the process environment, applying
// spec.md §6's defaults for anything unset.
func ConfigFromEnv() (Config, error) {
	return env.ParseAsWithOptions[Config](env.Options{})
}
