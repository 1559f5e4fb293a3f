// Package throttle implements the per-page fault-rate estimator and
// Protected/Polling state machine from spec.md §4.6.
package throttle

import (
	"time"

	"github.com/memwatch-dev/memwatch/internal/pageindex"
)

// Controller holds the tunables for the hot-page demotion policy.
type Controller struct {
	// ThresholdPerSec is H in spec.md: the EWMA fault rate above which a
	// page demotes from fault-driven to polling.
	ThresholdPerSec float64
	// Cooldown is how long a polling-mode page must stay quiet before it
	// is promoted back to Protected.
	Cooldown time.Duration
	// Alpha is the EWMA smoothing factor in (0, 1]; higher reacts faster.
	Alpha float64
}

// New returns a Controller configured with spec.md §6's defaults (H = 100
// faults/sec/page, cooldown = 10s).
func New() *Controller {
	return &Controller{
		ThresholdPerSec: 100,
		Cooldown:        10 * time.Second,
		Alpha:           0.3,
	}
}

// OnFault updates a page's fault-rate EWMA from the interval since its
// last fault and reports whether the page should transition to Polling.
func (c *Controller) OnFault(e *pageindex.Entry, nowNs int64) (shouldPoll bool) {
	prev := e.LastFaultNs()
	e.SetLastFaultNs(nowNs)
	e.SetLastChangeNs(nowNs)

	if prev == 0 {
		e.SetFaultRateEWMA(0)
		return false
	}

	dtSec := float64(nowNs-prev) / float64(time.Second)
	if dtSec <= 0 {
		dtSec = 1e-6
	}

	instantRate := 1 / dtSec
	ewma := e.FaultRateEWMA()
	ewma = c.Alpha*instantRate + (1-c.Alpha)*ewma
	e.SetFaultRateEWMA(ewma)

	if ewma >= c.ThresholdPerSec && !e.Polling() {
		e.SetPolling(true)
		return true
	}

	return false
}

// OnQuietPoll is called by the Poll Adapter's hot-page sweep each time it
// rehashes a polling-mode page's regions and finds no change. It reports
// whether the cooldown has elapsed and the page should be promoted back
// to Protected (spec.md §4.6).
func (c *Controller) OnQuietPoll(e *pageindex.Entry, nowNs int64) (shouldProtect bool) {
	if !e.Polling() {
		return false
	}

	quietFor := time.Duration(nowNs-e.LastChangeNs()) * time.Nanosecond
	if quietFor < c.Cooldown {
		return false
	}

	e.SetPolling(false)
	e.SetFaultRateEWMA(0)
	return true
}

// OnChangeWhilePolling records that a polling-mode page just changed,
// resetting its cooldown clock.
func (c *Controller) OnChangeWhilePolling(e *pageindex.Entry, nowNs int64) {
	e.SetLastChangeNs(nowNs)
}
