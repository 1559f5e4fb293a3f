package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/memwatch-dev/memwatch/internal/pageindex"
)

func TestOnFaultFirstCallNeverPolls(t *testing.T) {
	c := New()
	e := &pageindex.Entry{PageBase: 0x1000}

	shouldPoll := c.OnFault(e, 1_000_000)
	assert.False(t, shouldPoll)
}

func TestOnFaultDemotesAboveThreshold(t *testing.T) {
	c := &Controller{ThresholdPerSec: 100, Cooldown: 10 * time.Second, Alpha: 1.0}
	e := &pageindex.Entry{PageBase: 0x1000}

	// A zero LastFaultNs means "no prior fault", so start at a non-zero time.
	now := int64(time.Second)
	c.OnFault(e, now)

	// Faults 1ms apart => instantaneous rate 1000/sec, well above the
	// threshold; alpha=1 makes the EWMA track the instant rate exactly.
	now += int64(time.Millisecond)
	shouldPoll := c.OnFault(e, now)

	assert.True(t, shouldPoll)
	assert.True(t, e.Polling())
}

func TestOnQuietPollPromotesAfterCooldown(t *testing.T) {
	c := &Controller{ThresholdPerSec: 100, Cooldown: 10 * time.Second, Alpha: 1.0}
	e := &pageindex.Entry{PageBase: 0x1000}
	e.SetPolling(true)
	e.SetLastChangeNs(0)

	assert.False(t, c.OnQuietPoll(e, int64(5*time.Second)))
	assert.True(t, c.OnQuietPoll(e, int64(11*time.Second)))
	assert.False(t, e.Polling())
}

func TestOnChangeWhilePollingResetsCooldown(t *testing.T) {
	c := New()
	e := &pageindex.Entry{PageBase: 0x1000}
	e.SetPolling(true)

	c.OnChangeWhilePolling(e, 42)
	assert.Equal(t, int64(42), e.LastChangeNs())
}
