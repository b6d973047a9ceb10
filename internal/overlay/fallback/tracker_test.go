package fallback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func TestTrackerTripsAtThreshold(t *testing.T) {
	tracker := New(3, time.Hour, nil)

	assert.Equal(t, 1, tracker.RecordFailure())
	assert.False(t, tracker.Active())
	assert.Equal(t, 2, tracker.RecordFailure())
	assert.False(t, tracker.Active())
	assert.Equal(t, 3, tracker.RecordFailure())
	assert.True(t, tracker.Active())

	status := tracker.Status()
	assert.Equal(t, 3, status.Count)
	assert.Equal(t, 3, status.Threshold)
	assert.True(t, status.FallbackActive)
	assert.Greater(t, status.CooldownRemaining, time.Duration(0))
}

func TestTrackerSuccessResetsCount(t *testing.T) {
	tracker := New(3, time.Hour, nil)

	tracker.RecordFailure()
	tracker.RecordFailure()
	tracker.RecordSuccess()

	assert.Equal(t, 0, tracker.Status().Count)

	// The streak must be consecutive: two more failures after the reset do
	// not reach the threshold.
	tracker.RecordFailure()
	tracker.RecordFailure()
	assert.False(t, tracker.Active())
}

func TestTrackerCooldownExpiresLazily(t *testing.T) {
	clock := &fakeClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker := New(2, time.Hour, nil, WithClock(clock.now))

	tracker.RecordFailure()
	tracker.RecordFailure()
	require.True(t, tracker.Active())

	clock.advance(59 * time.Minute)
	assert.True(t, tracker.Active())
	assert.Equal(t, time.Minute, tracker.Status().CooldownRemaining)

	clock.advance(time.Minute)
	assert.False(t, tracker.Active())
	status := tracker.Status()
	assert.Equal(t, 0, status.Count)
	assert.False(t, status.FallbackActive)
	assert.Equal(t, time.Duration(0), status.CooldownRemaining)
}

func TestTrackerStatusReportsFailureWindow(t *testing.T) {
	clock := &fakeClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker := New(3, time.Hour, nil, WithClock(clock.now))

	assert.True(t, tracker.Status().WindowStartedAt.IsZero())

	started := clock.at
	tracker.RecordFailure()
	clock.advance(time.Minute)
	tracker.RecordFailure()
	assert.Equal(t, started, tracker.Status().WindowStartedAt, "window starts at the first failure of the streak")

	// A success ends the streak; the next failure opens a new window.
	tracker.RecordSuccess()
	clock.advance(time.Minute)
	tracker.RecordFailure()
	assert.Equal(t, clock.at, tracker.Status().WindowStartedAt)

	tracker.Reset()
	assert.True(t, tracker.Status().WindowStartedAt.IsZero())
}

func TestTrackerResetClearsEverything(t *testing.T) {
	tracker := New(2, time.Hour, nil)

	tracker.RecordFailure()
	tracker.RecordFailure()
	require.True(t, tracker.Active())

	tracker.Reset()
	assert.False(t, tracker.Active())
	assert.Equal(t, 0, tracker.Status().Count)
}

func TestTrackerStateListener(t *testing.T) {
	var transitions []bool
	tracker := New(2, time.Hour, nil, WithStateListener(func(active bool) {
		transitions = append(transitions, active)
	}))

	tracker.RecordFailure()
	tracker.RecordFailure()
	tracker.RecordFailure() // already active, no second notification
	tracker.RecordSuccess()

	assert.Equal(t, []bool{true, false}, transitions)
}

func TestTrackerDefaultsAndClamps(t *testing.T) {
	tracker := New(0, 0, nil)
	status := tracker.Status()
	assert.Equal(t, DefaultThreshold, status.Threshold)

	clamped := New(1, time.Second, nil, WithClock(func() time.Time { return time.Unix(0, 0) }))
	clamped.RecordFailure()
	require.True(t, clamped.Active())
	assert.Equal(t, MinCooldown, clamped.Status().CooldownRemaining)
}
