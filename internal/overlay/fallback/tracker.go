// Package fallback counts consecutive upstream failures and trips a
// circuit-breaker style fallback mode once a threshold is reached. While
// fallback is active the overlay answers from host data without touching the
// network; a cool-down window (or an explicit reset) re-arms the upstream.
package fallback

import (
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultThreshold = 5
	DefaultCooldown  = time.Hour
	MinCooldown      = 5 * time.Minute
)

// Status is the read-only snapshot surfaced to operators. WindowStartedAt is
// the timestamp of the first failure in the current streak; zero when no
// streak has started or after a manual reset.
type Status struct {
	Count             int           `json:"failureCount"`
	Threshold         int           `json:"threshold"`
	FallbackActive    bool          `json:"fallbackActive"`
	CooldownRemaining time.Duration `json:"cooldownRemaining"`
	WindowStartedAt   time.Time     `json:"windowStartedAt"`
}

// Tracker is shared mutable state across concurrent host requests. Counts are
// advisory: increments are independent read-modify-write operations and
// last-write-wins is acceptable per the concurrency model.
type Tracker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time
	onChange  func(active bool)

	count     int
	windowAt  time.Time
	trippedAt time.Time
	active    bool
}

// Option tweaks tracker construction.
type Option func(*Tracker)

// WithClock overrides the time source, used by tests to step through the
// cool-down window.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithStateListener registers a callback invoked whenever the fallback flag
// flips, letting the metrics recorder mirror the gauge.
func WithStateListener(onChange func(active bool)) Option {
	return func(t *Tracker) { t.onChange = onChange }
}

// New constructs the tracker. Threshold values below 1 use the default, and
// the cool-down is clamped to the documented minimum.
func New(threshold int, cooldown time.Duration, logger *slog.Logger, opts ...Option) *Tracker {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if cooldown < MinCooldown {
		cooldown = MinCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger.With(slog.String("component", "fallback")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure increments the consecutive-failure counter and returns the new
// count. Reaching the threshold activates fallback with the cool-down window
// starting now.
func (t *Tracker) RecordFailure() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		t.windowAt = t.now()
	}
	t.count++
	if t.count >= t.threshold && !t.active {
		t.active = true
		t.trippedAt = t.now()
		t.logger.Warn("fallback mode activated",
			slog.Int("failures", t.count),
			slog.Duration("cooldown", t.cooldown))
		t.notify(true)
	}
	return t.count
}

// RecordSuccess resets the counter and clears fallback unconditionally. Called
// after every successful upstream fetch.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked("upstream recovered")
}

// Reset clears all failure state, including the window start. Backs the manual
// reconnect operation.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windowAt = time.Time{}
	t.clearLocked("manual reset")
}

// Active reports whether fallback currently gates upstream calls. An elapsed
// cool-down is cleared lazily here: the first check after expiry resets both
// the flag and the counter, so the next lookup goes back to the network.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return false
	}
	if t.now().Sub(t.trippedAt) >= t.cooldown {
		t.clearLocked("cooldown elapsed")
		return false
	}
	return true
}

// Status returns the observability snapshot without mutating state beyond the
// same lazy cool-down expiry Active applies.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := time.Duration(0)
	if t.active {
		elapsed := t.now().Sub(t.trippedAt)
		if elapsed >= t.cooldown {
			t.clearLocked("cooldown elapsed")
		} else {
			remaining = t.cooldown - elapsed
		}
	}
	return Status{
		Count:             t.count,
		Threshold:         t.threshold,
		FallbackActive:    t.active,
		CooldownRemaining: remaining,
		WindowStartedAt:   t.windowAt,
	}
}

func (t *Tracker) clearLocked(reason string) {
	wasActive := t.active
	t.count = 0
	t.active = false
	t.trippedAt = time.Time{}
	if wasActive {
		t.logger.Info("fallback mode cleared", slog.String("reason", reason))
		t.notify(false)
	}
}

func (t *Tracker) notify(active bool) {
	if t.onChange != nil {
		t.onChange(active)
	}
}
