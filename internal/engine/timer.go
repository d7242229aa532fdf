package engine

import (
	"fmt"
	"sync"
	"time"
)

// Remaining returns the time left until endsAt as seen at now, never negative
func Remaining(endsAt, now time.Time) time.Duration {
	if !now.Before(endsAt) {
		return 0
	}
	return endsAt.Sub(now)
}

// FormatRemaining renders a countdown as H:MM:SS above one hour and MM:SS below
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// Timer counts down to a fixed deadline with one-second granularity and
// fires onExpire at most once when the deadline passes.
type Timer struct {
	clock    Clock
	endsAt   time.Time
	interval time.Duration
	onExpire func()

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewTimer creates a timer that expires at endsAt. Start must be called
// for the countdown to run.
func NewTimer(clock Clock, endsAt time.Time, onExpire func()) *Timer {
	return &Timer{
		clock:    clock,
		endsAt:   endsAt,
		interval: time.Second,
		onExpire: onExpire,
		stopped:  make(chan struct{}),
	}
}

// Start launches the countdown goroutine. The ticker is created here so
// the countdown is armed before Start returns.
func (t *Timer) Start() {
	ticker := t.clock.NewTicker(t.interval)
	go t.run(ticker)
}

func (t *Timer) run(ticker Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C():
			if t.Remaining() > 0 {
				continue
			}
			// the loop exits after firing, so the callback runs at most once
			t.Stop()
			t.onExpire()
			return
		}
	}
}

// Stop cancels the countdown. Safe to call multiple times and after expiry.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopped)
	})
}

// Remaining reports the time left on the countdown
func (t *Timer) Remaining() time.Duration {
	return Remaining(t.endsAt, t.clock.Now())
}
