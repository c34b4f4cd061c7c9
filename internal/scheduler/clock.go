package scheduler

import "time"

// Clock is the time source for rate windows, lock timestamps, pulse
// ticks and cooldowns.
type Clock interface {
	Now() time.Time

	// NewTimer returns a timer whose channel fires once after d.
	NewTimer(d time.Duration) Timer

	// AfterFunc calls f in its own goroutine after d. The returned
	// Timer has a nil channel.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{t: time.NewTimer(d)}
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return systemTimer{t: time.AfterFunc(d, f)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool          { return s.t.Stop() }
