package session

import "time"

// Clock abstracts timer scheduling so the debounce and retry windows are
// deterministic under test. Production code uses the system clock;
// testutil.ManualClock advances time explicitly.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancelable pending callback.
type Timer interface {
	// Stop cancels the timer, reporting whether it was still pending.
	Stop() bool
}

// SystemClock returns the wall-clock implementation of Clock.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
