package merchant

import "time"

// Clock abstracts wall-clock access so day-rollover and debounce logic can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
