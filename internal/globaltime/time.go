// Package globaltime is the process clock. Tests pin it so run timestamps and
// default partition dates are reproducible.
package globaltime

import (
	"sync/atomic"
	"time"
)

type clock func() time.Time

var pinned atomic.Pointer[clock]

func Now() time.Time {
	if c := pinned.Load(); c != nil {
		return (*c)()
	}
	return time.Now()
}

func UTC() time.Time {
	return Now().UTC()
}

func Since(start time.Time) time.Duration {
	return Now().Sub(start)
}

// Today is the calendar date (YYYY-MM-DD) of the current instant in loc.
// A nil loc means UTC.
func Today(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return Now().In(loc).Format(time.DateOnly)
}

func SetMockTime(t time.Time) {
	c := clock(func() time.Time { return t })
	pinned.Store(&c)
}

func ResetTime() {
	pinned.Store(nil)
}
