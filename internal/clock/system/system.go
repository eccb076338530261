// Package system provides the wall clock used to timestamp records.
package system

import "time"

// Precision is the resolution of record timestamps. Postgres timestamptz
// keeps microseconds, so every backend stores the same value.
const Precision = time.Microsecond

// Clock implements store.Clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Precision. The monotonic
// reading is dropped so values compare equal after a storage round trip.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}
