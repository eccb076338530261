package progress

import (
	"sync/atomic"
	"time"
)

// logThrottle admits at most one call per interval. It keeps warning logs on
// hot paths from flooding the output.
type logThrottle struct {
	interval time.Duration
	last     atomic.Int64
}

func (t *logThrottle) Allow(now time.Time) bool {
	if t == nil || t.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := t.last.Load()
	if nano-last < t.interval.Nanoseconds() {
		return false
	}
	return t.last.CompareAndSwap(last, nano)
}
