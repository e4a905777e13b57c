package api

import (
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// nextTimestamp hands out a strictly monotonic nanosecond timestamp. Wall
// clock readings that collide or run backwards are bumped past the last
// value handed out.
func nextTimestamp() int64 {
	return nextTimestampRange(1)
}

// nextTimestampRange reserves count sequential timestamps and returns the
// first. A zero or negative count reserves nothing.
func nextTimestampRange(count int) int64 {
	if count <= 0 {
		return 0
	}
	n := int64(count)
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now+n-1) {
			return now
		}
	}
}
