// Package ratelimit implements the sliding-window throttle keyed by
// (logger_name, severity) described in spec.md §4.5: at most max_events
// accepted within the trailing window ending at the current event's
// timestamp, right-inclusive — (ts-interval, ts] — per spec.md §9's Open
// Question resolution.
package ratelimit

import (
	"sync"
	"time"

	"github.com/ssw-oss/logcore/pkg/levels"
)

type bucketKey struct {
	logger string
	level  levels.Severity
}

// Limiter is a sliding-window rate limiter with one bucket per
// (logger_name, severity) pair. Buckets are compacted on every Allow call
// so memory stays bounded by the number of distinct keys ever seen, not the
// number of events.
type Limiter struct {
	maxEvents int
	interval  time.Duration

	mu      sync.Mutex
	buckets map[bucketKey][]time.Time
}

// New constructs a Limiter permitting at most maxEvents per interval per
// (logger, severity) bucket. maxEvents <= 0 disables throttling entirely.
func New(maxEvents int, interval time.Duration) *Limiter {
	return &Limiter{
		maxEvents: maxEvents,
		interval:  interval,
		buckets:   make(map[bucketKey][]time.Time),
	}
}

// Allow returns true when logger/level is within quota as of timestamp ts,
// recording ts as an accepted event when it returns true.
func (l *Limiter) Allow(logger string, level levels.Severity, ts time.Time) bool {
	if l.maxEvents <= 0 {
		return true
	}

	key := bucketKey{logger: logger, level: level}
	cutoff := ts.Add(-l.interval)

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.buckets[key]
	kept := bucket[:0]
	for _, t := range bucket {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.maxEvents {
		l.buckets[key] = kept
		return false
	}

	l.buckets[key] = append(kept, ts)
	return true
}
