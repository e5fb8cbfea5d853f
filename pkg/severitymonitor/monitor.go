// Package severitymonitor tracks aggregate counters of emitted severities
// and drop reasons for runtime introspection (spec.md §4.7).
package severitymonitor

import (
	"sync"
	"sync/atomic"

	"github.com/ssw-oss/logcore/pkg/levels"
)

// Fixed drop-reason vocabulary from spec.md §3, extensible by the
// composition root (e.g. adapter-specific reasons get added at init time).
const (
	ReasonRateLimited  = "rate_limited"
	ReasonQueueFull     = "queue_full"
	ReasonAdapterError  = "adapter_error"
	ReasonPayloadReject = "payload_rejected"
)

// Monitor is a thread-safe set of per-severity and per-drop-reason counters.
// Snapshot is best-effort consistent: each counter is read atomically, but
// no lock spans the whole snapshot.
type Monitor struct {
	byLevel sync.Map // levels.Severity -> *int64
	drops   sync.Map // string -> *int64
}

// New constructs an empty Monitor.
func New() *Monitor {
	return &Monitor{}
}

func (m *Monitor) counter(store *sync.Map, key any) *int64 {
	if v, ok := store.Load(key); ok {
		return v.(*int64)
	}
	v, _ := store.LoadOrStore(key, new(int64))
	return v.(*int64)
}

// Record increments the counter for an accepted event at level.
func (m *Monitor) Record(level levels.Severity) {
	atomic.AddInt64(m.counter(&m.byLevel, level), 1)
}

// RecordDrop increments the counter for a dropped event, labelled by
// reason.
func (m *Monitor) RecordDrop(level levels.Severity, reason string) {
	atomic.AddInt64(m.counter(&m.drops, reason), 1)
}

// Snapshot is the point-in-time aggregate view returned by inspect()-style
// callers.
type Snapshot struct {
	ByLevel map[string]int64
	Drops   map[string]int64
}

// Snapshot returns a best-effort consistent copy of all counters.
func (m *Monitor) Snapshot() Snapshot {
	out := Snapshot{ByLevel: map[string]int64{}, Drops: map[string]int64{}}
	m.byLevel.Range(func(key, value any) bool {
		out.ByLevel[key.(levels.Severity).Name()] = atomic.LoadInt64(value.(*int64))
		return true
	})
	m.drops.Range(func(key, value any) bool {
		out.Drops[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})
	return out
}
