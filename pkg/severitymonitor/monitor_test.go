package severitymonitor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ssw-oss/logcore/pkg/levels"
)

func TestRecordAndSnapshot(t *testing.T) {
	m := New()
	m.Record(levels.Info)
	m.Record(levels.Info)
	m.Record(levels.Error)

	snap := m.Snapshot()
	require.Equal(t, int64(2), snap.ByLevel["info"])
	require.Equal(t, int64(1), snap.ByLevel["error"])
	require.Empty(t, snap.Drops)
}

func TestRecordDrop(t *testing.T) {
	m := New()
	m.RecordDrop(levels.Warning, ReasonRateLimited)
	m.RecordDrop(levels.Warning, ReasonRateLimited)
	m.RecordDrop(levels.Error, ReasonQueueFull)

	snap := m.Snapshot()
	require.Equal(t, int64(2), snap.Drops[ReasonRateLimited])
	require.Equal(t, int64(1), snap.Drops[ReasonQueueFull])
}

func TestConcurrentRecordsAreCountedExactly(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	const goroutines = 50
	const perGoroutine = 100

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				m.Record(levels.Debug)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	require.Equal(t, int64(goroutines*perGoroutine), snap.ByLevel["debug"])
}
