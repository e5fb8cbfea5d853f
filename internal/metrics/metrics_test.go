package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordEventIncrementsByLevel(t *testing.T) {
	before := testutil.ToFloat64(EventsTotal.WithLabelValues("info"))
	RecordEvent("info")
	require.Equal(t, before+1, testutil.ToFloat64(EventsTotal.WithLabelValues("info")))
}

func TestRecordDropIncrementsByReason(t *testing.T) {
	before := testutil.ToFloat64(DropsTotal.WithLabelValues("rate_limited"))
	RecordDrop("rate_limited")
	require.Equal(t, before+1, testutil.ToFloat64(DropsTotal.WithLabelValues("rate_limited")))
}

func TestRecordSinkEmitTracksOkAndError(t *testing.T) {
	beforeOK := testutil.ToFloat64(SinkEmitTotal.WithLabelValues("terminal", "ok"))
	beforeErr := testutil.ToFloat64(SinkEmitTotal.WithLabelValues("terminal", "error"))

	RecordSinkEmit("terminal", nil, 5*time.Millisecond)
	RecordSinkEmit("terminal", errors.New("boom"), 5*time.Millisecond)

	require.Equal(t, beforeOK+1, testutil.ToFloat64(SinkEmitTotal.WithLabelValues("terminal", "ok")))
	require.Equal(t, beforeErr+1, testutil.ToFloat64(SinkEmitTotal.WithLabelValues("terminal", "error")))
}

func TestSetQueueGaugesReflectsState(t *testing.T) {
	SetQueueGauges(7, true, false)
	require.Equal(t, float64(7), testutil.ToFloat64(QueueDepth))
	require.Equal(t, float64(1), testutil.ToFloat64(QueueDegraded))
	require.Equal(t, float64(0), testutil.ToFloat64(QueueWorkerFailed))
}

func TestSetRingBufferSize(t *testing.T) {
	SetRingBufferSize(42)
	require.Equal(t, float64(42), testutil.ToFloat64(RingBufferSize))
}

func TestUpdateSystemMetricsPopulatesGauges(t *testing.T) {
	UpdateSystemMetrics()
	require.GreaterOrEqual(t, testutil.ToFloat64(Goroutines), float64(1))
	require.GreaterOrEqual(t, testutil.ToFloat64(MemoryUsage.WithLabelValues("heap_alloc")), float64(0))
}

func TestSystemPollerRejectsSecondStartAndStopIsIdempotent(t *testing.T) {
	p := NewSystemPoller(10 * time.Millisecond)
	require.NoError(t, p.Start())
	require.Error(t, p.Start(), "starting twice reports already-running")
	time.Sleep(30 * time.Millisecond)
	p.Stop()
	p.Stop()
}

func TestServerHealthAndMetricsHandlers(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil)

	healthReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(healthRec, healthReq)
	require.Equal(t, http.StatusOK, healthRec.Code)
	require.Equal(t, "OK", healthRec.Body.String())

	RecordEvent("info")
	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(metricsRec, metricsReq)
	require.Equal(t, http.StatusOK, metricsRec.Code)
	require.Contains(t, metricsRec.Body.String(), "logcore_events_total")
}
