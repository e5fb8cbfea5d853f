package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcontext"
	"github.com/ssw-oss/logcore/pkg/logevent"
	"github.com/ssw-oss/logcore/pkg/ringbuffer"
	"github.com/ssw-oss/logcore/pkg/sanitize"
	"github.com/ssw-oss/logcore/pkg/severitymonitor"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type sequentialIDs struct{ n int }

func (s *sequentialIDs) NewID() string {
	s.n++
	return "id-" + string(rune('0'+s.n))
}

type recordingSink struct {
	name    string
	emitted []logevent.Event
	err     error
}

func (s *recordingSink) Emit(ctx context.Context, event logevent.Event) error {
	s.emitted = append(s.emitted, event)
	return s.err
}

func boundContext(t *testing.T) context.Context {
	t.Helper()
	ctx, _, err := logcontext.Bind(context.Background(), logcontext.Fields{Service: "svc", Environment: "test", JobID: "job-1"})
	require.NoError(t, err)
	return ctx
}

func newTestPipeline(t *testing.T, mutate func(*Config)) (*Pipeline, *ringbuffer.RingBuffer, *severitymonitor.Monitor) {
	t.Helper()
	ring, err := ringbuffer.New(ringbuffer.Config{Capacity: 16}, nil)
	require.NoError(t, err)
	monitor := severitymonitor.New()

	cfg := Config{
		RingBuffer: ring,
		Monitor:    monitor,
		Clock:      fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		IDProvider: &sequentialIDs{},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p, ring, monitor
}

func TestNewRequiresRingBuffer(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestProcessAppendsToRingBufferAndMonitor(t *testing.T) {
	sink := &recordingSink{name: "test"}
	p, ring, monitor := newTestPipeline(t, func(c *Config) {
		c.Sinks = []SinkBinding{{Name: "test", Sink: sink, Threshold: levels.Debug}}
	})

	res, err := p.Process(boundContext(t), "logger.a", levels.Info, "hello", map[string]any{"k": "v"}, "")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NotEmpty(t, res.EventID)

	require.Equal(t, 1, ring.Len())
	require.Len(t, sink.emitted, 1)
	require.Equal(t, "hello", sink.emitted[0].Message)

	snap := monitor.Snapshot()
	require.Equal(t, int64(1), snap.ByLevel["info"])
}

func TestProcessRequiresBoundContext(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	_, err := p.Process(context.Background(), "logger.a", levels.Info, "hello", nil, "")
	require.Error(t, err)
}

func TestProcessRejectsOversizedPayload(t *testing.T) {
	p, ring, monitor := newTestPipeline(t, func(c *Config) {
		c.Sanitize = sanitize.Limits{MessageMaxChars: 3, TruncateMessage: false}
	})

	res, err := p.Process(boundContext(t), "logger.a", levels.Info, "way too long", nil, "")
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "message_too_long", res.Reason)
	require.Equal(t, 0, ring.Len(), "rejected payloads never reach the ring buffer")

	snap := monitor.Snapshot()
	require.Equal(t, int64(1), snap.Drops[severitymonitor.ReasonPayloadReject])
}

type stubScrubber struct{ calls int }

func (s *stubScrubber) Scrub(extra map[string]any) map[string]any {
	s.calls++
	out := map[string]any{}
	for k, v := range extra {
		out[k] = v
	}
	out["scrubbed"] = true
	return out
}

func TestProcessAppliesScrubber(t *testing.T) {
	sink := &recordingSink{}
	scrubber := &stubScrubber{}
	p, _, _ := newTestPipeline(t, func(c *Config) {
		c.Scrubber = scrubber
		c.Sinks = []SinkBinding{{Name: "s", Sink: sink, Threshold: levels.Debug}}
	})

	_, err := p.Process(boundContext(t), "logger.a", levels.Info, "hello", map[string]any{"a": 1}, "")
	require.NoError(t, err)
	require.Equal(t, 1, scrubber.calls)
	require.True(t, sink.emitted[0].Extra["scrubbed"].(bool))
}

type denyingLimiter struct{}

func (denyingLimiter) Allow(string, levels.Severity, time.Time) bool { return false }

func TestProcessRateLimited(t *testing.T) {
	p, ring, monitor := newTestPipeline(t, func(c *Config) {
		c.RateLimit = denyingLimiter{}
	})

	res, err := p.Process(boundContext(t), "logger.a", levels.Info, "hello", nil, "")
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "rate_limited", res.Reason)
	require.Equal(t, 0, ring.Len())

	snap := monitor.Snapshot()
	require.Equal(t, int64(1), snap.Drops[severitymonitor.ReasonRateLimited])
}

type fakeQueue struct {
	queued []logevent.Event
	accept bool
	reason string
}

func (q *fakeQueue) Put(ctx context.Context, event logevent.Event) (bool, string) {
	if q.accept {
		q.queued = append(q.queued, event)
		return true, ""
	}
	return false, q.reason
}

func TestProcessDispatchesToQueueWhenConfigured(t *testing.T) {
	queue := &fakeQueue{accept: true}
	p, ring, _ := newTestPipeline(t, func(c *Config) {
		c.Queue = queue
	})

	res, err := p.Process(boundContext(t), "logger.a", levels.Info, "hello", nil, "")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.True(t, res.Queued)
	require.Len(t, queue.queued, 1)
	require.Equal(t, 1, ring.Len(), "ring buffer still records the event even though dispatch is deferred")
}

func TestProcessQueueFullDropsEvent(t *testing.T) {
	queue := &fakeQueue{accept: false, reason: "queue_full"}
	p, _, monitor := newTestPipeline(t, func(c *Config) {
		c.Queue = queue
	})

	res, err := p.Process(boundContext(t), "logger.a", levels.Info, "hello", nil, "")
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "queue_full", res.Reason)

	snap := monitor.Snapshot()
	require.Equal(t, int64(1), snap.Drops[severitymonitor.ReasonQueueFull])
}

func TestDispatchFansOutToThresholdMatchingSinks(t *testing.T) {
	low := &recordingSink{}
	high := &recordingSink{}
	p, _, _ := newTestPipeline(t, func(c *Config) {
		c.Sinks = []SinkBinding{
			{Name: "low", Sink: low, Threshold: levels.Debug},
			{Name: "high", Sink: high, Threshold: levels.Error},
		}
	})

	_, err := p.Process(boundContext(t), "logger.a", levels.Info, "hello", nil, "")
	require.NoError(t, err)
	require.Len(t, low.emitted, 1)
	require.Empty(t, high.emitted, "info-level event must not reach a sink thresholded at error")
}

func TestDispatchJoinsSinkErrors(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	p, _, _ := newTestPipeline(t, func(c *Config) {
		c.Sinks = []SinkBinding{{Name: "failing", Sink: failing, Threshold: levels.Debug}}
	})

	err := p.Dispatch(boundContext(t), mustTestEvent(t))
	require.Error(t, err)
}

func TestDispatchEmitsAdapterErrorPerFailingSink(t *testing.T) {
	var diagnostics []string
	var payloads []map[string]any
	failingA := &recordingSink{err: errors.New("boom a")}
	failingB := &recordingSink{err: errors.New("boom b")}
	ok := &recordingSink{}
	p, _, monitor := newTestPipeline(t, func(c *Config) {
		c.Sinks = []SinkBinding{
			{Name: "a", Sink: failingA, Threshold: levels.Debug},
			{Name: "b", Sink: failingB, Threshold: levels.Debug},
			{Name: "ok", Sink: ok, Threshold: levels.Debug},
		}
		c.Diagnostic = func(name string, payload map[string]any) {
			diagnostics = append(diagnostics, name)
			payloads = append(payloads, payload)
		}
	})

	event := mustTestEvent(t)
	err := p.Dispatch(boundContext(t), event)
	require.Error(t, err)

	var adapterErrors int
	for i, name := range diagnostics {
		if name != "adapter_error" {
			continue
		}
		adapterErrors++
		require.Equal(t, event.EventID, payloads[i]["event_id"])
		require.Contains(t, []string{"a", "b"}, payloads[i]["sink"])
		require.NotEmpty(t, payloads[i]["exception"])
	}
	require.Equal(t, 2, adapterErrors, "adapter_error fires once per failing sink")

	snap := monitor.Snapshot()
	require.Equal(t, int64(2), snap.Drops[severitymonitor.ReasonAdapterError])
}

func TestProcessSurfacesAdapterErrorAsReason(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	p, _, _ := newTestPipeline(t, func(c *Config) {
		c.Sinks = []SinkBinding{{Name: "failing", Sink: failing, Threshold: levels.Debug}}
	})

	res, err := p.Process(boundContext(t), "logger.a", levels.Info, "hello", nil, "")
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "adapter_error", res.Reason)
}

func TestProcessEmitsPayloadTruncatedWhenSanitizerTruncates(t *testing.T) {
	var diagnostics []string
	var notes []any
	p, _, _ := newTestPipeline(t, func(c *Config) {
		c.Sanitize = sanitize.Limits{MessageMaxChars: 3, TruncateMessage: true}
		c.Diagnostic = func(name string, payload map[string]any) {
			diagnostics = append(diagnostics, name)
			if name == "payload_truncated" {
				notes = append(notes, payload["notes"])
			}
		}
	})

	res, err := p.Process(boundContext(t), "logger.a", levels.Info, "way too long", nil, "")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Contains(t, diagnostics, "payload_truncated")
	require.Len(t, notes, 1)
	require.Contains(t, notes[0], "message_truncated")
}

func mustTestEvent(t *testing.T) logevent.Event {
	t.Helper()
	event, err := logevent.New("id", time.Now(), "logger", levels.Info, "message", logcontext.Frame{}, nil, "")
	require.NoError(t, err)
	return event
}

func TestDiagnosticHookPanicDoesNotCrashProcess(t *testing.T) {
	p, _, _ := newTestPipeline(t, func(c *Config) {
		c.Diagnostic = func(string, map[string]any) { panic("diagnostic exploded") }
	})

	res, err := p.Process(boundContext(t), "logger.a", levels.Info, "hello", nil, "")
	require.NoError(t, err)
	require.True(t, res.OK)
}
