package queueworker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcontext"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustEvent(t *testing.T, id string) logevent.Event {
	t.Helper()
	event, err := logevent.New(id, time.Now(), "logger", levels.Info, "message", logcontext.Frame{}, nil, "")
	require.NoError(t, err)
	return event
}

func newWorker(t *testing.T, cfg Config, fanOut FanOut, diagnostic Diagnostic) *Worker {
	t.Helper()
	w, err := New(cfg, nil, fanOut, diagnostic)
	require.NoError(t, err)
	return w
}

func TestNewRejectsNonPositiveMaxSize(t *testing.T) {
	_, err := New(Config{}, nil, func(context.Context, logevent.Event) error { return nil }, nil)
	require.Error(t, err)
}

func TestPutAndFanOutSuccess(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	w := newWorker(t, Config{MaxSize: 4}, func(_ context.Context, event logevent.Event) error {
		mu.Lock()
		seen = append(seen, event.EventID)
		mu.Unlock()
		close(done)
		return nil
	}, nil)
	w.Start()
	defer func() { require.NoError(t, w.Stop(true, time.Second)) }()

	queued, reason := w.Put(context.Background(), mustEvent(t, "ev-1"))
	require.True(t, queued)
	require.Empty(t, reason)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fan-out never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"ev-1"}, seen)
}

func TestDropPolicyDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	received := make(chan struct{}, 1)
	var dropped []string
	var mu sync.Mutex

	w := newWorker(t, Config{
		MaxSize:    1,
		DropPolicy: PolicyDrop,
		OnDrop: func(event logevent.Event) {
			mu.Lock()
			dropped = append(dropped, event.EventID)
			mu.Unlock()
		},
	}, func(ctx context.Context, event logevent.Event) error {
		received <- struct{}{}
		<-block
		return nil
	}, nil)
	w.Start()

	// The consumer dequeues ev-1 and blocks inside fan-out; wait for that
	// signal so the channel buffer is deterministically empty before
	// filling it with ev-2 and overflowing with ev-3.
	_, _ = w.Put(context.Background(), mustEvent(t, "ev-1"))
	<-received
	queued2, _ := w.Put(context.Background(), mustEvent(t, "ev-2"))
	require.True(t, queued2)
	queued3, reason3 := w.Put(context.Background(), mustEvent(t, "ev-3"))
	require.False(t, queued3)
	require.Equal(t, "queue_full", reason3)

	close(block)
	require.NoError(t, w.Stop(true, time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, dropped, "ev-3")
}

func TestBlockPolicyPutTimeoutDropsOnFullQueue(t *testing.T) {
	block := make(chan struct{})
	received := make(chan struct{}, 1)
	defer close(block)

	w := newWorker(t, Config{
		MaxSize:    1,
		DropPolicy: PolicyBlock,
		PutTimeout: 20 * time.Millisecond,
	}, func(ctx context.Context, event logevent.Event) error {
		received <- struct{}{}
		<-block
		return nil
	}, nil)
	w.Start()
	defer func() { _ = w.Stop(false, time.Second) }()

	_, _ = w.Put(context.Background(), mustEvent(t, "ev-1"))
	<-received
	_, _ = w.Put(context.Background(), mustEvent(t, "ev-2"))
	queued, reason := w.Put(context.Background(), mustEvent(t, "ev-3"))
	require.False(t, queued)
	require.Equal(t, "queue_full", reason)
}

func TestFanOutErrorLatchesWorkerFailedAndDegraded(t *testing.T) {
	var diagnostics []string
	var mu sync.Mutex
	errCh := make(chan struct{})

	w := newWorker(t, Config{MaxSize: 4}, func(context.Context, logevent.Event) error {
		defer close(errCh)
		return errors.New("boom")
	}, func(name string, _ map[string]any) {
		mu.Lock()
		diagnostics = append(diagnostics, name)
		mu.Unlock()
	})
	w.Start()
	defer func() { require.NoError(t, w.Stop(true, time.Second)) }()

	_, _ = w.Put(context.Background(), mustEvent(t, "ev-1"))

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("fan-out never ran")
	}
	require.Eventually(t, func() bool { return w.WorkerFailed() }, time.Second, 5*time.Millisecond)
	require.True(t, w.Degraded())

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, diagnostics, "queue_worker_error")
}

func TestStopIsIdempotentWhenNotRunning(t *testing.T) {
	w := newWorker(t, Config{MaxSize: 1}, func(context.Context, logevent.Event) error { return nil }, nil)
	require.NoError(t, w.Stop(true, time.Second))
}

func TestStopTimeoutReturnsQueueShutdownTimeoutError(t *testing.T) {
	block := make(chan struct{})
	w := newWorker(t, Config{MaxSize: 1}, func(ctx context.Context, event logevent.Event) error {
		<-block
		return nil
	}, nil)
	w.Start()

	_, _ = w.Put(context.Background(), mustEvent(t, "ev-1"))
	err := w.Stop(true, 20*time.Millisecond)
	require.Error(t, err)
	close(block)
}
