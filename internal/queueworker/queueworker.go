// Package queueworker implements the bounded, single-consumer background
// dispatcher described in spec.md §4.9: ordering, drop policy, worker
// failure isolation, and timeout-bounded shutdown. It is modelled on the
// teacher corpus's worker-pool style (config struct, injected logger,
// context.CancelFunc, atomic counters) reduced to spec.md's explicit
// single-consumer requirement.
package queueworker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-oss/logcore/pkg/logcoreerr"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

// DropPolicy selects the behaviour when the queue is full.
type DropPolicy int

const (
	// PolicyBlock offers with PutTimeout, downgrading to PolicyDrop while
	// the worker is degraded.
	PolicyBlock DropPolicy = iota
	// PolicyDrop offers non-blocking, invoking OnDrop whenever the queue is
	// full.
	PolicyDrop
)

// State is the queue worker's lifecycle state per spec.md §4.10's table.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FanOut is the callable the worker invokes for each dequeued event —
// normally the pipeline's per-sink dispatch (spec.md §4.10).
type FanOut func(ctx context.Context, event logevent.Event) error

// Diagnostic is the hook the worker uses to surface the stable diagnostic
// vocabulary (queue_full, queue_degraded_drop_mode, queue_worker_error,
// queue_shutdown_timeout, queue_drop_callback_error).
type Diagnostic func(name string, payload map[string]any)

// Config configures a Worker. StopTimeout and FailureResetAfter default to
// 5s and 30s when zero; MaxSize must be positive (New rejects it otherwise),
// and a zero PutTimeout waits indefinitely.
type Config struct {
	MaxSize           int
	DropPolicy        DropPolicy
	PutTimeout        time.Duration // 0 interpreted as "indefinite wait" (spec.md §4.9)
	StopTimeout       time.Duration
	FailureResetAfter time.Duration
	OnDrop            func(event logevent.Event)
}

func (c Config) withDefaults() Config {
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.FailureResetAfter <= 0 {
		c.FailureResetAfter = 30 * time.Second
	}
	return c
}

// Worker is a bounded FIFO with a single consumer goroutine.
type Worker struct {
	cfg        Config
	logger     *logrus.Logger
	fanOut     FanOut
	diagnostic Diagnostic

	queue chan logevent.Event
	done  chan struct{}

	mu    sync.Mutex
	state State

	workerFailed atomic.Bool
	degraded     atomic.Bool
	lastFailure  time.Time
	healthySince time.Time

	degradedNoticeFired bool
}

// New constructs a Worker in the Created state. Call Start to begin
// consuming.
func New(cfg Config, logger *logrus.Logger, fanOut FanOut, diagnostic Diagnostic) (*Worker, error) {
	cfg = cfg.withDefaults()
	if cfg.MaxSize <= 0 {
		return nil, logcoreerr.InvalidConfiguration("queueworker", "new", "maxsize must be positive")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if diagnostic == nil {
		diagnostic = func(string, map[string]any) {}
	}
	return &Worker{
		cfg:        cfg,
		logger:     logger,
		fanOut:     fanOut,
		diagnostic: diagnostic,
		queue:      make(chan logevent.Event, cfg.MaxSize),
	}, nil
}

// Start begins the consumer goroutine. A Worker may be restarted after a
// clean Stop, per spec.md §4.10's Stopped -> Running transition.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateRunning {
		return
	}
	w.state = StateRunning
	w.done = make(chan struct{})
	go w.run(w.done)
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// WorkerFailed reports the latched failure flag (spec.md §3's invariant:
// cleared only on clean restart, clean drain, or sustained success).
func (w *Worker) WorkerFailed() bool { return w.workerFailed.Load() }

// Degraded reports whether the worker is currently downgrading Put to
// non-blocking drop behaviour after a dispatch failure.
func (w *Worker) Degraded() bool { return w.degraded.Load() }

// Len reports the number of events currently queued, for gauge metrics.
func (w *Worker) Len() int { return len(w.queue) }

// Put enqueues event under the configured drop policy. Returns (queued,
// reason) where reason is "queue_full" on a drop.
func (w *Worker) Put(ctx context.Context, event logevent.Event) (bool, string) {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()
	if state != StateRunning {
		return false, "queue_full"
	}

	if w.cfg.DropPolicy == PolicyDrop || w.degraded.Load() {
		if w.degraded.Load() && w.cfg.DropPolicy == PolicyBlock {
			w.noticeDegradedOnce()
		}
		select {
		case w.queue <- event:
			return true, ""
		default:
			w.invokeOnDrop(event)
			w.diagnostic("queue_full", map[string]any{"event_id": event.EventID, "logger": event.LoggerName})
			return false, "queue_full"
		}
	}

	if w.cfg.PutTimeout <= 0 {
		select {
		case w.queue <- event:
			return true, ""
		case <-ctx.Done():
			return false, "queue_full"
		}
	}

	timer := time.NewTimer(w.cfg.PutTimeout)
	defer timer.Stop()
	select {
	case w.queue <- event:
		return true, ""
	case <-timer.C:
		w.invokeOnDrop(event)
		w.diagnostic("queue_full", map[string]any{"event_id": event.EventID, "logger": event.LoggerName})
		return false, "queue_full"
	case <-ctx.Done():
		return false, "queue_full"
	}
}

func (w *Worker) noticeDegradedOnce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.degradedNoticeFired {
		return
	}
	w.degradedNoticeFired = true
	w.diagnostic("queue_degraded_drop_mode", nil)
}

func (w *Worker) invokeOnDrop(event logevent.Event) {
	if w.cfg.OnDrop == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.diagnostic("queue_drop_callback_error", map[string]any{"event_id": event.EventID, "panic": fmt.Sprint(r)})
		}
	}()
	w.cfg.OnDrop(event)
}

// run is the single consumer loop.
func (w *Worker) run(done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for event := range w.queue {
		w.process(ctx, event)
	}
}

func (w *Worker) process(ctx context.Context, event logevent.Event) {
	err := w.fanOut(ctx, event)
	if err != nil {
		w.logger.WithError(err).WithField("event_id", event.EventID).Error("queueworker: fan-out failed")
		w.diagnostic("queue_worker_error", map[string]any{
			"event_id": event.EventID,
			"logger":   event.LoggerName,
			"error":    err.Error(),
		})
		w.workerFailed.Store(true)
		w.degraded.Store(true)
		w.mu.Lock()
		w.lastFailure = time.Now()
		w.healthySince = time.Time{}
		w.mu.Unlock()
		return
	}
	w.onSuccess()
}

func (w *Worker) onSuccess() {
	if !w.workerFailed.Load() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.healthySince.IsZero() {
		w.healthySince = time.Now()
		return
	}
	if time.Since(w.healthySince) >= w.cfg.FailureResetAfter {
		w.workerFailed.Store(false)
		w.degraded.Store(false)
		w.degradedNoticeFired = false
		w.healthySince = time.Time{}
	}
}

// Stop drains (or discards) the queue and joins the consumer within
// timeout, per spec.md §4.9's deadlined shutdown.
func (w *Worker) Stop(drain bool, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = w.cfg.StopTimeout
	}
	stopStarted := time.Now()
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return nil
	}
	w.state = StateStopping
	done := w.done
	w.mu.Unlock()

	deadline := time.Now().Add(timeout)

	if !drain {
		w.drainDiscard()
	} else if !w.waitEmpty(deadline) {
		// Deadline expired before the queue drained: drop everything
		// remaining instead of blocking forever.
		w.drainDiscard()
	}

	close(w.queue)

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	select {
	case <-done:
		w.mu.Lock()
		w.state = StateStopped
		if !w.workerFailed.Load() {
			w.degradedNoticeFired = false
		} else if w.lastFailure.Before(stopStarted) {
			// A clean drain (no fan-out errors during shutdown) still
			// clears the latch per spec.md §3.
			w.workerFailed.Store(false)
			w.degraded.Store(false)
			w.degradedNoticeFired = false
		}
		w.mu.Unlock()
		return nil
	case <-time.After(remaining):
		w.diagnostic("queue_shutdown_timeout", nil)
		w.mu.Lock()
		w.state = StateStopped
		w.mu.Unlock()
		return logcoreerr.QueueShutdownTimeout("queueworker", "stop", "worker did not exit within the shutdown deadline")
	}
}

func (w *Worker) waitEmpty(deadline time.Time) bool {
	for time.Now().Before(deadline) {
		if len(w.queue) == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return len(w.queue) == 0
}

func (w *Worker) drainDiscard() {
	for {
		select {
		case event, ok := <-w.queue:
			if !ok {
				return
			}
			w.invokeOnDrop(event)
		default:
			return
		}
	}
}
