// Package metrics exposes the runtime's Prometheus surface: event/drop
// counters keyed by severity.Monitor's vocabulary, queue worker gauges,
// sink emit counters/histograms, and ambient process metrics. Adapted from
// the teacher's internal/metrics package (global promauto-registered
// collectors, a safeRegister guard against double-registration, a thin
// http.Server wrapping promhttp.Handler, and an EnhancedMetrics struct
// polling runtime.MemStats plus gopsutil on a ticker) narrowed from the
// teacher's container/file/DLQ/position-tracking metrics — none of which
// this domain has — down to the collaborators this runtime actually has:
// severitymonitor.Monitor, queueworker.Worker, and internal/sinks.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

var (
	// EventsTotal counts accepted log events by severity name.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcore_events_total",
			Help: "Total number of log events accepted by the pipeline, by severity.",
		},
		[]string{"level"},
	)

	// DropsTotal counts rejected events by the stable drop-reason
	// vocabulary (rate_limited, queue_full, adapter_error, payload_rejected).
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcore_drops_total",
			Help: "Total number of log events dropped, by reason.",
		},
		[]string{"reason"},
	)

	// ProcessingDuration times one full Pipeline.Process pass.
	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logcore_processing_duration_seconds",
			Help:    "Time spent in one Pipeline.Process pass.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
	)

	// QueueDepth is the current depth of the background dispatch queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logcore_queue_depth",
			Help: "Current number of events queued for background dispatch.",
		},
	)

	// QueueDegraded is 1 while the queue worker downgrades Put to
	// non-blocking drop behaviour.
	QueueDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logcore_queue_degraded",
			Help: "1 when the dispatch queue is in degraded (drop-on-full) mode.",
		},
	)

	// QueueWorkerFailed is 1 while the worker's latched failure flag is set.
	QueueWorkerFailed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logcore_queue_worker_failed",
			Help: "1 when the dispatch queue's latched worker_failed flag is set.",
		},
	)

	// SinkEmitTotal counts sink Emit outcomes by sink name and status
	// ("ok"/"error").
	SinkEmitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcore_sink_emit_total",
			Help: "Total sink Emit calls, by sink and outcome.",
		},
		[]string{"sink", "status"},
	)

	// SinkEmitDuration times Sink.Emit calls by sink name.
	SinkEmitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logcore_sink_emit_duration_seconds",
			Help:    "Time spent in Sink.Emit, by sink.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	// RingBufferSize is the current number of retained events in the ring
	// buffer.
	RingBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logcore_ring_buffer_size",
			Help: "Current number of events retained in the ring buffer.",
		},
	)

	// RateLimiterRejections counts events rejected by the sliding-window
	// rate limiter, by logger name.
	RateLimiterRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcore_rate_limiter_rejections_total",
			Help: "Total events rejected by the rate limiter, by logger name.",
		},
		[]string{"logger"},
	)

	// ScrubRedactionsTotal counts fields redacted by the scrubber, by
	// matched pattern name.
	ScrubRedactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcore_scrub_redactions_total",
			Help: "Total fields redacted by the scrubber, by pattern.",
		},
		[]string{"pattern"},
	)

	// DumpRendersTotal counts dump.Render calls by output format.
	DumpRendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcore_dump_renders_total",
			Help: "Total dump renders, by format.",
		},
		[]string{"format"},
	)

	// MemoryUsage mirrors runtime.MemStats heap counters.
	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logcore_memory_usage_bytes",
			Help: "Process memory usage, by category.",
		},
		[]string{"type"},
	)

	// Goroutines is the live goroutine count.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logcore_goroutines",
			Help: "Current number of goroutines.",
		},
	)

	// FileDescriptors is the number of open file descriptors, sampled via
	// gopsutil so the count is available on every platform the sinks
	// target (including Windows, where /proc doesn't exist).
	FileDescriptors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logcore_file_descriptors_open",
			Help: "Number of open file descriptors.",
		},
	)

	// CPUPercent is the process's CPU utilisation, sampled via gopsutil.
	CPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logcore_cpu_percent",
			Help: "Process CPU utilisation percentage.",
		},
	)

	GCPauseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logcore_gc_pause_duration_seconds",
			Help:    "Most recent garbage collection pause duration.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)
)

// RecordEvent increments EventsTotal for level.
func RecordEvent(level string) { EventsTotal.WithLabelValues(level).Inc() }

// RecordDrop increments DropsTotal for reason.
func RecordDrop(reason string) { DropsTotal.WithLabelValues(reason).Inc() }

// RecordProcessingDuration observes one Process pass's wall time.
func RecordProcessingDuration(d time.Duration) { ProcessingDuration.Observe(d.Seconds()) }

// RecordSinkEmit records a sink Emit outcome and its duration.
func RecordSinkEmit(sink string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	SinkEmitTotal.WithLabelValues(sink, status).Inc()
	SinkEmitDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// SetQueueGauges pushes the worker's current depth/degraded/failed state.
func SetQueueGauges(depth int, degraded, failed bool) {
	QueueDepth.Set(float64(depth))
	QueueDegraded.Set(boolToFloat(degraded))
	QueueWorkerFailed.Set(boolToFloat(failed))
}

// SetRingBufferSize pushes the ring buffer's current length.
func SetRingBufferSize(size int) { RingBufferSize.Set(float64(size)) }

// RecordRateLimiterRejection increments RateLimiterRejections for logger.
func RecordRateLimiterRejection(logger string) { RateLimiterRejections.WithLabelValues(logger).Inc() }

// RecordScrubRedaction increments ScrubRedactionsTotal for pattern.
func RecordScrubRedaction(pattern string) { ScrubRedactionsTotal.WithLabelValues(pattern).Inc() }

// RecordDumpRender increments DumpRendersTotal for format.
func RecordDumpRender(format string) { DumpRendersTotal.WithLabelValues(format).Inc() }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Server is a thin http.Server exposing /metrics (promhttp) and /health.
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer builds a metrics Server bound to addr. Collectors are
// registered globally via promauto at package init, so there is nothing
// else to register here — unlike the teacher's safeRegister-guarded
// one-time registration, which existed because its metrics were declared
// with prometheus.New* (unregistered) rather than promauto.New*.
func NewServer(addr string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("metrics server starting")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server error")
		}
	}()
	return nil
}

// Stop closes the listener.
func (s *Server) Stop() error {
	s.logger.Info("metrics server stopping")
	return s.server.Close()
}

// SystemPoller periodically samples process-wide metrics (heap, goroutine
// count, GC pauses, open file descriptors) that aren't tied to any single
// pipeline component.
type SystemPoller struct {
	interval time.Duration
	running  bool
	mu       sync.Mutex
	stop     chan struct{}
}

// NewSystemPoller builds a poller sampling every interval (default 30s).
func NewSystemPoller(interval time.Duration) *SystemPoller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SystemPoller{interval: interval}
}

// Start begins the polling goroutine. It returns an error if the poller is
// already running.
func (p *SystemPoller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("system poller already running")
	}
	p.running = true
	p.stop = make(chan struct{})
	go p.loop(p.stop)
	return nil
}

// Stop halts the polling goroutine.
func (p *SystemPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stop)
}

func (p *SystemPoller) loop(stop chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			UpdateSystemMetrics()
		}
	}
}

// UpdateSystemMetrics samples runtime.MemStats plus gopsutil's per-process
// file-descriptor and CPU counters once.
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsage.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryUsage.WithLabelValues("heap_sys").Set(float64(m.HeapSys))
	MemoryUsage.WithLabelValues("heap_idle").Set(float64(m.HeapIdle))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))

	Goroutines.Set(float64(runtime.NumGoroutine()))

	if m.NumGC > 0 {
		lastPauseNs := m.PauseNs[(m.NumGC+255)%256]
		GCPauseDuration.Observe(float64(lastPauseNs) / 1e9)
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	if fds, err := proc.NumFDs(); err == nil {
		FileDescriptors.Set(float64(fds))
	}
	if pct, err := proc.CPUPercent(); err == nil {
		CPUPercent.Set(pct)
	}
}
