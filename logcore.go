// Package logcore is the composition root and public API of the logging
// runtime: Init/InitFromFile install a process-wide singleton; Bind, Get,
// Dump, Shutdown/ShutdownAsync, IsInitialised, and Inspect operate on it.
// It wires internal/config, the pkg/* building blocks (context stack,
// sanitiser, scrubber, rate limiter, ring buffer, severity monitor) and
// internal/pipeline, internal/queueworker, internal/sinks,
// internal/tracing, internal/metrics, and internal/admin into one runtime,
// modelled on the teacher's internal/app.App composition root: one
// constructor building every collaborator from a single Config, explicit
// Start/Stop lifecycle, guarded against double-install.
package logcore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-oss/logcore/internal/admin"
	"github.com/ssw-oss/logcore/internal/config"
	"github.com/ssw-oss/logcore/internal/metrics"
	"github.com/ssw-oss/logcore/internal/pipeline"
	"github.com/ssw-oss/logcore/internal/queueworker"
	"github.com/ssw-oss/logcore/internal/sinks"
	"github.com/ssw-oss/logcore/internal/tracing"
	"github.com/ssw-oss/logcore/pkg/dump"
	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcontext"
	"github.com/ssw-oss/logcore/pkg/logcoreerr"
	"github.com/ssw-oss/logcore/pkg/logevent"
	"github.com/ssw-oss/logcore/pkg/ratelimit"
	"github.com/ssw-oss/logcore/pkg/ringbuffer"
	"github.com/ssw-oss/logcore/pkg/sanitize"
	"github.com/ssw-oss/logcore/pkg/scrub"
	"github.com/ssw-oss/logcore/pkg/severitymonitor"
)

var (
	// installMu serialises Init/Shutdown against each other; Bind/Get/Dump
	// never take it, reading the singleton through the lock-free pointer
	// below (spec.md §5: reads lock-free, writes only at init/shutdown).
	installMu sync.Mutex
	instance  atomic.Pointer[Runtime]
)

// Runtime is the live, installed logging runtime. There is at most one per
// process.
type Runtime struct {
	cfg    *config.Config
	logger *logrus.Logger

	consoleLevel levels.Severity
	backendLevel levels.Severity
	graylogLevel levels.Severity

	ring      *ringbuffer.RingBuffer
	monitor   *severitymonitor.Monitor
	scrubber  *atomicScrubber
	rateLimit *atomicRateLimiter

	pipeline *pipeline.Pipeline
	queue    *queueworker.Worker

	tracer      *tracing.Bridge
	sysPoller   *metrics.SystemPoller
	adminServer *admin.Server
	watcher     *config.Watcher

	sinkClosers []func() error

	dumpDefaults dump.Options

	statsStop chan struct{}

	shutdownOnce sync.Once
}

// atomicScrubber lets the active scrub.Scrubber be hot-swapped by
// config.Watcher without internal/pipeline knowing anything about reloads;
// it satisfies internal/pipeline.Scrubber.
type atomicScrubber struct {
	ptr atomic.Pointer[scrub.Scrubber]
}

func (a *atomicScrubber) Scrub(extra map[string]any) map[string]any {
	if s := a.ptr.Load(); s != nil {
		return s.Scrub(extra)
	}
	return extra
}

// atomicRateLimiter is the same hot-swap indirection for pkg/ratelimit;
// a nil underlying limiter (rate_limit.max_events <= 0) means unlimited.
// It satisfies internal/pipeline.RateLimiter.
type atomicRateLimiter struct {
	ptr atomic.Pointer[ratelimit.Limiter]
}

func (a *atomicRateLimiter) Allow(logger string, level levels.Severity, ts time.Time) bool {
	rl := a.ptr.Load()
	if rl == nil {
		return true
	}
	return rl.Allow(logger, level, ts)
}

// instrumentedSink wraps a pipeline.Sink with internal/metrics'
// per-sink emit counters/histogram.
type instrumentedSink struct {
	name  string
	inner pipeline.Sink
}

func (s instrumentedSink) Emit(ctx context.Context, event logevent.Event) error {
	start := time.Now()
	err := s.inner.Emit(ctx, event)
	metrics.RecordSinkEmit(s.name, err, time.Since(start))
	return err
}

// Init builds and installs the process-wide runtime from cfg. It fails
// with AlreadyInitialised if a runtime is already installed.
func Init(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, logcoreerr.InvalidConfiguration("logcore", "init", "config is required")
	}

	installMu.Lock()
	defer installMu.Unlock()

	if instance.Load() != nil {
		return nil, logcoreerr.AlreadyInitialised("logcore", "init", "runtime is already installed; call Shutdown first")
	}

	rt, err := build(cfg)
	if err != nil {
		return nil, err
	}

	instance.Store(rt)
	return rt, nil
}

// InitFromFile loads cfg from path (LOGCORE_-prefixed env overrides still
// apply), installs the runtime, and additionally starts a config.Watcher
// that hot-reloads the scrub patterns and rate-limit window on file change.
func InitFromFile(path string) (*Runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	rt, err := Init(cfg)
	if err != nil {
		return nil, err
	}

	watcher, err := config.NewWatcher(path, cfg, 500*time.Millisecond, rt.logger, rt.onConfigChange)
	if err != nil {
		rt.logger.WithError(err).Warn("logcore: config watcher did not start; hot reload disabled")
		return rt, nil
	}
	watcher.Start()
	rt.watcher = watcher
	return rt, nil
}

func build(cfg *config.Config) (*Runtime, error) {
	logger := logrus.StandardLogger()

	consoleLevel, err := levels.Parse(cfg.ConsoleLevel)
	if err != nil {
		return nil, err
	}
	backendLevel, err := levels.Parse(cfg.BackendLevel)
	if err != nil {
		return nil, err
	}
	graylogLevel, err := levels.Parse(cfg.GraylogLevel)
	if err != nil {
		return nil, err
	}

	ringCapacity := cfg.RingBufferSize
	if !cfg.EnableRingBuffer {
		ringCapacity = 1
	}
	ring, err := ringbuffer.New(ringbuffer.Config{
		Capacity:       ringCapacity,
		CheckpointPath: cfg.RingBufferCheckpointPath,
	}, logger)
	if err != nil {
		return nil, err
	}

	monitor := severitymonitor.New()

	scrubberAdapter := &atomicScrubber{}
	scrubPatterns := cfg.ScrubPatterns
	if len(scrubPatterns) == 0 {
		scrubPatterns = scrub.DefaultPatterns()
	}
	initialScrubber, err := scrub.New(scrubPatterns, "")
	if err != nil {
		return nil, err
	}
	scrubberAdapter.ptr.Store(initialScrubber)

	rateLimitAdapter := &atomicRateLimiter{}
	if cfg.RateLimit.MaxEvents > 0 {
		rateLimitAdapter.ptr.Store(ratelimit.New(cfg.RateLimit.MaxEvents, cfg.RateLimit.Window))
	}

	var tracer *tracing.Bridge
	if cfg.Tracing.Enabled {
		tracer, err = tracing.New(tracing.Config{
			Enabled:      true,
			ServiceName:  cfg.Service,
			Environment:  cfg.Environment,
			Exporter:     cfg.Tracing.Exporter,
			Endpoint:     cfg.Tracing.Endpoint,
			SampleRate:   cfg.Tracing.SampleRate,
			BatchTimeout: cfg.Tracing.BatchTimeout,
			MaxBatchSize: cfg.Tracing.MaxBatchSize,
			Headers:      cfg.Tracing.Headers,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	rt := &Runtime{
		cfg:          cfg,
		logger:       logger,
		consoleLevel: consoleLevel,
		backendLevel: backendLevel,
		graylogLevel: graylogLevel,
		ring:         ring,
		monitor:      monitor,
		scrubber:     scrubberAdapter,
		rateLimit:    rateLimitAdapter,
		tracer:       tracer,
		sysPoller:    metrics.NewSystemPoller(30 * time.Second),
		dumpDefaults: dump.Options{
			Preset:   firstNonEmpty(cfg.DumpFormatPreset, "full"),
			Template: cfg.DumpFormatTemplate,
			Theme:    parseStyles(cfg.Console.Styles),
			Colorize: cfg.Console.ForceColor,
		},
	}

	bindings, closers, err := rt.buildSinks(cfg)
	if err != nil {
		return nil, err
	}
	rt.sinkClosers = closers

	var queuePtr *queueworker.Worker
	var pl *pipeline.Pipeline
	var queueBinding pipeline.Queue

	if cfg.Queue.Enabled {
		policy := queueworker.PolicyBlock
		if cfg.Queue.FullPolicy == "drop" {
			policy = queueworker.PolicyDrop
		}
		fanOut := func(ctx context.Context, event logevent.Event) error {
			return pl.Dispatch(ctx, event)
		}
		queuePtr, err = queueworker.New(queueworker.Config{
			MaxSize:     cfg.Queue.MaxSize,
			DropPolicy:  policy,
			PutTimeout:  cfg.Queue.PutTimeout,
			StopTimeout: cfg.Queue.StopTimeout,
			OnDrop: func(event logevent.Event) {
				logger.WithField("event_id", event.EventID).Debug("logcore: event dropped by queue worker")
			},
		}, logger, fanOut, rt.queueDiagnostic)
		if err != nil {
			return nil, err
		}
		queuePtr.Start()
		queueBinding = queuePtr
	}

	// A nil *tracing.Bridge boxed directly into the pipeline.Tracer
	// interface field would be a non-nil interface wrapping a nil pointer
	// (the classic Go nil-interface gotcha); only box it when tracing is
	// actually enabled so Process's "cfg.Tracer != nil" check stays correct.
	var pipelineTracer pipeline.Tracer
	if tracer != nil {
		pipelineTracer = tracer
	}

	pl, err = pipeline.New(pipeline.Config{
		Sanitize:   sanitizeLimitsFrom(cfg.PayloadLimits),
		Scrubber:   scrubberAdapter,
		RateLimit:  rateLimitAdapter,
		RingBuffer: ring,
		Monitor:    monitor,
		Sinks:      bindings,
		Queue:      queueBinding,
		Diagnostic: rt.pipelineDiagnostic,
		Logger:     logger,
		Tracer:     pipelineTracer,
	})
	if err != nil {
		return nil, err
	}
	rt.pipeline = pl
	rt.queue = queuePtr

	if cfg.Admin.Enabled {
		rt.adminServer = admin.New(cfg.Admin.ListenAddr, admin.Dependencies{
			Healthy: func() bool { return instance.Load() != nil },
			Inspect: rt.Inspect,
			Dump:    rt.dumpQuery,
		}, logger)
		rt.adminServer.Start()
	}

	if err := rt.sysPoller.Start(); err != nil {
		logger.WithError(err).Warn("logcore: system metrics poller did not start")
	}
	rt.statsStop = make(chan struct{})
	go rt.statsLoop(rt.statsStop)

	return rt, nil
}

func (rt *Runtime) buildSinks(cfg *config.Config) ([]pipeline.SinkBinding, []func() error, error) {
	var bindings []pipeline.SinkBinding
	var closers []func() error

	termStyles := parseStyles(cfg.Console.Styles)
	colorize := cfg.Console.ForceColor && !cfg.Console.NoColor
	term := sinks.NewTerminalSink(sinks.TerminalConfig{Colorize: colorize, Styles: termStyles})
	bindings = append(bindings, pipeline.SinkBinding{
		Name:      "console",
		Sink:      instrumentedSink{name: "console", inner: term},
		Threshold: rt.consoleLevel,
	})

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}

	if cfg.EnableJournal {
		j, err := sinks.NewJournalSink(cfg.Service)
		if err != nil {
			return nil, nil, err
		}
		bindings = append(bindings, pipeline.SinkBinding{
			Name:      "journal",
			Sink:      instrumentedSink{name: "journal", inner: j},
			Threshold: rt.backendLevel,
		})
		closers = append(closers, j.Close)
	}

	if cfg.EnableEventLog {
		e, err := sinks.NewEventLogSink(cfg.Service)
		if err != nil {
			return nil, nil, err
		}
		bindings = append(bindings, pipeline.SinkBinding{
			Name:      "eventlog",
			Sink:      instrumentedSink{name: "eventlog", inner: e},
			Threshold: rt.backendLevel,
		})
		closers = append(closers, e.Close)
	}

	if cfg.Graylog.Enabled {
		switch cfg.Graylog.Protocol {
		case "kafka":
			ks, err := sinks.NewKafkaSink(sinks.KafkaConfig{
				Brokers:         cfg.Kafka.Brokers,
				Topic:           cfg.Kafka.Topic,
				Compression:     cfg.Kafka.Compression,
				BatchSize:       cfg.Kafka.BatchSize,
				BatchTimeout:    cfg.Kafka.BatchTimeout,
				MaxMessageBytes: cfg.Kafka.MaxMessageBytes,
				RetryMax:        cfg.Kafka.RetryMax,
				DialTimeout:     cfg.Kafka.DialTimeout,
				QueueSize:       cfg.Kafka.QueueSize,
				Auth: sinks.KafkaAuth{
					Enabled:   cfg.Kafka.AuthEnabled,
					Username:  cfg.Kafka.AuthUsername,
					Password:  cfg.Kafka.AuthPassword,
					Mechanism: cfg.Kafka.AuthMechanism,
				},
			}, rt.logger)
			if err != nil {
				return nil, nil, err
			}
			ks.Start()
			bindings = append(bindings, pipeline.SinkBinding{
				Name:      "graylog_kafka",
				Sink:      instrumentedSink{name: "graylog_kafka", inner: ks},
				Threshold: rt.graylogLevel,
			})
			closers = append(closers, ks.Stop)
		default:
			transport := sinks.GelfUDP
			switch {
			case cfg.Graylog.TLS:
				transport = sinks.GelfTLS
			case cfg.Graylog.Protocol == "tcp":
				transport = sinks.GelfTCP
			}
			gs, err := sinks.NewGelfSink(sinks.GelfConfig{
				Address:   fmt.Sprintf("%s:%d", cfg.Graylog.Host, cfg.Graylog.Port),
				Transport: transport,
				TLS:       sinks.TLSConfig{Enabled: cfg.Graylog.TLS},
				Compress:  cfg.Graylog.Compress,
			}, hostname)
			if err != nil {
				return nil, nil, err
			}
			bindings = append(bindings, pipeline.SinkBinding{
				Name:      "graylog",
				Sink:      instrumentedSink{name: "graylog", inner: gs},
				Threshold: rt.graylogLevel,
			})
			closers = append(closers, gs.Close)
		}
	}

	return bindings, closers, nil
}

// pipelineDiagnostic bridges internal/pipeline's diagnostic vocabulary to
// the rate-limiter rejection counter; event/drop totals are synced from
// severitymonitor.Monitor on a ticker instead (statsLoop), since most
// diagnostic payloads don't carry a severity label.
func (rt *Runtime) pipelineDiagnostic(name string, payload map[string]any) {
	if name != "rate_limited" {
		return
	}
	if loggerName, ok := payload["logger"].(string); ok {
		metrics.RecordRateLimiterRejection(loggerName)
	}
}

// queueDiagnostic bridges internal/queueworker's diagnostic vocabulary to
// the drop-reason counter for "queue_worker_error" — a fan-out failure the
// severitymonitor.Monitor (and so statsLoop's sync) never sees, since it
// happens after Process already counted the event as queued successfully.
// "queue_full" is deliberately not handled here: the synchronous Put
// failure path already reaches Process's own monitor.RecordDrop call,
// and counting it again here would double it.
func (rt *Runtime) queueDiagnostic(name string, _ map[string]any) {
	if name == "queue_worker_error" {
		metrics.RecordDrop("adapter_error")
	}
}

// statsLoop periodically syncs cumulative severitymonitor.Monitor counts
// into the monotonic Prometheus counters (which need deltas, not snapshots)
// and pushes the queue/ring-buffer gauges.
func (rt *Runtime) statsLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastLevels := map[string]int64{}
	lastDrops := map[string]int64{}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := rt.monitor.Snapshot()
			for level, total := range snap.ByLevel {
				if delta := total - lastLevels[level]; delta > 0 {
					metrics.EventsTotal.WithLabelValues(level).Add(float64(delta))
				}
				lastLevels[level] = total
			}
			for reason, total := range snap.Drops {
				if delta := total - lastDrops[reason]; delta > 0 {
					metrics.DropsTotal.WithLabelValues(reason).Add(float64(delta))
				}
				lastDrops[reason] = total
			}
			metrics.SetRingBufferSize(rt.ring.Len())
			if rt.queue != nil {
				metrics.SetQueueGauges(rt.queue.Len(), rt.queue.Degraded(), rt.queue.WorkerFailed())
			}
		}
	}
}

// onConfigChange is config.Watcher's onChange callback: it hot-swaps the
// scrub patterns and rate-limit window without tearing down the runtime.
func (rt *Runtime) onConfigChange(old, next *config.Config) {
	patterns := next.ScrubPatterns
	if len(patterns) == 0 {
		patterns = scrub.DefaultPatterns()
	}
	if s, err := scrub.New(patterns, ""); err == nil {
		rt.scrubber.ptr.Store(s)
	} else {
		rt.logger.WithError(err).Warn("logcore: config reload produced invalid scrub patterns; keeping previous scrubber")
	}

	if next.RateLimit.MaxEvents > 0 {
		rt.rateLimit.ptr.Store(ratelimit.New(next.RateLimit.MaxEvents, next.RateLimit.Window))
	} else {
		rt.rateLimit.ptr.Store(nil)
	}
}

// IsInitialised reports whether a runtime is currently installed.
func IsInitialised() bool {
	return instance.Load() != nil
}

func current() (*Runtime, error) {
	rt := instance.Load()
	if rt == nil {
		return nil, logcoreerr.NotInitialised("logcore", "current", "call Init before using the logging runtime")
	}
	return rt, nil
}

// Bind pushes a new context frame for the duration of the returned Scope,
// delegating to pkg/logcontext. Fails NotInitialised if no runtime is
// installed (spec.md §7's error taxonomy).
func Bind(ctx context.Context, fields logcontext.Fields) (context.Context, *logcontext.Scope, error) {
	if _, err := current(); err != nil {
		return ctx, nil, err
	}
	return logcontext.Bind(ctx, fields)
}

// Logger is a named handle whose severity methods submit one event each
// and return the pipeline's result record.
type Logger struct {
	name string
	rt   *Runtime
}

// Get returns a Logger handle bound to name. Fails NotInitialised if no
// runtime is installed.
func Get(name string) (*Logger, error) {
	rt, err := current()
	if err != nil {
		return nil, err
	}
	return &Logger{name: name, rt: rt}, nil
}

func (l *Logger) log(ctx context.Context, level levels.Severity, message string, extra map[string]any, excInfo string) (pipeline.Result, error) {
	return l.rt.pipeline.Process(ctx, l.name, level, message, extra, excInfo)
}

// Debug submits a debug-severity event.
func (l *Logger) Debug(ctx context.Context, message string, extra map[string]any) (pipeline.Result, error) {
	return l.log(ctx, levels.Debug, message, extra, "")
}

// Info submits an info-severity event.
func (l *Logger) Info(ctx context.Context, message string, extra map[string]any) (pipeline.Result, error) {
	return l.log(ctx, levels.Info, message, extra, "")
}

// Warning submits a warning-severity event.
func (l *Logger) Warning(ctx context.Context, message string, extra map[string]any) (pipeline.Result, error) {
	return l.log(ctx, levels.Warning, message, extra, "")
}

// Error submits an error-severity event.
func (l *Logger) Error(ctx context.Context, message string, extra map[string]any) (pipeline.Result, error) {
	return l.log(ctx, levels.Error, message, extra, "")
}

// Critical submits a critical-severity event.
func (l *Logger) Critical(ctx context.Context, message string, extra map[string]any) (pipeline.Result, error) {
	return l.log(ctx, levels.Critical, message, extra, "")
}

// Exception submits an error-severity event carrying err's text as the
// event's exc_info, mirroring the reference implementation's
// logger.exception(...) convenience.
func (l *Logger) Exception(ctx context.Context, message string, err error, extra map[string]any) (pipeline.Result, error) {
	excInfo := ""
	if err != nil {
		excInfo = err.Error()
	}
	return l.log(ctx, levels.Error, message, extra, excInfo)
}

// DumpRequest configures a single Dump call. Zero values fall back to the
// runtime's configured defaults (format preset/template, theme).
type DumpRequest struct {
	Format         string // "text", "json", "html", "html_styled"; default per config
	Preset         string // named literal template, spec.md §4.11
	Template       string // explicit template; overrides Preset
	MinLevel       string // severity name; empty means no floor
	Theme          map[string]string
	Colorize       bool
	ContextFilters []dump.Predicate
	ExtraFilters   []dump.Predicate
}

// Dump renders the ring buffer's current contents per req.
func Dump(req DumpRequest) (string, error) {
	rt, err := current()
	if err != nil {
		return "", err
	}
	return rt.Dump(req)
}

// Dump renders rt's ring buffer per req.
func (rt *Runtime) Dump(req DumpRequest) (string, error) {
	opts, err := rt.resolveDumpOptions(req)
	if err != nil {
		return "", err
	}
	rendered, err := dump.Render(rt.ring.Snapshot(), opts)
	if err != nil {
		return "", err
	}
	metrics.RecordDumpRender(formatName(opts.Format))
	return rendered, nil
}

func (rt *Runtime) resolveDumpOptions(req DumpRequest) (dump.Options, error) {
	opts := rt.dumpDefaults
	opts.ContextFilters = req.ContextFilters
	opts.ExtraFilters = req.ExtraFilters

	if req.Colorize {
		opts.Colorize = true
	}
	if len(req.Theme) > 0 {
		merged := make(map[levels.Severity]string, len(opts.Theme)+len(req.Theme))
		for k, v := range opts.Theme {
			merged[k] = v
		}
		for k, v := range parseStyles(req.Theme) {
			merged[k] = v
		}
		opts.Theme = merged
	}
	if req.Preset != "" {
		opts.Preset = req.Preset
		opts.Template = ""
	}
	if req.Template != "" {
		opts.Template = req.Template
		opts.Preset = ""
	}
	if req.MinLevel != "" {
		level, err := levels.Parse(req.MinLevel)
		if err != nil {
			return opts, logcoreerr.InvalidTemplate("logcore", "dump", "min_level: "+err.Error())
		}
		opts.MinLevel = level
		opts.HasMinLevel = true
	}
	if req.Format != "" {
		format, err := parseDumpFormat(req.Format)
		if err != nil {
			return opts, err
		}
		opts.Format = format
	}
	return opts, nil
}

// dumpQuery adapts admin's url.Values-shaped request into a DumpRequest.
// Filter syntax: "ctx:field=value" / "ctx:field~value" / "extra:field=value"
// (no prefix defaults to a context filter); "=" is an exact match, "~" a
// substring match. This wire shape isn't specified upstream; documented in
// DESIGN.md as the chosen resolution for the admin /dump query format.
func (rt *Runtime) dumpQuery(query map[string][]string) (string, string, error) {
	values := url.Values(query)
	req := DumpRequest{
		Format:   values.Get("format"),
		Preset:   values.Get("preset"),
		Template: values.Get("template"),
		MinLevel: values.Get("level"),
		Colorize: values.Get("color") == "1" || values.Get("color") == "true",
	}
	for _, raw := range values["filter"] {
		pred, onContext, err := parseDumpFilter(raw)
		if err != nil {
			return "", "", err
		}
		if onContext {
			req.ContextFilters = append(req.ContextFilters, pred)
		} else {
			req.ExtraFilters = append(req.ExtraFilters, pred)
		}
	}

	rendered, err := rt.Dump(req)
	if err != nil {
		return "", "", err
	}
	return rendered, contentTypeFor(req.Format), nil
}

// Shutdown drains the queue (if any), flushes and closes every sink, stops
// the admin/metrics/tracing servers, and clears the singleton.
func Shutdown(drain bool, timeout time.Duration) error {
	rt, err := current()
	if err != nil {
		return err
	}
	return rt.shutdown(drain, timeout)
}

// ShutdownAsync runs Shutdown in a goroutine and returns a channel that
// receives its result exactly once.
func ShutdownAsync(drain bool, timeout time.Duration) <-chan error {
	result := make(chan error, 1)
	go func() { result <- Shutdown(drain, timeout) }()
	return result
}

func (rt *Runtime) shutdown(drain bool, timeout time.Duration) error {
	installMu.Lock()
	defer installMu.Unlock()

	if instance.Load() != rt {
		return logcoreerr.NotInitialised("logcore", "shutdown", "runtime is not the installed singleton")
	}

	var queueErr error
	rt.shutdownOnce.Do(func() {
		if rt.watcher != nil {
			rt.watcher.Stop()
		}
		if rt.queue != nil {
			queueErr = rt.queue.Stop(drain, timeout)
		}
		close(rt.statsStop)
		rt.sysPoller.Stop()
		if rt.adminServer != nil {
			if err := rt.adminServer.Stop(); err != nil {
				rt.logger.WithError(err).Warn("logcore: admin server stop error")
			}
		}
		if rt.tracer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rt.tracer.Shutdown(ctx); err != nil {
				rt.logger.WithError(err).Warn("logcore: tracer shutdown error")
			}
		}
		for _, closeFn := range rt.sinkClosers {
			if err := closeFn(); err != nil {
				rt.logger.WithError(err).Warn("logcore: sink close error")
			}
		}
		if err := rt.ring.Flush(); err != nil {
			rt.logger.WithError(err).Warn("logcore: ring buffer checkpoint flush error")
		}
	})

	instance.Store(nil)
	return queueErr
}

// InspectSnapshot is the immutable introspection view returned by Inspect:
// thresholds, theme, and whether a background queue is in front of
// dispatch (spec.md §6's "immutable snapshot of thresholds, theme, styles,
// queue presence").
type InspectSnapshot struct {
	Service      string            `json:"service"`
	Environment  string            `json:"environment"`
	ConsoleLevel string            `json:"console_level"`
	BackendLevel string            `json:"backend_level"`
	GraylogLevel string            `json:"graylog_level"`
	QueueEnabled bool              `json:"queue_enabled"`
	QueueDepth   int               `json:"queue_depth,omitempty"`
	QueueFailed  bool              `json:"queue_worker_failed,omitempty"`
	RingBuffer   int               `json:"ring_buffer_len"`
	DumpPreset   string            `json:"dump_format_preset"`
	Theme        map[string]string `json:"theme,omitempty"`
	Severity     severitymonitor.Snapshot `json:"severity"`
}

// Inspect returns a point-in-time introspection snapshot.
func Inspect() (InspectSnapshot, error) {
	rt, err := current()
	if err != nil {
		return InspectSnapshot{}, err
	}
	return rt.inspect(), nil
}

// Inspect returns rt's introspection snapshot as `any`, matching the
// signature internal/admin.Dependencies.Inspect expects.
func (rt *Runtime) Inspect() any {
	return rt.inspect()
}

func (rt *Runtime) inspect() InspectSnapshot {
	snap := InspectSnapshot{
		Service:      rt.cfg.Service,
		Environment:  rt.cfg.Environment,
		ConsoleLevel: rt.consoleLevel.Name(),
		BackendLevel: rt.backendLevel.Name(),
		GraylogLevel: rt.graylogLevel.Name(),
		QueueEnabled: rt.queue != nil,
		RingBuffer:   rt.ring.Len(),
		DumpPreset:   rt.dumpDefaults.Preset,
		Theme:        rt.cfg.Console.Styles,
		Severity:     rt.monitor.Snapshot(),
	}
	if rt.queue != nil {
		snap.QueueDepth = rt.queue.Len()
		snap.QueueFailed = rt.queue.WorkerFailed()
	}
	return snap
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sanitizeLimitsFrom(p config.PayloadLimits) sanitize.Limits {
	return sanitize.Limits{
		MessageMaxChars:      p.MessageMaxChars,
		TruncateMessage:      p.TruncateMessage,
		ExtraMaxKeys:         p.ExtraMaxKeys,
		ExtraMaxValueChars:   p.ExtraMaxValueChars,
		ExtraMaxDepth:        p.ExtraMaxDepth,
		ExtraMaxTotalBytes:   p.ExtraMaxTotalBytes,
		ContextMaxKeys:       p.ContextMaxKeys,
		ContextMaxValueChars: p.ContextMaxValueChars,
		StacktraceMaxFrames:  p.StacktraceMaxFrames,
	}
}

func parseStyles(raw map[string]string) map[levels.Severity]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[levels.Severity]string, len(raw))
	for name, style := range raw {
		level, err := levels.Parse(name)
		if err != nil {
			continue
		}
		out[level] = style
	}
	return out
}

func parseDumpFormat(raw string) (dump.Format, error) {
	switch strings.ToLower(raw) {
	case "", "text":
		return dump.Text, nil
	case "json":
		return dump.JSON, nil
	case "html", "html_table":
		return dump.HTMLTable, nil
	case "html_styled":
		return dump.HTMLStyled, nil
	default:
		return 0, logcoreerr.InvalidTemplate("logcore", "dump", "unknown format: "+raw)
	}
}

func formatName(f dump.Format) string {
	switch f {
	case dump.JSON:
		return "json"
	case dump.HTMLTable:
		return "html_table"
	case dump.HTMLStyled:
		return "html_styled"
	default:
		return "text"
	}
}

func contentTypeFor(format string) string {
	switch strings.ToLower(format) {
	case "json":
		return "application/json"
	case "html", "html_table", "html_styled":
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// parseDumpFilter parses "[ctx:|extra:]field(=|~)value" into a
// dump.Predicate plus whether it targets context (true) or extra (false).
func parseDumpFilter(raw string) (dump.Predicate, bool, error) {
	onContext := true
	rest := raw
	switch {
	case strings.HasPrefix(raw, "ctx:"):
		rest = strings.TrimPrefix(raw, "ctx:")
	case strings.HasPrefix(raw, "extra:"):
		onContext = false
		rest = strings.TrimPrefix(raw, "extra:")
	}

	mode := dump.Exact
	sep := strings.IndexAny(rest, "=~")
	if sep < 0 {
		return dump.Predicate{}, false, logcoreerr.InvalidTemplate("logcore", "dump", "filter must be field=value or field~value: "+raw)
	}
	if rest[sep] == '~' {
		mode = dump.Substring
	}
	field := rest[:sep]
	value := rest[sep+1:]
	if field == "" {
		return dump.Predicate{}, false, logcoreerr.InvalidTemplate("logcore", "dump", "filter is missing a field name: "+raw)
	}
	return dump.Predicate{Field: field, Value: value, Mode: mode}, onContext, nil
}
