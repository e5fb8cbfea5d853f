// Package pipeline implements the processing pipeline described in
// spec.md §4.8: identity refresh, stamping, payload sanitisation,
// field-name scrubbing, rate limiting, ring-buffer retention, and
// dispatch (direct fan-out or hand-off to the queue worker). It is
// grounded directly on the original implementation's
// create_process_log_event/process/_refresh_context/_fan_out/_diagnostic
// orchestration (original_source/.../process_event.py), reworked around
// Go's context.Context-based context stack instead of a bound closure
// over a single global binder.
package pipeline

import (
	"context"
	"errors"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ssw-oss/logcore/pkg/clockid"
	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcontext"
	"github.com/ssw-oss/logcore/pkg/logcoreerr"
	"github.com/ssw-oss/logcore/pkg/logevent"
	"github.com/ssw-oss/logcore/pkg/ringbuffer"
	"github.com/ssw-oss/logcore/pkg/sanitize"
	"github.com/ssw-oss/logcore/pkg/severitymonitor"
)

// Sink is the minimal dispatch target the pipeline fans an event out to.
// The concrete sink implementations (terminal, journald, GELF, Kafka, ...)
// live in internal/sinks.
type Sink interface {
	Emit(ctx context.Context, event logevent.Event) error
}

// SinkBinding pairs a Sink with the minimum severity it should receive.
type SinkBinding struct {
	Name      string
	Sink      Sink
	Threshold levels.Severity
}

// Queue is the subset of internal/queueworker.Worker the pipeline depends
// on, kept narrow so tests can fake it.
type Queue interface {
	Put(ctx context.Context, event logevent.Event) (queued bool, reason string)
}

// Diagnostic receives the stable diagnostic vocabulary: "payload_rejected",
// "payload_truncated", "rate_limited", "queued", "emitted", "adapter_error".
type Diagnostic func(name string, payload map[string]any)

// Tracer is the narrow slice of internal/tracing.Bridge the pipeline needs:
// start a span for the pass and report its trace/span IDs so they can be
// stamped onto the context frame. Optional; nil means tracing is off.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span, string, string)
}

// Scrubber redacts field values by name. *scrub.Scrubber satisfies this;
// kept as an interface so the composition root can hot-swap the active
// scrubber (config.Watcher) behind an atomic.Pointer indirection without
// this package knowing about reloads.
type Scrubber interface {
	Scrub(extra map[string]any) map[string]any
}

// RateLimiter admits or denies an event for a logger at a given severity
// and time. *ratelimit.Limiter satisfies this; see Scrubber's doc comment
// for why this is an interface.
type RateLimiter interface {
	Allow(logger string, level levels.Severity, ts time.Time) bool
}

// Config wires every collaborator the pipeline needs. Sinks is evaluated in
// order; Queue is optional — when nil, Process dispatches synchronously.
type Config struct {
	Sanitize   sanitize.Limits
	Scrubber   Scrubber
	RateLimit  RateLimiter
	RingBuffer *ringbuffer.RingBuffer
	Monitor    *severitymonitor.Monitor
	Clock      clockid.Clock
	IDProvider clockid.IDProvider
	Sinks      []SinkBinding
	Queue      Queue
	Diagnostic Diagnostic
	Logger     *logrus.Logger
	Tracer     Tracer
}

// Pipeline is the per-event orchestrator built from Config.
type Pipeline struct {
	cfg Config
}

// New validates and constructs a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.RingBuffer == nil {
		return nil, logcoreerr.InvalidConfiguration("pipeline", "new", "ring buffer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockid.SystemClock{}
	}
	if cfg.IDProvider == nil {
		cfg.IDProvider = clockid.UUIDProvider{}
	}
	if cfg.Monitor == nil {
		cfg.Monitor = severitymonitor.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Diagnostic == nil {
		cfg.Diagnostic = func(string, map[string]any) {}
	}
	return &Pipeline{cfg: cfg}, nil
}

// Result is the outcome record returned by Process, mirroring the
// {"ok": ..., "event_id": ..., "queued": ..., "reason": ...} shape of the
// original implementation's process() return value.
type Result struct {
	OK      bool
	EventID string
	Queued  bool
	Reason  string
}

// Process runs one log call through the full pipeline. ctx must carry a
// bound logcontext.Frame (see logcontext.Bind); without one Process returns
// a logcoreerr.InvalidContext error.
func (p *Pipeline) Process(ctx context.Context, loggerName string, level levels.Severity, message string, extra map[string]any, excInfo string) (Result, error) {
	if p.cfg.Tracer != nil {
		var span oteltrace.Span
		ctx, span, _, _ = p.cfg.Tracer.StartSpan(ctx, "logcore.process")
		defer span.End()
	}

	ctx, frame, err := refreshIdentity(ctx)
	if err != nil {
		return Result{}, err
	}

	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		if frame.TraceID == "" {
			frame.TraceID = sc.TraceID().String()
		}
		if frame.SpanID == "" {
			frame.SpanID = sc.SpanID().String()
		}
	}

	eventID := p.cfg.IDProvider.NewID()
	ts := p.cfg.Clock.Now()
	event, err := logevent.New(eventID, ts, loggerName, level, message, frame, extra, excInfo)
	if err != nil {
		return Result{}, err
	}

	sanitized := sanitize.Sanitize(p.cfg.Sanitize, event.Message, event.Extra, event.Context.Extra, splitStack(excInfo))
	if sanitized.RejectReason != "" {
		p.cfg.Monitor.RecordDrop(level, severitymonitor.ReasonPayloadReject)
		p.diagnostic("payload_rejected", map[string]any{"event_id": eventID, "logger": loggerName, "reason": sanitized.RejectReason})
		return Result{OK: false, Reason: sanitized.RejectReason}, nil
	}
	if len(sanitized.Notes) > 0 {
		p.diagnostic("payload_truncated", map[string]any{"event_id": eventID, "logger": loggerName, "notes": sanitized.Notes})
	}
	event = event.WithMessage(sanitized.Message).WithExtra(sanitized.Extra)
	event.ExcInfo = strings.Join(sanitized.Stack, "\n")
	frame.Extra = sanitized.ContextExtra
	event = event.WithContext(frame)

	if p.cfg.Scrubber != nil {
		event = event.WithExtra(p.cfg.Scrubber.Scrub(event.Extra))
	}

	if p.cfg.RateLimit != nil && !p.cfg.RateLimit.Allow(loggerName, level, ts) {
		p.cfg.Monitor.RecordDrop(level, severitymonitor.ReasonRateLimited)
		p.diagnostic("rate_limited", map[string]any{"event_id": eventID, "logger": loggerName, "level": level.Name()})
		return Result{OK: false, Reason: "rate_limited"}, nil
	}

	p.cfg.RingBuffer.Append(event)
	p.cfg.Monitor.Record(level)

	if p.cfg.Queue != nil {
		queued, reason := p.cfg.Queue.Put(ctx, event)
		if !queued {
			p.cfg.Monitor.RecordDrop(level, severitymonitor.ReasonQueueFull)
			return Result{OK: false, EventID: eventID, Reason: reason}, nil
		}
		p.diagnostic("queued", map[string]any{"event_id": eventID, "logger": loggerName})
		return Result{OK: true, EventID: eventID, Queued: true}, nil
	}

	if err := p.Dispatch(ctx, event); err != nil {
		return Result{OK: false, EventID: eventID, Reason: "adapter_error"}, nil
	}
	p.diagnostic("emitted", map[string]any{"event_id": eventID, "logger": loggerName, "level": level.Name()})
	return Result{OK: true, EventID: eventID}, nil
}

// Dispatch fans event out to every sink whose threshold it meets. It is
// exported so the queue worker can use it directly as its FanOut callable.
// Per spec.md §4.10, each failing sink fires its own "adapter_error"
// diagnostic and records its own drop rather than one aggregate per event.
func (p *Pipeline) Dispatch(ctx context.Context, event logevent.Event) error {
	var errs []error
	for _, binding := range p.cfg.Sinks {
		if event.Level < binding.Threshold {
			continue
		}
		if err := binding.Sink.Emit(ctx, event); err != nil {
			p.cfg.Logger.WithError(err).WithField("sink", binding.Name).Error("pipeline: sink emit failed")
			p.cfg.Monitor.RecordDrop(event.Level, severitymonitor.ReasonAdapterError)
			p.diagnostic("adapter_error", map[string]any{"sink": binding.Name, "event_id": event.EventID, "exception": err.Error()})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// diagnostic invokes the configured hook, swallowing any panic the hook
// raises — the pipeline's own operation must never be derailed by a
// diagnostic subscriber (spec.md §4.8's "_diagnostic swallows exceptions").
func (p *Pipeline) diagnostic(name string, payload map[string]any) {
	defer func() { recover() }()
	p.cfg.Diagnostic(name, payload)
}

// refreshIdentity is the Go realisation of _refresh_context: it re-reads
// pid/hostname/user and, if they changed since the frame was bound, pushes
// an updated top frame via logcontext.ReplaceTop so later events in the same
// scope see the refreshed identity too.
func refreshIdentity(ctx context.Context) (context.Context, logcontext.Frame, error) {
	frame, ok := logcontext.Current(ctx)
	if !ok {
		return ctx, logcontext.Frame{}, logcoreerr.InvalidContext("pipeline", "process", "no logging context bound; call logcontext.Bind before logging")
	}

	pid := os.Getpid()
	hostname := frame.Hostname
	if h, err := os.Hostname(); err == nil && h != "" {
		hostname = strings.SplitN(h, ".", 2)[0]
	}
	userName := frame.UserName
	if u, err := user.Current(); err == nil && u.Username != "" {
		userName = u.Username
	}

	changed := frame.ProcessID != pid || hostname != frame.Hostname || userName != frame.UserName
	pidField := pid

	if !changed {
		return ctx, frame, nil
	}

	updated := frame
	updated.ProcessID = pid
	if hostname != "" {
		updated.Hostname = hostname
	}
	if userName != "" {
		updated.UserName = userName
	}
	updated.ProcessIDChain = extendedChain(frame.ProcessIDChain, pidField)

	newCtx, err := logcontext.ReplaceTop(ctx, updated)
	if err != nil {
		return ctx, frame, err
	}
	return newCtx, updated, nil
}

func extendedChain(chain []int, pid int) []int {
	if len(chain) == 0 {
		return []int{pid}
	}
	if chain[len(chain)-1] == pid {
		out := make([]int, len(chain))
		copy(out, chain)
		return out
	}
	extended := append(append([]int(nil), chain...), pid)
	if len(extended) > logcontext.MaxPIDChain {
		extended = extended[len(extended)-logcontext.MaxPIDChain:]
	}
	return extended
}

// splitStack turns a single exc_info string into the frame slice the
// sanitiser truncates by count. The reference implementation stores
// tracebacks as one string; spec.md's stacktrace_max_frames bound is
// realised here by treating newlines as frame separators.
func splitStack(excInfo string) []string {
	if excInfo == "" {
		return nil
	}
	return strings.Split(excInfo, "\n")
}
