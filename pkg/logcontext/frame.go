// Package logcontext implements the context stack: scoped, cross-thread
// metadata frames that every log event is stamped with at emit time.
//
// Go has no language-level thread-local storage, but it does have a native
// per-execution-flow propagation primitive that behaves exactly like one:
// context.Context value chaining. bind() pushes a frame by returning a
// derived context carrying an extended stack; the call that receives the
// derived context "sees" the new frame, and any goroutine that kept the
// parent context never does — which is precisely the isolation spec.md
// requires from a thread-local/async-aware hybrid. See DESIGN.md for the
// Open Question this resolves.
package logcontext

import (
	"context"
	"strings"

	"github.com/ssw-oss/logcore/pkg/logcoreerr"
)

// MaxPIDChain bounds how many ancestor PIDs a Frame's process lineage keeps.
const MaxPIDChain = 8

// StackVersion is stamped into Serialize output so future formats can
// evolve without breaking old checkpoints.
const StackVersion = 1

// Frame is an immutable snapshot of ambient logging metadata in effect for
// an execution flow. Frames are never mutated in place; Bind and
// ReplaceTop both produce new Frame values.
type Frame struct {
	Service     string
	Environment string
	JobID       string

	RequestID string
	UserID    string
	TraceID   string
	SpanID    string

	UserName       string
	Hostname       string
	ProcessID      int
	ProcessIDChain []int

	Extra map[string]any
}

// Fields is the set of overrides a caller supplies to Bind; zero-valued
// string fields and a nil ProcessID mean "inherit from parent frame".
type Fields struct {
	Service     string
	Environment string
	JobID       string
	RequestID   string
	UserID      string
	TraceID     string
	SpanID      string
	UserName    string
	Hostname    string
	ProcessID   *int
	Extra       map[string]any
}

func cloneExtra(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneChain(chain []int) []int {
	out := make([]int, len(chain))
	copy(out, chain)
	return out
}

func truncateChain(chain []int) []int {
	if len(chain) <= MaxPIDChain {
		return chain
	}
	return chain[len(chain)-MaxPIDChain:]
}

func extendChain(parent []int, pid int) []int {
	if len(parent) == 0 {
		return []int{pid}
	}
	if parent[len(parent)-1] == pid {
		return cloneChain(parent)
	}
	extended := append(cloneChain(parent), pid)
	return truncateChain(extended)
}

// merge applies non-empty fields from override on top of the base frame,
// extending the process id chain when a new pid is supplied.
func (f Frame) merge(fields Fields) Frame {
	out := f
	out.Extra = cloneExtra(f.Extra)
	out.ProcessIDChain = cloneChain(f.ProcessIDChain)

	if fields.Service != "" {
		out.Service = fields.Service
	}
	if fields.Environment != "" {
		out.Environment = fields.Environment
	}
	if fields.JobID != "" {
		out.JobID = fields.JobID
	}
	if fields.RequestID != "" {
		out.RequestID = fields.RequestID
	}
	if fields.UserID != "" {
		out.UserID = fields.UserID
	}
	if fields.TraceID != "" {
		out.TraceID = fields.TraceID
	}
	if fields.SpanID != "" {
		out.SpanID = fields.SpanID
	}
	if fields.UserName != "" {
		out.UserName = fields.UserName
	}
	if fields.Hostname != "" {
		out.Hostname = fields.Hostname
	}
	if fields.Extra != nil {
		for k, v := range fields.Extra {
			out.Extra[k] = v
		}
	}
	if fields.ProcessID != nil {
		out.ProcessID = *fields.ProcessID
		out.ProcessIDChain = extendChain(f.ProcessIDChain, *fields.ProcessID)
	}
	return out
}

func newRootFrame(fields Fields) (Frame, error) {
	missing := make([]string, 0, 3)
	if strings.TrimSpace(fields.Service) == "" {
		missing = append(missing, "service")
	}
	if strings.TrimSpace(fields.Environment) == "" {
		missing = append(missing, "environment")
	}
	if strings.TrimSpace(fields.JobID) == "" {
		missing = append(missing, "job_id")
	}
	if len(missing) > 0 {
		return Frame{}, logcoreerr.InvalidContext("logcontext", "bind",
			"missing required context fields on empty stack: "+strings.Join(missing, ", "))
	}

	frame := Frame{
		Service:     fields.Service,
		Environment: fields.Environment,
		JobID:       fields.JobID,
		RequestID:   fields.RequestID,
		UserID:      fields.UserID,
		TraceID:     fields.TraceID,
		SpanID:      fields.SpanID,
		UserName:    fields.UserName,
		Hostname:    fields.Hostname,
		Extra:       cloneExtra(fields.Extra),
	}
	if fields.ProcessID != nil {
		frame.ProcessID = *fields.ProcessID
		frame.ProcessIDChain = []int{*fields.ProcessID}
	}
	return frame, nil
}

// ToMap produces the version-tagged, cross-process serialisable form of a
// single frame.
func (f Frame) ToMap() map[string]any {
	chain := make([]any, len(f.ProcessIDChain))
	for i, pid := range f.ProcessIDChain {
		chain[i] = pid
	}
	return map[string]any{
		"service":          f.Service,
		"environment":      f.Environment,
		"job_id":           f.JobID,
		"request_id":       f.RequestID,
		"user_id":          f.UserID,
		"trace_id":         f.TraceID,
		"span_id":          f.SpanID,
		"user_name":        f.UserName,
		"hostname":         f.Hostname,
		"process_id":       f.ProcessID,
		"process_id_chain": chain,
		"extra":            cloneExtra(f.Extra),
	}
}

// FrameFromMap reconstructs a Frame from ToMap output.
func FrameFromMap(data map[string]any) Frame {
	frame := Frame{
		Service:     stringField(data, "service"),
		Environment: stringField(data, "environment"),
		JobID:       stringField(data, "job_id"),
		RequestID:   stringField(data, "request_id"),
		UserID:      stringField(data, "user_id"),
		TraceID:     stringField(data, "trace_id"),
		SpanID:      stringField(data, "span_id"),
		UserName:    stringField(data, "user_name"),
		Hostname:    stringField(data, "hostname"),
	}
	if pid, ok := data["process_id"]; ok {
		frame.ProcessID = toInt(pid)
	}
	if raw, ok := data["process_id_chain"].([]any); ok {
		chain := make([]int, 0, len(raw))
		for _, v := range raw {
			chain = append(chain, toInt(v))
		}
		frame.ProcessIDChain = chain
	}
	if extra, ok := data["extra"].(map[string]any); ok {
		frame.Extra = cloneExtra(extra)
	} else {
		frame.Extra = map[string]any{}
	}
	return frame
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

type ctxKey struct{}

// stackFromContext returns the immutable frame stack bound to ctx.
func stackFromContext(ctx context.Context) []Frame {
	if stack, ok := ctx.Value(ctxKey{}).([]Frame); ok {
		return stack
	}
	return nil
}

// Scope is the handle returned by Bind. It carries no live state of its own
// (the frame lives in the derived context) — End exists so callers and
// tests can assert that every Bind is matched by exactly one End, per
// spec.md's "context stack is balanced" invariant.
type Scope struct {
	depth int
	ended bool
}

// End marks the scope closed. It is idempotent-unsafe by design: calling it
// twice is a caller bug, matching the "pop with no frames" UnbalancedContext
// failure mode from spec.md §4.1.
func (s *Scope) End() error {
	if s.ended {
		return logcoreerr.UnbalancedContext("logcontext", "end", "scope already ended")
	}
	s.ended = true
	return nil
}

// Depth returns the stack depth reached when the scope was opened.
func (s *Scope) Depth() int { return s.depth }

// Bind pushes a new frame derived from the current top of stack (or, for an
// empty stack, fields.Service/Environment/JobID are required). The returned
// context must be used by the caller for the scope's duration; the original
// ctx is unaffected.
func Bind(ctx context.Context, fields Fields) (context.Context, *Scope, error) {
	stack := stackFromContext(ctx)

	var frame Frame
	var err error
	if len(stack) == 0 {
		frame, err = newRootFrame(fields)
		if err != nil {
			return ctx, nil, err
		}
	} else {
		frame = stack[len(stack)-1].merge(fields)
	}

	newStack := make([]Frame, len(stack)+1)
	copy(newStack, stack)
	newStack[len(stack)] = frame

	return context.WithValue(ctx, ctxKey{}, newStack), &Scope{depth: len(newStack)}, nil
}

// Current returns the top frame bound to ctx, if any.
func Current(ctx context.Context) (Frame, bool) {
	stack := stackFromContext(ctx)
	if len(stack) == 0 {
		return Frame{}, false
	}
	return stack[len(stack)-1], true
}

// ReplaceTop returns a context with the top frame overwritten by frame. Used
// by the processing pipeline's identity-refresh step (spec.md §4.8 step 1).
// Fails UnbalancedContext when no frame is bound.
func ReplaceTop(ctx context.Context, frame Frame) (context.Context, error) {
	stack := stackFromContext(ctx)
	if len(stack) == 0 {
		return ctx, logcoreerr.UnbalancedContext("logcontext", "replace_top", "no context is currently bound")
	}
	newStack := make([]Frame, len(stack))
	copy(newStack, stack)
	newStack[len(newStack)-1] = frame
	return context.WithValue(ctx, ctxKey{}, newStack), nil
}

// Serialize snapshots the whole stack into a version-tagged payload
// suitable for cross-process transport.
func Serialize(ctx context.Context) map[string]any {
	stack := stackFromContext(ctx)
	frames := make([]any, len(stack))
	for i, f := range stack {
		frames[i] = f.ToMap()
	}
	return map[string]any{"version": StackVersion, "stack": frames}
}

// Deserialize restores a stack previously produced by Serialize, replacing
// any stack currently bound to the returned context.
func Deserialize(ctx context.Context, payload map[string]any) context.Context {
	raw, _ := payload["stack"].([]any)
	stack := make([]Frame, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			stack = append(stack, FrameFromMap(m))
		}
	}
	return context.WithValue(ctx, ctxKey{}, stack)
}

// Clear removes all bound context information, returning a fresh context
// derived from ctx's non-logcontext values.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, []Frame(nil))
}
