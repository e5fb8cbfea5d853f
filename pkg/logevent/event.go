// Package logevent defines the immutable structured event that flows through
// the processing pipeline to the ring buffer and sinks.
package logevent

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcontext"
	"github.com/ssw-oss/logcore/pkg/logcoreerr"
)

// Event is the immutable record produced by one pipeline pass. Direct
// construction is a test-only affordance; production events are always
// built by the pipeline so id/timestamp/context stamping cannot be skipped.
type Event struct {
	EventID    string
	Timestamp  time.Time
	LoggerName string
	Level      levels.Severity
	Message    string
	Context    logcontext.Frame
	Extra      map[string]any
	ExcInfo    string
}

// New validates and constructs an Event. Returns InvalidConfiguration-style
// validation errors from logcoreerr when invariants are violated.
func New(eventID string, timestamp time.Time, loggerName string, level levels.Severity, message string, ctx logcontext.Frame, extra map[string]any, excInfo string) (Event, error) {
	if eventID == "" {
		return Event{}, logcoreerr.InvalidConfiguration("logevent", "new", "event_id must not be empty")
	}
	if timestamp.Location() != time.UTC {
		timestamp = timestamp.UTC()
	}
	if strings.TrimSpace(message) == "" {
		return Event{}, logcoreerr.InvalidConfiguration("logevent", "new", "message must not be empty")
	}
	if !level.Valid() {
		return Event{}, logcoreerr.InvalidConfiguration("logevent", "new", "level is not a recognised severity")
	}
	cloned := make(map[string]any, len(extra))
	for k, v := range extra {
		cloned[k] = v
	}
	return Event{
		EventID:    eventID,
		Timestamp:  timestamp,
		LoggerName: loggerName,
		Level:      level,
		Message:    message,
		Context:    ctx,
		Extra:      cloned,
		ExcInfo:    excInfo,
	}, nil
}

// WithExtra returns a copy of the event with a replaced extras map. Used by
// the sanitiser and scrubber, which must never mutate the original event.
func (e Event) WithExtra(extra map[string]any) Event {
	e.Extra = extra
	return e
}

// WithMessage returns a copy of the event with a replaced message (used by
// the sanitiser's truncation step).
func (e Event) WithMessage(message string) Event {
	e.Message = message
	return e
}

// WithContext returns a copy of the event with a replaced context frame
// (used by the sanitiser's context-extras enforcement step).
func (e Event) WithContext(ctx logcontext.Frame) Event {
	e.Context = ctx
	return e
}

// ToMap is the canonical mapping form: sorted keys on JSON, ISO-8601
// timestamp.
func (e Event) ToMap() map[string]any {
	data := map[string]any{
		"event_id":    e.EventID,
		"timestamp":   e.Timestamp.Format(time.RFC3339Nano),
		"logger_name": e.LoggerName,
		"level":       e.Level.Name(),
		"message":     e.Message,
		"context":     e.Context.ToMap(),
		"extra":       e.Extra,
	}
	if e.ExcInfo != "" {
		data["exc_info"] = e.ExcInfo
	}
	return data
}

// ToJSON serialises the canonical mapping with sorted keys.
func (e Event) ToJSON() (string, error) {
	raw, err := canonicalJSON(e.ToMap())
	if err != nil {
		return "", err
	}
	return raw, nil
}

// FromMap reconstructs an Event from ToMap output (round-trip affordance
// for checkpoints and dumps).
func FromMap(data map[string]any) (Event, error) {
	level, err := levels.Parse(stringField(data, "level"))
	if err != nil {
		return Event{}, logcoreerr.New(logcoreerr.KindInvalidConfiguration, "logevent", "from_map", err.Error())
	}
	ts, err := time.Parse(time.RFC3339Nano, stringField(data, "timestamp"))
	if err != nil {
		return Event{}, logcoreerr.InvalidConfiguration("logevent", "from_map", "malformed timestamp: "+err.Error())
	}
	var ctx logcontext.Frame
	if m, ok := data["context"].(map[string]any); ok {
		ctx = logcontext.FrameFromMap(m)
	}
	extra, _ := data["extra"].(map[string]any)
	return New(
		stringField(data, "event_id"),
		ts,
		stringField(data, "logger_name"),
		level,
		stringField(data, "message"),
		ctx,
		extra,
		stringField(data, "exc_info"),
	)
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// canonicalJSON renders a map with lexicographically sorted keys, as
// json.Marshal already guarantees for map[string]any in Go but this makes
// the guarantee explicit for nested nested maps that arrive as
// map[string]interface{} rather than a typed struct.
func canonicalJSON(v any) (string, error) {
	b, err := json.Marshal(sortedValue(v))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sortedValue is a no-op for encoding/json's own marshalling of maps (which
// already sorts string keys), kept as a seam so future non-JSON canonical
// encoders have one place to plug in ordering.
func sortedValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(m))
		for _, k := range keys {
			out[k] = sortedValue(m[k])
		}
		return out
	}
	return v
}
