package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

// ansiStyles mirrors the original console adapter's level->style mapping
// (original_source/.../adapters/console/rich_console.py), re-expressed as
// raw ANSI codes since this runtime has no Rich-equivalent dependency in
// the pack.
var ansiStyles = map[levels.Severity]string{
	levels.Debug:    "\x1b[2m",
	levels.Info:     "\x1b[36m",
	levels.Warning:  "\x1b[33m",
	levels.Error:    "\x1b[31m",
	levels.Critical: "\x1b[1;31m",
}

const ansiTerminalReset = "\x1b[0m"

// TerminalSink is the primary human-facing sink: one line per event to an
// io.Writer (stdout by default), optionally colourised.
type TerminalSink struct {
	out      io.Writer
	colorize bool
	styles   map[levels.Severity]string

	mu sync.Mutex
}

// TerminalConfig configures a TerminalSink.
type TerminalConfig struct {
	Writer   io.Writer // defaults to os.Stdout
	Colorize bool
	Styles   map[levels.Severity]string // overrides merged on top of the built-in palette
}

// NewTerminalSink constructs a TerminalSink.
func NewTerminalSink(cfg TerminalConfig) *TerminalSink {
	out := cfg.Writer
	if out == nil {
		out = os.Stdout
	}
	styles := make(map[levels.Severity]string, len(ansiStyles))
	for k, v := range ansiStyles {
		styles[k] = v
	}
	for k, v := range cfg.Styles {
		if v != "" {
			styles[k] = v
		}
	}
	return &TerminalSink{out: out, colorize: cfg.Colorize, styles: styles}
}

// Emit writes one formatted line for event, implementing
// internal/pipeline.Sink.
func (t *TerminalSink) Emit(_ context.Context, event logevent.Event) error {
	line := formatConsoleLine(event)
	if t.colorize {
		if style, ok := t.styles[event.Level]; ok {
			line = style + line + ansiTerminalReset
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintln(t.out, line)
	return err
}

func formatConsoleLine(event logevent.Event) string {
	merged := map[string]any{}
	for k, v := range event.Context.ToMap() {
		if k == "extra" {
			continue
		}
		if isEmptyValue(v) {
			continue
		}
		merged[k] = v
	}
	for k, v := range event.Extra {
		if isEmptyValue(v) {
			continue
		}
		merged[k] = v
	}

	var fields strings.Builder
	if len(merged) > 0 {
		keys := make([]string, 0, len(merged))
		for k := range merged {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields.WriteString(" ")
		for i, k := range keys {
			if i > 0 {
				fields.WriteString(" ")
			}
			fmt.Fprintf(&fields, "%s=%v", k, merged[k])
		}
	}

	return fmt.Sprintf("%s %s %8s %s — %s%s",
		event.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		event.Level.Icon(),
		strings.ToUpper(event.Level.Name()),
		event.LoggerName,
		event.Message,
		fields.String(),
	)
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case int:
		return val == 0
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}
