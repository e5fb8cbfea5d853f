package sinks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcontext"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

func mustEvent(t *testing.T, extra map[string]any) logevent.Event {
	t.Helper()
	frame := logcontext.Frame{Service: "svc", Environment: "prod", JobID: "job-1"}
	event, err := logevent.New("id-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "logger.a", levels.Warning, "disk low", frame, extra, "")
	require.NoError(t, err)
	return event
}

func TestTerminalSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTerminalSink(TerminalConfig{Writer: &buf})

	require.NoError(t, sink.Emit(context.Background(), mustEvent(t, map[string]any{"disk": "sda1"})))

	line := buf.String()
	require.Contains(t, line, "WARNING")
	require.Contains(t, line, "logger.a")
	require.Contains(t, line, "disk low")
	require.Contains(t, line, "disk=sda1")
	require.NotContains(t, line, "\x1b[", "colourised output is opt-in")
}

func TestTerminalSinkColorizeWrapsLineInStyle(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTerminalSink(TerminalConfig{Writer: &buf, Colorize: true})

	require.NoError(t, sink.Emit(context.Background(), mustEvent(t, nil)))

	line := buf.String()
	require.Contains(t, line, ansiStyles[levels.Warning])
	require.Contains(t, line, ansiTerminalReset)
}

func TestTerminalSinkStyleOverrideWins(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTerminalSink(TerminalConfig{Writer: &buf, Colorize: true, Styles: map[levels.Severity]string{levels.Warning: "\x1b[99m"}})

	require.NoError(t, sink.Emit(context.Background(), mustEvent(t, nil)))
	require.Contains(t, buf.String(), "\x1b[99m")
}

func TestTerminalSinkOmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTerminalSink(TerminalConfig{Writer: &buf})

	require.NoError(t, sink.Emit(context.Background(), mustEvent(t, map[string]any{"ignored": "", "kept": "value"})))

	line := buf.String()
	require.NotContains(t, line, "ignored=")
	require.Contains(t, line, "kept=value")
}
