package dump

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcontext"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

func mustEvent(t *testing.T, id string, level levels.Severity, message string) logevent.Event {
	t.Helper()
	frame := logcontext.Frame{Service: "svc", Environment: "prod", JobID: "job-1", Hostname: "host-1", ProcessID: 42}
	event, err := logevent.New(id, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), "logger.a", level, message, frame, nil, "")
	require.NoError(t, err)
	return event
}

func TestRenderTextWithPreset(t *testing.T) {
	out, err := Render([]logevent.Event{mustEvent(t, "1", levels.Info, "hello")}, Options{Format: Text, Preset: "short"})
	require.NoError(t, err)
	require.Equal(t, "03:04:05 INFO hello", out)
}

func TestRenderTextUnknownPlaceholderErrors(t *testing.T) {
	_, err := Render([]logevent.Event{mustEvent(t, "1", levels.Info, "hello")}, Options{Format: Text, Template: "{bogus}"})
	require.Error(t, err)
}

func TestRenderTextWidthAndAlignment(t *testing.T) {
	out, err := Render([]logevent.Event{mustEvent(t, "1", levels.Info, "hi")}, Options{Format: Text, Template: "{LEVEL:<8}|{message}"})
	require.NoError(t, err)
	require.Equal(t, "INFO    |hi", out)
}

func TestRenderJSONRoundTrips(t *testing.T) {
	out, err := Render([]logevent.Event{mustEvent(t, "1", levels.Warning, "oops")}, Options{Format: JSON})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 1)
	require.Equal(t, "oops", decoded[0]["message"])
}

func TestRenderHTMLTableEscapesMessage(t *testing.T) {
	out, err := Render([]logevent.Event{mustEvent(t, "1", levels.Info, "<script>alert(1)</script>")}, Options{Format: HTMLTable})
	require.NoError(t, err)
	require.Contains(t, out, "&lt;script&gt;")
	require.NotContains(t, out, "<script>alert")
}

func TestRenderHTMLStyledAppliesLevelClass(t *testing.T) {
	out, err := Render([]logevent.Event{mustEvent(t, "1", levels.Error, "boom")}, Options{Format: HTMLStyled})
	require.NoError(t, err)
	require.Contains(t, out, `class="lvl-error"`)
}

func TestRenderUnsupportedFormat(t *testing.T) {
	_, err := Render(nil, Options{Format: Format(99)})
	require.Error(t, err)
}

func TestFilterByMinLevel(t *testing.T) {
	events := []logevent.Event{mustEvent(t, "1", levels.Debug, "low"), mustEvent(t, "2", levels.Error, "high")}
	out, err := Render(events, Options{Format: Text, Preset: "short", HasMinLevel: true, MinLevel: levels.Error})
	require.NoError(t, err)
	require.Equal(t, "03:04:05 ERRO high", out)
}

func TestFilterByExtraPredicateExactMatch(t *testing.T) {
	event, err := logevent.New("1", time.Now(), "logger", levels.Info, "hello", logcontext.Frame{}, map[string]any{"tenant": "acme"}, "")
	require.NoError(t, err)
	other, err := logevent.New("2", time.Now(), "logger", levels.Info, "hello", logcontext.Frame{}, map[string]any{"tenant": "other"}, "")
	require.NoError(t, err)

	out, err := Render([]logevent.Event{event, other}, Options{
		Format:       JSON,
		ExtraFilters: []Predicate{{Field: "tenant", Value: "acme", Mode: Exact}},
	})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 1)
}

func TestColorizeThemePrecedence(t *testing.T) {
	line := colorize("text", levels.Error, map[levels.Severity]string{levels.Error: "\x1b[99m"})
	require.Equal(t, "\x1b[99mtext\x1b[0m", line)

	fallback := colorize("text", levels.Error, nil)
	require.Equal(t, ansiByLevel[levels.Error]+"text"+ansiReset, fallback)
}

func TestRenderEmptyEventsProducesEmptyText(t *testing.T) {
	out, err := Render(nil, Options{Format: Text})
	require.NoError(t, err)
	require.Empty(t, out)
}
