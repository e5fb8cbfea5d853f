package logevent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcontext"
	"github.com/ssw-oss/logcore/pkg/logcoreerr"
)

func TestNewValidation(t *testing.T) {
	_, err := New("", time.Now(), "logger", levels.Info, "message", logcontext.Frame{}, nil, "")
	require.True(t, logcoreerr.IsKind(err, logcoreerr.KindInvalidConfiguration))

	_, err = New("id", time.Now(), "logger", levels.Info, "", logcontext.Frame{}, nil, "")
	require.True(t, logcoreerr.IsKind(err, logcoreerr.KindInvalidConfiguration))

	_, err = New("id", time.Now(), "logger", levels.Severity(999), "message", logcontext.Frame{}, nil, "")
	require.True(t, logcoreerr.IsKind(err, logcoreerr.KindInvalidConfiguration))
}

func TestNewNormalisesTimestampToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, loc)

	event, err := New("id", ts, "logger", levels.Info, "message", logcontext.Frame{}, nil, "")
	require.NoError(t, err)
	require.Equal(t, time.UTC, event.Timestamp.Location())
	require.Equal(t, ts.UTC(), event.Timestamp)
}

func TestWithersDoNotMutateOriginal(t *testing.T) {
	event, err := New("id", time.Now(), "logger", levels.Info, "original", logcontext.Frame{}, map[string]any{"a": 1}, "")
	require.NoError(t, err)

	renamed := event.WithMessage("changed")
	require.Equal(t, "original", event.Message)
	require.Equal(t, "changed", renamed.Message)

	withExtra := event.WithExtra(map[string]any{"b": 2})
	require.Equal(t, map[string]any{"a": 1}, event.Extra)
	require.Equal(t, map[string]any{"b": 2}, withExtra.Extra)
}

func TestToMapFromMapRoundTrip(t *testing.T) {
	frame := logcontext.Frame{Service: "svc", Environment: "prod", JobID: "job-1"}
	event, err := New("id-1", time.Now(), "logger.name", levels.Warning, "hello", frame, map[string]any{"k": "v"}, "boom")
	require.NoError(t, err)

	restored, err := FromMap(event.ToMap())
	require.NoError(t, err)
	require.Equal(t, event.EventID, restored.EventID)
	require.Equal(t, event.LoggerName, restored.LoggerName)
	require.Equal(t, event.Level, restored.Level)
	require.Equal(t, event.Message, restored.Message)
	require.Equal(t, event.ExcInfo, restored.ExcInfo)
	require.Equal(t, "v", restored.Extra["k"])
	require.Equal(t, "svc", restored.Context.Service)
}

func TestToJSONIsDeterministic(t *testing.T) {
	event, err := New("id", time.Now(), "logger", levels.Info, "message", logcontext.Frame{}, map[string]any{"z": 1, "a": 2}, "")
	require.NoError(t, err)

	first, err := event.ToJSON()
	require.NoError(t, err)
	second, err := event.ToJSON()
	require.NoError(t, err)
	require.Equal(t, first, second)
}
