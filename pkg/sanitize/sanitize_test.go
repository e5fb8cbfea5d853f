package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageTruncation(t *testing.T) {
	limits := Limits{MessageMaxChars: 5, TruncateMessage: true}
	res := Sanitize(limits, "hello world", nil, nil, nil)
	require.Empty(t, res.RejectReason)
	require.Equal(t, "hello…", res.Message)
	require.Contains(t, res.Notes, "message_truncated")
}

func TestMessageRejectedWhenTruncationDisabled(t *testing.T) {
	limits := Limits{MessageMaxChars: 5, TruncateMessage: false}
	res := Sanitize(limits, "hello world", nil, nil, nil)
	require.Equal(t, "message_too_long", res.RejectReason)
}

func TestExtraKeyLimitTruncatesDeterministically(t *testing.T) {
	limits := Limits{ExtraMaxKeys: 2}
	extra := map[string]any{"c": 1, "a": 2, "b": 3}
	res := Sanitize(limits, "msg", extra, nil, nil)
	require.Len(t, res.Extra, 2)
	require.Contains(t, res.Extra, "a")
	require.Contains(t, res.Extra, "b")
	require.NotContains(t, res.Extra, "c")
	require.Contains(t, res.Notes, "extras_keys_truncated")
}

func TestExtraDepthTruncation(t *testing.T) {
	limits := Limits{ExtraMaxDepth: 1}
	extra := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}
	res := Sanitize(limits, "msg", extra, nil, nil)
	inner := res.Extra["a"].(map[string]any)
	require.Equal(t, truncatedMarker, inner["b"])
	require.Contains(t, res.Notes, "extras_depth_truncated")
}

func TestExtraValueTruncation(t *testing.T) {
	limits := Limits{ExtraMaxValueChars: 3}
	extra := map[string]any{"k": "abcdef"}
	res := Sanitize(limits, "msg", extra, nil, nil)
	require.Equal(t, "abc…", res.Extra["k"])
	require.Contains(t, res.Notes, "extras_value_truncated")
}

func TestExtraTotalBytesRejection(t *testing.T) {
	limits := Limits{ExtraMaxTotalBytes: 10}
	extra := map[string]any{"k": strings.Repeat("x", 100)}
	res := Sanitize(limits, "msg", extra, nil, nil)
	require.Empty(t, res.Extra)
	require.Contains(t, res.Notes, "extras_rejected")
}

func TestContextExtrasKeyAndValueLimits(t *testing.T) {
	limits := Limits{ContextMaxKeys: 1, ContextMaxValueChars: 2}
	ctx := map[string]any{"b": "xyz", "a": "xyz"}
	res := Sanitize(limits, "msg", nil, ctx, nil)
	require.Len(t, res.ContextExtra, 1)
	require.Contains(t, res.Notes, "context_keys_truncated")
	for _, v := range res.ContextExtra {
		require.Equal(t, "xy…", v)
	}
}

func TestStacktraceTruncationKeepsMostRecentFrames(t *testing.T) {
	limits := Limits{StacktraceMaxFrames: 2}
	stack := []string{"frame1", "frame2", "frame3"}
	res := Sanitize(limits, "msg", nil, nil, stack)
	require.Equal(t, []string{"frame2", "frame3"}, res.Stack)
	require.Contains(t, res.Notes, "stacktrace_truncated")
}

func TestDeterministicOutputForSameInputs(t *testing.T) {
	limits := Limits{MessageMaxChars: 5, TruncateMessage: true, ExtraMaxKeys: 2}
	extra := map[string]any{"a": 1, "b": 2, "c": 3}
	first := Sanitize(limits, "hello world", extra, nil, nil)
	second := Sanitize(limits, "hello world", extra, nil, nil)
	require.Equal(t, first, second)
}

func TestNoLimitsPassesThroughUnchanged(t *testing.T) {
	res := Sanitize(Limits{}, "hello", map[string]any{"a": 1}, map[string]any{"b": 2}, []string{"f1"})
	require.Empty(t, res.RejectReason)
	require.Equal(t, "hello", res.Message)
	require.Equal(t, map[string]any{"a": 1}, res.Extra)
	require.Equal(t, map[string]any{"b": 2}, res.ContextExtra)
	require.Equal(t, []string{"f1"}, res.Stack)
}
