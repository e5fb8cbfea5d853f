package logcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ssw-oss/logcore/pkg/logcoreerr"
)

func TestBindRequiresRootFields(t *testing.T) {
	_, _, err := Bind(context.Background(), Fields{})
	require.Error(t, err)
	require.True(t, logcoreerr.IsKind(err, logcoreerr.KindInvalidContext))
}

func TestBindAndCurrent(t *testing.T) {
	ctx, scope, err := Bind(context.Background(), Fields{Service: "svc", Environment: "prod", JobID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, 1, scope.Depth())

	frame, ok := Current(ctx)
	require.True(t, ok)
	require.Equal(t, "svc", frame.Service)
	require.Equal(t, "prod", frame.Environment)
	require.Equal(t, "job-1", frame.JobID)
}

func TestNestedBindInheritsAndOverrides(t *testing.T) {
	ctx, _, err := Bind(context.Background(), Fields{Service: "svc", Environment: "prod", JobID: "job-1"})
	require.NoError(t, err)

	ctx2, scope2, err := Bind(ctx, Fields{RequestID: "req-1"})
	require.NoError(t, err)
	require.Equal(t, 2, scope2.Depth())

	frame, ok := Current(ctx2)
	require.True(t, ok)
	require.Equal(t, "svc", frame.Service, "inherited from parent frame")
	require.Equal(t, "req-1", frame.RequestID)

	parentFrame, ok := Current(ctx)
	require.True(t, ok)
	require.Empty(t, parentFrame.RequestID, "parent context must be unaffected by the child bind")
}

func TestUnboundGoroutineSeesNoFrame(t *testing.T) {
	ctx, _, err := Bind(context.Background(), Fields{Service: "svc", Environment: "prod", JobID: "job-1"})
	require.NoError(t, err)

	_, ok := Current(context.Background())
	require.False(t, ok)

	_, ok = Current(ctx)
	require.True(t, ok)
}

func TestScopeEndIsNotIdempotent(t *testing.T) {
	_, scope, err := Bind(context.Background(), Fields{Service: "svc", Environment: "prod", JobID: "job-1"})
	require.NoError(t, err)

	require.NoError(t, scope.End())
	err = scope.End()
	require.Error(t, err)
	require.True(t, logcoreerr.IsKind(err, logcoreerr.KindUnbalancedContext))
}

func TestReplaceTopRequiresBoundFrame(t *testing.T) {
	_, err := ReplaceTop(context.Background(), Frame{})
	require.Error(t, err)
	require.True(t, logcoreerr.IsKind(err, logcoreerr.KindUnbalancedContext))
}

func TestReplaceTopOverwritesOnlyTop(t *testing.T) {
	ctx, _, err := Bind(context.Background(), Fields{Service: "svc", Environment: "prod", JobID: "job-1"})
	require.NoError(t, err)

	frame, _ := Current(ctx)
	frame.Hostname = "host-a"
	ctx2, err := ReplaceTop(ctx, frame)
	require.NoError(t, err)

	updated, ok := Current(ctx2)
	require.True(t, ok)
	require.Equal(t, "host-a", updated.Hostname)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	ctx, _, err := Bind(context.Background(), Fields{Service: "svc", Environment: "prod", JobID: "job-1", Extra: map[string]any{"k": "v"}})
	require.NoError(t, err)

	payload := Serialize(ctx)
	restored := Deserialize(context.Background(), payload)

	frame, ok := Current(restored)
	require.True(t, ok)
	require.Equal(t, "svc", frame.Service)
	require.Equal(t, "v", frame.Extra["k"])
}

func TestClearRemovesStack(t *testing.T) {
	ctx, _, err := Bind(context.Background(), Fields{Service: "svc", Environment: "prod", JobID: "job-1"})
	require.NoError(t, err)

	cleared := Clear(ctx)
	_, ok := Current(cleared)
	require.False(t, ok)
}
