package clockid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystemClockReturnsUTC(t *testing.T) {
	now := SystemClock{}.Now()
	require.Equal(t, time.UTC, now.Location())
}

func TestUUIDProviderProducesDistinctLowercaseHexIDs(t *testing.T) {
	p := UUIDProvider{}
	a := p.NewID()
	b := p.NewID()

	require.Len(t, a, 32)
	require.Len(t, b, 32)
	require.NotEqual(t, a, b)
	require.Regexp(t, "^[0-9a-f]{32}$", a)
	require.NotContains(t, a, "-")
}
