package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowPerKey(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 2})
	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))

	require.True(t, l.Allow("b"), "keys must not share a bucket")
	require.True(t, l.Allow("b"))
	require.False(t, l.Allow("b"))

	l.Forget("a")
	require.True(t, l.Allow("a"), "forgotten key starts with a full bucket")
	require.False(t, l.Allow("b"), "forgetting one key leaves the others alone")
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 1000; i++ {
		require.True(t, l.Allow("a"))
	}
}
