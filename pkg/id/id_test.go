package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortedAndUnique(t *testing.T) {
	prev := ""
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		s := New()
		require.Len(t, s, 26)
		require.False(t, seen[s])
		require.Greater(t, s, prev)
		seen[s] = true
		prev = s
	}
}

func TestClientOrderIDRoundTrip(t *testing.T) {
	b := New()
	cid := ClientOrderID(b, LegTakeProfit)

	gotB, leg, ok := ParseClientOrderID(cid)
	require.True(t, ok)
	assert.Equal(t, b, gotB)
	assert.Equal(t, LegTakeProfit, leg)

	for _, bad := range []string{"", "nodash", "-TP", b + "-", "not-a-ulid-SL"} {
		_, _, ok := ParseClientOrderID(bad)
		assert.False(t, ok, bad)
	}
}
