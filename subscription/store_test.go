package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareGroupRoundRobin(t *testing.T) {
	st := NewStore()
	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := Subscribe(st, id, "$share/g/topic/+", 1, false, false, 0, 0)
		require.NoError(t, err)
	}

	counts := map[string]int{}
	for i := 0; i < 6; i++ {
		matches := st.Matches("topic/x")
		require.Len(t, matches, 1)
		counts[matches[0].ClientID]++
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		assert.Equal(t, 2, counts[id])
	}
}

func TestDirectAndSharedCombine(t *testing.T) {
	st := NewStore()
	_, err := Subscribe(st, "plain", "a/b", 0, false, false, 0, 0)
	require.NoError(t, err)
	_, err = Subscribe(st, "shared1", "$share/g/a/b", 0, false, false, 0, 0)
	require.NoError(t, err)

	matches := st.Matches("a/b")
	assert.Len(t, matches, 2)
}

func TestUnsubscribeShared(t *testing.T) {
	st := NewStore()
	_, err := Subscribe(st, "s1", "$share/g/a", 0, false, false, 0, 0)
	require.NoError(t, err)
	removed, err := Unsubscribe(st, "s1", "$share/g/a")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, st.Matches("a"))
}
