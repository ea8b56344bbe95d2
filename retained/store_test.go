package retained

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutOverwriteAndDelete(t *testing.T) {
	s := NewStore()
	s.Put(&Message{Topic: "r/1", Payload: []byte("v1"), Timestamp: time.Now()})
	m, ok := s.Get("r/1")
	require.True(t, ok)
	assert.Equal(t, "v1", string(m.Payload))

	s.Put(&Message{Topic: "r/1", Payload: []byte("v2"), Timestamp: time.Now()})
	m, _ = s.Get("r/1")
	assert.Equal(t, "v2", string(m.Payload))

	s.Put(&Message{Topic: "r/1", Payload: nil})
	_, ok = s.Get("r/1")
	assert.False(t, ok)
}

func TestMatchSkipsExpired(t *testing.T) {
	s := NewStore()
	zero := uint32(0)
	s.Put(&Message{Topic: "r/old", Payload: []byte("x"), MessageExpiry: &zero, Timestamp: time.Now().Add(-time.Second)})
	s.Put(&Message{Topic: "r/new", Payload: []byte("y"), Timestamp: time.Now()})

	matches := s.Match("r/#")
	require.Len(t, matches, 1)
	assert.Equal(t, "r/new", matches[0].Topic)
}
