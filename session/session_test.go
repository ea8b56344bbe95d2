package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPacketIDSkipsInflight(t *testing.T) {
	s := New("c1", 5, true, Limits{})
	s.nextPacketID = 1
	s.inflightOut[1] = &InflightOut{PacketID: 1}
	id := s.NextPacketID()
	assert.EqualValues(t, 2, id)
}

func TestSendQuotaInvariant(t *testing.T) {
	s := New("c1", 5, true, Limits{MaxInflight: 1})
	s.ReceiveMaximum = 1
	s.SendQuota = 1
	require.True(t, s.TryReserveOutgoing())
	assert.False(t, s.TryReserveOutgoing(), "quota must not go negative")

	s.StoreOutgoing(&InflightOut{PacketID: 1})
	_, ok := s.AckOutgoing(1)
	require.True(t, ok)
	assert.LessOrEqual(t, s.SendQuota, s.ReceiveMaximum)
}

func TestPendingDropOldest(t *testing.T) {
	s := New("c1", 5, true, Limits{MaxQueuedMessages: 2})
	s.EnqueuePending(&Pending{Topic: "a"})
	s.EnqueuePending(&Pending{Topic: "b"})
	dropped := s.EnqueuePending(&Pending{Topic: "c"})
	require.NotNil(t, dropped)
	assert.Equal(t, "a", dropped.Topic)
	assert.Equal(t, 2, s.PendingCount())
}

func TestPendingExpiryOnDrain(t *testing.T) {
	s := New("c1", 5, true, Limits{})
	zero := uint32(0)
	s.EnqueuePending(&Pending{Topic: "expired", MessageExpiry: &zero, QueuedAt: time.Now().Add(-time.Second)})
	five := uint32(5)
	s.EnqueuePending(&Pending{Topic: "alive", MessageExpiry: &five, QueuedAt: time.Now()})
	out := s.DrainPending()
	require.Len(t, out, 1)
	assert.Equal(t, "alive", out[0].Topic)
}

func TestIsExpired(t *testing.T) {
	s := New("c1", 5, false, Limits{})
	s.SessionExpiryInterval = 1
	s.SetDisconnected()
	assert.False(t, s.IsExpired(time.Now()))
	assert.True(t, s.IsExpired(time.Now().Add(2*time.Second)))
}

func TestStoreGetOrCreateResumes(t *testing.T) {
	store := NewStore(Limits{})
	s1, present := store.GetOrCreate("c1", 5, true)
	assert.False(t, present)
	s1.SessionExpiryInterval = 3600
	store.Disconnect("c1")

	s2, present := store.GetOrCreate("c1", 5, false)
	assert.True(t, present)
	assert.Same(t, s1, s2)
}

func TestStoreCleanStartDiscardsSession(t *testing.T) {
	store := NewStore(Limits{})
	s1, _ := store.GetOrCreate("c1", 5, true)
	s1.SessionExpiryInterval = 3600
	store.Disconnect("c1")

	s2, present := store.GetOrCreate("c1", 5, true)
	assert.False(t, present)
	assert.NotSame(t, s1, s2)
}
