package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-io/vibemq/subscription"
)

type fakeSink struct {
	mu        sync.Mutex
	delivered []Delivery
	online    map[string]bool
	persistent map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{online: map[string]bool{}, persistent: map[string]bool{}}
}

func (f *fakeSink) Send(d Delivery) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[d.ClientID] {
		return false
	}
	f.delivered = append(f.delivered, d)
	return true
}

func (f *fakeSink) EnqueueOffline(clientID string, d Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, d)
}

func (f *fakeSink) HasPersistentSession(clientID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persistent[clientID]
}

func TestRouteDowngradesQoS(t *testing.T) {
	subs := subscription.NewStore()
	_, err := subscription.Subscribe(subs, "sub1", "a/b", 0, false, false, 0, 0)
	require.NoError(t, err)

	sink := newFakeSink()
	sink.online["sub1"] = true

	r, err := New(subs, sink, 4, nil)
	require.NoError(t, err)
	defer r.Close()

	r.Route(Publish{SenderClientID: "pub", Topic: "a/b", QoS: 2})

	require.Len(t, sink.delivered, 1)
	assert.EqualValues(t, 0, sink.delivered[0].QoS)
}

func TestRouteNoLocalSuppressesSender(t *testing.T) {
	subs := subscription.NewStore()
	_, err := subscription.Subscribe(subs, "pub", "a/b", 1, true, false, 0, 0)
	require.NoError(t, err)

	sink := newFakeSink()
	sink.online["pub"] = true
	r, err := New(subs, sink, 4, nil)
	require.NoError(t, err)
	defer r.Close()

	r.Route(Publish{SenderClientID: "pub", Topic: "a/b", QoS: 1})
	assert.Empty(t, sink.delivered)
}

func TestRouteOfflineEnqueueForPersistentSession(t *testing.T) {
	subs := subscription.NewStore()
	_, err := subscription.Subscribe(subs, "sub1", "a/b", 1, false, false, 0, 0)
	require.NoError(t, err)

	sink := newFakeSink()
	sink.persistent["sub1"] = true
	r, err := New(subs, sink, 4, nil)
	require.NoError(t, err)
	defer r.Close()

	r.Route(Publish{SenderClientID: "pub", Topic: "a/b", QoS: 1})
	require.Len(t, sink.delivered, 1)
	assert.Equal(t, "sub1", sink.delivered[0].ClientID)
}

func TestRouteDedupSubscriptionIdentifiers(t *testing.T) {
	subs := subscription.NewStore()
	_, err := subscription.Subscribe(subs, "sub1", "a/+", 1, false, false, 0, 7)
	require.NoError(t, err)
	_, err = subscription.Subscribe(subs, "sub1", "a/#", 1, false, false, 0, 9)
	require.NoError(t, err)

	sink := newFakeSink()
	sink.online["sub1"] = true
	r, err := New(subs, sink, 4, nil)
	require.NoError(t, err)
	defer r.Close()

	r.Route(Publish{SenderClientID: "pub", Topic: "a/b", QoS: 1})
	require.Len(t, sink.delivered, 1)
	assert.ElementsMatch(t, []uint32{7, 9}, sink.delivered[0].SubscriptionIdentifiers)
}
