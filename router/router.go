// Package router implements the fan-out algorithm of spec §4.6: a single
// PUBLISH is matched against the subscription store, deduplicated by
// client-id with QoS downgrade and subscription-identifier aggregation,
// and delivered to each subscriber's connection or offline queue. Delivery to
// a connected subscriber is a direct write to its connection; there is no
// per-connection outbound channel or queue.
package router

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/golang-io/vibemq/session"
	"github.com/golang-io/vibemq/subscription"
	"github.com/golang-io/vibemq/topic"
)

// Publish is the broker-internal representation of a message being routed,
// independent of wire version.
type Publish struct {
	SenderClientID string
	Topic          string
	Payload        []byte
	QoS            byte
	Retain         bool
	Properties     map[string]any
	MessageExpiry  *uint32
}

// Delivery is what the router hands to an outbound sink for one subscriber.
type Delivery struct {
	ClientID               string
	Topic                  string
	Payload                []byte
	QoS                    byte
	Retain                 bool
	Properties             map[string]any
	MessageExpiry          *uint32
	SubscriptionIdentifiers []uint32
}

// Sink is how the router reaches a connected client's outbound path, and how
// it falls back to the session's offline queue. Both are implemented by the
// connection state machine / session store; router only depends on this
// narrow interface so it has no import cycle with the root package.
type Sink interface {
	// Send attempts to deliver d to an online client. ok is false if the
	// client is not connected or cannot take it (for QoS > 0, no in-flight
	// slot is free), in which case the router falls back to EnqueueOffline
	// for persistent sessions.
	Send(d Delivery) (ok bool)
	EnqueueOffline(clientID string, d Delivery)
	HasPersistentSession(clientID string) bool
}

// EventListener observes routed publishes, e.g. for metrics or bridge
// forwarding. OnPublished must not block.
type EventListener interface {
	OnPublished(p Publish)
}

// Router ties a subscription store to a delivery sink through a bounded
// goroutine pool, so a PUBLISH with many subscribers does not spawn one
// goroutine per subscriber.
type Router struct {
	subs   *subscription.Store
	sink   Sink
	pool   *ants.Pool
	log    *zap.Logger
	mu     sync.RWMutex
	events []EventListener
}

func New(subs *subscription.Store, sink Sink, poolSize int, log *zap.Logger) (*Router, error) {
	if poolSize <= 0 {
		poolSize = 256
	}
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{subs: subs, sink: sink, pool: pool, log: log}, nil
}

func (r *Router) Close() {
	r.pool.Release()
}

func (r *Router) AddListener(l EventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, l)
}

// merged is the per-subscriber accumulator used to implement the
// dedup-by-client-id step: max QoS, OR'd retain_as_published, union of
// subscription ids.
type merged struct {
	sub               *topic.Subscription
	effectiveSubQoS   byte
	retainAsPublished bool
	subIDs            map[uint32]struct{}
}

// Route implements spec §4.6 steps 1-6.
func (r *Router) Route(p Publish) {
	matches := r.subs.Matches(p.Topic)

	byClient := make(map[string]*merged)
	for _, sub := range matches {
		m, ok := byClient[sub.ClientID]
		if !ok {
			m = &merged{sub: sub, subIDs: make(map[uint32]struct{})}
			byClient[sub.ClientID] = m
		}
		if sub.QoS > m.effectiveSubQoS {
			m.effectiveSubQoS = sub.QoS
		}
		if sub.RetainAsPublished {
			m.retainAsPublished = true
		}
		if sub.SubscriptionID != 0 {
			m.subIDs[sub.SubscriptionID] = struct{}{}
		}
	}

	var wg sync.WaitGroup
	for clientID, m := range byClient {
		if m.sub.NoLocal && clientID == p.SenderClientID {
			continue
		}
		clientID, m := clientID, m
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			r.deliverOne(p, clientID, m)
		})
		if err != nil {
			wg.Done()
			r.log.Warn("router: pool submit failed, delivering inline", zap.Error(err))
			r.deliverOne(p, clientID, m)
		}
	}
	wg.Wait()

	r.mu.RLock()
	listeners := append([]EventListener(nil), r.events...)
	r.mu.RUnlock()
	for _, l := range listeners {
		l.OnPublished(p)
	}
}

func (r *Router) deliverOne(p Publish, clientID string, m *merged) {
	effectiveQoS := p.QoS
	if m.effectiveSubQoS < effectiveQoS {
		effectiveQoS = m.effectiveSubQoS
	}
	retain := p.Retain && m.retainAsPublished

	ids := make([]uint32, 0, len(m.subIDs))
	for id := range m.subIDs {
		ids = append(ids, id)
	}

	d := Delivery{
		ClientID:                clientID,
		Topic:                   p.Topic,
		Payload:                 p.Payload,
		QoS:                     effectiveQoS,
		Retain:                  retain,
		Properties:              p.Properties,
		MessageExpiry:           p.MessageExpiry,
		SubscriptionIdentifiers: ids,
	}

	if r.sink.Send(d) {
		return
	}
	if r.sink.HasPersistentSession(clientID) {
		r.sink.EnqueueOffline(clientID, d)
	}
}

// SessionSinkAdapter adapts a *session.Store plus a connected-clients lookup
// into the Sink interface the router needs; the connection layer supplies
// the online-send function since only it knows about live connections.
type SessionSinkAdapter struct {
	Sessions *session.Store
	SendFn   func(clientID string, d Delivery) bool
}

func (a *SessionSinkAdapter) Send(d Delivery) bool {
	if a.SendFn == nil {
		return false
	}
	return a.SendFn(d.ClientID, d)
}

func (a *SessionSinkAdapter) EnqueueOffline(clientID string, d Delivery) {
	s, ok := a.Sessions.Get(clientID)
	if !ok {
		return
	}
	var subIDs []uint32
	subIDs = append(subIDs, d.SubscriptionIdentifiers...)
	s.EnqueuePending(&session.Pending{
		Topic:           d.Topic,
		Payload:         d.Payload,
		QoS:             d.QoS,
		Retain:          d.Retain,
		Properties:      d.Properties,
		MessageExpiry:   d.MessageExpiry,
		QueuedAt:        time.Now(),
		SubscriptionIDs: subIDs,
	})
}

func (a *SessionSinkAdapter) HasPersistentSession(clientID string) bool {
	s, ok := a.Sessions.Get(clientID)
	if !ok {
		return false
	}
	return s.SessionExpiryInterval != 0
}
