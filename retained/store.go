// Package retained implements the retained-message store of spec §4.7: a
// topic -> message map with lazy message-expiry-interval countdown checked
// on replay.
package retained

import (
	"sync"
	"time"

	"github.com/golang-io/vibemq/topic"
)

// Message is the last retained PUBLISH seen on a topic.
type Message struct {
	Topic         string
	Payload       []byte
	QoS           byte
	Properties    map[string]any
	MessageExpiry *uint32 // seconds, nil = never expires
	Timestamp     time.Time
}

// Expired reports whether, as of now, this entry's message-expiry-interval
// has elapsed.
func (m *Message) Expired(now time.Time) bool {
	if m.MessageExpiry == nil {
		return false
	}
	return now.Sub(m.Timestamp) >= time.Duration(*m.MessageExpiry)*time.Second
}

// RemainingExpiry returns the expiry interval to use on replay, decremented
// by elapsed time since storage; ok is false if there is no expiry set.
func (m *Message) RemainingExpiry(now time.Time) (remaining uint32, ok bool) {
	if m.MessageExpiry == nil {
		return 0, false
	}
	elapsed := uint32(now.Sub(m.Timestamp).Seconds())
	if elapsed >= *m.MessageExpiry {
		return 0, true
	}
	return *m.MessageExpiry - elapsed, true
}

// Store is a concurrency-safe topic -> Message map guarded by a single
// map-level RWMutex shared by all topics (retained-message traffic is low-volume enough
// that per-topic locks would not pay for themselves).
type Store struct {
	mu   sync.RWMutex
	byTopic map[string]*Message
}

func NewStore() *Store {
	return &Store{byTopic: make(map[string]*Message)}
}

// Put stores msg, or deletes the entry for msg.Topic if Payload is empty,
// per the retain semantics: "a retained PUBLISH with empty payload deletes
// the entry".
func (s *Store) Put(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(msg.Payload) == 0 {
		delete(s.byTopic, msg.Topic)
		return
	}
	s.byTopic[msg.Topic] = msg
}

func (s *Store) Get(topicName string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byTopic[topicName]
	return m, ok
}

// Match returns every non-expired retained message whose topic matches
// filter, skipping (but not evicting — eviction is lazy by design) any
// entry whose expiry has elapsed.
func (s *Store) Match(filter string) []*Message {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for name, msg := range s.byTopic {
		if !topic.Matches(filter, name) {
			continue
		}
		if msg.Expired(now) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTopic)
}

// Sweep removes expired entries; intended for an optional periodic
// housekeeping task since expiry is otherwise checked lazily on replay.
func (s *Store) Sweep() (removed int) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, msg := range s.byTopic {
		if msg.Expired(now) {
			delete(s.byTopic, name)
			removed++
		}
	}
	return removed
}
