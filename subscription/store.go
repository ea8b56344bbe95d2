// Package subscription wraps the topic trie with share-group round-robin
// selection, implementing the subscription store of spec §4.4.
package subscription

import (
	"sync"
	"sync/atomic"

	"github.com/golang-io/vibemq/topic"
)

// Store indexes subscriptions by topic filter (via the trie) and tracks a
// monotonic counter per share group for round-robin fan-out.
type Store struct {
	trie *topic.Trie

	mu       sync.Mutex
	counters map[string]*atomic.Uint64 // share group name -> counter
}

func NewStore() *Store {
	return &Store{
		trie:     topic.NewTrie(),
		counters: make(map[string]*atomic.Uint64),
	}
}

// Subscribe parses a possibly-shared filter and registers sub (whose Filter
// field is overwritten with the un-shared actual filter; ShareGroup is set
// from the parsed group).
func Subscribe(st *Store, clientID, rawFilter string, qos byte, noLocal, retainAsPublished bool, retainHandling byte, subID uint32) (*topic.Subscription, error) {
	group, actual, _, err := topic.SplitShare(rawFilter)
	if err != nil {
		return nil, err
	}
	sub := &topic.Subscription{
		ClientID:          clientID,
		Filter:            actual,
		QoS:               qos,
		NoLocal:           noLocal,
		RetainAsPublished: retainAsPublished,
		RetainHandling:    retainHandling,
		SubscriptionID:    subID,
		ShareGroup:        group,
	}
	st.trie.Subscribe(sub)
	if group != "" {
		st.ensureCounter(group)
	}
	return sub, nil
}

func (st *Store) ensureCounter(group string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.counters[group]; !ok {
		st.counters[group] = &atomic.Uint64{}
	}
}

// Unsubscribe removes clientID's subscription to rawFilter (parsing any
// $share prefix first). Reports whether a subscription was removed.
func Unsubscribe(st *Store, clientID, rawFilter string) (bool, error) {
	group, actual, _, err := topic.SplitShare(rawFilter)
	if err != nil {
		return false, err
	}
	return st.trie.Unsubscribe(actual, clientID, group), nil
}

func (st *Store) UnsubscribeAll(clientID string) {
	st.trie.UnsubscribeAll(clientID)
}

// Matches returns the delivery set for a published topic name: every
// non-shared matching subscription, plus for each matching share group
// exactly one subscriber chosen round-robin.
func (st *Store) Matches(topicName string) []*topic.Subscription {
	all := st.trie.Match(topicName)

	var direct []*topic.Subscription
	groups := make(map[string][]*topic.Subscription)
	for _, sub := range all {
		if sub.ShareGroup == "" {
			direct = append(direct, sub)
			continue
		}
		groups[sub.ShareGroup] = append(groups[sub.ShareGroup], sub)
	}
	if len(groups) == 0 {
		return direct
	}

	out := direct
	for group, members := range groups {
		st.mu.Lock()
		counter, ok := st.counters[group]
		if !ok {
			counter = &atomic.Uint64{}
			st.counters[group] = counter
		}
		st.mu.Unlock()
		n := counter.Add(1) - 1
		chosen := members[int(n%uint64(len(members)))]
		out = append(out, chosen)
	}
	return out
}
