package topic

import (
	"strings"
	"sync"
)

// Subscription is one subscriber's registration against a topic filter.
// ShareGroup is non-empty iff the filter was of the $share/{group}/ form;
// round-robin selection across a share group is the subscription store's
// job, not the trie's — the trie returns every matching Subscription.
type Subscription struct {
	ClientID          string
	Filter            string
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte
	SubscriptionID    uint32
	ShareGroup        string
}

// node is one level of the filter trie: exact-match children keyed by
// level string, plus optional '+' and '#' children split out because they
// need different traversal rules during Match.
type node struct {
	mu       sync.RWMutex
	children map[string]*node
	plus     *node
	hash     *node
	subs     []*Subscription
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Trie is a concurrency-safe topic filter matcher. Matching takes a shared
// read lock per level; insertion/removal take a write lock per level.
type Trie struct {
	root *node
}

func NewTrie() *Trie {
	return &Trie{root: newNode()}
}

func levels(filter string) []string {
	return strings.Split(filter, "/")
}

func (t *Trie) childFor(n *node, level string, create bool) *node {
	switch level {
	case "+":
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.plus == nil && create {
			n.plus = newNode()
		}
		return n.plus
	case "#":
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.hash == nil && create {
			n.hash = newNode()
		}
		return n.hash
	default:
		n.mu.Lock()
		defer n.mu.Unlock()
		next, ok := n.children[level]
		if !ok && create {
			next = newNode()
			n.children[level] = next
		}
		return next
	}
}

// Subscribe adds sub to the leaf for its Filter, replacing any existing
// entry for the same (ClientID, ShareGroup) pair (resubscribe replaces).
func (t *Trie) Subscribe(sub *Subscription) {
	current := t.root
	for _, lvl := range levels(sub.Filter) {
		current = t.childFor(current, lvl, true)
	}
	current.mu.Lock()
	defer current.mu.Unlock()
	for i, existing := range current.subs {
		if existing.ClientID == sub.ClientID && existing.ShareGroup == sub.ShareGroup {
			current.subs[i] = sub
			return
		}
	}
	current.subs = append(current.subs, sub)
}

// Unsubscribe removes the subscription for clientID (and shareGroup, which
// may be empty) from filter's leaf. Reports whether anything was removed.
func (t *Trie) Unsubscribe(filter, clientID, shareGroup string) bool {
	lvls := levels(filter)
	path := make([]*node, 0, len(lvls)+1)
	current := t.root
	path = append(path, current)
	for _, lvl := range lvls {
		current = t.childFor(current, lvl, false)
		if current == nil {
			return false
		}
		path = append(path, current)
	}

	leaf := path[len(path)-1]
	leaf.mu.Lock()
	removed := false
	kept := leaf.subs[:0]
	for _, s := range leaf.subs {
		if s.ClientID == clientID && s.ShareGroup == shareGroup {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	leaf.subs = kept
	empty := len(leaf.subs) == 0 && len(leaf.children) == 0 && leaf.plus == nil && leaf.hash == nil
	leaf.mu.Unlock()

	if empty {
		t.pruneEmpty(path, lvls)
	}
	return removed
}

// pruneEmpty removes trailing empty nodes along path, from the leaf back
// towards the root, stopping at the first node that is still in use.
func (t *Trie) pruneEmpty(path []*node, lvls []string) {
	for i := len(path) - 1; i > 0; i-- {
		parent, child, lvl := path[i-1], path[i], lvls[i-1]
		child.mu.RLock()
		stillEmpty := len(child.subs) == 0 && len(child.children) == 0 && child.plus == nil && child.hash == nil
		child.mu.RUnlock()
		if !stillEmpty {
			return
		}
		parent.mu.Lock()
		switch lvl {
		case "+":
			if parent.plus == child {
				parent.plus = nil
			}
		case "#":
			if parent.hash == child {
				parent.hash = nil
			}
		default:
			delete(parent.children, lvl)
		}
		parent.mu.Unlock()
	}
}

// UnsubscribeAll removes every subscription belonging to clientID from the
// whole trie, pruning leaves that become empty as a result.
func (t *Trie) UnsubscribeAll(clientID string) {
	t.walkRemove(t.root, clientID)
}

func (t *Trie) walkRemove(n *node, clientID string) bool {
	n.mu.Lock()
	kept := n.subs[:0]
	for _, s := range n.subs {
		if s.ClientID != clientID {
			kept = append(kept, s)
		}
	}
	n.subs = kept

	for lvl, child := range n.children {
		if empty := t.walkRemove(child, clientID); empty {
			delete(n.children, lvl)
		}
	}
	if n.plus != nil && t.walkRemove(n.plus, clientID) {
		n.plus = nil
	}
	if n.hash != nil && t.walkRemove(n.hash, clientID) {
		n.hash = nil
	}
	empty := len(n.subs) == 0 && len(n.children) == 0 && n.plus == nil && n.hash == nil
	n.mu.Unlock()
	return empty
}

// Match returns every Subscription whose filter matches topic name, per the
// rules in Matches (including the $-prefix exclusion).
func (t *Trie) Match(name string) []*Subscription {
	nLevels := strings.Split(name, "/")
	dollarPrefixed := len(nLevels[0]) > 0 && nLevels[0][0] == '$'

	var out []*Subscription
	var walk func(n *node, i int)
	walk = func(n *node, i int) {
		if i == len(nLevels) {
			n.mu.RLock()
			out = append(out, n.subs...)
			hash := n.hash
			n.mu.RUnlock()
			// "#" also matches zero remaining levels: sport/# matches sport.
			if hash != nil {
				hash.mu.RLock()
				out = append(out, hash.subs...)
				hash.mu.RUnlock()
			}
			return
		}
		n.mu.RLock()
		exact := n.children[nLevels[i]]
		plus := n.plus
		hash := n.hash
		n.mu.RUnlock()

		if exact != nil {
			walk(exact, i+1)
		}
		if plus != nil && !(i == 0 && dollarPrefixed) {
			walk(plus, i+1)
		}
		if hash != nil && !(i == 0 && dollarPrefixed) {
			hash.mu.RLock()
			out = append(out, hash.subs...)
			hash.mu.RUnlock()
		}
	}
	walk(t.root, 0)
	return out
}
