package topic

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subClients(subs []*Subscription) []string {
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ClientID)
	}
	sort.Strings(ids)
	return ids
}

func TestTrieExactAndWildcardMatch(t *testing.T) {
	trie := NewTrie()
	trie.Subscribe(&Subscription{ClientID: "a", Filter: "1/2/3"})
	trie.Subscribe(&Subscription{ClientID: "b", Filter: "2/4"})
	trie.Subscribe(&Subscription{ClientID: "c", Filter: "2/+/#"})
	trie.Subscribe(&Subscription{ClientID: "d", Filter: "#"})

	assert.ElementsMatch(t, []string{"a", "d"}, subClients(trie.Match("1/2/3")))
	assert.ElementsMatch(t, []string{"d"}, subClients(trie.Match("1/2/3/4")))
	assert.ElementsMatch(t, []string{"c", "d"}, subClients(trie.Match("2/3/4")))
	assert.ElementsMatch(t, []string{"c", "d"}, subClients(trie.Match("2/3/4/5")))
}

func TestTrieHashMatchesZeroRemainingLevels(t *testing.T) {
	trie := NewTrie()
	trie.Subscribe(&Subscription{ClientID: "a", Filter: "sport/#"})
	trie.Subscribe(&Subscription{ClientID: "b", Filter: "2/+/#"})

	assert.ElementsMatch(t, []string{"a"}, subClients(trie.Match("sport")))
	assert.ElementsMatch(t, []string{"b"}, subClients(trie.Match("2/3")))
}

func TestTrieUnsubscribePrunes(t *testing.T) {
	trie := NewTrie()
	trie.Subscribe(&Subscription{ClientID: "a", Filter: "x/y"})
	require.True(t, trie.Unsubscribe("x/y", "a", ""))
	assert.Empty(t, trie.Match("x/y"))
	assert.False(t, trie.Unsubscribe("x/y", "a", ""))
}

func TestTrieUnsubscribeAll(t *testing.T) {
	trie := NewTrie()
	trie.Subscribe(&Subscription{ClientID: "a", Filter: "x/y"})
	trie.Subscribe(&Subscription{ClientID: "a", Filter: "x/z"})
	trie.Subscribe(&Subscription{ClientID: "b", Filter: "x/z"})
	trie.UnsubscribeAll("a")
	assert.Empty(t, trie.Match("x/y"))
	assert.ElementsMatch(t, []string{"b"}, subClients(trie.Match("x/z")))
}

func TestTrieResubscribeReplaces(t *testing.T) {
	trie := NewTrie()
	trie.Subscribe(&Subscription{ClientID: "a", Filter: "x", QoS: 0})
	trie.Subscribe(&Subscription{ClientID: "a", Filter: "x", QoS: 2})
	matches := trie.Match("x")
	require.Len(t, matches, 1)
	assert.EqualValues(t, 2, matches[0].QoS)
}

func TestDollarPrefixExclusion(t *testing.T) {
	trie := NewTrie()
	trie.Subscribe(&Subscription{ClientID: "a", Filter: "#"})
	trie.Subscribe(&Subscription{ClientID: "b", Filter: "+/status"})
	trie.Subscribe(&Subscription{ClientID: "c", Filter: "$SYS/status"})

	assert.Empty(t, trie.Match("$SYS/status"), "wildcard-initial filters must not match $-topics")
	assert.ElementsMatch(t, []string{"c"}, subClients(trie.Match("$SYS/status")))
}

func TestMatchesFunction(t *testing.T) {
	cases := []struct {
		filter, name string
		want         bool
	}{
		{"sport/tennis/player1/#", "sport/tennis/player1", true},
		{"sport/tennis/player1/#", "sport/tennis/player1/ranking", true},
		{"sport/+", "sport", false},
		{"sport/+", "sport/", true},
		{"+/+", "/finance", true},
		{"/+", "/finance", true},
		{"+", "/finance", false},
		{"#", "$SYS/broker", false},
		{"$SYS/#", "$SYS/broker", true},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, Matches(c.filter, c.name), "filter=%q name=%q", c.filter, c.name)
	}
}

func TestSplitShare(t *testing.T) {
	group, actual, shared, err := SplitShare("$share/g1/a/b")
	require.NoError(t, err)
	assert.True(t, shared)
	assert.Equal(t, "g1", group)
	assert.Equal(t, "a/b", actual)

	_, _, shared, err = SplitShare("a/b")
	require.NoError(t, err)
	assert.False(t, shared)

	_, _, _, err = SplitShare("$share//a/b")
	assert.Error(t, err)
}

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, ValidateFilter("a/b/#"))
	assert.NoError(t, ValidateFilter("a/+/c"))
	assert.NoError(t, ValidateFilter("$share/group/a/+"))
	assert.Error(t, ValidateFilter("a/#/b"))
	assert.Error(t, ValidateFilter("a/b+"))
	assert.Error(t, ValidateFilter(""))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("a/b/c"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("a/+/c"))
	assert.Error(t, ValidateName("a/#"))
}
