// Package session implements the per-client durable state that survives
// reconnects when clean_start is false: subscriptions, inflight windows,
// the offline pending queue, topic aliases, and send quota.
package session

import (
	"sync"
	"time"

	"github.com/golang-io/vibemq/topic"
)

// State is the lifecycle state of a Session.
type State byte

const (
	StateNew State = iota
	StateConnected
	StateDisconnected
	StateExpired
)

// QoS2State tracks where an outgoing QoS 2 publish is in its handshake.
type QoS2State byte

const (
	QoS2WaitingPubRec QoS2State = iota
	QoS2WaitingPubComp
)

// Will is a last-will publish registered at CONNECT time.
type Will struct {
	Topic         string
	Payload       []byte
	QoS           byte
	Retain        bool
	Properties    map[string]any
	DelayInterval uint32
}

// InflightOut is an outbound QoS>0 publish awaiting a terminal ack.
type InflightOut struct {
	PacketID   uint16
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	Properties map[string]any
	State      QoS2State
	SentAt     time.Time
	RetryCount int
}

// InflightIn is an inbound QoS 2 publish stored until PUBREL arrives.
type InflightIn struct {
	PacketID   uint16
	Topic      string
	Payload    []byte
	Properties map[string]any
}

// Pending is an offline message queued for delivery on reconnect.
type Pending struct {
	Topic            string
	Payload          []byte
	QoS              byte
	Retain           bool
	Properties       map[string]any
	MessageExpiry    *uint32 // remaining seconds, nil = no expiry
	QueuedAt         time.Time
	SubscriptionIDs  []uint32
}

// Limits bounds the resources a single session may consume; the zero value
// means "use the session store's configured defaults".
type Limits struct {
	MaxInflight        int
	MaxAwaitingRel     int
	MaxQueuedMessages  int
	MaxTopicAliases    int
}

// Session is the durable per-client-id state. All mutation is serialized on
// the session's own mutex; multiple sessions may be mutated concurrently.
type Session struct {
	mu sync.Mutex

	ClientID              string
	ProtocolVersion       byte
	State                 State
	CleanStart            bool
	SessionExpiryInterval uint32
	KeepAlive             uint16
	ReceiveMaximum        uint16
	SendQuota             uint16
	MaxPacketSize         uint32

	CreatedAt      time.Time
	LastActivity   time.Time
	DisconnectedAt time.Time

	Will *Will

	subscriptions map[string]*topic.Subscription

	inflightOut map[uint16]*InflightOut
	inflightIn  map[uint16]*InflightIn
	pending     []*Pending

	nextPacketID uint16

	clientTopicAliases map[uint16]string // alias -> topic, set by client
	serverTopicAliases map[string]uint16 // topic -> alias, issued by server
	nextServerAlias    uint16

	// PeerTopicAliasMax is the Topic Alias Maximum the client advertised in
	// CONNECT: the most server-issued aliases it will accept. 0 means the
	// client accepts none, so ServerAliasFor must never be called.
	PeerTopicAliasMax uint16

	limits Limits
}

// New creates a fresh session for clientID.
func New(clientID string, version byte, cleanStart bool, limits Limits) *Session {
	now := time.Now()
	if limits.MaxInflight <= 0 {
		limits.MaxInflight = 32
	}
	if limits.MaxAwaitingRel <= 0 {
		limits.MaxAwaitingRel = 32
	}
	if limits.MaxQueuedMessages <= 0 {
		limits.MaxQueuedMessages = 1000
	}
	return &Session{
		ClientID:           clientID,
		ProtocolVersion:     version,
		State:               StateNew,
		CleanStart:          cleanStart,
		ReceiveMaximum:      65535,
		SendQuota:           65535,
		CreatedAt:           now,
		LastActivity:        now,
		subscriptions:       make(map[string]*topic.Subscription),
		inflightOut:         make(map[uint16]*InflightOut),
		inflightIn:          make(map[uint16]*InflightIn),
		clientTopicAliases:  make(map[uint16]string),
		serverTopicAliases:  make(map[string]uint16),
		nextPacketID:        1,
		limits:              limits,
	}
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

func (s *Session) SetConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateConnected
	s.DisconnectedAt = time.Time{}
	s.LastActivity = time.Now()
}

func (s *Session) SetDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateDisconnected
	s.DisconnectedAt = time.Now()
}

func (s *Session) SetExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateExpired
}

func (s *Session) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// IsExpired reports whether the session should be dropped by the periodic
// sweep: a session with SessionExpiryInterval==0 expires immediately on
// disconnect (callers remove it synchronously, this mostly guards races);
// 0xFFFFFFFF never expires.
func (s *Session) IsExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != StateDisconnected {
		return false
	}
	if s.SessionExpiryInterval == 0xFFFFFFFF {
		return false
	}
	return now.Sub(s.DisconnectedAt) >= time.Duration(s.SessionExpiryInterval)*time.Second
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
}

func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivity
}

// NextPacketID allocates the next free packet id, wrapping 1..65535 and
// skipping ids currently present in either inflight map. Returns 0 if every
// id is in use (callers must check send_quota/max_inflight before calling,
// so this should not happen in practice).
func (s *Session) NextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.nextPacketID
	for {
		id := s.nextPacketID
		s.nextPacketID++
		if s.nextPacketID == 0 {
			s.nextPacketID = 1
		}
		_, inOut := s.inflightOut[id]
		_, inIn := s.inflightIn[id]
		if !inOut && !inIn {
			return id
		}
		if s.nextPacketID == start {
			return 0
		}
	}
}

// --- Subscriptions ---

func (s *Session) AddSubscription(sub *topic.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.Filter] = sub
}

func (s *Session) RemoveSubscription(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, filter)
}

func (s *Session) GetSubscription(filter string) (*topic.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[filter]
	return sub, ok
}

func (s *Session) AllSubscriptions() []*topic.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*topic.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub)
	}
	return out
}

func (s *Session) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = make(map[string]*topic.Subscription)
}

// --- Inflight outgoing (QoS>0 publishes sent to this client) ---

// TryReserveOutgoing decrements send_quota and checks max_inflight, both
// atomically with respect to other session mutation. Returns false if the
// session is over quota or inflight is full; callers must queue instead.
func (s *Session) TryReserveOutgoing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendQuota == 0 {
		return false
	}
	if len(s.inflightOut) >= s.limits.MaxInflight {
		return false
	}
	s.SendQuota--
	return true
}

func (s *Session) StoreOutgoing(in *InflightOut) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflightOut[in.PacketID] = in
}

func (s *Session) GetOutgoing(id uint16) (*InflightOut, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inflightOut[id]
	return in, ok
}

// AckOutgoing removes the inflight entry and restores a unit of send quota,
// preserving the send_quota <= receive_maximum invariant.
func (s *Session) AckOutgoing(id uint16) (*InflightOut, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inflightOut[id]
	if !ok {
		return nil, false
	}
	delete(s.inflightOut, id)
	if s.SendQuota < s.ReceiveMaximum {
		s.SendQuota++
	}
	return in, true
}

func (s *Session) MarkWaitingPubComp(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.inflightOut[id]; ok {
		in.State = QoS2WaitingPubComp
	}
}

// AllOutgoing returns a snapshot copy of the inflight-outgoing entries, safe
// to range over without the session lock (used by the retry ticker).
func (s *Session) AllOutgoing() []*InflightOut {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*InflightOut, 0, len(s.inflightOut))
	for _, in := range s.inflightOut {
		out = append(out, in)
	}
	return out
}

func (s *Session) OutgoingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflightOut)
}

// --- Inflight incoming (QoS 2 publishes received, awaiting PUBREL) ---

func (s *Session) TryStoreIncoming(in *InflightIn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inflightIn[in.PacketID]; exists {
		return true // duplicate PUBLISH with same id: idempotent
	}
	if len(s.inflightIn) >= s.limits.MaxAwaitingRel {
		return false
	}
	s.inflightIn[in.PacketID] = in
	return true
}

func (s *Session) TakeIncoming(id uint16) (*InflightIn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inflightIn[id]
	delete(s.inflightIn, id)
	return in, ok
}

// --- Pending (offline) queue ---

// EnqueuePending appends to the pending queue, dropping the oldest entry if
// the queue is full. Returns the dropped entry, if any.
func (s *Session) EnqueuePending(p *Pending) (dropped *Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.limits.MaxQueuedMessages {
		dropped = s.pending[0]
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, p)
	return dropped
}

// DrainPending returns and clears the queue, dropping entries whose message
// expiry has elapsed and decrementing the survivors' remaining expiry by the
// time spent queued.
func (s *Session) DrainPending() []*Pending {
	s.mu.Lock()
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	now := time.Now()
	out := make([]*Pending, 0, len(queued))
	for _, p := range queued {
		if p.MessageExpiry != nil {
			elapsed := uint32(now.Sub(p.QueuedAt).Seconds())
			if elapsed >= *p.MessageExpiry {
				continue
			}
			remaining := *p.MessageExpiry - elapsed
			p.MessageExpiry = &remaining
		}
		out = append(out, p)
	}
	return out
}

func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// --- Topic aliases (v5) ---

func (s *Session) SetClientAlias(alias uint16, topicName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientTopicAliases[alias] = topicName
}

func (s *Session) ClientAlias(alias uint16) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.clientTopicAliases[alias]
	return t, ok
}

// ServerAliasFor returns the alias previously issued for topicName, or
// allocates a new one up to max, returning ok=false once max is reached
// (caller must then send the full topic string instead).
func (s *Session) ServerAliasFor(topicName string, max uint16) (alias uint16, isNew bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max == 0 {
		return 0, false, false
	}
	if a, exists := s.serverTopicAliases[topicName]; exists {
		return a, false, true
	}
	if s.nextServerAlias >= max {
		return 0, false, false
	}
	s.nextServerAlias++
	s.serverTopicAliases[topicName] = s.nextServerAlias
	return s.nextServerAlias, true, true
}

// --- Will ---

func (s *Session) SetWill(w *Will) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Will = w
}

func (s *Session) ClearWill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Will = nil
}

func (s *Session) GetWill() *Will {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Will
}

// ShouldPublishWill reports whether enough of will_delay_interval has
// elapsed since disconnect to fire the will now.
func (s *Session) ShouldPublishWill(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Will == nil {
		return false
	}
	if s.Will.DelayInterval == 0 {
		return true
	}
	return now.Sub(s.DisconnectedAt) >= time.Duration(s.Will.DelayInterval)*time.Second
}

// DisconnectedAtSnapshot returns the disconnected_at timestamp captured at
// call time, for delayed-will re-entry-safety checks (see Store.ScheduleWill).
func (s *Session) DisconnectedAtSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DisconnectedAt
}
