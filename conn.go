package mqtt

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/golang-io/vibemq/packet"
	"github.com/golang-io/vibemq/retained"
	"github.com/golang-io/vibemq/router"
	"github.com/golang-io/vibemq/session"
	"github.com/golang-io/vibemq/subscription"
	"github.com/golang-io/vibemq/topic"
)

// conn represents the server side of a client connection. It generalizes
// the teacher's net/http-flavored conn to carry a *Broker and the client's
// *session.Session instead of a single MemoryTrie subscription set and an
// inFight map, so QoS, retained replay, ACL and session takeover all flow
// through the new broker-wide stores.
type conn struct {
	// server is the server on which the connection arrived. Immutable; never nil.
	server *Server

	// broker holds every piece of shared broker state this connection needs.
	broker *Broker

	// cancelCtx cancels the connection-level context.
	cancelCtx context.CancelFunc

	// rwc is the underlying network connection.
	rwc net.Conn

	// remoteAddr is rwc.RemoteAddr().String(), populated inside serve.
	remoteAddr string

	// tlsState is the TLS connection state when using TLS. nil means not TLS.
	tlsState *tls.ConnectionState

	curState atomic.Uint64 // packed (unix time<<8|uint8(ConnState))

	ID       string
	version  byte // mqtt version
	username string

	// sess is the durable session resumed or created at CONNECT.
	sess *session.Session

	// takenOver is set by connRegistry.register when a newer connection
	// with the same client id displaces this one; serve's read loop then
	// exits, deliver and deliverRetained stop writing to it, and serve's
	// cleanup leaves the client-id registration and the session to the newer
	// connection. A will still held by the session is scheduled as on any
	// other close.
	takenOver bool

	mu sync.Mutex
}

func (c *conn) setState(nc net.Conn, state ConnState, runHook bool) {
	srv := c.server
	switch state {
	case StateNew:
		srv.trackConn(c, true)
	case StateHijacked, StateClosed:
		srv.trackConn(c, false)
	default:
	}
	if state > 0xFF || state < 0 {
		panic("invalid conn state")
	}
	packedState := uint64(time.Now().Unix()<<8) | uint64(state)
	c.curState.Store(packedState)
	if !runHook {
		return
	}
	if hook := srv.ConnState; hook != nil {
		hook(nc, state)
	}
}

func (c *conn) Write(w []byte) (int, error) {
	if c.rwc == nil {
		return 0, io.ErrClosedPipe
	}
	return c.rwc.Write(w)
}

func (c *conn) getState() (state ConnState, unixSec int64) {
	packedState := c.curState.Load()
	return ConnState(packedState & 0xFF), int64(packedState >> 8)
}

// Close the connection.
func (c *conn) close() {
	_ = c.rwc.Close()
}

// disconnectTakenOver notifies a displaced connection that a newer
// connection with the same client id has taken over its session, before
// connRegistry.register closes the socket. MQTT 3.1.1 has no server-to-client
// DISCONNECT, so this is a no-op below v5.
func (c *conn) disconnectTakenOver() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rwc == nil || c.version != packet.VERSION500 {
		return
	}
	pkt := packet.NewDISCONNECT(c.version, packet.ErrSessionTakenOver)
	_ = pkt.Pack(c)
}

// deliver is the connRegistry.send path: the router or a retained replay
// hands this connection a Delivery for its client id, and deliver encodes
// it onto the wire, reserving an inflight slot for QoS>0. It reports false
// if the connection can't currently accept the message (closed, taken
// over, or its inflight window is full), so the caller falls back to the
// session's offline queue.
func (c *conn) deliver(d router.Delivery) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.takenOver || c.rwc == nil {
		return false
	}

	qos := d.QoS
	var packetID uint16
	if qos > 0 {
		if c.sess == nil || !c.sess.TryReserveOutgoing() {
			return false
		}
		packetID = c.sess.NextPacketID()
	}

	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBLISH, QoS: qos, Retain: b2u8(d.Retain)},
		PacketID:    packetID,
		Message:     &packet.Message{TopicName: d.Topic, Content: d.Payload},
	}
	if c.version == packet.VERSION500 {
		pub.Props = mapToPublishProps(d.Properties, d.SubscriptionIdentifiers, d.MessageExpiry)
		if c.sess != nil {
			// The codec requires a non-empty topic name on every PUBLISH, so
			// the alias is always sent alongside the full name rather than
			// in place of it; it still lets the client cache topic -> alias.
			if alias, _, ok := c.sess.ServerAliasFor(d.Topic, c.sess.PeerTopicAliasMax); ok {
				pub.Props.TopicAlias = packet.TopicAlias(alias)
			}
		}
	}

	if err := pub.Pack(c.rwc); err != nil {
		c.broker.Log.Warn("deliver: pack failed", zap.String("client_id", c.ID), zap.Error(err))
		return false
	}
	c.broker.Metrics.PacketSent.Inc()

	if qos > 0 {
		c.sess.StoreOutgoing(&session.InflightOut{
			PacketID:   packetID,
			Topic:      d.Topic,
			Payload:    d.Payload,
			QoS:        qos,
			Retain:     d.Retain,
			Properties: d.Properties,
			SentAt:     time.Now(),
		})
	}
	return true
}

// deliverRetained sends one retained message to a freshly (re-)subscribed
// client, independent of the router's fan-out path since it targets
// exactly one subscriber and always carries Retain=1.
func (c *conn) deliverRetained(m *retained.Message, sub *topic.Subscription) {
	qos := sub.QoS
	if m.QoS < qos {
		qos = m.QoS
	}

	var packetID uint16
	if qos > 0 {
		if c.sess == nil || !c.sess.TryReserveOutgoing() {
			return
		}
		packetID = c.sess.NextPacketID()
	}

	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBLISH, QoS: qos, Retain: 1},
		PacketID:    packetID,
		Message:     &packet.Message{TopicName: m.Topic, Content: m.Payload},
	}
	if c.version == packet.VERSION500 {
		var expiry *uint32
		if remaining, ok := m.RemainingExpiry(time.Now()); ok {
			expiry = &remaining
		}
		pub.Props = mapToPublishProps(m.Properties, nil, expiry)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.takenOver || c.rwc == nil {
		return
	}
	if err := pub.Pack(c.rwc); err != nil {
		c.broker.Log.Warn("deliverRetained: pack failed", zap.String("client_id", c.ID), zap.Error(err))
		return
	}
	c.broker.Metrics.PacketSent.Inc()
	if qos > 0 {
		c.sess.StoreOutgoing(&session.InflightOut{
			PacketID: packetID, Topic: m.Topic, Payload: m.Payload, QoS: qos, Retain: true,
			Properties: m.Properties, SentAt: time.Now(),
		})
	}
}

// drainPending flushes a resumed session's offline queue onto the wire,
// reserving inflight slots the same way deliver does.
func (c *conn) drainPending() {
	if c.sess == nil {
		return
	}
	for _, p := range c.sess.DrainPending() {
		c.deliver(router.Delivery{
			ClientID:                c.ID,
			Topic:                   p.Topic,
			Payload:                 p.Payload,
			QoS:                     p.QoS,
			Retain:                  p.Retain,
			Properties:              p.Properties,
			MessageExpiry:           p.MessageExpiry,
			SubscriptionIdentifiers: p.SubscriptionIDs,
		})
	}
}

// scheduleOrPublishWill fires will immediately, or after its delay
// interval via the broker's will scheduler if one is set. A reconnect
// under the same client id cancels a still-pending scheduled will
// (broker.Wills.cancel, called from the CONNECT handler).
func (c *conn) scheduleOrPublishWill(clientID string, will *session.Will) {
	publish := func() {
		c.broker.Router.Route(router.Publish{
			SenderClientID: clientID,
			Topic:          will.Topic,
			Payload:        will.Payload,
			QoS:            will.QoS,
			Retain:         will.Retain,
			Properties:     will.Properties,
		})
		if will.Retain {
			c.broker.Retained.Put(&retained.Message{
				Topic: will.Topic, Payload: will.Payload, QoS: will.QoS,
				Properties: will.Properties, Timestamp: time.Now(),
			})
		}
	}
	if will.DelayInterval == 0 {
		publish()
		return
	}
	c.broker.Wills.schedule(clientID, time.Duration(will.DelayInterval)*time.Second, publish)
}

// Serve a new connection.
func (c *conn) serve(ctx context.Context) {
	if ws, ok := c.rwc.(*websocket.Conn); ok {
		if req := ws.Request(); req != nil {
			c.remoteAddr = req.RemoteAddr
		}
	} else if ra := c.rwc.RemoteAddr(); ra != nil {
		c.remoteAddr = ra.String()
	}

	c.broker.Log.Info("connect connected", zap.String("remote", c.remoteAddr))

	defer func() {
		if err := recover(); err != nil && err != ErrAbortHandler {
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			c.broker.Log.Error("panic serving connection", zap.String("remote", c.remoteAddr), zap.Any("err", err), zap.ByteString("stack", buf))
		}

		c.broker.Log.Info("connect disconnected", zap.String("client_id", c.ID), zap.String("remote", c.remoteAddr))

		c.close()
		c.setState(c.rwc, StateClosed, true)

		if !c.takenOver {
			c.broker.conns.unregister(c)
		}
		if c.sess != nil {
			if will := c.sess.GetWill(); will != nil {
				c.scheduleOrPublishWill(c.ID, will)
				c.sess.ClearWill()
			}
			c.broker.ACL.OnDisconnect(c.ID)
			if !c.takenOver {
				c.broker.Sessions.Disconnect(c.ID)
			}
		}
	}()

	if tlsConn, ok := c.rwc.(*tls.Conn); ok {
		tlsTO := 10 * time.Second
		dl := time.Now().Add(tlsTO)
		_ = c.rwc.SetReadDeadline(dl)
		_ = c.rwc.SetWriteDeadline(dl)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			c.broker.Log.Warn("TLS handshake error", zap.String("remote", c.remoteAddr), zap.Error(err))
			return
		}
		_ = c.rwc.SetReadDeadline(time.Time{})
		_ = c.rwc.SetWriteDeadline(time.Time{})
		c.tlsState = new(tls.ConnectionState)
		*c.tlsState = tlsConn.ConnectionState()
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancelCtx = cancel
	defer cancel()

	for {
		rw, err := c.readRequest(ctx)
		if err != nil {
			c.broker.Log.Debug("readRequest", zap.Error(err))
			return
		}
		serverHandler{c.server}.ServeMQTT(rw, rw.packet)
		if c.takenOver {
			return
		}
		c.setState(c.rwc, StateIdle, true)
	}
}

// Read next request from connection.
func (c *conn) readRequest(_ context.Context) (*response, error) {
	w, err := &response{conn: c}, error(nil)
	w.packet, err = packet.Unpack(c.version, c.rwc)
	if w.packet != nil {
		c.broker.Metrics.PacketReceived.Inc()
	}
	return w, err
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// publishPropsToMap flattens a wire-level PublishProperties block into the
// version-independent map the router/session/retained packages carry
// Properties as, so fan-out and offline-queueing never need to know about
// MQTT v5 property encoding.
func publishPropsToMap(p *packet.PublishProperties) map[string]any {
	if p == nil {
		return nil
	}
	m := make(map[string]any)
	if p.PayloadFormatIndicator != 0 {
		m["payload_format_indicator"] = uint8(p.PayloadFormatIndicator)
	}
	if p.ContentType != "" {
		m["content_type"] = string(p.ContentType)
	}
	if p.ResponseTopic != "" {
		m["response_topic"] = string(p.ResponseTopic)
	}
	if len(p.CorrelationData) > 0 {
		m["correlation_data"] = []byte(p.CorrelationData)
	}
	if len(p.UserProperty) > 0 {
		m["user_property"] = p.UserProperty
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// mapToPublishProps is the inverse of publishPropsToMap, re-attaching
// subscription identifiers and a (possibly recomputed) message-expiry
// value for outbound delivery.
func mapToPublishProps(props map[string]any, subIDs []uint32, messageExpiry *uint32) *packet.PublishProperties {
	out := &packet.PublishProperties{}
	if v, ok := props["payload_format_indicator"].(uint8); ok {
		out.PayloadFormatIndicator = packet.PayloadFormatIndicator(v)
	}
	if v, ok := props["content_type"].(string); ok {
		out.ContentType = packet.ContentType(v)
	}
	if v, ok := props["response_topic"].(string); ok {
		out.ResponseTopic = packet.ReasonString(v)
	}
	if v, ok := props["correlation_data"].([]byte); ok {
		out.CorrelationData = packet.CorrelationData(v)
	}
	if v, ok := props["user_property"].(map[string][]string); ok {
		out.UserProperty = v
	}
	if messageExpiry != nil {
		out.MessageExpiryInterval = packet.MessageExpiryInterval(*messageExpiry)
	}
	if len(subIDs) > 0 {
		out.SubscriptionIdentifier = subIDs
	}
	return out
}

type defaultHandler struct{}

func (defaultHandler) ServeMQTT(w ResponseWriter, req packet.Packet) {
	var spkt packet.Packet
	var abortAfterSend bool
	c := w.(*response).conn
	b := c.broker

	switch rpkt := req.(type) {
	case *packet.RESERVED:
		return

	case *packet.CONNECT:
		c.version = rpkt.Version
		connack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: CONNACK}}

		ok, err := b.Auth.Authenticate(rpkt.ClientID, rpkt.Username, rpkt.Password)
		if err != nil {
			b.Log.Error("authenticate", zap.String("client_id", rpkt.ClientID), zap.Error(err))
		}
		if !ok {
			if c.version == packet.VERSION500 {
				connack.ConnectReturnCode = packet.ErrBadUsernameOrPassword
			} else {
				connack.ConnectReturnCode = packet.ErrMalformedUsernameOrPassword
			}
			spkt, abortAfterSend = connack, true
			break
		}

		c.ID = rpkt.ClientID
		c.username = rpkt.Username

		cleanStart := rpkt.ConnectFlags.CleanStart()
		b.Wills.cancel(c.ID)
		sess, sessionPresent := b.Sessions.GetOrCreate(c.ID, c.version, cleanStart)
		c.sess = sess
		if cleanStart {
			sess.ClearSubscriptions()
			b.Subs.UnsubscribeAll(c.ID)
		}

		sess.KeepAlive = rpkt.KeepAlive
		if rpkt.Props != nil {
			sess.SessionExpiryInterval = uint32(rpkt.Props.SessionExpiryInterval)
			if rpkt.Props.ReceiveMaximum != 0 {
				sess.ReceiveMaximum = uint16(rpkt.Props.ReceiveMaximum)
				sess.SendQuota = uint16(rpkt.Props.ReceiveMaximum)
			}
			if rpkt.Props.MaximumPacketSize != 0 {
				sess.MaxPacketSize = uint32(rpkt.Props.MaximumPacketSize)
			}
			sess.PeerTopicAliasMax = rpkt.Props.TopicAliasMaximum.Uint16()
		}

		if rpkt.ConnectFlags.WillFlag() {
			will := &session.Will{
				Topic:   rpkt.WillTopic,
				Payload: rpkt.WillPayload,
				QoS:     rpkt.ConnectFlags.WillQoS(),
				Retain:  rpkt.ConnectFlags.WillRetain(),
			}
			if wp := rpkt.WillProperties; wp != nil {
				will.DelayInterval = wp.WillDelayInterval
				props := make(map[string]any)
				if wp.PayloadFormatIndicator != 0 {
					props["payload_format_indicator"] = wp.PayloadFormatIndicator
				}
				if wp.ContentType != "" {
					props["content_type"] = wp.ContentType
				}
				if wp.ResponseTopic != "" {
					props["response_topic"] = wp.ResponseTopic
				}
				if len(wp.CorrelationData) > 0 {
					props["correlation_data"] = wp.CorrelationData
				}
				if len(props) > 0 {
					will.Properties = props
				}
			}
			sess.SetWill(will)
		}

		connack.SessionPresent = b2u8(sessionPresent && !cleanStart)
		connack.ConnectReturnCode = packet.CodeSuccess
		if c.version == packet.VERSION500 {
			connack.Props = &packet.ConnackProps{TopicAliasMaximum: uint16(b.Config.Limits.MaxTopicAliases)}
		}

		b.conns.register(c)
		b.Log.Info("client auth ok", zap.String("client_id", c.ID), zap.String("username", c.username), zap.String("remote", c.remoteAddr))

		if err := w.OnSend(connack); err != nil {
			b.Log.Warn("mqtt-onSend", zap.Error(err))
		}
		c.drainPending()
		return

	case *packet.PUBLISH:
		topicName := rpkt.Message.TopicName
		qos := rpkt.FixedHeader.QoS
		retain := rpkt.FixedHeader.Retain == 1

		if rpkt.Props != nil && rpkt.Props.TopicAlias != 0 {
			alias := rpkt.Props.TopicAlias.Uint16()
			if topicName != "" {
				if c.sess != nil {
					c.sess.SetClientAlias(alias, topicName)
				}
			} else {
				var resolved string
				var ok bool
				if c.sess != nil {
					resolved, ok = c.sess.ClientAlias(alias)
				}
				if !ok {
					b.Log.Warn("unknown topic alias", zap.String("client_id", c.ID), zap.Uint16("alias", alias))
					spkt = packet.NewDISCONNECT(c.version, packet.ErrTopicAliasInvalid)
					abortAfterSend = true
					break
				}
				topicName = resolved
			}
		}

		if err := topic.ValidateName(topicName); err != nil {
			b.Log.Warn("malformed publish topic", zap.String("client_id", c.ID), zap.Error(err))
			panic(ErrAbortHandler)
		}

		if !b.ACL.CheckPublish(c.ID, c.username, topicName, qos, retain) {
			switch qos {
			case 1:
				spkt = &packet.PUBACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBACK}, PacketID: rpkt.PacketID, ReasonCode: packet.ErrNotAuthorized}
			case 2:
				spkt = &packet.PUBREC{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREC}, PacketID: rpkt.PacketID, ReasonCode: packet.ErrNotAuthorized}
			default:
				return
			}
			break
		}

		props := publishPropsToMap(rpkt.Props)
		var msgExpiry *uint32
		if rpkt.Props != nil && rpkt.Props.MessageExpiryInterval != 0 {
			v := uint32(rpkt.Props.MessageExpiryInterval)
			msgExpiry = &v
		}
		if retain {
			b.Retained.Put(&retained.Message{Topic: topicName, Payload: rpkt.Message.Content, QoS: qos, Properties: props, MessageExpiry: msgExpiry, Timestamp: time.Now()})
		}

		route := func() {
			b.Router.Route(router.Publish{
				SenderClientID: c.ID, Topic: topicName, Payload: rpkt.Message.Content,
				QoS: qos, Retain: retain, Properties: props, MessageExpiry: msgExpiry,
			})
		}

		switch qos {
		case 0:
			route()
			return
		case 1:
			spkt = &packet.PUBACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBACK}, PacketID: rpkt.PacketID, ReasonCode: packet.CodeSuccess}
			if err := w.OnSend(spkt); err != nil {
				b.Log.Warn("mqtt-onSend", zap.Error(err))
			}
			route()
			return
		case 2:
			if c.sess != nil && !c.sess.TryStoreIncoming(&session.InflightIn{PacketID: rpkt.PacketID, Topic: topicName, Payload: rpkt.Message.Content, Properties: props}) {
				spkt = &packet.PUBREC{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREC}, PacketID: rpkt.PacketID, ReasonCode: packet.ErrQuotaExceeded}
				break
			}
			spkt = &packet.PUBREC{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREC}, PacketID: rpkt.PacketID, ReasonCode: packet.CodeSuccess}
		}

	case *packet.PUBACK:
		if c.sess != nil {
			c.sess.AckOutgoing(rpkt.PacketID)
		}
		return

	case *packet.PUBREC:
		if c.sess != nil {
			c.sess.MarkWaitingPubComp(rpkt.PacketID)
		}
		spkt = &packet.PUBREL{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREL, QoS: 1}, PacketID: rpkt.PacketID, ReasonCode: packet.CodeSuccess}

	case *packet.PUBREL:
		spkt = &packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBCOMP}, PacketID: rpkt.PacketID, ReasonCode: packet.CodeSuccess}
		if err := w.OnSend(spkt); err != nil {
			b.Log.Warn("mqtt-onSend", zap.Error(err))
		}
		if c.sess != nil {
			if in, ok := c.sess.TakeIncoming(rpkt.PacketID); ok {
				b.Router.Route(router.Publish{SenderClientID: c.ID, Topic: in.Topic, Payload: in.Payload, QoS: 2, Properties: in.Properties})
			} else {
				b.Log.Debug("PUBREL for unknown packet id, acking idempotently", zap.String("client_id", c.ID), zap.Uint16("packet_id", rpkt.PacketID))
			}
		}
		return

	case *packet.PUBCOMP:
		if c.sess != nil {
			c.sess.AckOutgoing(rpkt.PacketID)
		}
		return

	case *packet.SUBSCRIBE:
		var reasons []packet.ReasonCode
		var replay []*retained.Message
		var replaySubs []*topic.Subscription
		var subID uint32
		if rpkt.Props != nil && uint32(rpkt.Props.SubscriptionIdentifier) != 0 {
			subID = uint32(rpkt.Props.SubscriptionIdentifier)
		}

		for _, s := range rpkt.Subscriptions {
			if err := topic.ValidateFilter(s.TopicFilter); err != nil {
				reasons = append(reasons, packet.ErrTopicFilterInvalid)
				continue
			}
			if !b.ACL.CheckSubscribe(c.ID, c.username, s.TopicFilter, s.MaximumQoS) {
				reasons = append(reasons, packet.ErrNotAuthorized)
				continue
			}

			_, actualFilter, _, err := topic.SplitShare(s.TopicFilter)
			if err != nil {
				reasons = append(reasons, packet.ErrTopicFilterInvalid)
				continue
			}
			var existed bool
			if c.sess != nil {
				_, existed = c.sess.GetSubscription(actualFilter)
			}

			sub, err := subscription.Subscribe(b.Subs, c.ID, s.TopicFilter, s.MaximumQoS, s.NoLocal != 0, s.RetainAsPublished != 0, s.RetainHandling, subID)
			if err != nil {
				reasons = append(reasons, packet.ErrTopicFilterInvalid)
				continue
			}
			if c.sess != nil {
				c.sess.AddSubscription(sub)
			}
			reasons = append(reasons, packet.ReasonCode{Code: s.MaximumQoS})

			sendRetained := s.RetainHandling == 0 || (s.RetainHandling == 1 && !existed)
			if sendRetained {
				for _, m := range b.Retained.Match(sub.Filter) {
					replay = append(replay, m)
					replaySubs = append(replaySubs, sub)
				}
			}
		}

		spkt = &packet.SUBACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: SUBACK}, PacketID: rpkt.PacketID, ReasonCode: reasons}
		if err := w.OnSend(spkt); err != nil {
			b.Log.Warn("mqtt-onSend", zap.Error(err))
		}
		for i, m := range replay {
			c.deliverRetained(m, replaySubs[i])
		}
		return

	case *packet.UNSUBSCRIBE:
		for _, s := range rpkt.Subscriptions {
			_, _ = subscription.Unsubscribe(b.Subs, c.ID, s.TopicFilter)
			if c.sess != nil {
				if _, actualFilter, _, err := topic.SplitShare(s.TopicFilter); err == nil {
					c.sess.RemoveSubscription(actualFilter)
				}
			}
		}
		spkt = &packet.UNSUBACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: UNSUBACK}, PacketID: rpkt.PacketID}

	case *packet.PINGREQ:
		spkt = &packet.PINGRESP{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PINGRESP}}

	case *packet.DISCONNECT:
		b.Log.Info("client requested disconnect", zap.String("client_id", c.ID), zap.String("remote", c.remoteAddr))
		if rpkt.ReasonCode.Code != 0 {
			// Non-normal disconnect: the will (if any) survives to fire
			// from serve's deferred cleanup. [MQTT-3.14.4-3] only requires
			// discarding it on a Normal disconnection (reason code 0).
		} else if c.sess != nil {
			c.sess.ClearWill()
		}
		panic(ErrAbortHandler)

	case *packet.AUTH:
		return

	default:
		b.Log.Warn("unknown packet type, closing", zap.String("client_id", c.ID))
		panic(ErrAbortHandler)
	}

	if spkt != nil {
		if err := w.OnSend(spkt); err != nil {
			b.Log.Warn("mqtt-onSend", zap.Error(err))
		}
	}
	if abortAfterSend {
		panic(ErrAbortHandler)
	}
}
