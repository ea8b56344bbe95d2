// Package bridge implements peer forwarding (spec §4.8): a bridge peer is
// a remote broker this broker maintains an outbound connection to,
// subscribing to a configured topic set and exchanging this broker's own
// wire codec over a websocket transport, grounded on the teacher's
// client.go dial logic and federated.go's HTTP control plane idiom.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/golang-io/vibemq/config"
	"github.com/golang-io/vibemq/packet"
	"github.com/golang-io/vibemq/router"
	"github.com/golang-io/vibemq/topic"
)

// originProperty is the user-property key stamped on every forwarded
// PUBLISH so the receiving broker can refuse to forward it a second time,
// the loop-prevention mechanism required by spec §4.8.
const originProperty = "vibemq-bridge-origin"

// Peer is one outbound bridge connection to a remote broker.
type Peer struct {
	cfg    config.Bridge
	log    *zap.Logger
	router *router.Router

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewPeer(cfg config.Bridge, r *router.Router, log *zap.Logger) *Peer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Peer{cfg: cfg, router: r, log: log}
}

// Run dials the remote broker and reconnects with backoff until ctx is
// done, mirroring the teacher's ConnectAndSubscribe retry loop.
func (p *Peer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := p.runOnce(ctx); err != nil {
			p.log.Warn("bridge: peer connection ended", zap.String("peer", p.cfg.Name), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (p *Peer) runOnce(ctx context.Context) error {
	conn, err := p.dialWebsocket(ctx)
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", p.cfg.URL, err)
	}
	defer conn.Close()

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	if err := p.handshake(conn); err != nil {
		return fmt.Errorf("bridge: handshake with %s: %w", p.cfg.Name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		pkt, err := packet.Unpack(packet.VERSION500, bytes.NewReader(data))
		if err != nil {
			p.log.Warn("bridge: malformed peer frame", zap.String("peer", p.cfg.Name), zap.Error(err))
			continue
		}
		p.handleInbound(pkt)
	}
}

func (p *Peer) dialWebsocket(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.cfg.URL, nil)
	return conn, err
}

// handshake sends a CONNECT identifying this broker as a bridge client and
// subscribes to the peer's configured topic set. From the remote broker's
// point of view this peer is an ordinary, if privileged, MQTT client.
func (p *Peer) handshake(conn *websocket.Conn) error {
	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = "bridge-" + p.cfg.Name
	}
	connect := &packet.CONNECT{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: 0x1},
		ClientID:    clientID,
		Username:    p.cfg.Username,
		Password:    p.cfg.Password,
	}
	if err := p.send(conn, connect); err != nil {
		return err
	}
	if len(p.cfg.Topics) == 0 {
		return nil
	}
	subs := make([]packet.Subscription, 0, len(p.cfg.Topics))
	for _, t := range p.cfg.Topics {
		subs = append(subs, packet.Subscription{TopicFilter: t, MaximumQoS: 1, NoLocal: 1})
	}
	sub := &packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: packet.VERSION500, Kind: 0x8, QoS: 1},
		PacketID:      1,
		Subscriptions: subs,
	}
	return p.send(conn, sub)
}

func (p *Peer) send(conn *websocket.Conn, pkt packet.Packet) error {
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

// handleInbound processes a PUBLISH arriving from the remote broker by
// routing it locally, tagging it with the origin property so a
// subsequent ForwardLocal call does not bounce it back out to the same
// peer it came from.
func (p *Peer) handleInbound(pkt packet.Packet) {
	pub, ok := pkt.(*packet.PUBLISH)
	if !ok || pub.Message == nil {
		return
	}
	props := map[string]any{originProperty: p.cfg.Name}
	p.router.Route(router.Publish{
		SenderClientID: "bridge:" + p.cfg.Name,
		Topic:          pub.Message.TopicName,
		Payload:        pub.Message.Content,
		QoS:            pub.QoS,
		Properties:     props,
	})
}

// ForwardLocal is called by the router's EventListener hook for every
// locally-routed publish; it decides whether this peer should receive a
// copy, per spec §4.8's should_forward predicate.
func (p *Peer) ForwardLocal(pub router.Publish) {
	if origin, ok := pub.Properties[originProperty]; ok && origin == p.cfg.Name {
		return
	}
	if !p.interested(pub.Topic) {
		return
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	out := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: 0x3, QoS: pub.QoS},
		Message:     &packet.Message{TopicName: pub.Topic, Content: pub.Payload},
	}
	if err := p.send(conn, out); err != nil {
		p.log.Warn("bridge: forward failed", zap.String("peer", p.cfg.Name), zap.Error(err))
	}
}

func (p *Peer) interested(topicName string) bool {
	for _, filter := range p.cfg.Topics {
		if topic.Matches(filter, topicName) {
			return true
		}
	}
	return false
}
