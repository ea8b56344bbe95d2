package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang-io/requests"
	"go.uber.org/zap"

	"github.com/golang-io/vibemq/config"
)

// ClusterPeer is this broker's view of another node in the cluster. spec
// §4.8 treats cluster discovery as out of scope beyond a static peer
// list; Membership below is that static-list default, generalized from
// the teacher's federated.go gossip-by-ping idiom so a future dynamic
// implementation has somewhere to plug in.
type ClusterPeer interface {
	Peers() map[string]string // name -> base URL
}

// StaticMembership is the default ClusterPeer: a fixed list from config,
// probed by periodic pings the way federated.go's Endpoint.Ping did, but
// without gossip-based peer discovery. The list never changes after
// construction.
type StaticMembership struct {
	self string
	sess *requests.Session
	log  *zap.Logger

	mu    sync.RWMutex
	peers map[string]string
}

func NewStaticMembership(self string, cluster []config.ClusterPeer, log *zap.Logger) *StaticMembership {
	if log == nil {
		log = zap.NewNop()
	}
	m := &StaticMembership{
		self:  self,
		sess:  requests.New(requests.Timeout(2 * time.Second)),
		log:   log,
		peers: make(map[string]string, len(cluster)),
	}
	for _, p := range cluster {
		m.peers[p.Name] = p.URL
	}
	return m
}

func (m *StaticMembership) Peers() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.peers))
	for k, v := range m.peers {
		out[k] = v
	}
	return out
}

// Run periodically health-checks each configured peer's /healthz and logs
// a warning for each one that fails or answers with a non-200 status,
// mirroring federated.go's Ping loop. Unhealthy peers are not removed: the
// peer set is config-defined, not gossip-discovered.
func (m *StaticMembership) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m.pingAll(ctx)
		}
	}
}

func (m *StaticMembership) pingAll(ctx context.Context) {
	for name, url := range m.Peers() {
		resp, err := m.sess.DoRequest(ctx, requests.URL(url), requests.Path("/healthz"))
		if err != nil || resp.StatusCode != http.StatusOK {
			m.log.Warn("bridge: cluster peer unhealthy", zap.String("peer", name), zap.Error(err))
		}
	}
}

// HealthzHandler is mounted at /healthz by cmd/mqtt-server, so peers can
// probe this node the way it probes them.
func HealthzHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
