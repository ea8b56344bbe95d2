package mqtt

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/golang-io/vibemq/acl"
	"github.com/golang-io/vibemq/auth"
	"github.com/golang-io/vibemq/config"
	"github.com/golang-io/vibemq/metrics"
	"github.com/golang-io/vibemq/persistence"
	"github.com/golang-io/vibemq/retained"
	"github.com/golang-io/vibemq/router"
	"github.com/golang-io/vibemq/session"
	"github.com/golang-io/vibemq/subscription"
)

// Broker holds every piece of broker-wide state a connection needs:
// sessions, subscriptions, retained messages, the fan-out router, and the
// pluggable auth/acl providers. One Broker is shared by every *conn a
// Server accepts, the way the teacher's single memorySubscribed used to
// be, now generalized across the whole new package set.
type Broker struct {
	Config      *config.Config
	Sessions    *session.Store
	Subs        *subscription.Store
	Retained    *retained.Store
	Router      *router.Router
	Auth        auth.Provider
	ACL         acl.Provider
	Persistence persistence.Store
	Metrics     *metrics.Registry
	Log         *zap.Logger
	Wills       *willScheduler

	conns *connRegistry
}

// NewBroker wires the full broker-side stack from a loaded config,
// the way cmd/mqtt-server/main.go's startup sequence expects.
func NewBroker(cfg *config.Config, log *zap.Logger) (*Broker, error) {
	limits := session.Limits{
		MaxInflight:       cfg.Limits.MaxInflight,
		MaxAwaitingRel:    cfg.Limits.MaxAwaitingRel,
		MaxQueuedMessages: cfg.Limits.MaxQueuedMessages,
		MaxTopicAliases:   cfg.Limits.MaxTopicAliases,
	}
	sessions := session.NewStore(limits)
	subs := subscription.NewStore()
	retainedStore := retained.NewStore()

	conns := newConnRegistry()

	sink := &router.SessionSinkAdapter{
		Sessions: sessions,
		SendFn:   conns.send,
	}
	rt, err := router.New(subs, sink, 256, log)
	if err != nil {
		return nil, err
	}

	store, err := persistence.New(cfg.Persistence)
	if err != nil {
		return nil, err
	}

	users := make([]auth.User, 0, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		users = append(users, auth.User{Username: u.Username, Password: u.Password, PasswordHash: u.PasswordHash, Role: u.Role})
	}
	authProvider := auth.NewStaticTable(users, cfg.Auth.Enabled, auth.WithAnonymous(cfg.Auth.AllowAnonymous))

	roles := make([]acl.Role, 0, len(cfg.ACL.Roles))
	for _, r := range cfg.ACL.Roles {
		roles = append(roles, acl.Role{Name: r.Name, Publish: r.Publish, Subscribe: r.Subscribe})
	}
	defaultPerm := acl.Deny
	if cfg.ACL.DefaultAllow {
		defaultPerm = acl.Allow
	}
	aclProvider := acl.NewRoleBased(cfg.ACL.Enabled, defaultPerm, roles, authProvider.RoleOf)

	reg := metrics.New()
	rt.AddListener(reg)

	b := &Broker{
		Config:      cfg,
		Sessions:    sessions,
		Subs:        subs,
		Retained:    retainedStore,
		Router:      rt,
		Auth:        authProvider,
		ACL:         aclProvider,
		Persistence: store,
		Metrics:     reg,
		Log:         log,
		Wills:       newWillScheduler(),
		conns:       conns,
	}
	return b, nil
}

// RunBackground starts the broker's periodic maintenance loops: expired
// session sweeping and $SYS metrics publication. It blocks until ctx is
// done.
func (b *Broker) RunBackground(ctx context.Context) {
	go b.Sessions.Sweep(30*time.Second, ctx.Done())
	sysInterval := time.Duration(b.Config.Metrics.SysInterval) * time.Second
	pub := metrics.NewSysPublisher(b.Metrics, b.Retained, sysInterval, b.Log)
	go pub.Run(ctx)
	b.Metrics.Register(ctx)
	<-ctx.Done()
}

// connRegistry tracks live connections by client id so the router's Sink
// can reach an online client's outbound path without an import cycle
// between router and the root package.
type connRegistry struct {
	mu    sync.Mutex
	byID  map[string]*conn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{byID: make(map[string]*conn)}
}

func (r *connRegistry) register(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[c.ID]; ok && old != c {
		old.takenOver = true
		old.disconnectTakenOver()
		_ = old.rwc.Close()
	}
	r.byID[c.ID] = c
}

func (r *connRegistry) unregister(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[c.ID]; ok && cur == c {
		delete(r.byID, c.ID)
	}
}

func (r *connRegistry) send(clientID string, d router.Delivery) bool {
	r.mu.Lock()
	c, ok := r.byID[clientID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return c.deliver(d)
}
