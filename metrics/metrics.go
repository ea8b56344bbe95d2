// Package metrics extends the teacher's Prometheus counters (stat.go)
// into a broker-wide metrics registry, and periodically republishes a
// subset of them as retained $SYS messages per spec §6.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/golang-io/vibemq/retained"
	"github.com/golang-io/vibemq/router"
)

// Registry holds the broker's Prometheus collectors, grounded on the
// teacher's Stat struct, extended with subscription/session/retained
// gauges the teacher never tracked.
type Registry struct {
	Uptime             prometheus.Counter
	ActiveConnections  prometheus.Gauge
	SessionsPersistent prometheus.Gauge
	PacketReceived     prometheus.Counter
	ByteReceived       prometheus.Counter
	PacketSent         prometheus.Counter
	ByteSent           prometheus.Counter
	PublishReceived    prometheus.Counter
	SubscriptionCount  prometheus.Gauge
	RetainedCount      prometheus.Gauge

	startedAt time.Time
}

func New() *Registry {
	r := &Registry{
		Uptime:             prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_uptime_seconds", Help: "The uptime in seconds"}),
		ActiveConnections:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_active_client_count", Help: "The active number of MQTT clients"}),
		SessionsPersistent: prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_sessions_persistent", Help: "Number of sessions with a non-zero expiry interval"}),
		PacketReceived:     prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_received_packets", Help: "The total number of received MQTT packets"}),
		ByteReceived:       prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_received_bytes", Help: "The total number of received MQTT bytes"}),
		PacketSent:         prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_send_packets", Help: "The total number of send MQTT packets"}),
		ByteSent:           prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_send_bytes", Help: "The total number of send MQTT bytes"}),
		PublishReceived:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_publish_received", Help: "The total number of PUBLISH packets routed"}),
		SubscriptionCount:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_subscriptions", Help: "The current number of active subscriptions"}),
		RetainedCount:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_retained_messages", Help: "The current number of retained messages"}),
		startedAt:          time.Now(),
	}
	return r
}

// Register registers every collector with the default Prometheus registry
// and starts the uptime ticker, mirroring the teacher's Stat.Register +
// RefreshUptime.
func (r *Registry) Register(ctx context.Context) {
	prometheus.MustRegister(
		r.Uptime, r.ActiveConnections, r.SessionsPersistent,
		r.PacketReceived, r.ByteReceived, r.PacketSent, r.ByteSent,
		r.PublishReceived, r.SubscriptionCount, r.RetainedCount,
	)
	go r.refreshUptime(ctx)
}

func (r *Registry) refreshUptime(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.Uptime.Inc()
		}
	}
}

// OnPublished implements router.EventListener so every routed publish is
// counted without the connection layer needing to know about metrics.
func (r *Registry) OnPublished(p router.Publish) {
	r.PublishReceived.Inc()
}

// Handler returns the /metrics HTTP handler, grounded on the teacher's
// Httpd wiring of promhttp.Handler().
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// SysPublisher periodically snapshots a Registry into retained $SYS
// messages, per spec §6's "$SYS topic list" ambient requirement the
// teacher's stat.go never implemented (it only exposed /metrics).
type SysPublisher struct {
	reg      *Registry
	retained *retained.Store
	interval time.Duration
	log      *zap.Logger
}

func NewSysPublisher(reg *Registry, store *retained.Store, interval time.Duration, log *zap.Logger) *SysPublisher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SysPublisher{reg: reg, retained: store, interval: interval, log: log}
}

func (p *SysPublisher) Run(ctx context.Context) {
	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			p.publishOnce()
		}
	}
}

func (p *SysPublisher) publishOnce() {
	uptime := time.Since(p.reg.startedAt).Truncate(time.Second)
	entries := map[string]string{
		"$SYS/broker/uptime":                fmt.Sprintf("%d seconds", int(uptime.Seconds())),
		"$SYS/broker/clients/connected":     fmt.Sprintf("%d", int(metricValue(p.reg.ActiveConnections))),
		"$SYS/broker/clients/persistent":    fmt.Sprintf("%d", int(metricValue(p.reg.SessionsPersistent))),
		"$SYS/broker/subscriptions/count":   fmt.Sprintf("%d", int(metricValue(p.reg.SubscriptionCount))),
		"$SYS/broker/retained messages/count": fmt.Sprintf("%d", int(metricValue(p.reg.RetainedCount))),
	}
	for topicName, payload := range entries {
		p.retained.Put(&retained.Message{
			Topic:     topicName,
			Payload:   []byte(payload),
			QoS:       0,
			Timestamp: time.Now(),
		})
	}
}

func metricValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
