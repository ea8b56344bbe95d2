package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-io/vibemq/retained"
	"github.com/golang-io/vibemq/router"
)

func TestOnPublishedIncrementsCounter(t *testing.T) {
	reg := New()
	reg.OnPublished(router.Publish{Topic: "a/b"})

	var m dto.Metric
	require.NoError(t, reg.PublishReceived.Write(&m))
	assert.Equal(t, float64(1), m.GetCounter().GetValue())
}

func TestSysPublisherWritesRetained(t *testing.T) {
	reg := New()
	store := retained.NewStore()
	pub := NewSysPublisher(reg, store, 0, nil)

	pub.publishOnce()

	msg, ok := store.Get("$SYS/broker/uptime")
	require.True(t, ok)
	assert.Contains(t, string(msg.Payload), "seconds")

	_, ok = store.Get("$SYS/broker/clients/connected")
	require.True(t, ok)
}
