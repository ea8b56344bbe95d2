package mqtt

import (
	"testing"

	"go.uber.org/zap"

	"github.com/golang-io/vibemq/config"
)

// newTestBroker wires a minimal Broker against in-memory defaults, for
// tests that only need a Server/conn to have somewhere to route through.
func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	cfg := config.Default()
	b, err := NewBroker(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	return b
}
