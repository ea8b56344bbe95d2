package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-io/vibemq/config"
)

func TestNewStderrLogger(t *testing.T) {
	log, err := New(config.Log{Level: "debug"})
	require.NoError(t, err)
	require.NotNil(t, log)
	log.Info("hello")
}

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()
	log, err := New(config.Log{Level: "info", File: filepath.Join(dir, "broker.log")})
	require.NoError(t, err)
	log.Info("written to file")
	assert.NoError(t, log.Sync())
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.Log{Level: "not-a-level"})
	require.Error(t, err)
}
