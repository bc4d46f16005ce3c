package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/kilianp07/smartdryer/core/monitoring"
)

func TestNewSentryMonitorDisabledWithoutDSN(t *testing.T) {
	m, err := NewSentryMonitor(Config{})
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, m)
}

func TestNewSentryMonitorRejectsBadDSN(t *testing.T) {
	_, err := NewSentryMonitor(Config{DSN: "not-a-dsn"})
	assert.Error(t, err)
}
