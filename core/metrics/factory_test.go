package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartdryer/core/factory"
	metrics "github.com/kilianp07/smartdryer/core/metrics"
	_ "github.com/kilianp07/smartdryer/infra/metrics"
)

func TestNewMetricsSink(t *testing.T) {
	s, err := metrics.NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "nop"}})
	require.NoError(t, err)
	m, ok := s.(*metrics.MultiSink)
	require.True(t, ok, "got %T", s)
	assert.Len(t, m.Sinks, 2)
}

func TestNewMetricsSinkUnknown(t *testing.T) {
	_, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "graphite"}})
	assert.ErrorIs(t, err, factory.ErrUnknownType)
}
