package app

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartdryer/config"
	"github.com/kilianp07/smartdryer/core/factory"
	coremetrics "github.com/kilianp07/smartdryer/core/metrics"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/core/transport"
	"github.com/kilianp07/smartdryer/infra/mqtt"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Storage.Backend = "memory"
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "nop"}}
	cfg.Notify.Backends = []factory.ModuleConfig{{Type: "nop"}}
	cfg.API.Disabled = true
	cfg.SetDefaults()
	return cfg
}

func newTestService(t *testing.T) (*Service, *mqtt.MockClient, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	tr := mqtt.NewMockClient()
	svc, err := NewWithDeps(context.Background(), testConfig(), Deps{Store: st, Transport: tr, Sink: coremetrics.NopSink{}})
	require.NoError(t, err)
	return svc, tr, st
}

func TestServiceRainCollectsEndToEnd(t *testing.T) {
	svc, tr, st := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	_, err := svc.State.Register(ctx, "SD-1", "Balcony", "alice", "", model.Null())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(tr.Status().Subscriptions) == len(transport.InboundPatterns)
	}, time.Second, 10*time.Millisecond)

	tr.Deliver("device/SD-1/heartbeat", []byte(`{}`))
	require.Eventually(t, func() bool {
		d, err := st.GetDevice(context.Background(), "SD-1")
		return err == nil && d.Online()
	}, time.Second, 10*time.Millisecond)

	tr.Deliver("device/SD-1/sensor", []byte(`{"sensors":[{"type":"rain","value":1}]}`))
	require.Eventually(t, func() bool { return len(tr.Sent()) == 1 }, time.Second, 10*time.Millisecond)

	sent := tr.Sent()[0]
	assert.Equal(t, "device/SD-1/command", sent.Topic)
	var wire struct {
		CommandID string `json:"commandId"`
		Command   string `json:"command"`
	}
	require.NoError(t, json.Unmarshal(sent.Payload, &wire))
	assert.Equal(t, "collect", wire.Command)

	cmd, err := st.GetCommand(context.Background(), wire.CommandID)
	require.NoError(t, err)
	assert.Equal(t, model.IssuerSystem, cmd.Issuer)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.NoError(t, svc.Close())
}

func TestRunReturnsWhenAPICannotBind(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.API.Disabled = false
	cfg.API.Addr = ln.Addr().String()
	svc, err := NewWithDeps(context.Background(), cfg, Deps{Store: store.NewMemoryStore(), Transport: mqtt.NewMockClient(), Sink: coremetrics.NopSink{}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "address already in use")
	case <-time.After(3 * time.Second):
		t.Fatal("Run kept blocking after the API failed to bind")
	}
}

func TestServiceAutoTriggerDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AutoTrigger.Disabled = true
	svc, err := NewWithDeps(context.Background(), cfg, Deps{Store: store.NewMemoryStore(), Transport: mqtt.NewMockClient()})
	require.NoError(t, err)
	assert.Nil(t, svc.Trigger)
	assert.NoError(t, svc.Close())
}

func TestWaitConnected(t *testing.T) {
	svc, tr, _ := newTestService(t)
	defer svc.Close()
	ctx := context.Background()
	assert.NoError(t, svc.WaitConnected(ctx, 100*time.Millisecond))

	tr.SetConnected(false)
	err := svc.WaitConnected(ctx, 100*time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.ErrorIs(t, err, model.ErrTransport)
}

func TestNewBuildsFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.Broker = "tcp://127.0.0.1:1"
	svc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := svc.Transport.(*mqtt.PahoClient)
	assert.True(t, ok)
	assert.NoError(t, svc.Close())
}
