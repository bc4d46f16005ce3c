package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartdryer/core/command"
	"github.com/kilianp07/smartdryer/core/devicestate"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/notify"
	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/infra/mqtt"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	st  *store.MemoryStore
	svc *devicestate.Service
	mgr *command.Manager
	rec *notify.Recorder
	now time.Time
}

func (e *env) clock() time.Time { return e.now }

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{st: store.NewMemoryStore(), rec: &notify.Recorder{}, now: base}
	e.svc = devicestate.New(e.st, devicestate.Options{Notifier: e.rec, Clock: e.clock})
	e.mgr = command.NewManager(e.st, mqtt.NewMockClient(), command.Options{Clock: e.clock})
	for _, s := range []string{"D1", "D2"} {
		_, err := e.svc.Register(context.Background(), s, "", "alice", "", model.Null())
		require.NoError(t, err)
	}
	return e
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, 2*time.Minute, c.Interval())
	assert.Equal(t, 5*time.Minute, c.Threshold())
	require.NoError(t, c.Validate())
	assert.Error(t, Config{IntervalSeconds: -1, ThresholdSeconds: 1}.Validate())
}

func TestSweepOnceMarksStaleOffline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.ApplyHeartbeat(ctx, "D1", devicestate.Heartbeat{})
	require.NoError(t, err)
	e.now = base.Add(4 * time.Minute)
	_, err = e.svc.ApplyHeartbeat(ctx, "D2", devicestate.Heartbeat{})
	require.NoError(t, err)

	e.now = base.Add(6 * time.Minute)
	sw := New(Config{}, e.st, e.svc, Options{Clock: e.clock})
	res, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Offline)

	d1, _ := e.st.GetDevice(ctx, "D1")
	d2, _ := e.st.GetDevice(ctx, "D2")
	assert.Equal(t, model.StatusOffline, d1.Status)
	assert.Equal(t, model.StatusOnline, d2.Status)

	evs, _ := e.st.ListEvents(ctx, store.EventFilter{DeviceSerial: "D1", Type: model.EventDeviceOffline})
	assert.Len(t, evs, 1)
	assert.Len(t, e.rec.OfKind(notify.KindDeviceOffline), 1)

	res, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Offline)
	evs, _ = e.st.ListEvents(ctx, store.EventFilter{DeviceSerial: "D1", Type: model.EventDeviceOffline})
	assert.Len(t, evs, 1)
}

func TestSweepOnceSkipsNeverSeenDevices(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.now = base.Add(10 * time.Minute)
	sw := New(Config{}, e.st, e.svc, Options{Clock: e.clock})
	res, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Offline)

	d1, _ := e.st.GetDevice(ctx, "D1")
	assert.Equal(t, model.StatusUnknown, d1.Status)
	assert.True(t, d1.LastSeen.IsZero())
	evs, _ := e.st.ListEvents(ctx, store.EventFilter{DeviceSerial: "D1", Type: model.EventDeviceOffline})
	assert.Empty(t, evs)
	assert.Empty(t, e.rec.OfKind(notify.KindDeviceOffline))
}

func TestSweepOnceExpiresCommands(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.ApplyHeartbeat(ctx, "D1", devicestate.Heartbeat{})
	require.NoError(t, err)
	cmd, err := e.mgr.Issue(ctx, "D1", "collect", model.Null(), "alice")
	require.NoError(t, err)

	e.now = base.Add(2 * time.Minute)
	_, err = e.svc.ApplyHeartbeat(ctx, "D1", devicestate.Heartbeat{})
	require.NoError(t, err)

	sw := New(Config{}, e.st, e.svc, Options{Expirer: e.mgr, CommandTimeout: time.Minute, Clock: e.clock})
	res, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	got, _ := e.mgr.Get(ctx, cmd.ID)
	assert.Equal(t, model.CommandFailed, got.Status)
	d, _ := e.st.GetDevice(ctx, "D1")
	assert.Equal(t, model.MotorIdle, d.MotorState)
}

func TestSweepOnceWithoutTimeoutKeepsCommands(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, _ = e.svc.ApplyHeartbeat(ctx, "D1", devicestate.Heartbeat{})
	cmd, err := e.mgr.Issue(ctx, "D1", "release", model.Null(), "alice")
	require.NoError(t, err)
	e.now = base.Add(time.Hour)
	sw := New(Config{}, e.st, e.svc, Options{Expirer: e.mgr, Clock: e.clock})
	res, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Expired)
	got, _ := e.mgr.Get(ctx, cmd.ID)
	assert.Equal(t, model.CommandSent, got.Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	sw := New(Config{IntervalSeconds: 1}, e.st, e.svc, Options{Clock: e.clock})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
