package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartdryer/core/events"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/notify"
	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/infra/mqtt"
	"github.com/kilianp07/smartdryer/internal/eventbus"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mgr   *Manager
	store *store.MemoryStore
	tr    *mqtt.MockClient
	rec   *notify.Recorder
	bus   *eventbus.Bus
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemoryStore(),
		tr:    mqtt.NewMockClient(),
		rec:   &notify.Recorder{},
		bus:   eventbus.New(),
		now:   t0,
	}
	var mu sync.Mutex
	seq := 0
	f.mgr = NewManager(f.store, f.tr, Options{
		Notifier: f.rec,
		Bus:      f.bus,
		Clock:    func() time.Time { return f.now },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("cmd-%d", seq)
		},
	})
	return f
}

func (f *fixture) device(t *testing.T, serial string, status model.ConnStatus) {
	t.Helper()
	d := model.NewDevice(serial, "Dryer "+serial, "u1", t0)
	d.Status = status
	require.NoError(t, f.store.CreateDevice(context.Background(), d))
}

func (f *fixture) motor(t *testing.T, serial string) model.MotorState {
	t.Helper()
	d, err := f.store.GetDevice(context.Background(), serial)
	require.NoError(t, err)
	return d.MotorState
}

func TestIssueSendsAndAdvancesMotorState(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", model.StatusOnline)
	sub := f.bus.Subscribe()

	cmd, err := f.mgr.Issue(context.Background(), "D1", "collect", model.Map(nil), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.CommandSent, cmd.Status)
	assert.Equal(t, model.MotorCollecting, f.motor(t, "D1"))

	stored, err := f.store.GetCommand(context.Background(), cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandSent, stored.Status)
	assert.Equal(t, "u1", stored.Issuer)

	sent := f.tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "device/D1/command", sent[0].Topic)
	assert.Equal(t, byte(1), sent[0].QoS)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(sent[0].Payload, &wire))
	assert.Equal(t, cmd.ID, wire["commandId"])
	assert.Equal(t, "collect", wire["command"])
	assert.Equal(t, map[string]any{}, wire["params"])
	ts, err := time.Parse(time.RFC3339Nano, wire["timestamp"].(string))
	require.NoError(t, err)
	assert.True(t, ts.Equal(t0))

	ev := (<-sub).(events.CommandEvent)
	assert.Equal(t, events.StageIssued, ev.Stage)
	assert.NoError(t, ev.Err)
}

func TestIssueVerbMotorStates(t *testing.T) {
	cases := map[string]model.MotorState{
		"collect":   model.MotorCollecting,
		"release":   model.MotorReleasing,
		"stop":      model.MotorStopped,
		"calibrate": model.MotorIdle,
	}
	for verb, want := range cases {
		t.Run(verb, func(t *testing.T) {
			f := newFixture(t)
			f.device(t, "D1", model.StatusOnline)
			_, err := f.mgr.Issue(context.Background(), "D1", verb, model.Null(), "u1")
			require.NoError(t, err)
			assert.Equal(t, want, f.motor(t, "D1"))
		})
	}
}

func TestIssueRejectsBeforeAnyMutation(t *testing.T) {
	f := newFixture(t)
	f.device(t, "ON", model.StatusOnline)
	f.device(t, "OFF", model.StatusOffline)
	f.device(t, "NEW", model.StatusUnknown)
	ctx := context.Background()

	_, err := f.mgr.Issue(ctx, "ON", "dance", model.Null(), "u1")
	assert.ErrorIs(t, err, model.ErrInvalidCommand)
	_, err = f.mgr.Issue(ctx, "OFF", "collect", model.Null(), "u1")
	assert.ErrorIs(t, err, model.ErrDeviceUnavailable)
	_, err = f.mgr.Issue(ctx, "NEW", "collect", model.Null(), "u1")
	assert.ErrorIs(t, err, model.ErrDeviceUnavailable)
	_, err = f.mgr.Issue(ctx, "GHOST", "collect", model.Null(), "u1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	cmds, err := f.store.ListCommands(ctx, store.CommandFilter{})
	require.NoError(t, err)
	assert.Empty(t, cmds)
	assert.Empty(t, f.tr.Sent())
	assert.Equal(t, model.MotorIdle, f.motor(t, "OFF"))
}

func TestIssuePublishFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", model.StatusOnline)
	f.tr.SetConnected(false)

	cmd, err := f.mgr.Issue(context.Background(), "D1", "collect", model.Null(), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransport)
	assert.Equal(t, model.CommandPending, cmd.Status)

	stored, err := f.store.GetCommand(context.Background(), cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandPending, stored.Status)
	assert.Equal(t, model.MotorIdle, f.motor(t, "D1"))
}

func TestRecordResultIdempotent(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", model.StatusOnline)
	ctx := context.Background()
	cmd, err := f.mgr.Issue(ctx, "D1", "collect", model.Null(), "u1")
	require.NoError(t, err)

	res := Result{CommandID: cmd.ID, Status: "executed", Result: model.Object("duration", 12)}
	first, err := f.mgr.RecordResult(ctx, "D1", res)
	require.NoError(t, err)
	assert.Equal(t, model.CommandExecuted, first.Status)

	f.now = f.now.Add(time.Minute)
	second, err := f.mgr.RecordResult(ctx, "D1", res)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored, err := f.store.GetCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandExecuted, stored.Status)
	dur, _ := stored.Result.Get("duration")
	assert.True(t, dur.Equal(model.Number(12)))
	assert.Equal(t, model.MotorIdle, f.motor(t, "D1"))
	assert.Len(t, f.rec.OfKind(notify.KindMotorComplete), 1)
}

func TestRecordResultNeverRegresses(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", model.StatusOnline)
	ctx := context.Background()
	cmd, err := f.mgr.Issue(ctx, "D1", "release", model.Null(), "u1")
	require.NoError(t, err)

	_, err = f.mgr.RecordResult(ctx, "D1", Result{CommandID: cmd.ID, Status: "failed", Result: model.Object("error", "jammed")})
	require.NoError(t, err)
	got, err := f.mgr.RecordResult(ctx, "D1", Result{CommandID: cmd.ID, Status: "executed"})
	require.NoError(t, err)
	assert.Equal(t, model.CommandFailed, got.Status)

	_, err = f.mgr.RecordResult(ctx, "D1", Result{CommandID: cmd.ID, Status: "sent"})
	assert.ErrorIs(t, err, model.ErrDecode)
	_, err = f.mgr.RecordResult(ctx, "D1", Result{CommandID: cmd.ID, Status: "pending"})
	assert.ErrorIs(t, err, model.ErrDecode)

	stored, _ := f.store.GetCommand(ctx, cmd.ID)
	assert.Equal(t, model.CommandFailed, stored.Status)
	assert.Empty(t, f.rec.OfKind(notify.KindMotorComplete))
}

func TestRecordResultUnknownOrForeign(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", model.StatusOnline)
	f.device(t, "D2", model.StatusOnline)
	ctx := context.Background()
	_, err := f.mgr.RecordResult(ctx, "D1", Result{CommandID: "nope", Status: "executed"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	cmd, err := f.mgr.Issue(ctx, "D1", "collect", model.Null(), "u1")
	require.NoError(t, err)
	_, err = f.mgr.RecordResult(ctx, "D2", Result{CommandID: cmd.ID, Status: "executed"})
	assert.ErrorIs(t, err, model.ErrNotFound)
	stored, _ := f.store.GetCommand(ctx, cmd.ID)
	assert.Equal(t, model.CommandSent, stored.Status)
}

func TestStopExecutedSettlesStopped(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", model.StatusOnline)
	ctx := context.Background()
	cmd, err := f.mgr.Issue(ctx, "D1", "stop", model.Null(), "u1")
	require.NoError(t, err)
	_, err = f.mgr.RecordResult(ctx, "D1", Result{CommandID: cmd.ID, Status: "executed"})
	require.NoError(t, err)
	assert.Equal(t, model.MotorStopped, f.motor(t, "D1"))
}

// interleavedStore runs before once, ahead of the first device update.
type interleavedStore struct {
	*store.MemoryStore
	before func()
}

func (s *interleavedStore) UpdateDevice(ctx context.Context, serial string, fn store.DeviceMutator) (model.Device, error) {
	if hook := s.before; hook != nil {
		s.before = nil
		hook()
	}
	return s.MemoryStore.UpdateDevice(ctx, serial, fn)
}

func TestResultBeforeOptimisticMotorUpdate(t *testing.T) {
	mem := store.NewMemoryStore()
	tr := mqtt.NewMockClient()
	ctx := context.Background()
	d := model.NewDevice("D1", "Dryer D1", "u1", t0)
	d.Status = model.StatusOnline
	require.NoError(t, mem.CreateDevice(ctx, d))

	st := &interleavedStore{MemoryStore: mem}
	mgr := NewManager(st, tr, Options{NewID: func() string { return "cmd-1" }})
	st.before = func() {
		_, err := mgr.RecordResult(ctx, "D1", Result{CommandID: "cmd-1", Status: "executed"})
		require.NoError(t, err)
	}

	cmd, err := mgr.Issue(ctx, "D1", "collect", model.Null(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.CommandExecuted, cmd.Status)
	got, err := mem.GetDevice(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, model.MotorIdle, got.MotorState)
}

func TestSettleLeavesNewerMotorState(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", model.StatusOnline)
	ctx := context.Background()
	collect, err := f.mgr.Issue(ctx, "D1", "collect", model.Null(), "u1")
	require.NoError(t, err)
	_, err = f.mgr.Issue(ctx, "D1", "release", model.Null(), "u1")
	require.NoError(t, err)

	_, err = f.mgr.RecordResult(ctx, "D1", Result{CommandID: collect.ID, Status: "executed"})
	require.NoError(t, err)
	assert.Equal(t, model.MotorReleasing, f.motor(t, "D1"))
}

func TestResetIssuesCalibrate(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", model.StatusOnline)
	cmd, err := f.mgr.Reset(context.Background(), "D1", "u1")
	require.NoError(t, err)
	assert.Equal(t, model.VerbCalibrate, cmd.Verb)
	reset, _ := cmd.Params.Get("reset")
	assert.True(t, reset.Equal(model.Bool(true)))
}

func TestExpire(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", model.StatusOnline)
	ctx := context.Background()
	old, err := f.mgr.Issue(ctx, "D1", "collect", model.Null(), "u1")
	require.NoError(t, err)
	done, err := f.mgr.Issue(ctx, "D1", "calibrate", model.Null(), "u1")
	require.NoError(t, err)
	_, err = f.mgr.RecordResult(ctx, "D1", Result{CommandID: done.ID, Status: "executed"})
	require.NoError(t, err)

	f.now = t0.Add(10 * time.Minute)
	fresh, err := f.mgr.Issue(ctx, "D1", "release", model.Null(), "u1")
	require.NoError(t, err)

	n, err := f.mgr.Expire(ctx, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := f.store.GetCommand(ctx, old.ID)
	assert.Equal(t, model.CommandFailed, got.Status)
	reason, _ := got.Result.Get("reason")
	assert.True(t, reason.Equal(model.String("timeout")))
	got, _ = f.store.GetCommand(ctx, fresh.ID)
	assert.Equal(t, model.CommandSent, got.Status)

	evs, _ := f.store.ListEvents(ctx, store.EventFilter{Type: model.EventCommandExpired})
	assert.Len(t, evs, 1)

	n, err = f.mgr.Expire(ctx, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHistoryAndStats(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", model.StatusOnline)
	ctx := context.Background()
	for _, v := range []string{"collect", "release", "collect"} {
		f.now = f.now.Add(time.Second)
		_, err := f.mgr.Issue(ctx, "D1", v, model.Null(), "u1")
		require.NoError(t, err)
	}
	_, err := f.mgr.RecordResult(ctx, "D1", Result{CommandID: "cmd-1", Status: "executed"})
	require.NoError(t, err)

	hist, err := f.mgr.History(ctx, store.CommandFilter{DeviceSerial: "D1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "cmd-3", hist[0].ID)

	st, err := f.mgr.Stats(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByVerb[model.VerbCollect])
	assert.Equal(t, 1, st.ByStatus[model.CommandExecuted])
	assert.Equal(t, 2, st.ByStatus[model.CommandSent])

	_, err = f.mgr.Stats(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
