package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartdryer/core/autotrigger"
	"github.com/kilianp07/smartdryer/core/command"
	"github.com/kilianp07/smartdryer/core/devicestate"
	"github.com/kilianp07/smartdryer/core/events"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/infra/mqtt"
	"github.com/kilianp07/smartdryer/internal/eventbus"
)

type harness struct {
	r   *Router
	st  *store.MemoryStore
	tr  *mqtt.MockClient
	mgr *command.Manager
	bus *eventbus.Bus
}

func newHarness(t *testing.T, cfg Config, serials ...string) harness {
	t.Helper()
	st := store.NewMemoryStore()
	tr := mqtt.NewMockClient()
	bus := eventbus.New()
	svc := devicestate.New(st, devicestate.Options{})
	mgr := command.NewManager(st, tr, command.Options{})
	trig := autotrigger.New(autotrigger.Policy{}, st, mgr, autotrigger.Options{})
	for _, s := range serials {
		_, err := svc.Register(context.Background(), s, "Dryer "+s, "alice", "", model.Null())
		require.NoError(t, err)
	}
	r := New(cfg, svc, mgr, Options{Trigger: trig, Bus: bus})
	require.NoError(t, r.Subscribe(tr))
	r.Start(context.Background())
	t.Cleanup(r.Stop)
	return harness{r: r, st: st, tr: tr, mgr: mgr, bus: bus}
}

func TestParseTopic(t *testing.T) {
	r, err := ParseTopic("device/D1/command/result")
	require.NoError(t, err)
	assert.Equal(t, Route{Serial: "D1", Category: "command", Sub: "result"}, r)
	assert.Equal(t, "command/result", r.Kind())

	r, err = ParseTopic("device/D1/heartbeat")
	require.NoError(t, err)
	assert.Equal(t, "heartbeat", r.Kind())

	for _, bad := range []string{"", "device", "device/D1", "other/D1/heartbeat", "device//heartbeat", "device/D1/a/b/c"} {
		_, err := ParseTopic(bad)
		assert.ErrorIs(t, err, model.ErrDecode, bad)
	}
}

func TestSubscribesInboundPatterns(t *testing.T) {
	h := newHarness(t, Config{})
	assert.Equal(t, []string{
		"device/+/command/result",
		"device/+/event",
		"device/+/heartbeat",
		"device/+/sensor",
	}, h.tr.Status().Subscriptions)
}

func TestRainSensorTriggersOneCollect(t *testing.T) {
	h := newHarness(t, Config{}, "D1")
	payload := []byte(`{"sensors":[{"type":"rain","value":5}]}`)
	assert.Equal(t, 1, h.tr.Deliver("device/D1/sensor", payload))
	assert.Equal(t, 1, h.tr.Deliver("device/D1/sensor", payload))
	h.r.Stop()

	ctx := context.Background()
	cmds, err := h.st.ListCommands(ctx, store.CommandFilter{DeviceSerial: "D1"})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, model.VerbCollect, cmds[0].Verb)
	assert.Equal(t, model.IssuerSystem, cmds[0].Issuer)
	readings, _ := h.st.ListReadings(ctx, store.ReadingFilter{DeviceSerial: "D1"})
	assert.Len(t, readings, 2)
	sent := h.tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "device/D1/command", sent[0].Topic)
	assert.Equal(t, byte(1), sent[0].QoS)
}

func TestUnknownDeviceIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	sub := h.bus.Subscribe()
	h.tr.Deliver("device/D1/heartbeat", []byte(`{}`))
	ev := (<-sub).(events.MessageEvent)
	assert.Equal(t, ReasonNotFound, ev.Reason)
	assert.Equal(t, "heartbeat", ev.Category)
	all, _ := h.st.ListDevices(context.Background(), store.DeviceFilter{})
	assert.Empty(t, all)
}

func TestDropReasons(t *testing.T) {
	h := newHarness(t, Config{}, "D1")
	ctx := context.Background()
	cases := []struct {
		topic, payload, reason string
	}{
		{"device/D1/heartbeat", `{"motorState":"collecting"}`, ""},
		{"device/D1/heartbeat", `not json`, ReasonDecode},
		{"device/D1/sensor", `{}`, ReasonDecode},
		{"device/D1/event", `{"message":"no type"}`, ReasonDecode},
		{"device/D1/event", `{"eventType":"door_open"}`, ""},
		{"device/D1/command/result", `{"commandId":"nope","status":"executed"}`, ReasonNotFound},
		{"device/D1/command/result", `{"commandId":"x","status":"weird"}`, ReasonDecode},
		{"device/D1/firmware", `{}`, ReasonUnknownCategory},
		{"device/D1/command", `{}`, ReasonUnknownCategory},
		{"bogus", `{}`, ReasonBadTopic},
	}
	for _, c := range cases {
		sub := h.bus.Subscribe()
		_ = h.r.Handle(ctx, c.topic, []byte(c.payload))
		ev := (<-sub).(events.MessageEvent)
		h.bus.Unsubscribe(sub)
		assert.Equal(t, c.reason, ev.Reason, "%s %s", c.topic, c.payload)
	}
	d, _ := h.st.GetDevice(ctx, "D1")
	assert.Equal(t, model.MotorCollecting, d.MotorState)
	evs, _ := h.st.ListEvents(ctx, store.EventFilter{DeviceSerial: "D1", Type: "door_open"})
	require.Len(t, evs, 1)
	assert.Equal(t, model.SeverityInfo, evs[0].Severity)
}

func TestSensorReportKeepsWellFormedEntries(t *testing.T) {
	h := newHarness(t, Config{}, "D1")
	ctx := context.Background()
	payload := `{"sensors":[{"type":"temperature","value":21.5,"unit":"C"},{"type":7,"value":3},{"type":"humidity","value":60,"unit":["%"]}]}`
	sub := h.bus.Subscribe(eventbus.OfType[events.MessageEvent]())
	require.NoError(t, h.r.Handle(ctx, "device/D1/sensor", []byte(payload)))
	ev := (<-sub).(events.MessageEvent)
	assert.Empty(t, ev.Reason)

	readings, err := h.st.ListReadings(ctx, store.ReadingFilter{DeviceSerial: "D1"})
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, model.SensorTemperature, readings[0].Type)
	assert.Equal(t, "C", readings[0].Unit)
}

func TestUnknownMotorHintIgnored(t *testing.T) {
	h := newHarness(t, Config{}, "D1")
	require.NoError(t, h.r.Handle(context.Background(), "device/D1/heartbeat", []byte(`{"motorState":"spinning"}`)))
	d, _ := h.st.GetDevice(context.Background(), "D1")
	assert.Equal(t, model.MotorIdle, d.MotorState)
	assert.Equal(t, model.StatusOnline, d.Status)
}

func TestCommandResultRoundTrip(t *testing.T) {
	h := newHarness(t, Config{}, "D1")
	ctx := context.Background()
	require.NoError(t, h.r.Handle(ctx, "device/D1/heartbeat", []byte(`{}`)))
	cmd, err := h.mgr.Issue(ctx, "D1", "release", model.Null(), "alice")
	require.NoError(t, err)

	var wire struct {
		CommandID string `json:"commandId"`
		Command   string `json:"command"`
	}
	require.NoError(t, json.Unmarshal(h.tr.Sent()[0].Payload, &wire))
	assert.Equal(t, cmd.ID, wire.CommandID)

	result := fmt.Sprintf(`{"commandId":%q,"status":"executed","result":{"position":"out"}}`, wire.CommandID)
	h.tr.Deliver("device/D1/command/result", []byte(result))
	h.tr.Deliver("device/D1/command/result", []byte(result))
	h.r.Stop()

	got, err := h.mgr.Get(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandExecuted, got.Status)
	pos, _ := got.Result.Get("position")
	assert.True(t, pos.Equal(model.String("out")))
	d, _ := h.st.GetDevice(ctx, "D1")
	assert.Equal(t, model.MotorIdle, d.MotorState)
}

// orderProbe records the heartbeat order seen per serial.
type orderProbe struct {
	mu   sync.Mutex
	seen map[string][]string
}

func (o *orderProbe) ApplyHeartbeat(_ context.Context, serial string, hb devicestate.Heartbeat) (model.Device, error) {
	o.mu.Lock()
	o.seen[serial] = append(o.seen[serial], string(hb.MotorState))
	o.mu.Unlock()
	return model.Device{}, nil
}

func (o *orderProbe) ApplySensorReadings(context.Context, string, []devicestate.RawReading) (devicestate.SensorResult, error) {
	panic("sensor handler exploded")
}

func (o *orderProbe) RecordDeviceEvent(context.Context, string, devicestate.DeviceEvent) (model.Event, error) {
	return model.Event{}, nil
}

func TestPerDeviceOrdering(t *testing.T) {
	probe := &orderProbe{seen: map[string][]string{}}
	r := New(Config{Workers: 4, QueueSize: 1024}, probe, nil, Options{})
	r.Start(context.Background())
	states := []string{"idle", "collecting", "releasing", "stopped"}
	for i := 0; i < 200; i++ {
		for _, serial := range []string{"A", "B", "C"} {
			r.Enqueue("device/"+serial+"/heartbeat", []byte(fmt.Sprintf(`{"motorState":%q}`, states[i%4])))
		}
	}
	r.Stop()
	for _, serial := range []string{"A", "B", "C"} {
		seen := probe.seen[serial]
		require.Len(t, seen, 200)
		for i, s := range seen {
			assert.Equal(t, states[i%4], s)
		}
	}
}

func TestPanicDoesNotStopWorker(t *testing.T) {
	probe := &orderProbe{seen: map[string][]string{}}
	bus := eventbus.New()
	sub := bus.Subscribe()
	r := New(Config{Workers: 1}, probe, nil, Options{Bus: bus})
	r.Start(context.Background())
	r.Enqueue("device/A/sensor", []byte(`{"sensors":[]}`))
	r.Enqueue("device/A/heartbeat", []byte(`{}`))
	r.Stop()

	first := (<-sub).(events.MessageEvent)
	second := (<-sub).(events.MessageEvent)
	assert.Equal(t, ReasonPanic, first.Reason)
	assert.Equal(t, "", second.Reason)
	assert.Len(t, probe.seen["A"], 1)
}

func TestQueueFullDrops(t *testing.T) {
	bus := eventbus.NewWithBuffer(16)
	sub := bus.Subscribe()
	r := New(Config{Workers: 1, QueueSize: 1}, &orderProbe{seen: map[string][]string{}}, nil, Options{Bus: bus})
	// Not started: the single slot fills and the next message is dropped.
	r.Enqueue("device/A/heartbeat", []byte(`{}`))
	r.Enqueue("device/A/heartbeat", []byte(`{}`))
	ev := (<-sub).(events.MessageEvent)
	assert.Equal(t, ReasonQueueFull, ev.Reason)
	r.Stop()
	r.Enqueue("device/A/heartbeat", []byte(`{}`))
	ev = (<-sub).(events.MessageEvent)
	assert.Equal(t, ReasonStopped, ev.Reason)
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, 8, c.Workers)
	assert.Equal(t, 256, c.QueueSize)
	assert.Equal(t, 15*time.Second, c.HandleTimeout())
	assert.NoError(t, c.Validate())
	assert.Error(t, Config{Workers: -1}.Validate())
}
