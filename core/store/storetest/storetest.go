// Package storetest provides a conformance suite run against every
// store.Store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/store"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("DeviceCRUD", func(t *testing.T) { testDeviceCRUD(t, newStore(t)) })
	t.Run("UpdateDeviceAtomic", func(t *testing.T) { testUpdateDeviceAtomic(t, newStore(t)) })
	t.Run("StaleDevices", func(t *testing.T) { testStaleDevices(t, newStore(t)) })
	t.Run("Commands", func(t *testing.T) { testCommands(t, newStore(t)) })
	t.Run("ReadingsAndEvents", func(t *testing.T) { testReadingsAndEvents(t, newStore(t)) })
}

func seed(t *testing.T, s store.Store, serial string) model.Device {
	t.Helper()
	d := model.NewDevice(serial, "Dryer "+serial, "alice", base)
	require.NoError(t, s.CreateDevice(context.Background(), d))
	return d
}

func testDeviceCRUD(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	seed(t, s, "SD-1")
	err := s.CreateDevice(ctx, model.NewDevice("SD-1", "dup", "bob", base))
	assert.ErrorIs(t, err, model.ErrConflict)

	d, err := s.GetDevice(ctx, "SD-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, d.Status)
	assert.Equal(t, model.MotorIdle, d.MotorState)
	assert.Equal(t, model.KindMap, d.Meta.Kind())

	_, err = s.GetDevice(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.UpdateDevice(ctx, "nope", func(*model.Device) error { return nil })
	assert.ErrorIs(t, err, model.ErrNotFound)

	seed(t, s, "SD-2")
	_, err = s.UpdateDevice(ctx, "SD-2", func(d *model.Device) error {
		d.Status = model.StatusOnline
		d.Owner = "bob"
		d.Meta = model.Object("fw", "1.2.0")
		return nil
	})
	require.NoError(t, err)

	all, err := s.ListDevices(ctx, store.DeviceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "SD-1", all[0].Serial)

	online, err := s.ListDevices(ctx, store.DeviceFilter{Status: model.StatusOnline})
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "SD-2", online[0].Serial)
	fw, _ := online[0].Meta.Get("fw")
	assert.True(t, fw.Equal(model.String("1.2.0")))

	bobs, err := s.ListDevices(ctx, store.DeviceFilter{Owner: "bob"})
	require.NoError(t, err)
	assert.Len(t, bobs, 1)

	before, _ := s.GetDevice(ctx, "SD-1")
	after, err := s.UpdateDevice(ctx, "SD-1", func(d *model.Device) error {
		d.Name = "changed"
		return store.ErrSkip
	})
	require.NoError(t, err)
	assert.Equal(t, before.Name, after.Name)

	boom := fmt.Errorf("boom")
	_, err = s.UpdateDevice(ctx, "SD-1", func(d *model.Device) error {
		d.Name = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ := s.GetDevice(ctx, "SD-1")
	assert.Equal(t, before.Name, got.Name)
}

func testUpdateDeviceAtomic(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	seed(t, s, "SD-1")
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateDevice(ctx, "SD-1", func(d *model.Device) error {
				cur, _ := d.Meta.Get("count")
				v, _ := cur.Float()
				d.Meta = d.Meta.With("count", model.Number(v+1))
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	d, err := s.GetDevice(ctx, "SD-1")
	require.NoError(t, err)
	cnt, _ := d.Meta.Get("count")
	v, _ := cnt.Float()
	assert.Equal(t, float64(n), v)
}

func testStaleDevices(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	seed(t, s, "never")
	for serial, seen := range map[string]time.Duration{"old": -10 * time.Minute, "fresh": -time.Minute} {
		seed(t, s, serial)
		seen := seen
		_, err := s.UpdateDevice(ctx, serial, func(d *model.Device) error {
			d.Status = model.StatusOnline
			d.LastSeen = base.Add(seen)
			return nil
		})
		require.NoError(t, err)
	}
	seed(t, s, "gone")
	_, err := s.UpdateDevice(ctx, "gone", func(d *model.Device) error {
		d.Status = model.StatusOffline
		d.LastSeen = base.Add(-time.Hour)
		return nil
	})
	require.NoError(t, err)

	stale, err := s.StaleDevices(ctx, base.Add(-5*time.Minute))
	require.NoError(t, err)
	var serials []string
	for _, d := range stale {
		serials = append(serials, d.Serial)
	}
	assert.ElementsMatch(t, []string{"old"}, serials)
}

func testCommands(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	seed(t, s, "SD-1")
	mk := func(id string, verb model.Verb, at time.Duration) model.Command {
		return model.Command{
			ID: id, DeviceSerial: "SD-1", Issuer: "alice", Verb: verb,
			Params: model.Object("speed", 2), Status: model.CommandPending,
			CreatedAt: base.Add(at), UpdatedAt: base.Add(at),
		}
	}
	require.NoError(t, s.CreateCommand(ctx, mk("c1", model.VerbCollect, 0)))
	require.NoError(t, s.CreateCommand(ctx, mk("c2", model.VerbRelease, time.Second)))
	assert.ErrorIs(t, s.CreateCommand(ctx, mk("c1", model.VerbStop, 0)), model.ErrConflict)

	orphan := mk("c3", model.VerbStop, 0)
	orphan.DeviceSerial = "missing"
	assert.ErrorIs(t, s.CreateCommand(ctx, orphan), model.ErrNotFound)

	c, err := s.GetCommand(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.VerbCollect, c.Verb)
	speed, _ := c.Params.Get("speed")
	assert.True(t, speed.Equal(model.Number(2)))
	assert.True(t, c.Result.IsNull())

	_, err = s.GetCommand(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)

	upd, err := s.UpdateCommand(ctx, "c1", func(c *model.Command) error {
		c.Status = model.CommandExecuted
		c.Result = model.Object("ok", true)
		c.UpdatedAt = base.Add(time.Minute)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.CommandExecuted, upd.Status)

	list, err := s.ListCommands(ctx, store.CommandFilter{DeviceSerial: "SD-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)

	pending, err := s.ListCommands(ctx, store.CommandFilter{Status: model.CommandPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c2", pending[0].ID)

	one, err := s.ListCommands(ctx, store.CommandFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)

	older, err := s.ListCommands(ctx, store.CommandFilter{CreatedBefore: base.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "c1", older[0].ID)
}

func testReadingsAndEvents(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	seed(t, s, "SD-1")
	require.NoError(t, s.AppendReadings(ctx, nil))
	require.NoError(t, s.AppendReadings(ctx, []model.SensorReading{
		{DeviceSerial: "SD-1", Type: model.SensorRain, Value: model.Bool(true), Timestamp: base},
		{DeviceSerial: "SD-1", Type: model.SensorTemperature, Value: model.Number(21.5), Unit: "C", Timestamp: base.Add(time.Second)},
	}))
	err := s.AppendReadings(ctx, []model.SensorReading{{DeviceSerial: "missing", Type: model.SensorRain, Value: model.Bool(true), Timestamp: base}})
	assert.ErrorIs(t, err, model.ErrNotFound)

	rs, err := s.ListReadings(ctx, store.ReadingFilter{DeviceSerial: "SD-1"})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, model.SensorTemperature, rs[0].Type)
	assert.Equal(t, "C", rs[0].Unit)

	rain, err := s.ListReadings(ctx, store.ReadingFilter{Type: model.SensorRain})
	require.NoError(t, err)
	require.Len(t, rain, 1)
	b, ok := rain[0].Value.Boolean()
	assert.True(t, ok && b)

	require.NoError(t, s.AppendEvent(ctx, model.Event{DeviceSerial: "SD-1", Type: "door_open", Timestamp: base}))
	require.NoError(t, s.AppendEvent(ctx, model.Event{
		DeviceSerial: "SD-1", Type: model.EventDeviceOffline, Message: "no heartbeat",
		Severity: model.SeverityWarn, Payload: model.Object("minutes", 5), Timestamp: base.Add(time.Minute),
	}))
	assert.ErrorIs(t, s.AppendEvent(ctx, model.Event{DeviceSerial: "missing", Type: "x", Timestamp: base}), model.ErrNotFound)

	evs, err := s.ListEvents(ctx, store.EventFilter{DeviceSerial: "SD-1"})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, model.EventDeviceOffline, evs[0].Type)
	assert.Equal(t, model.SeverityWarn, evs[0].Severity)
	assert.Equal(t, model.SeverityInfo, evs[1].Severity)
	assert.Equal(t, model.KindMap, evs[1].Payload.Kind())

	offline, err := s.ListEvents(ctx, store.EventFilter{Type: model.EventDeviceOffline})
	require.NoError(t, err)
	assert.Len(t, offline, 1)
}
