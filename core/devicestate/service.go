// Package devicestate owns the connectivity fields of device records:
// status and lastSeen. It applies heartbeats, sensor reports and
// device-originated events, and performs offline transitions.
//
// Motor state is only written here from a heartbeat hint; command-driven
// motor state changes belong to package command.
package devicestate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/smartdryer/core/events"
	"github.com/kilianp07/smartdryer/core/logger"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/notify"
	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/internal/eventbus"
)

// Options configures a Service. Zero values are replaced with no-op
// collaborators and time.Now.
type Options struct {
	Notifier notify.Notifier
	Bus      eventbus.EventBus
	Logger   logger.Logger
	Clock    func() time.Time
}

// Service applies inbound device state.
type Service struct {
	store    store.Store
	notifier notify.Notifier
	bus      eventbus.EventBus
	log      logger.Logger
	now      func() time.Time
}

// New returns a Service backed by st.
func New(st store.Store, opts Options) *Service {
	s := &Service{
		store:    st,
		notifier: opts.Notifier,
		bus:      opts.Bus,
		log:      logger.OrNop(opts.Logger),
		now:      opts.Clock,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// Heartbeat is a decoded heartbeat payload. An empty MotorState carries no hint.
type Heartbeat struct {
	MotorState model.MotorState
}

// RawReading is one entry of a sensor report before validation.
type RawReading struct {
	Type  string
	Value model.Value
	Unit  string
	Meta  model.Value
	// Malformed is set when the entry could not be decoded.
	Malformed error
}

// DeviceEvent is a decoded device-originated event.
type DeviceEvent struct {
	Type     string
	Message  string
	Payload  model.Value
	Severity string
}

// SensorResult describes the outcome of a sensor report.
type SensorResult struct {
	Device   model.Device
	Readings []model.SensorReading
	// Dropped holds one reason per rejected entry.
	Dropped []string
}

func touch(d *model.Device, now time.Time) {
	d.Status = model.StatusOnline
	if now.After(d.LastSeen) {
		d.LastSeen = now
	}
	d.UpdatedAt = now
}

// ApplyHeartbeat marks the device online and refreshes lastSeen. Unknown
// serials yield model.ErrNotFound.
func (s *Service) ApplyHeartbeat(ctx context.Context, serial string, hb Heartbeat) (model.Device, error) {
	now := s.now()
	return s.store.UpdateDevice(ctx, serial, func(d *model.Device) error {
		touch(d, now)
		if hb.MotorState != "" {
			d.MotorState = hb.MotorState
		}
		return nil
	})
}

// ApplySensorReadings marks the device online and persists the well-formed
// readings. Malformed entries are dropped individually.
func (s *Service) ApplySensorReadings(ctx context.Context, serial string, raw []RawReading) (SensorResult, error) {
	now := s.now()
	d, err := s.store.UpdateDevice(ctx, serial, func(d *model.Device) error {
		touch(d, now)
		return nil
	})
	if err != nil {
		return SensorResult{}, err
	}
	res := SensorResult{Device: d}
	for i, r := range raw {
		if r.Malformed != nil {
			res.Dropped = append(res.Dropped, fmt.Sprintf("reading %d: malformed: %v", i, r.Malformed))
			continue
		}
		typ, err := model.ParseSensorType(strings.ToLower(r.Type))
		if err != nil {
			res.Dropped = append(res.Dropped, fmt.Sprintf("reading %d: %v", i, err))
			continue
		}
		if r.Value.IsNull() {
			res.Dropped = append(res.Dropped, fmt.Sprintf("reading %d: %s value missing", i, typ))
			continue
		}
		res.Readings = append(res.Readings, model.SensorReading{
			DeviceSerial: serial,
			Type:         typ,
			Value:        r.Value,
			Unit:         r.Unit,
			Meta:         r.Meta.OrEmpty(),
			Timestamp:    now,
		})
	}
	for _, reason := range res.Dropped {
		s.log.Warnf("device %s: dropped sensor %s", serial, reason)
	}
	if len(res.Readings) == 0 {
		return res, nil
	}
	if err := s.store.AppendReadings(ctx, res.Readings); err != nil {
		return res, err
	}
	s.publish(events.ReadingsEvent{Serial: serial, Readings: res.Readings})
	return res, nil
}

// RecordDeviceEvent appends a device-originated event. Missing fields
// default to an empty message, an empty payload and info severity.
func (s *Service) RecordDeviceEvent(ctx context.Context, serial string, de DeviceEvent) (model.Event, error) {
	if strings.TrimSpace(de.Type) == "" {
		return model.Event{}, fmt.Errorf("%w: event type missing", model.ErrDecode)
	}
	if _, err := s.store.GetDevice(ctx, serial); err != nil {
		return model.Event{}, err
	}
	ev := model.Event{
		DeviceSerial: serial,
		Type:         de.Type,
		Message:      de.Message,
		Payload:      de.Payload.OrEmpty(),
		Severity:     model.ParseSeverity(de.Severity),
		Timestamp:    s.now(),
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// MarkOffline transitions the device to offline unless it already is.
// changed reports whether a transition happened; only then is an event
// recorded and the owner notified.
func (s *Service) MarkOffline(ctx context.Context, serial, reason string) (model.Device, bool, error) {
	return s.markOffline(ctx, serial, reason, nil)
}

// MarkStale is MarkOffline guarded by a staleness re-check made inside the
// atomic update, so a heartbeat that landed after the sweep query wins.
func (s *Service) MarkStale(ctx context.Context, serial string, cutoff time.Time) (model.Device, bool, error) {
	return s.markOffline(ctx, serial, "heartbeat timeout", func(d model.Device) bool {
		return d.StaleSince(cutoff)
	})
}

func (s *Service) markOffline(ctx context.Context, serial, reason string, guard func(model.Device) bool) (model.Device, bool, error) {
	now := s.now()
	changed := false
	var lastSeen time.Time
	d, err := s.store.UpdateDevice(ctx, serial, func(d *model.Device) error {
		if d.Status == model.StatusOffline {
			return store.ErrSkip
		}
		if guard != nil && !guard(*d) {
			return store.ErrSkip
		}
		lastSeen = d.LastSeen
		d.Status = model.StatusOffline
		d.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil || !changed {
		return d, false, err
	}

	payload := model.Object("reason", reason)
	if !lastSeen.IsZero() {
		payload = payload.With("last_seen", model.String(lastSeen.UTC().Format(time.RFC3339)))
	}
	ev := model.Event{
		DeviceSerial: serial,
		Type:         model.EventDeviceOffline,
		Message:      fmt.Sprintf("device went offline: %s", reason),
		Payload:      payload,
		Severity:     model.SeverityWarn,
		Timestamp:    now,
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		s.log.Errorf("device %s: record offline event: %v", serial, err)
	}
	if err := s.notifier.Notify(ctx, notify.DeviceOffline(d.Owner, d, now)); err != nil {
		s.log.Warnf("device %s: offline notification: %v", serial, err)
	}
	s.publish(events.DeviceOfflineEvent{Serial: serial, Reason: reason, At: now})
	s.log.Infof("device %s (%s) went offline: %s", d.Name, serial, reason)
	return d, true, nil
}

// Register creates a device record with status unknown and motor state idle.
func (s *Service) Register(ctx context.Context, serial, name, owner, location string, meta model.Value) (model.Device, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" || strings.ContainsAny(serial, "/+#") {
		return model.Device{}, fmt.Errorf("%w: invalid serial %q", model.ErrDecode, serial)
	}
	d := model.NewDevice(serial, name, owner, s.now())
	d.Location = location
	d.Meta = meta.OrEmpty()
	if err := s.store.CreateDevice(ctx, d); err != nil {
		return model.Device{}, err
	}
	return d, nil
}

// Device returns a single device.
func (s *Service) Device(ctx context.Context, serial string) (model.Device, error) {
	return s.store.GetDevice(ctx, serial)
}

// Devices lists devices matching f.
func (s *Service) Devices(ctx context.Context, f store.DeviceFilter) ([]model.Device, error) {
	return s.store.ListDevices(ctx, f)
}

// Readings lists persisted sensor readings.
func (s *Service) Readings(ctx context.Context, f store.ReadingFilter) ([]model.SensorReading, error) {
	return s.store.ListReadings(ctx, f)
}

// Events lists audit events.
func (s *Service) Events(ctx context.Context, f store.EventFilter) ([]model.Event, error) {
	return s.store.ListEvents(ctx, f)
}

// SystemStats summarises the fleet.
type SystemStats struct {
	Total      int `json:"total"`
	Online     int `json:"online"`
	Offline    int `json:"offline"`
	Collecting int `json:"collecting"`
}

// Stats counts devices by status and those currently collecting.
func (s *Service) Stats(ctx context.Context) (SystemStats, error) {
	ds, err := s.store.ListDevices(ctx, store.DeviceFilter{})
	if err != nil {
		return SystemStats{}, err
	}
	var st SystemStats
	for _, d := range ds {
		st.Total++
		switch d.Status {
		case model.StatusOnline:
			st.Online++
		case model.StatusOffline:
			st.Offline++
		}
		if d.MotorState == model.MotorCollecting {
			st.Collecting++
		}
	}
	return st, nil
}
