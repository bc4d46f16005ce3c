package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/smartdryer/core/model"
)

type deviceEntry struct {
	mu  sync.Mutex
	dev model.Device
}

type commandEntry struct {
	mu  sync.Mutex
	cmd model.Command
}

// MemoryStore keeps everything in process memory. Each device and command
// record carries its own mutex so mutators on different records run in parallel.
type MemoryStore struct {
	mu       sync.RWMutex
	devices  map[string]*deviceEntry
	commands map[string]*commandEntry
	readings []model.SensorReading
	events   []model.Event
	nextRead int64
	nextEvt  int64
	closed   bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:  map[string]*deviceEntry{},
		commands: map[string]*commandEntry{},
	}
}

var errClosed = errors.New("store closed")

func (s *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Persistence("memory", err)
	}
	if s.closed {
		return Persistence("memory", errClosed)
	}
	return nil
}

func (s *MemoryStore) CreateDevice(ctx context.Context, d model.Device) error {
	if d.Serial == "" {
		return fmt.Errorf("device serial required: %w", model.ErrDecode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.devices[d.Serial]; ok {
		return fmt.Errorf("device %q: %w", d.Serial, model.ErrConflict)
	}
	d.Meta = d.Meta.OrEmpty()
	s.devices[d.Serial] = &deviceEntry{dev: d}
	return nil
}

func (s *MemoryStore) device(ctx context.Context, serial string) (*deviceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	e, ok := s.devices[serial]
	if !ok {
		return nil, NotFound("device", serial)
	}
	return e, nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, serial string) (model.Device, error) {
	e, err := s.device(ctx, serial)
	if err != nil {
		return model.Device{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev, nil
}

func (s *MemoryStore) ListDevices(ctx context.Context, f DeviceFilter) ([]model.Device, error) {
	s.mu.RLock()
	entries := make([]*deviceEntry, 0, len(s.devices))
	for _, e := range s.devices {
		entries = append(entries, e)
	}
	err := s.check(ctx)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	res := make([]model.Device, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		d := e.dev
		e.mu.Unlock()
		if f.Owner != "" && d.Owner != f.Owner {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Serial < res[j].Serial })
	return res, nil
}

func (s *MemoryStore) UpdateDevice(ctx context.Context, serial string, fn DeviceMutator) (model.Device, error) {
	e, err := s.device(ctx, serial)
	if err != nil {
		return model.Device{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.dev
	if err := fn(&d); err != nil {
		if errors.Is(err, ErrSkip) {
			return e.dev, nil
		}
		return e.dev, err
	}
	d.Serial = serial
	e.dev = d
	return d, nil
}

func (s *MemoryStore) StaleDevices(ctx context.Context, before time.Time) ([]model.Device, error) {
	all, err := s.ListDevices(ctx, DeviceFilter{})
	if err != nil {
		return nil, err
	}
	res := all[:0]
	for _, d := range all {
		if d.Status != model.StatusOffline && d.StaleSince(before) {
			res = append(res, d)
		}
	}
	return res, nil
}

func (s *MemoryStore) CreateCommand(ctx context.Context, c model.Command) error {
	if c.ID == "" {
		return fmt.Errorf("command id required: %w", model.ErrDecode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.devices[c.DeviceSerial]; !ok {
		return NotFound("device", c.DeviceSerial)
	}
	if _, ok := s.commands[c.ID]; ok {
		return fmt.Errorf("command %q: %w", c.ID, model.ErrConflict)
	}
	s.commands[c.ID] = &commandEntry{cmd: c}
	return nil
}

func (s *MemoryStore) command(ctx context.Context, id string) (*commandEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	e, ok := s.commands[id]
	if !ok {
		return nil, NotFound("command", id)
	}
	return e, nil
}

func (s *MemoryStore) GetCommand(ctx context.Context, id string) (model.Command, error) {
	e, err := s.command(ctx, id)
	if err != nil {
		return model.Command{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cmd, nil
}

func (s *MemoryStore) UpdateCommand(ctx context.Context, id string, fn CommandMutator) (model.Command, error) {
	e, err := s.command(ctx, id)
	if err != nil {
		return model.Command{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.cmd
	if err := fn(&c); err != nil {
		if errors.Is(err, ErrSkip) {
			return e.cmd, nil
		}
		return e.cmd, err
	}
	c.ID = id
	e.cmd = c
	return c, nil
}

func (s *MemoryStore) ListCommands(ctx context.Context, f CommandFilter) ([]model.Command, error) {
	s.mu.RLock()
	entries := make([]*commandEntry, 0, len(s.commands))
	for _, e := range s.commands {
		entries = append(entries, e)
	}
	err := s.check(ctx)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	res := make([]model.Command, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		c := e.cmd
		e.mu.Unlock()
		if f.DeviceSerial != "" && c.DeviceSerial != f.DeviceSerial {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Verb != "" && c.Verb != f.Verb {
			continue
		}
		if !f.CreatedBefore.IsZero() && !c.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return limit(res, f.Limit), nil
}

func (s *MemoryStore) AppendReadings(ctx context.Context, readings []model.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, r := range readings {
		if _, ok := s.devices[r.DeviceSerial]; !ok {
			return NotFound("device", r.DeviceSerial)
		}
	}
	for _, r := range readings {
		s.nextRead++
		r.ID = s.nextRead
		r.Meta = r.Meta.OrEmpty()
		s.readings = append(s.readings, r)
	}
	return nil
}

func (s *MemoryStore) ListReadings(ctx context.Context, f ReadingFilter) ([]model.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var res []model.SensorReading
	for i := len(s.readings) - 1; i >= 0; i-- {
		r := s.readings[i]
		if f.DeviceSerial != "" && r.DeviceSerial != f.DeviceSerial {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
			continue
		}
		res = append(res, r)
		if f.Limit > 0 && len(res) == f.Limit {
			break
		}
	}
	return res, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.devices[e.DeviceSerial]; !ok {
		return NotFound("device", e.DeviceSerial)
	}
	s.nextEvt++
	e.ID = s.nextEvt
	e.Payload = e.Payload.OrEmpty()
	if e.Severity == "" {
		e.Severity = model.SeverityInfo
	}
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var res []model.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if f.DeviceSerial != "" && e.DeviceSerial != f.DeviceSerial {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		res = append(res, e)
		if f.Limit > 0 && len(res) == f.Limit {
			break
		}
	}
	return res, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func limit[T any](in []T, n int) []T {
	if n > 0 && len(in) > n {
		return in[:n]
	}
	return in
}
