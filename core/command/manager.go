// Package command implements the command lifecycle: issuing commands to
// devices over the transport and reconciling device-reported results.
//
// Status moves forward only (pending, sent, then executed or failed).
// Results for terminal commands are accepted and ignored.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/smartdryer/core/events"
	"github.com/kilianp07/smartdryer/core/logger"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/notify"
	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/core/transport"
	"github.com/kilianp07/smartdryer/internal/eventbus"
)

// Options configures a Manager.
type Options struct {
	Notifier notify.Notifier
	Bus      eventbus.EventBus
	Logger   logger.Logger
	Clock    func() time.Time
	NewID    func() string
}

// Manager creates, dispatches and reconciles commands.
type Manager struct {
	store    store.Store
	tr       transport.Client
	notifier notify.Notifier
	bus      eventbus.EventBus
	log      logger.Logger
	now      func() time.Time
	newID    func() string
}

// NewManager wires a Manager to its store and transport.
func NewManager(st store.Store, tr transport.Client, opts Options) *Manager {
	m := &Manager{
		store:    st,
		tr:       tr,
		notifier: opts.Notifier,
		bus:      opts.Bus,
		log:      logger.OrNop(opts.Logger),
		now:      opts.Clock,
		newID:    opts.NewID,
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

func (m *Manager) publish(e eventbus.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}

// wireCommand is the payload published on device/{serial}/command.
type wireCommand struct {
	CommandID string      `json:"commandId"`
	Command   model.Verb  `json:"command"`
	Params    model.Value `json:"params"`
	Timestamp string      `json:"timestamp"`
}

// Issue validates and dispatches a command.
//
// Unknown verbs fail with model.ErrInvalidCommand and devices that are not
// online with model.ErrDeviceUnavailable; neither creates a record. When
// the publish fails the returned command stays pending and the error wraps
// model.ErrTransport. On success the command is sent and the device motor
// state is advanced for the verb.
func (m *Manager) Issue(ctx context.Context, serial, verb string, params model.Value, issuer string) (model.Command, error) {
	v, err := model.ParseVerb(verb)
	if err != nil {
		return model.Command{}, err
	}
	d, err := m.store.GetDevice(ctx, serial)
	if err != nil {
		return model.Command{}, err
	}
	if !d.Online() {
		return model.Command{}, fmt.Errorf("device %s is %s: %w", serial, d.Status, model.ErrDeviceUnavailable)
	}

	now := m.now()
	cmd := model.Command{
		ID:           m.newID(),
		DeviceSerial: serial,
		Issuer:       issuer,
		Verb:         v,
		Params:       params.OrEmpty(),
		Status:       model.CommandPending,
		Result:       model.Null(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.CreateCommand(ctx, cmd); err != nil {
		return model.Command{}, err
	}

	payload, err := json.Marshal(wireCommand{
		CommandID: cmd.ID,
		Command:   cmd.Verb,
		Params:    cmd.Params,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return cmd, fmt.Errorf("encode command %s: %w", cmd.ID, err)
	}
	if err := m.tr.Publish(ctx, transport.CommandTopic(serial), transport.QoSAtLeastOnce, payload); err != nil {
		m.log.Errorf("command %s (%s) to %s not sent: %v", cmd.ID, cmd.Verb, serial, err)
		m.publish(events.CommandEvent{Command: cmd, Stage: events.StageIssued, Err: err})
		return cmd, fmt.Errorf("command %s: %w", cmd.ID, err)
	}

	sent := false
	cmd, err = m.store.UpdateCommand(ctx, cmd.ID, func(c *model.Command) error {
		if !c.Status.CanTransition(model.CommandSent) {
			return store.ErrSkip
		}
		c.Status = model.CommandSent
		c.UpdatedAt = m.now()
		sent = true
		return nil
	})
	if err != nil {
		return cmd, err
	}
	// A result may already have settled the command; the optimistic motor
	// state would then overwrite the settled one.
	if sent {
		target := v.MotorState()
		if _, err := m.store.UpdateDevice(ctx, serial, func(d *model.Device) error {
			d.MotorState = target
			d.UpdatedAt = m.now()
			return nil
		}); err != nil {
			return cmd, err
		}
		// A result that landed between the sent update and the motor update
		// found nothing to settle.
		cur, err := m.store.GetCommand(ctx, cmd.ID)
		if err != nil {
			return cmd, err
		}
		if cur.Status.Terminal() {
			if _, err := m.settle(ctx, cur); err != nil {
				return cur, err
			}
			cmd = cur
		}
	}
	m.log.Infof("command %s (%s) sent to %s by %s", cmd.ID, cmd.Verb, serial, issuerLabel(issuer))
	m.publish(events.CommandEvent{Command: cmd, Stage: events.StageIssued})
	return cmd, nil
}

// Reset recalibrates the device, returning it to idle.
func (m *Manager) Reset(ctx context.Context, serial, issuer string) (model.Command, error) {
	return m.Issue(ctx, serial, string(model.VerbCalibrate), model.Object("reset", true), issuer)
}

// Result is a decoded device result message.
type Result struct {
	CommandID string
	Status    string
	Result    model.Value
}

// RecordResult applies a device-reported result. serial is the device the
// result arrived from; a result naming another device's command is
// rejected as unknown. Duplicate results for terminal commands return the
// stored command and no error.
func (m *Manager) RecordResult(ctx context.Context, serial string, r Result) (model.Command, error) {
	status, err := model.ParseResultStatus(r.Status)
	if err != nil {
		return model.Command{}, err
	}
	if r.CommandID == "" {
		return model.Command{}, fmt.Errorf("%w: commandId missing", model.ErrDecode)
	}
	applied := false
	cmd, err := m.store.UpdateCommand(ctx, r.CommandID, func(c *model.Command) error {
		if serial != "" && c.DeviceSerial != serial {
			return store.NotFound("command", r.CommandID+" for device "+serial)
		}
		if !c.Status.CanTransition(status) {
			return store.ErrSkip
		}
		c.Status = status
		c.Result = r.Result.OrEmpty()
		c.UpdatedAt = m.now()
		applied = true
		return nil
	})
	if err != nil {
		return model.Command{}, err
	}
	if !applied {
		m.log.Debugf("duplicate result for command %s ignored (status %s)", cmd.ID, cmd.Status)
		return cmd, nil
	}
	m.log.Infof("command %s (%s) on %s %s", cmd.ID, cmd.Verb, cmd.DeviceSerial, cmd.Status)
	d, err := m.settle(ctx, cmd)
	if err != nil {
		return cmd, err
	}
	if cmd.Verb == model.VerbCollect && cmd.Status == model.CommandExecuted {
		if err := m.notifier.Notify(ctx, notify.MotorComplete(d.Owner, d, m.now())); err != nil {
			m.log.Warnf("command %s: completion notification: %v", cmd.ID, err)
		}
	}
	m.publish(events.CommandEvent{Command: cmd, Stage: events.StageResult})
	return cmd, nil
}

// settle moves the motor state out of the optimistic state set by Issue.
// Devices whose motor state has moved on since are left alone.
func (m *Manager) settle(ctx context.Context, cmd model.Command) (model.Device, error) {
	return m.store.UpdateDevice(ctx, cmd.DeviceSerial, func(d *model.Device) error {
		if d.MotorState != cmd.Verb.MotorState() {
			return store.ErrSkip
		}
		next := cmd.Verb.SettledState(cmd.Status)
		if next == d.MotorState {
			return store.ErrSkip
		}
		d.MotorState = next
		d.UpdatedAt = m.now()
		return nil
	})
}

// Expire fails pending and sent commands created before cutoff. It returns
// the number of commands expired.
func (m *Manager) Expire(ctx context.Context, cutoff time.Time) (int, error) {
	var stale []model.Command
	for _, st := range []model.CommandStatus{model.CommandPending, model.CommandSent} {
		cs, err := m.store.ListCommands(ctx, store.CommandFilter{Status: st, CreatedBefore: cutoff})
		if err != nil {
			return 0, err
		}
		stale = append(stale, cs...)
	}
	n := 0
	for _, c := range stale {
		expired := false
		cmd, err := m.store.UpdateCommand(ctx, c.ID, func(c *model.Command) error {
			if !c.Status.CanTransition(model.CommandFailed) {
				return store.ErrSkip
			}
			c.Status = model.CommandFailed
			c.Result = model.Object("reason", "timeout")
			c.UpdatedAt = m.now()
			expired = true
			return nil
		})
		if err != nil {
			m.log.Errorf("expire command %s: %v", c.ID, err)
			continue
		}
		if !expired {
			continue
		}
		n++
		if _, err := m.settle(ctx, cmd); err != nil {
			m.log.Errorf("settle device %s after expiry: %v", cmd.DeviceSerial, err)
		}
		if err := m.store.AppendEvent(ctx, model.Event{
			DeviceSerial: cmd.DeviceSerial,
			Type:         model.EventCommandExpired,
			Message:      fmt.Sprintf("command %s (%s) got no result", cmd.ID, cmd.Verb),
			Payload:      model.Object("commandId", cmd.ID, "command", string(cmd.Verb)),
			Severity:     model.SeverityWarn,
			Timestamp:    m.now(),
		}); err != nil {
			m.log.Errorf("record expiry of %s: %v", cmd.ID, err)
		}
		m.publish(events.CommandEvent{Command: cmd, Stage: events.StageExpired})
	}
	return n, nil
}

// Get returns a single command.
func (m *Manager) Get(ctx context.Context, id string) (model.Command, error) {
	return m.store.GetCommand(ctx, id)
}

// History lists commands, newest first.
func (m *Manager) History(ctx context.Context, f store.CommandFilter) ([]model.Command, error) {
	return m.store.ListCommands(ctx, f)
}

// Stats aggregates command counts for a device.
type Stats struct {
	Total    int                         `json:"total"`
	ByStatus map[model.CommandStatus]int `json:"by_status"`
	ByVerb   map[model.Verb]int          `json:"by_command"`
}

// Stats counts the device's commands per status and per verb.
func (m *Manager) Stats(ctx context.Context, serial string) (Stats, error) {
	if _, err := m.store.GetDevice(ctx, serial); err != nil {
		return Stats{}, err
	}
	cs, err := m.store.ListCommands(ctx, store.CommandFilter{DeviceSerial: serial})
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByStatus: map[model.CommandStatus]int{}, ByVerb: map[model.Verb]int{}}
	for _, c := range cs {
		st.Total++
		st.ByStatus[c.Status]++
		st.ByVerb[c.Verb]++
	}
	return st, nil
}

func issuerLabel(issuer string) string {
	if issuer == "" {
		return "anonymous"
	}
	return issuer
}
