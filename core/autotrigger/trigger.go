package autotrigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/smartdryer/core/events"
	"github.com/kilianp07/smartdryer/core/logger"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/notify"
	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/internal/eventbus"
)

// Issuer is the slice of the command manager the trigger needs.
type Issuer interface {
	Issue(ctx context.Context, serial, verb string, params model.Value, issuer string) (model.Command, error)
}

// Options configures a Trigger.
type Options struct {
	Notifier notify.Notifier
	Bus      eventbus.EventBus
	Logger   logger.Logger
	Clock    func() time.Time
}

// Trigger applies the policy to persisted readings and issues the
// resulting commands as the system issuer.
type Trigger struct {
	policy   Policy
	store    store.Store
	issuer   Issuer
	notifier notify.Notifier
	bus      eventbus.EventBus
	log      logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds a Trigger.
func New(p Policy, st store.Store, is Issuer, opts Options) *Trigger {
	t := &Trigger{
		policy:   p,
		store:    st,
		issuer:   is,
		notifier: opts.Notifier,
		bus:      opts.Bus,
		log:      logger.OrNop(opts.Logger),
		now:      opts.Clock,
		inflight: map[string]struct{}{},
	}
	if t.notifier == nil {
		t.notifier = notify.Nop{}
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

func (t *Trigger) acquire(serial string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inflight[serial]; busy {
		return false
	}
	t.inflight[serial] = struct{}{}
	return true
}

func (t *Trigger) release(serial string) {
	t.mu.Lock()
	delete(t.inflight, serial)
	t.mu.Unlock()
}

// Evaluate runs the policy over readings for serial and issues at most one
// command. It returns the issued command, if any. Issue failures are
// logged and recorded, never retried.
func (t *Trigger) Evaluate(ctx context.Context, serial string, readings []model.SensorReading) (*model.Command, error) {
	if !t.acquire(serial) {
		return nil, nil
	}
	defer t.release(serial)

	d, err := t.store.GetDevice(ctx, serial)
	if err != nil {
		return nil, err
	}
	for _, r := range readings {
		dec := t.policy.Decide(d.MotorState, r)
		if !dec.Fire() {
			continue
		}
		cmd, err := t.issuer.Issue(ctx, serial, string(dec.Verb), dec.Params, model.IssuerSystem)
		t.publish(events.AutoTriggerEvent{Serial: serial, Reading: r, CommandID: cmd.ID, Err: err})
		if err != nil {
			t.log.Warnf("auto %s for %s failed: %v", dec.Verb, serial, err)
			t.record(ctx, model.Event{
				DeviceSerial: serial,
				Type:         model.EventAutoCollectFail,
				Message:      fmt.Sprintf("automatic %s failed: %v", dec.Verb, err),
				Payload:      model.Object("reason", ReasonRainDetected, "commandId", cmd.ID),
				Severity:     model.SeverityError,
				Timestamp:    t.now(),
			})
			return nil, nil
		}
		t.record(ctx, model.Event{
			DeviceSerial: serial,
			Type:         model.EventAutoCollect,
			Message:      "rain detected, collecting",
			Payload:      model.Object("reason", ReasonRainDetected, "commandId", cmd.ID).With("value", r.Value),
			Severity:     model.SeverityInfo,
			Timestamp:    t.now(),
		})
		if err := t.notifier.Notify(ctx, notify.RainAlert(d.Owner, serial, r.Value, t.now())); err != nil {
			t.log.Warnf("rain alert for %s: %v", serial, err)
		}
		t.log.Infof("auto %s triggered for %s (%s) as %s", dec.Verb, d.Name, serial, cmd.ID)
		return &cmd, nil
	}
	return nil, nil
}

func (t *Trigger) record(ctx context.Context, ev model.Event) {
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		t.log.Errorf("record %s event for %s: %v", ev.Type, ev.DeviceSerial, err)
	}
}

func (t *Trigger) publish(e eventbus.Event) {
	if t.bus != nil {
		t.bus.Publish(e)
	}
}
