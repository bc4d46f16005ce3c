// Package router decodes inbound device messages and dispatches them to the
// device state service and the command manager.
//
// Messages are sharded by device serial onto a fixed set of workers. Each
// device always lands on the same worker, so its messages are handled in
// delivery order while distinct devices proceed in parallel. The transport
// callback never blocks: a full shard queue drops the message.
package router

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/kilianp07/smartdryer/core/command"
	"github.com/kilianp07/smartdryer/core/devicestate"
	"github.com/kilianp07/smartdryer/core/events"
	"github.com/kilianp07/smartdryer/core/logger"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/monitoring"
	"github.com/kilianp07/smartdryer/core/transport"
	"github.com/kilianp07/smartdryer/internal/eventbus"
)

// Drop reasons carried by events.MessageEvent.
const (
	ReasonBadTopic        = "bad_topic"
	ReasonUnknownCategory = "unknown_category"
	ReasonDecode          = "decode_error"
	ReasonNotFound        = "not_found"
	ReasonPersistence     = "persistence_error"
	ReasonRejected        = "rejected"
	ReasonQueueFull       = "queue_full"
	ReasonStopped         = "stopped"
	ReasonPanic           = "panic"
)

// DeviceState applies device-originated state.
type DeviceState interface {
	ApplyHeartbeat(ctx context.Context, serial string, hb devicestate.Heartbeat) (model.Device, error)
	ApplySensorReadings(ctx context.Context, serial string, raw []devicestate.RawReading) (devicestate.SensorResult, error)
	RecordDeviceEvent(ctx context.Context, serial string, de devicestate.DeviceEvent) (model.Event, error)
}

// Results reconciles command results.
type Results interface {
	RecordResult(ctx context.Context, serial string, r command.Result) (model.Command, error)
}

// Evaluator reacts to freshly persisted readings.
type Evaluator interface {
	Evaluate(ctx context.Context, serial string, readings []model.SensorReading) (*model.Command, error)
}

// Options carries optional collaborators.
type Options struct {
	Trigger Evaluator
	Bus     eventbus.EventBus
	Logger  logger.Logger
}

type inbound struct {
	route   Route
	topic   string
	payload []byte
	at      time.Time
}

// Router owns the worker shards.
type Router struct {
	cfg     Config
	state   DeviceState
	results Results
	trigger Evaluator
	bus     eventbus.EventBus
	log     logger.Logger

	mu      sync.RWMutex
	shards  []chan inbound
	running bool
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a Router. Defaults are applied to cfg.
func New(cfg Config, state DeviceState, results Results, opts Options) *Router {
	cfg.SetDefaults()
	r := &Router{
		cfg:     cfg,
		state:   state,
		results: results,
		trigger: opts.Trigger,
		bus:     opts.Bus,
		log:     logger.OrNop(opts.Logger),
		shards:  make([]chan inbound, cfg.Workers),
	}
	for i := range r.shards {
		r.shards[i] = make(chan inbound, cfg.QueueSize)
	}
	return r
}

// Start launches the workers. Handlers run with contexts derived from ctx.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.stopped {
		return
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	for _, ch := range r.shards {
		r.wg.Add(1)
		go r.worker(ch)
	}
}

// Stop drains the queues and waits for the workers.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for _, ch := range r.shards {
		close(ch)
	}
	running := r.running
	r.mu.Unlock()
	if running {
		r.wg.Wait()
		r.cancel()
	}
}

// Subscribe registers the inbound patterns on tr. Failures are logged and
// returned joined; the router keeps working for the patterns that succeeded.
func (r *Router) Subscribe(tr transport.Client) error {
	var errs []error
	for _, p := range transport.InboundPatterns {
		if err := tr.Subscribe(p, transport.QoSAtLeastOnce, r.Enqueue); err != nil {
			r.log.Errorf("subscribe %s: %v", p, err)
			errs = append(errs, err)
			continue
		}
		r.log.Debugf("subscribed to %s", p)
	}
	return errors.Join(errs...)
}

// Enqueue hands a message to the worker owning its device. It never blocks.
func (r *Router) Enqueue(topic string, payload []byte) {
	at := time.Now()
	route, err := ParseTopic(topic)
	if err != nil {
		r.log.Warnf("drop message on %s: %v payload=%s", topic, err, logger.PayloadSummary(payload))
		r.done(Route{}, ReasonBadTopic, at)
		return
	}
	msg := inbound{route: route, topic: topic, payload: append([]byte(nil), payload...), at: at}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		r.done(route, ReasonStopped, at)
		return
	}
	select {
	case r.shards[r.shard(route.Serial)] <- msg:
	default:
		r.log.Warnf("queue full, dropping %s from %s", route.Kind(), route.Serial)
		r.done(route, ReasonQueueFull, at)
	}
}

func (r *Router) shard(serial string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(serial))
	return int(h.Sum32() % uint32(len(r.shards)))
}

func (r *Router) worker(ch <-chan inbound) {
	defer r.wg.Done()
	for msg := range ch {
		r.process(msg)
	}
}

func (r *Router) process(msg inbound) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("panic handling %s: %v payload=%s", msg.topic, p, logger.PayloadSummary(msg.payload))
			monitoring.CapturePanic(p, map[string]string{"component": "router", "serial": msg.route.Serial, "topic": msg.topic})
			r.done(msg.route, ReasonPanic, msg.at)
		}
	}()
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.HandleTimeout())
	defer cancel()
	err := r.handle(ctx, msg.route, msg.payload)
	r.done(msg.route, r.report(msg, err), msg.at)
}

// Handle processes one message synchronously, bypassing the shards.
func (r *Router) Handle(ctx context.Context, topic string, payload []byte) error {
	at := time.Now()
	route, err := ParseTopic(topic)
	if err != nil {
		r.done(Route{}, ReasonBadTopic, at)
		return err
	}
	err = r.handle(ctx, route, payload)
	r.done(route, r.report(inbound{route: route, topic: topic, payload: payload}, err), at)
	return err
}

var errUnknownCategory = errors.New("unknown category")

func (r *Router) handle(ctx context.Context, route Route, payload []byte) error {
	switch {
	case route.Category == transport.CategoryHeartbeat && route.Sub == "":
		hb, err := decodeHeartbeat(payload)
		if err != nil {
			return err
		}
		_, err = r.state.ApplyHeartbeat(ctx, route.Serial, hb)
		return err
	case route.Category == transport.CategorySensor && route.Sub == "":
		raw, err := decodeSensors(payload)
		if err != nil {
			return err
		}
		res, err := r.state.ApplySensorReadings(ctx, route.Serial, raw)
		if err != nil {
			return err
		}
		if r.trigger != nil && len(res.Readings) > 0 {
			if _, err := r.trigger.Evaluate(ctx, route.Serial, res.Readings); err != nil {
				r.log.Warnf("auto-trigger for %s: %v", route.Serial, err)
			}
		}
		return nil
	case route.Category == transport.CategoryEvent && route.Sub == "":
		de, err := decodeEvent(payload)
		if err != nil {
			return err
		}
		_, err = r.state.RecordDeviceEvent(ctx, route.Serial, de)
		return err
	case route.Category == transport.CategoryCommand && route.Sub == transport.SubResult:
		res, err := decodeResult(payload)
		if err != nil {
			return err
		}
		_, err = r.results.RecordResult(ctx, route.Serial, res)
		return err
	default:
		return fmt.Errorf("%w %q", errUnknownCategory, route.Kind())
	}
}

// report logs a handler failure and maps it to a drop reason.
func (r *Router) report(msg inbound, err error) string {
	if err == nil {
		return ""
	}
	serial, kind := msg.route.Serial, msg.route.Kind()
	switch {
	case errors.Is(err, errUnknownCategory):
		r.log.Warnf("ignoring %s from %s on %s", kind, serial, msg.topic)
		return ReasonUnknownCategory
	case errors.Is(err, model.ErrDecode):
		r.log.Warnf("bad %s from %s on %s: %v payload=%s", kind, serial, msg.topic, err, logger.PayloadSummary(msg.payload))
		return ReasonDecode
	case errors.Is(err, model.ErrNotFound):
		if msg.route.Category == transport.CategoryCommand {
			r.log.Warnf("unknown command from %s on %s ignored: %v", serial, msg.topic, err)
		} else {
			r.log.Warnf("unknown device %s: %s on %s ignored", serial, kind, msg.topic)
		}
		return ReasonNotFound
	case errors.Is(err, model.ErrPersistence):
		r.log.Errorf("persist %s from %s on %s: %v payload=%s", kind, serial, msg.topic, err, logger.PayloadSummary(msg.payload))
		monitoring.CaptureException(err, map[string]string{"component": "router", "serial": serial, "topic": msg.topic})
		return ReasonPersistence
	default:
		r.log.Errorf("handle %s from %s on %s: %v", kind, serial, msg.topic, err)
		return ReasonRejected
	}
}

func (r *Router) done(route Route, reason string, at time.Time) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.MessageEvent{
		Serial:   route.Serial,
		Category: route.Kind(),
		Reason:   reason,
		Latency:  time.Since(at),
	})
}
