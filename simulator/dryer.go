package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/transport"
	"github.com/kilianp07/smartdryer/infra/logger"
)

// Dryer is a simulated device connected to the broker.
type Dryer struct {
	Serial   string
	Broker   string
	Interval time.Duration
	// Delay is how long the motor runs before the result is reported.
	Delay    time.Duration
	Strategy ResultStrategy
	Weather  *Weather

	mu     sync.Mutex
	motor  model.MotorState
	client paho.Client
	log    logger.Logger
}

// NewDryer returns an idle dryer that executes every command.
func NewDryer(serial, broker string) *Dryer {
	return &Dryer{
		Serial:   serial,
		Broker:   broker,
		Interval: 30 * time.Second,
		Strategy: AutoResult{},
		Weather:  NewWeather(0.1),
		motor:    model.MotorIdle,
		log:      logger.New("simulator"),
	}
}

// Motor returns the current motor state.
func (d *Dryer) Motor() model.MotorState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.motor
}

func (d *Dryer) setMotor(m model.MotorState) {
	d.mu.Lock()
	d.motor = m
	d.mu.Unlock()
}

// Run connects to the broker and reports until ctx is done.
func (d *Dryer) Run(ctx context.Context) error {
	cli, err := clientFactory(d.Broker, "sim-"+d.Serial)
	if err != nil {
		return fmt.Errorf("%s: connect: %w", d.Serial, err)
	}
	d.client = cli
	if token := cli.Subscribe(transport.CommandTopic(d.Serial), transport.QoSAtLeastOnce, d.onCommand(ctx)); token.Wait() && token.Error() != nil {
		cli.Disconnect(250)
		return fmt.Errorf("%s: subscribe: %w", d.Serial, token.Error())
	}
	d.report()
	tick := time.NewTicker(d.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			cli.Disconnect(250)
			return nil
		case <-tick.C:
			d.report()
		}
	}
}

func (d *Dryer) report() {
	d.publish(transport.CategoryHeartbeat, map[string]any{"motorState": d.Motor()})
	d.publish(transport.CategorySensor, map[string]any{"sensors": d.Weather.Sample()})
}

type inboundCommand struct {
	CommandID string          `json:"commandId"`
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params"`
}

func (d *Dryer) onCommand(ctx context.Context) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var c inboundCommand
		if err := json.Unmarshal(msg.Payload(), &c); err != nil || c.CommandID == "" {
			d.log.Warnf("%s: drop command: %v", d.Serial, err)
			return
		}
		verb, err := model.ParseVerb(c.Command)
		if err != nil {
			d.result(c.CommandID, model.CommandFailed, map[string]any{"error": err.Error()})
			return
		}
		d.setMotor(verb.MotorState())
		go d.answer(ctx, c.CommandID, verb)
	}
}

func (d *Dryer) answer(ctx context.Context, id string, verb model.Verb) {
	if d.Delay > 0 {
		select {
		case <-time.After(d.Delay):
		case <-ctx.Done():
			return
		}
	}
	status, ok := d.Strategy.Outcome(verb)
	if !ok {
		d.log.Debugf("%s: dropping result for %s", d.Serial, id)
		return
	}
	d.setMotor(verb.SettledState(status))
	if status == model.CommandFailed {
		d.publish(transport.CategoryEvent, map[string]any{
			"eventType": "motor_fault",
			"message":   fmt.Sprintf("%s did not complete", verb),
			"severity":  string(model.SeverityWarn),
		})
	}
	d.result(id, status, map[string]any{"motorState": d.Motor()})
}

func (d *Dryer) result(id string, status model.CommandStatus, result map[string]any) {
	d.publish(transport.CategoryCommand+"/"+transport.SubResult, map[string]any{
		"commandId": id,
		"status":    status,
		"result":    result,
	})
}

func (d *Dryer) publish(category string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		d.log.Errorf("%s: marshal %s: %v", d.Serial, category, err)
		return
	}
	topic := fmt.Sprintf("%s/%s/%s", transport.TopicRoot, d.Serial, category)
	token := d.client.Publish(topic, transport.QoSAtLeastOnce, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		d.log.Warnf("%s: publish timeout on %s", d.Serial, topic)
		return
	}
	if err := token.Error(); err != nil {
		d.log.Errorf("%s: publish %s: %v", d.Serial, topic, err)
	}
}
