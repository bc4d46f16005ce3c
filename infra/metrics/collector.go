package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/smartdryer/core/events"
	coremetrics "github.com/kilianp07/smartdryer/core/metrics"
	"github.com/kilianp07/smartdryer/core/monitoring"
	"github.com/kilianp07/smartdryer/infra/logger"
	"github.com/kilianp07/smartdryer/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards events to
// the sink recorders it implements. It stops when the context is canceled
// or the bus is closed.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	log := logger.New("metrics-collector")
	sub := bus.Subscribe()
	go func() {
		defer monitoring.Recover(map[string]string{"component": "metrics-collector"})
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := collect(sink, ev, time.Now()); err != nil {
					log.Debugf("record %T: %v", ev, err)
				}
			}
		}
	}()
}

func collect(sink coremetrics.MetricsSink, ev eventbus.Event, now time.Time) error {
	switch e := ev.(type) {
	case events.MessageEvent:
		return sink.RecordMessage(coremetrics.MessageRecord{
			Serial:   e.Serial,
			Category: e.Category,
			Reason:   e.Reason,
			Latency:  e.Latency,
			Time:     now,
		})
	case events.ReadingsEvent:
		if r, ok := sink.(coremetrics.ReadingRecorder); ok {
			return r.RecordReadings(e.Readings)
		}
	case events.DeviceOfflineEvent:
		if r, ok := sink.(coremetrics.OfflineRecorder); ok {
			return r.RecordOffline(coremetrics.OfflineRecord{Serial: e.Serial, Reason: e.Reason, Time: e.At})
		}
	case events.CommandEvent:
		if r, ok := sink.(coremetrics.CommandRecorder); ok {
			return r.RecordCommand(coremetrics.CommandRecord{
				Command: e.Command,
				Stage:   string(e.Stage),
				Error:   errString(e.Err),
				Time:    now,
			})
		}
	case events.AutoTriggerEvent:
		if r, ok := sink.(coremetrics.AutoTriggerRecorder); ok {
			return r.RecordAutoTrigger(coremetrics.AutoTriggerRecord{
				Serial:    e.Serial,
				Sensor:    e.Reading.Type,
				CommandID: e.CommandID,
				Error:     errString(e.Err),
				Time:      now,
			})
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
