package metrics

import (
	"time"

	"github.com/kilianp07/smartdryer/core/model"
)

// MessageRecord is the outcome of one inbound device message. Reason is
// empty when the message was applied.
type MessageRecord struct {
	Serial   string
	Category string
	Reason   string
	Latency  time.Duration
	Time     time.Time
}

// Dropped reports whether the message was discarded.
func (r MessageRecord) Dropped() bool { return r.Reason != "" }

// MetricsSink records inbound message outcomes.
type MetricsSink interface {
	RecordMessage(rec MessageRecord) error
}

// ReadingRecorder records persisted sensor readings.
type ReadingRecorder interface {
	RecordReadings(readings []model.SensorReading) error
}

// CommandRecord describes a command lifecycle step.
type CommandRecord struct {
	Command model.Command
	// Stage is one of issued, result or expired.
	Stage string
	Error string
	Time  time.Time
}

// CommandRecorder records command lifecycle steps.
type CommandRecorder interface {
	RecordCommand(rec CommandRecord) error
}

// OfflineRecord is a device transition to offline.
type OfflineRecord struct {
	Serial string
	Reason string
	Time   time.Time
}

// OfflineRecorder records offline transitions.
type OfflineRecorder interface {
	RecordOffline(rec OfflineRecord) error
}

// AutoTriggerRecord is a command fired by the auto-trigger policy.
type AutoTriggerRecord struct {
	Serial    string
	Sensor    model.SensorType
	CommandID string
	Error     string
	Time      time.Time
}

// AutoTriggerRecorder records auto-trigger firings.
type AutoTriggerRecorder interface {
	RecordAutoTrigger(rec AutoTriggerRecord) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordMessage(MessageRecord) error         { return nil }
func (NopSink) RecordReadings([]model.SensorReading) error { return nil }
func (NopSink) RecordCommand(CommandRecord) error         { return nil }
func (NopSink) RecordOffline(OfflineRecord) error         { return nil }
func (NopSink) RecordAutoTrigger(AutoTriggerRecord) error { return nil }
