package metrics

import (
	"errors"

	"github.com/kilianp07/smartdryer/core/model"
)

// MultiSink fans records out to several sinks. Every sink receives the
// record even when an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordMessage(rec MessageRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordMessage(rec))
	}
	return errors.Join(errs...)
}

// RecordReadings forwards to sinks implementing ReadingRecorder.
func (m *MultiSink) RecordReadings(readings []model.SensorReading) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ReadingRecorder); ok {
			errs = append(errs, r.RecordReadings(readings))
		}
	}
	return errors.Join(errs...)
}

// RecordCommand forwards to sinks implementing CommandRecorder.
func (m *MultiSink) RecordCommand(rec CommandRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(CommandRecorder); ok {
			errs = append(errs, r.RecordCommand(rec))
		}
	}
	return errors.Join(errs...)
}

// RecordOffline forwards to sinks implementing OfflineRecorder.
func (m *MultiSink) RecordOffline(rec OfflineRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(OfflineRecorder); ok {
			errs = append(errs, r.RecordOffline(rec))
		}
	}
	return errors.Join(errs...)
}

// RecordAutoTrigger forwards to sinks implementing AutoTriggerRecorder.
func (m *MultiSink) RecordAutoTrigger(rec AutoTriggerRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(AutoTriggerRecorder); ok {
			errs = append(errs, r.RecordAutoTrigger(rec))
		}
	}
	return errors.Join(errs...)
}
