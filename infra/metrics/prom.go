package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/smartdryer/core/events"
	coremetrics "github.com/kilianp07/smartdryer/core/metrics"
	"github.com/kilianp07/smartdryer/core/model"
)

// PromSink records pipeline activity in Prometheus metrics.
type PromSink struct {
	received   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	offline    prometheus.Counter
	issued     *prometheus.CounterVec
	results    *prometheus.CounterVec
	autoFired  prometheus.Counter
	autoFailed prometheus.Counter
	readings   *prometheus.CounterVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Metrics
// already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_messages_received_total",
			Help: "Inbound device messages by category",
		}, []string{"category"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_messages_dropped_total",
			Help: "Inbound device messages discarded, by reason",
		}, []string{"reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mqtt_message_handle_seconds",
			Help:    "Time from delivery to the end of handling",
			Buckets: prometheus.DefBuckets,
		}, []string{"category"}),
		offline: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "device_offline_transitions_total",
			Help: "Devices marked offline",
		}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_issued_total",
			Help: "Commands handed to the broker",
		}, []string{"command", "issuer"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "command_results_total",
			Help: "Terminal command outcomes",
		}, []string{"status"}),
		autoFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrigger_fired_total",
			Help: "Commands issued by the auto-trigger policy",
		}),
		autoFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrigger_failed_total",
			Help: "Auto-trigger commands that could not be issued",
		}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensor_readings_total",
			Help: "Persisted sensor readings by type",
		}, []string{"type"}),
	}
	var err error
	if s.received, err = register(reg, s.received); err != nil {
		return nil, err
	}
	if s.dropped, err = register(reg, s.dropped); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, s.latency); err != nil {
		return nil, err
	}
	if s.offline, err = register(reg, s.offline); err != nil {
		return nil, err
	}
	if s.issued, err = register(reg, s.issued); err != nil {
		return nil, err
	}
	if s.results, err = register(reg, s.results); err != nil {
		return nil, err
	}
	if s.autoFired, err = register(reg, s.autoFired); err != nil {
		return nil, err
	}
	if s.autoFailed, err = register(reg, s.autoFailed); err != nil {
		return nil, err
	}
	if s.readings, err = register(reg, s.readings); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordMessage counts the message and, when dropped, its reason.
func (s *PromSink) RecordMessage(rec coremetrics.MessageRecord) error {
	category := rec.Category
	if category == "" {
		category = "unknown"
	}
	s.received.WithLabelValues(category).Inc()
	s.latency.WithLabelValues(category).Observe(rec.Latency.Seconds())
	if rec.Dropped() {
		s.dropped.WithLabelValues(rec.Reason).Inc()
	}
	return nil
}

func (s *PromSink) RecordReadings(readings []model.SensorReading) error {
	for _, r := range readings {
		s.readings.WithLabelValues(string(r.Type)).Inc()
	}
	return nil
}

// RecordCommand counts successful issues and terminal outcomes. Expired
// commands are reported with status "expired".
func (s *PromSink) RecordCommand(rec coremetrics.CommandRecord) error {
	c := rec.Command
	switch rec.Stage {
	case string(events.StageIssued):
		if rec.Error == "" {
			s.issued.WithLabelValues(string(c.Verb), issuerKind(c)).Inc()
		}
	case string(events.StageResult):
		s.results.WithLabelValues(string(c.Status)).Inc()
	case string(events.StageExpired):
		s.results.WithLabelValues("expired").Inc()
	}
	return nil
}

func (s *PromSink) RecordOffline(coremetrics.OfflineRecord) error {
	s.offline.Inc()
	return nil
}

func (s *PromSink) RecordAutoTrigger(rec coremetrics.AutoTriggerRecord) error {
	if rec.Error != "" {
		s.autoFailed.Inc()
		return nil
	}
	s.autoFired.Inc()
	return nil
}

// issuerKind keeps the issuer label bounded: user ids are folded into "user".
func issuerKind(c model.Command) string {
	if c.SystemIssued() {
		return model.IssuerSystem
	}
	return "user"
}
