package mqtt

import "github.com/prometheus/client_golang/prometheus"

var (
	publishSuccess    prometheus.Counter
	publishFailure    prometheus.Counter
	reconnectAttempts prometheus.Counter
	connected         prometheus.Gauge
)

func newCollectors() (prometheus.Counter, prometheus.Counter, prometheus.Counter, prometheus.Gauge) {
	suc := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_publish_success_total",
		Help: "Number of successful MQTT publish operations",
	})
	fail := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_publish_failure_total",
		Help: "Number of failed MQTT publish operations",
	})
	rec := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_reconnect_attempts_total",
		Help: "Number of failed MQTT connect attempts",
	})
	up := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connected",
		Help: "1 while the broker session is up",
	})
	return suc, fail, rec, up
}

func init() {
	publishSuccess, publishFailure, reconnectAttempts, connected = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers transport metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(publishSuccess, publishFailure, reconnectAttempts, connected)
}

// ResetMetrics reinitializes collectors for tests and registers them on reg
// when not nil.
func ResetMetrics(reg prometheus.Registerer) {
	publishSuccess, publishFailure, reconnectAttempts, connected = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
