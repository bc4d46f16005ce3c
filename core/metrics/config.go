package metrics

import (
	"fmt"

	"github.com/kilianp07/smartdryer/core/factory"
)

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusAddr is the listen address of the /metrics endpoint. Empty
	// disables the endpoint.
	PrometheusAddr string `json:"prometheus_addr"`
}

// SetDefaults exposes Prometheus metrics when no sink is configured.
func (c *Config) SetDefaults() {
	if len(c.Sinks) == 0 {
		c.Sinks = []factory.ModuleConfig{{Type: "prometheus"}}
		if c.PrometheusAddr == "" {
			c.PrometheusAddr = ":9100"
		}
	}
}

// Validate requires a type on every sink.
func (c Config) Validate() error {
	for i, s := range c.Sinks {
		if s.Type == "" {
			return fmt.Errorf("metrics sink %d: type is required", i)
		}
	}
	return nil
}
