package router

import (
	"fmt"
	"time"
)

// Config sizes the worker shards.
type Config struct {
	Workers         int `json:"workers"`
	QueueSize       int `json:"queue_size"`
	HandleTimeoutMS int `json:"handle_timeout_ms"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = 8
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	if c.HandleTimeoutMS == 0 {
		c.HandleTimeoutMS = 15000
	}
}

// Validate rejects negative values.
func (c Config) Validate() error {
	if c.Workers < 0 || c.QueueSize < 0 || c.HandleTimeoutMS < 0 {
		return fmt.Errorf("router settings must not be negative")
	}
	return nil
}

func (c Config) HandleTimeout() time.Duration {
	return time.Duration(c.HandleTimeoutMS) * time.Millisecond
}
