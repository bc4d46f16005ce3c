package notify

import (
	"fmt"
	"time"

	"github.com/kilianp07/smartdryer/core/factory"
)

// Config selects notifier backends and the delivery queue size.
type Config struct {
	Backends       []factory.ModuleConfig `json:"backends"`
	QueueSize      int                    `json:"queue_size"`
	TimeoutSeconds int                    `json:"timeout_seconds"`
}

// SetDefaults applies defaults.
func (c *Config) SetDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 5
	}
	if len(c.Backends) == 0 {
		c.Backends = []factory.ModuleConfig{{Type: "log"}}
	}
}

// Validate checks the queue settings and that every backend names a type.
func (c Config) Validate() error {
	if c.QueueSize < 0 || c.TimeoutSeconds < 0 {
		return fmt.Errorf("notify queue settings must not be negative")
	}
	for i, b := range c.Backends {
		if b.Type == "" {
			return fmt.Errorf("notify backend %d: type required", i)
		}
	}
	return nil
}

// Timeout is the per-notification delivery deadline.
func (c Config) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

var registry = factory.NewRegistry[Notifier]()

// RegisterNotifier adds a notifier factory identified by name.
func RegisterNotifier(name string, f factory.Factory[Notifier]) error {
	return registry.Register(name, f)
}

// NewNotifier builds the notifier described by cfgs. No config yields Nop
// and several configs yield a Multi.
func NewNotifier(cfgs []factory.ModuleConfig) (Notifier, error) {
	ns, err := registry.CreateAll(cfgs)
	if err != nil {
		return nil, err
	}
	switch len(ns) {
	case 0:
		return Nop{}, nil
	case 1:
		return ns[0], nil
	}
	return Multi{Notifiers: ns}, nil
}
