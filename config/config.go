// Package config loads the service configuration from a YAML or JSON file
// with K_-prefixed environment overrides (K_MQTT__BROKER sets mqtt.broker).
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/smartdryer/api/devices"
	"github.com/kilianp07/smartdryer/core/autotrigger"
	"github.com/kilianp07/smartdryer/core/command"
	"github.com/kilianp07/smartdryer/core/metrics"
	"github.com/kilianp07/smartdryer/core/notify"
	"github.com/kilianp07/smartdryer/core/router"
	"github.com/kilianp07/smartdryer/core/sweeper"
	"github.com/kilianp07/smartdryer/infra/monitoring"
	"github.com/kilianp07/smartdryer/infra/mqtt"
	"github.com/kilianp07/smartdryer/infra/storage"
)

type Config struct {
	MQTT        mqtt.Config        `json:"mqtt"`
	Storage     storage.Config     `json:"storage"`
	Sweeper     sweeper.Config     `json:"sweeper"`
	AutoTrigger autotrigger.Config `json:"autotrigger"`
	Commands    command.Config     `json:"commands"`
	Router      router.Config      `json:"router"`
	Metrics     metrics.Config     `json:"metrics"`
	Notify      notify.Config      `json:"notify"`
	API         devices.Config     `json:"api"`
	Logging     LoggingConfig      `json:"logging"`
	Sentry      monitoring.Config  `json:"sentry"`
}

// Load reads path, applies environment overrides, fills defaults and
// validates every section. An empty path loads defaults and environment
// only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills unset fields of every section.
func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	c.Storage.SetDefaults()
	c.Sweeper.SetDefaults()
	c.Router.SetDefaults()
	c.Metrics.SetDefaults()
	c.Notify.SetDefaults()
	c.API.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section and reports all failures.
func (c Config) Validate() error {
	var errs []error
	check := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	check("mqtt", c.MQTT.Validate())
	check("storage", c.Storage.Validate())
	check("sweeper", c.Sweeper.Validate())
	check("autotrigger", c.AutoTrigger.Validate())
	check("commands", c.Commands.Validate())
	check("router", c.Router.Validate())
	check("metrics", c.Metrics.Validate())
	check("notify", c.Notify.Validate())
	check("api", c.API.Validate())
	check("logging", c.Logging.Validate())
	return errors.Join(errs...)
}
