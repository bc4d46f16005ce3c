package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Config holds parameters for a simulated fleet.
type Config struct {
	Broker          string
	Count           int
	Prefix          string
	Interval        time.Duration
	ResultDelay     time.Duration
	DropRate        float64
	FailRate        float64
	RainProbability float64
}

// SetDefaults applies defaults.
func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.Count == 0 {
		c.Count = 1
	}
	if c.Prefix == "" {
		c.Prefix = "SIM"
	}
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Count < 1 {
		errs = append(errs, fmt.Errorf("count must be positive, got %d", c.Count))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	for name, p := range map[string]float64{"drop rate": c.DropRate, "fail rate": c.FailRate, "rain probability": c.RainProbability} {
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, p))
		}
	}
	return errors.Join(errs...)
}

// Fleet builds Count dryers named <Prefix>-001, <Prefix>-002, ...
func Fleet(cfg Config) []*Dryer {
	var strat ResultStrategy = AutoResult{}
	if cfg.DropRate > 0 || cfg.FailRate > 0 {
		strat = RandomResult{DropRate: cfg.DropRate, FailRate: cfg.FailRate}
	}
	dryers := make([]*Dryer, 0, cfg.Count)
	for i := 1; i <= cfg.Count; i++ {
		d := NewDryer(fmt.Sprintf("%s-%03d", cfg.Prefix, i), cfg.Broker)
		d.Interval = cfg.Interval
		d.Delay = cfg.ResultDelay
		d.Strategy = strat
		d.Weather = NewWeather(cfg.RainProbability)
		dryers = append(dryers, d)
	}
	return dryers
}

// Run runs every dryer until ctx is done and returns their joined errors.
func Run(ctx context.Context, dryers []*Dryer) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, d := range dryers {
		wg.Add(1)
		go func(d *Dryer) {
			defer wg.Done()
			if err := d.Run(ctx); err != nil {
				d.log.Errorf("%v", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(d)
	}
	wg.Wait()
	return errors.Join(errs...)
}
