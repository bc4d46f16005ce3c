// Package sweeper periodically marks silent devices offline and, when
// enabled, expires commands that never got a result.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/smartdryer/core/logger"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/store"
)

const (
	DefaultIntervalSeconds  = 120
	DefaultThresholdSeconds = 300
)

// Config controls the sweep cadence and staleness threshold.
type Config struct {
	IntervalSeconds  int `json:"interval_seconds"`
	ThresholdSeconds int `json:"threshold_seconds"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = DefaultIntervalSeconds
	}
	if c.ThresholdSeconds == 0 {
		c.ThresholdSeconds = DefaultThresholdSeconds
	}
}

// Validate rejects non-positive durations.
func (c Config) Validate() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("sweeper interval_seconds must be positive")
	}
	if c.ThresholdSeconds <= 0 {
		return fmt.Errorf("sweeper threshold_seconds must be positive")
	}
	return nil
}

func (c Config) Interval() time.Duration  { return time.Duration(c.IntervalSeconds) * time.Second }
func (c Config) Threshold() time.Duration { return time.Duration(c.ThresholdSeconds) * time.Second }

// Marker performs the stale transition for one device.
type Marker interface {
	MarkStale(ctx context.Context, serial string, cutoff time.Time) (model.Device, bool, error)
}

// Expirer fails commands created before a cutoff.
type Expirer interface {
	Expire(ctx context.Context, cutoff time.Time) (int, error)
}

// Options configures a Sweeper. Expirer and CommandTimeout are optional.
type Options struct {
	Expirer        Expirer
	CommandTimeout time.Duration
	Logger         logger.Logger
	Clock          func() time.Time
}

// Result summarises one sweep.
type Result struct {
	Offline int
	Expired int
}

// Sweeper runs offline sweeps.
type Sweeper struct {
	cfg     Config
	store   store.Store
	marker  Marker
	expirer Expirer
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time
}

// New builds a Sweeper. Defaults are applied to cfg.
func New(cfg Config, st store.Store, m Marker, opts Options) *Sweeper {
	cfg.SetDefaults()
	s := &Sweeper{
		cfg:     cfg,
		store:   st,
		marker:  m,
		expirer: opts.Expirer,
		timeout: opts.CommandTimeout,
		log:     logger.OrNop(opts.Logger),
		now:     opts.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Errorf("sweep: %v", err)
			}
		}
	}
}

// SweepOnce marks every device not seen within the threshold offline.
// A device is counted once per transition; devices already offline are
// left alone. Failures on one device do not stop the sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.Threshold())
	stale, err := s.store.StaleDevices(ctx, cutoff)
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, d := range stale {
		_, changed, err := s.marker.MarkStale(ctx, d.Serial, cutoff)
		if err != nil {
			s.log.Errorf("mark %s offline: %v", d.Serial, err)
			continue
		}
		if changed {
			res.Offline++
		}
	}
	if s.expirer != nil && s.timeout > 0 {
		n, err := s.expirer.Expire(ctx, now.Add(-s.timeout))
		if err != nil {
			s.log.Errorf("expire commands: %v", err)
		}
		res.Expired = n
	}
	if res.Offline > 0 || res.Expired > 0 {
		s.log.Infof("sweep: %d device(s) offline, %d command(s) expired", res.Offline, res.Expired)
	} else {
		s.log.Debugf("sweep: nothing to do (%d candidate(s))", len(stale))
	}
	return res, nil
}
