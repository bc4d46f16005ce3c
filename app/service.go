// Package app wires the ingestion pipeline, command lifecycle, sweeper,
// metrics and HTTP API into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kilianp07/smartdryer/api/devices"
	"github.com/kilianp07/smartdryer/config"
	"github.com/kilianp07/smartdryer/core/autotrigger"
	"github.com/kilianp07/smartdryer/core/command"
	"github.com/kilianp07/smartdryer/core/devicestate"
	coremetrics "github.com/kilianp07/smartdryer/core/metrics"
	coremon "github.com/kilianp07/smartdryer/core/monitoring"
	"github.com/kilianp07/smartdryer/core/notify"
	"github.com/kilianp07/smartdryer/core/router"
	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/core/sweeper"
	"github.com/kilianp07/smartdryer/core/transport"
	"github.com/kilianp07/smartdryer/infra/logger"
	"github.com/kilianp07/smartdryer/infra/metrics"
	"github.com/kilianp07/smartdryer/infra/monitoring"
	"github.com/kilianp07/smartdryer/infra/mqtt"
	_ "github.com/kilianp07/smartdryer/infra/notify"
	"github.com/kilianp07/smartdryer/infra/storage"
	"github.com/kilianp07/smartdryer/internal/eventbus"
)

// Deps overrides collaborators that New would otherwise build from the
// configuration. Nil fields are built.
type Deps struct {
	Store     store.Store
	Transport transport.Client
	Sink      coremetrics.MetricsSink
	Clock     func() time.Time
}

// Service holds the wired components.
type Service struct {
	Store     store.Store
	Transport transport.Client
	Bus       *eventbus.Bus
	State     *devicestate.Service
	Commands  *command.Manager
	Trigger   *autotrigger.Trigger
	Router    *router.Router
	Sweeper   *sweeper.Sweeper
	API       *devices.API

	cfg      *config.Config
	notifier *notify.Async
	backend  notify.Notifier
	sink     coremetrics.MetricsSink
	log      logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// New builds a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	return NewWithDeps(ctx, cfg, Deps{})
}

// NewWithDeps builds a Service, using the collaborators set in deps.
func NewWithDeps(ctx context.Context, cfg *config.Config, deps Deps) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	if err := logger.SetFormat(cfg.Logging.Format); err != nil {
		return nil, err
	}
	log := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	st := deps.Store
	if st == nil {
		st, err = storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}

	tr := deps.Transport
	if tr == nil {
		pc, err := mqtt.NewPahoClient(cfg.MQTT, logger.New("mqtt"))
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		tr = pc
	}

	sink := deps.Sink
	if sink == nil {
		sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("metrics sink: %w", err)
		}
	}

	backend, err := notify.NewNotifier(cfg.Notify.Backends)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("notifier: %w", err)
	}
	async := notify.NewAsync(backend, cfg.Notify.QueueSize, cfg.Notify.Timeout(), logger.New("notify"))

	bus := eventbus.New()
	state := devicestate.New(st, devicestate.Options{
		Notifier: async, Bus: bus, Logger: logger.New("devicestate"), Clock: deps.Clock,
	})
	mgr := command.NewManager(st, tr, command.Options{
		Notifier: async, Bus: bus, Logger: logger.New("command"), Clock: deps.Clock,
	})

	var trig *autotrigger.Trigger
	var eval router.Evaluator
	if !cfg.AutoTrigger.Disabled {
		trig = autotrigger.New(autotrigger.Policy{RainThreshold: cfg.AutoTrigger.RainThreshold}, st, mgr, autotrigger.Options{
			Notifier: async, Bus: bus, Logger: logger.New("autotrigger"), Clock: deps.Clock,
		})
		eval = trig
	}
	rt := router.New(cfg.Router, state, mgr, router.Options{Trigger: eval, Bus: bus, Logger: logger.New("router")})
	sw := sweeper.New(cfg.Sweeper, st, state, sweeper.Options{
		Expirer: mgr, CommandTimeout: cfg.Commands.Timeout(), Logger: logger.New("sweeper"), Clock: deps.Clock,
	})

	return &Service{
		Store:     st,
		Transport: tr,
		Bus:       bus,
		State:     state,
		Commands:  mgr,
		Trigger:   trig,
		Router:    rt,
		Sweeper:   sw,
		API:       devices.New(state, mgr, tr, logger.New("api")),
		cfg:       cfg,
		notifier:  async,
		backend:   backend,
		sink:      sink,
		log:       log,
	}, nil
}

// starter is implemented by transports that connect in the background.
type starter interface{ Start() }

// Connect starts the transport session without waiting for it.
func (s *Service) Connect() {
	if st, ok := s.Transport.(starter); ok {
		st.Start()
	}
}

// WaitConnected polls the transport until it is up, it gave up, or
// timeout elapses.
func (s *Service) WaitConnected(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		st := s.Transport.Status()
		if st.Connected {
			return nil
		}
		if st.GaveUp {
			return fmt.Errorf("broker unreachable after %d attempts: %w", st.ReconnectAttempts, transport.ErrNotConnected)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for broker: %w: %w", transport.ErrNotConnected, ctx.Err())
		case <-tick.C:
		}
	}
}

// Ingest starts the router, registers the inbound subscriptions and
// connects the transport. Run calls it; one-shot tools that need device
// replies call it without the sweeper and the API.
func (s *Service) Ingest(ctx context.Context) {
	s.Router.Start(ctx)
	if err := s.Router.Subscribe(s.Transport); err != nil {
		// Registrations are kept and replayed once the session is up.
		s.log.Warnf("initial subscribe: %v", err)
	}
	s.Connect()
}

// Run starts every component and blocks until ctx is canceled or the API
// server fails, then shuts the service down.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	metrics.StartEventCollector(ctx, s.Bus, s.sink)
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	s.Ingest(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer coremon.Recover(map[string]string{"component": "sweeper"})
		s.Sweeper.Run(ctx)
	}()

	apiErr := make(chan error, 1)
	if !s.cfg.API.Disabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer coremon.Recover(map[string]string{"component": "api"})
			if err := devices.Serve(ctx, s.cfg.API, s.API.Routes(), logger.New("api")); err != nil {
				apiErr <- err
			}
		}()
	}

	s.log.Infof("smartdryer running (storage=%s broker=%s)", s.cfg.Storage.Backend, s.cfg.MQTT.Broker)
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-apiErr:
		s.log.Errorf("api: %v", runErr)
	}
	cancel()
	s.Router.Stop()
	wg.Wait()
	return errors.Join(runErr, s.Close())
}

// Close releases the resources held by the service. It is safe to call
// more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.Router.Stop()
		s.Transport.Disconnect()
		s.notifier.Close()
		var errs []error
		if c, ok := s.backend.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if c, ok := s.sink.(interface{ Close() }); ok {
			c.Close()
		}
		s.Bus.Close()
		errs = append(errs, s.Store.Close())
		coremon.Flush(2 * time.Second)
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
