package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/monitoring"
	"github.com/kilianp07/smartdryer/core/transport"
	"github.com/kilianp07/smartdryer/infra/logger"
)

var (
	errConnectTimeout = errors.New("connect timeout")
	errPublishTimeout = errors.New("publish timeout")
	errClosed         = errors.New("client closed")
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

type subscription struct {
	qos     byte
	handler transport.Handler
}

// PahoClient implements transport.Client on Eclipse Paho. Paho's own
// reconnect is disabled: the client retries on a fixed period up to
// MaxReconnectAttempts consecutive failures and then stays down.
type PahoClient struct {
	cli pahoClient
	cfg Config
	log logger.Logger

	mu        sync.Mutex
	subs      map[string]subscription
	connected bool
	attempts  int
	gaveUp    bool
	closed    bool
	looping   bool
	lost      bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ transport.Client = (*PahoClient)(nil)

// NewPahoClient builds the client. Call Start to begin connecting.
func NewPahoClient(cfg Config, log logger.Logger) (*PahoClient, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.New("mqtt_client")
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	pc := &PahoClient{
		cfg:  cfg,
		log:  log,
		subs: make(map[string]subscription),
		done: make(chan struct{}),
	}
	opts.OnConnect = pc.onConnect
	opts.OnConnectionLost = pc.onConnectionLost
	pc.cli = newMQTTClient(opts)
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("%s_%d_%s", cfg.ClientIDPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	// Handlers run in delivery order; the router hands off without blocking.
	opts.SetOrderMatters(true)
	opts.SetKeepAlive(time.Duration(cfg.KeepAliveSeconds) * time.Second)
	opts.SetConnectTimeout(ms(cfg.ConnectTimeoutMS))
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// Start begins connecting in the background and returns immediately.
// Connection progress is observable through Status.
func (p *PahoClient) Start() {
	p.startLoop()
}

func (p *PahoClient) startLoop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.looping || p.gaveUp || p.connected {
		return
	}
	p.looping = true
	p.wg.Add(1)
	go p.connectLoop()
}

func (p *PahoClient) connectLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			p.stopLooping()
			return
		default:
		}
		p.mu.Lock()
		p.lost = false
		p.mu.Unlock()
		tok := p.cli.Connect()
		err := wait(context.Background(), tok, ms(p.cfg.ConnectTimeoutMS), errConnectTimeout)
		if err == nil {
			p.mu.Lock()
			if p.lost && !p.closed {
				p.mu.Unlock()
				continue
			}
			p.looping = false
			p.mu.Unlock()
			return
		}
		reconnectAttempts.Inc()
		p.mu.Lock()
		p.attempts++
		n := p.attempts
		if p.cfg.MaxReconnectAttempts > 0 && n >= p.cfg.MaxReconnectAttempts {
			p.gaveUp = true
		}
		gaveUp := p.gaveUp
		p.mu.Unlock()
		if gaveUp {
			p.stopLooping()
			p.log.Errorf("mqtt connect failed %d times, giving up: %v", n, err)
			monitoring.CaptureException(fmt.Errorf("%w: %w", model.ErrTransport, err), map[string]string{"module": "mqtt", "broker": p.cfg.Broker})
			return
		}
		p.log.Warnf("mqtt connect attempt %d failed: %v", n, err)
		select {
		case <-p.done:
			p.stopLooping()
			return
		case <-time.After(ms(p.cfg.ReconnectPeriodMS)):
		}
	}
}

func (p *PahoClient) stopLooping() {
	p.mu.Lock()
	p.looping = false
	p.mu.Unlock()
}

func (p *PahoClient) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.attempts = 0
	subs := make(map[string]subscription, len(p.subs))
	for k, v := range p.subs {
		subs[k] = v
	}
	p.mu.Unlock()
	connected.Set(1)
	p.log.Infof("MQTT connected to %s", p.cfg.Broker)
	for pattern, s := range subs {
		if err := p.subscribeNow(pattern, s); err != nil {
			p.log.Errorf("subscribe %s: %v", pattern, err)
		}
	}
}

func (p *PahoClient) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	// A loop that has just connected must go round again.
	p.lost = p.looping
	p.mu.Unlock()
	connected.Set(0)
	p.log.Errorf("connection lost: %v", err)
	p.startLoop()
}

// Subscribe registers a handler for pattern. When the session is down the
// registration is kept and applied on the next connect.
func (p *PahoClient) Subscribe(pattern string, qos byte, h transport.Handler) error {
	s := subscription{qos: qos, handler: h}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w: %w", pattern, model.ErrTransport, errClosed)
	}
	p.subs[pattern] = s
	up := p.connected
	p.mu.Unlock()
	if !up {
		p.log.Debugf("deferring subscription to %s until connected", pattern)
		return nil
	}
	return p.subscribeNow(pattern, s)
}

func (p *PahoClient) subscribeNow(pattern string, s subscription) error {
	tok := p.cli.Subscribe(pattern, s.qos, func(_ paho.Client, m paho.Message) {
		s.handler(m.Topic(), m.Payload())
	})
	if err := wait(context.Background(), tok, ms(p.cfg.PublishTimeoutMS), errPublishTimeout); err != nil {
		return fmt.Errorf("subscribe %s: %w: %w", pattern, model.ErrTransport, err)
	}
	p.log.Infof("subscribed to %s (qos %d)", pattern, s.qos)
	return nil
}

// Publish sends payload and waits for the broker acknowledgment.
func (p *PahoClient) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	var err error
attempts:
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break attempts
			case <-time.After(ms(p.cfg.BackoffMS) * time.Duration(1<<(attempt-1))):
			}
		}
		if !p.isUp() {
			err = transport.ErrNotConnected
			break attempts
		}
		tok := p.cli.Publish(topic, qos, false, payload)
		err = wait(ctx, tok, ms(p.cfg.PublishTimeoutMS), errPublishTimeout)
		if err == nil {
			publishSuccess.Inc()
			p.log.Debugf("published %d bytes to %s", len(payload), topic)
			return nil
		}
		p.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, err)
		if ctx.Err() != nil {
			break attempts
		}
	}
	publishFailure.Inc()
	if !errors.Is(err, model.ErrTransport) {
		err = fmt.Errorf("publish %s: %w: %w", topic, model.ErrTransport, err)
	}
	monitoring.CaptureException(err, map[string]string{"module": "mqtt", "topic": topic})
	return err
}

func (p *PahoClient) isUp() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && !p.closed && p.cli.IsConnected()
}

// Status reports connectivity and the consecutive failed connect attempts.
func (p *PahoClient) Status() transport.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := make([]string, 0, len(p.subs))
	for k := range p.subs {
		subs = append(subs, k)
	}
	sort.Strings(subs)
	return transport.Status{
		Connected:         p.connected,
		ReconnectAttempts: p.attempts,
		GaveUp:            p.gaveUp,
		Subscriptions:     subs,
	}
}

// Disconnect stops reconnecting and closes the session.
func (p *PahoClient) Disconnect() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.connected = false
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
	if p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
	connected.Set(0)
}

func wait(ctx context.Context, tok paho.Token, timeout time.Duration, timeoutErr error) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return timeoutErr
	}
}
