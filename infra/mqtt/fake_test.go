package mqtt

import (
	"errors"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// fakeClient implements pahoClient for tests.
type fakeClient struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	up          bool
	connects    int
	connectErrs []error
	failConnect bool
	subscribed  []subCall
	handlers    map[string]paho.MessageHandler
	published   []pubCall
	publishErrs []error
	hangPublish bool
}

type subCall struct {
	topic string
	qos   byte
}

type pubCall struct {
	topic   string
	qos     byte
	payload []byte
}

var errRefused = errors.New("connection refused")

func install(fc *fakeClient) func() {
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { fc.opts = o; return fc }
	return func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } }
}

func (m *fakeClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

func (m *fakeClient) Connect() paho.Token {
	m.mu.Lock()
	m.connects++
	var err error
	if m.failConnect {
		err = errRefused
	} else if len(m.connectErrs) > 0 {
		err = m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
	}
	if err == nil {
		m.up = true
	}
	m.mu.Unlock()
	if err == nil && m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(nil)
	}
	return &doneToken{err: err}
}

func (m *fakeClient) Disconnect(uint) {
	m.mu.Lock()
	m.up = false
	m.mu.Unlock()
}

// drop simulates a broker-side connection loss.
func (m *fakeClient) drop() {
	m.mu.Lock()
	m.up = false
	m.mu.Unlock()
	m.opts.OnConnectionLost(nil, errors.New("EOF"))
}

func (m *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, pubCall{topic, qos, payload.([]byte)})
	if m.hangPublish {
		return &pendingToken{done: make(chan struct{})}
	}
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &doneToken{err: err}
	}
	return &doneToken{}
}

func (m *fakeClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, subCall{topic, qos})
	if m.handlers == nil {
		m.handlers = map[string]paho.MessageHandler{}
	}
	m.handlers[topic] = cb
	return &doneToken{}
}

func (m *fakeClient) snapshot() (connects int, subs []subCall, pubs []pubCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, append([]subCall(nil), m.subscribed...), append([]pubCall(nil), m.published...)
}

func (m *fakeClient) handler(topic string) paho.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[topic]
}

type doneToken struct{ err error }

func (d doneToken) Wait() bool                     { return true }
func (d doneToken) WaitTimeout(time.Duration) bool { return true }
func (d doneToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d doneToken) Error() error                   { return d.err }

type pendingToken struct{ done chan struct{} }

func (p *pendingToken) Wait() bool                     { <-p.done; return true }
func (p *pendingToken) WaitTimeout(time.Duration) bool { return false }
func (p *pendingToken) Done() <-chan struct{}          { return p.done }
func (p *pendingToken) Error() error                   { return nil }

type fakeMessage struct {
	topic string
	p     []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.p }
func (m fakeMessage) Ack()              {}
