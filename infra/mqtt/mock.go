package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/transport"
)

// Published is a message captured by MockClient.
type Published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// MockClient is an in-memory transport.Client used in tests. It starts
// connected.
type MockClient struct {
	mu        sync.Mutex
	connected bool
	subs      map[string]subscription
	Messages  []Published
	// FailTopics makes Publish fail for the listed topics.
	FailTopics map[string]bool
}

var _ transport.Client = (*MockClient)(nil)

// NewMockClient creates a connected MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		connected:  true,
		subs:       make(map[string]subscription),
		FailTopics: make(map[string]bool),
	}
}

func (m *MockClient) Subscribe(pattern string, qos byte, h transport.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[pattern] = subscription{qos: qos, handler: h}
	return nil
}

func (m *MockClient) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish %s: %w: %w", topic, model.ErrTransport, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return transport.ErrNotConnected
	}
	if m.FailTopics[topic] {
		return fmt.Errorf("publish %s: %w: broker rejected", topic, model.ErrTransport)
	}
	cp := append([]byte(nil), payload...)
	m.Messages = append(m.Messages, Published{Topic: topic, QoS: qos, Payload: cp})
	return nil
}

func (m *MockClient) Status() transport.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := make([]string, 0, len(m.subs))
	for k := range m.subs {
		subs = append(subs, k)
	}
	sort.Strings(subs)
	return transport.Status{Connected: m.connected, Subscriptions: subs}
}

func (m *MockClient) Disconnect() { m.SetConnected(false) }

// SetConnected toggles the simulated session state.
func (m *MockClient) SetConnected(up bool) {
	m.mu.Lock()
	m.connected = up
	m.mu.Unlock()
}

// FailTopic makes Publish to topic fail (or succeed again when fail is false).
func (m *MockClient) FailTopic(topic string, fail bool) {
	m.mu.Lock()
	m.FailTopics[topic] = fail
	m.mu.Unlock()
}

// Sent returns a copy of the published messages.
func (m *MockClient) Sent() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.Messages...)
}

// Deliver simulates an inbound message, invoking every matching handler
// synchronously. It returns the number of handlers invoked.
func (m *MockClient) Deliver(topic string, payload []byte) int {
	m.mu.Lock()
	var hs []transport.Handler
	for pattern, s := range m.subs {
		if transport.Match(pattern, topic) {
			hs = append(hs, s.handler)
		}
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
	return len(hs)
}
