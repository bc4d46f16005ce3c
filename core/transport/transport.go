// Package transport defines the broker session used by the ingestion
// pipeline and the command lifecycle.
package transport

import (
	"context"
	"fmt"

	"github.com/kilianp07/smartdryer/core/model"
)

// QoSAtLeastOnce is used for every subscription and publish.
const QoSAtLeastOnce byte = 1

// ErrNotConnected is returned by Publish while the session is down.
var ErrNotConnected = fmt.Errorf("not connected: %w", model.ErrTransport)

// Handler receives an inbound message. It must not retain payload.
type Handler func(topic string, payload []byte)

// Status is a snapshot of the session state.
type Status struct {
	Connected         bool `json:"connected"`
	ReconnectAttempts int  `json:"reconnect_attempts"`

	// GaveUp is set once the reconnect budget is exhausted; the session
	// stays down until the process restarts.
	GaveUp        bool     `json:"gave_up"`
	Subscriptions []string `json:"subscriptions"`
}

// Client is a publish/subscribe session with a message broker.
type Client interface {
	// Subscribe registers h for pattern. Subscriptions survive reconnects.
	// A failure is reported but the registration is kept and retried on
	// the next successful connect.
	Subscribe(pattern string, qos byte, h Handler) error
	// Publish blocks until the broker acknowledges the message, ctx is
	// done, or the client's publish timeout expires. It fails fast with
	// ErrNotConnected when the session is down.
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Status() Status
	Disconnect()
}
