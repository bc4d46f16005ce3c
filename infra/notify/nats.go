package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kilianp07/smartdryer/core/notify"
	"github.com/kilianp07/smartdryer/infra/logger"
)

// NATSConfig configures the NATS notifier.
type NATSConfig struct {
	URL           string `json:"url"`
	Name          string `json:"name"`
	SubjectPrefix string `json:"subject_prefix"`
}

type natsConn interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

var natsConnect = func(url string, opts ...nats.Option) (natsConn, error) {
	return nats.Connect(url, opts...)
}

// NATSNotifier publishes notifications as JSON on
// <prefix>.<kind>.<serial> subjects for downstream push workers.
type NATSNotifier struct {
	nc     natsConn
	prefix string
}

// NewNATSNotifier connects to the NATS server.
func NewNATSNotifier(cfg NATSConfig, log logger.Logger) (*NATSNotifier, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "smartdryer-notify"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "notify"
	}
	if log == nil {
		log = logger.New("notify_nats")
	}
	nc, err := natsConnect(cfg.URL,
		nats.Name(cfg.Name),
		nats.PingInterval(5*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats disconnected: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return &NATSNotifier{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Subject returns the subject a notification is published on.
func (n *NATSNotifier) Subject(nt notify.Notification) string {
	serial := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(nt.DeviceSerial)
	if serial == "" {
		serial = "_"
	}
	return fmt.Sprintf("%s.%s.%s", n.prefix, nt.Kind, serial)
}

func (n *NATSNotifier) Notify(ctx context.Context, nt notify.Notification) error {
	data, err := json.Marshal(nt)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.nc.Publish(n.Subject(nt), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	timeout := time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if timeout <= 0 {
		return ctx.Err()
	}
	return n.nc.FlushTimeout(timeout)
}

// Close drains the connection.
func (n *NATSNotifier) Close() error {
	n.nc.Close()
	return nil
}
