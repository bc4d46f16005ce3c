package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker string `json:"broker"`
	// ClientID is used verbatim when set; otherwise a unique id is derived
	// from ClientIDPrefix.
	ClientID       string `json:"client_id"`
	ClientIDPrefix string `json:"client_id_prefix"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	AuthMethod     string `json:"auth_method"`

	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	TLSConfig  *tls.Config `json:"-"`

	LWTTopic   string `json:"lwt_topic"`
	LWTPayload string `json:"lwt_payload"`
	LWTQoS     byte   `json:"lwt_qos"`
	LWTRetain  bool   `json:"lwt_retain"`

	KeepAliveSeconds     int `json:"keep_alive_seconds"`
	ConnectTimeoutMS     int `json:"connect_timeout_ms"`
	ReconnectPeriodMS    int `json:"reconnect_period_ms"`
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`
	PublishTimeoutMS     int `json:"publish_timeout_ms"`
	// MaxRetries bounds extra publish attempts after a broker error.
	MaxRetries int `json:"max_retries"`
	BackoffMS  int `json:"backoff_ms"`
}

// SetDefaults applies the connection defaults of the dryer deployment: 1s
// reconnect period, 5 attempts, 60s keep-alive and a 4s connect timeout.
func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = "iot_backend"
	}
	if c.KeepAliveSeconds == 0 {
		c.KeepAliveSeconds = 60
	}
	if c.ConnectTimeoutMS == 0 {
		c.ConnectTimeoutMS = 4000
	}
	if c.ReconnectPeriodMS == 0 {
		c.ReconnectPeriodMS = 1000
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.PublishTimeoutMS == 0 {
		c.PublishTimeoutMS = 5000
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 100
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	if c.KeepAliveSeconds < 0 || c.ConnectTimeoutMS < 0 || c.ReconnectPeriodMS < 0 || c.PublishTimeoutMS < 0 {
		return fmt.Errorf("mqtt timeouts must not be negative")
	}
	if c.MaxReconnectAttempts < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("mqtt attempt counts must not be negative")
	}
	switch c.AuthMethod {
	case "", "username_password", "certificate", "both":
	default:
		return fmt.Errorf("unknown mqtt auth_method %q", c.AuthMethod)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires ca_bundle")
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("ca bundle %s contains no certificates", c.CABundle)
	}
	cfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if c.AuthMethod == "certificate" || c.AuthMethod == "both" || c.ClientCert != "" {
		if c.ClientCert == "" || c.ClientKey == "" {
			return nil, fmt.Errorf("certificate auth requires client_cert and client_key")
		}
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
