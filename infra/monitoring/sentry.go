package monitoring

import (
	"time"

	"github.com/getsentry/sentry-go"

	coremon "github.com/kilianp07/smartdryer/core/monitoring"
)

// Config defines settings for Sentry error monitoring. An empty DSN
// disables reporting.
type Config struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
	Release          string  `json:"release"`
	ServerName       string  `json:"server_name"`
}

// NewSentryMonitor initializes the Sentry SDK. Without a DSN reporting is
// disabled and a NopMonitor is returned.
func NewSentryMonitor(cfg Config) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		ServerName:       cfg.ServerName,
	})
	if err != nil {
		return nil, err
	}
	return &sentryMonitor{}, nil
}

type sentryMonitor struct{}

// CaptureException reports err, attaching tags to a dedicated scope.
func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	if len(tags) == 0 {
		sentry.CaptureException(err)
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// CapturePanic reports a recovered panic value with the given tags.
func (s *sentryMonitor) CapturePanic(p any, tags map[string]string) {
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetLevel(sentry.LevelFatal)
	})
	hub.Recover(p)
}

func (s *sentryMonitor) Flush(timeout time.Duration) { sentry.Flush(timeout) }
