package devices

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kilianp07/smartdryer/core/logger"
)

// DefaultAddr is the API listen address.
const DefaultAddr = ":8080"

// Config holds the HTTP API settings.
type Config struct {
	Disabled bool   `json:"disabled"`
	Addr     string `json:"addr"`
	// ShutdownSeconds bounds graceful shutdown.
	ShutdownSeconds int `json:"shutdown_seconds"`
}

// SetDefaults applies the default listen address and shutdown grace.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ShutdownSeconds == 0 {
		c.ShutdownSeconds = 15
	}
}

// Validate checks the listen address.
func (c Config) Validate() error {
	if c.Disabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("api.addr %q: %w", c.Addr, err)
	}
	if c.ShutdownSeconds < 0 {
		return fmt.Errorf("api.shutdown_seconds must not be negative")
	}
	return nil
}

// Serve runs h on cfg.Addr until ctx is canceled, then shuts down
// gracefully.
func Serve(ctx context.Context, cfg Config, h http.Handler, log logger.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("api listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	log.Infof("api stopped")
	return nil
}
