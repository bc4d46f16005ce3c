package command

import (
	"fmt"
	"time"
)

// Config holds command lifecycle settings.
type Config struct {
	// TimeoutSeconds fails pending and sent commands older than this on each
	// sweep. Zero waits for device results forever.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Validate checks the timeout.
func (c Config) Validate() error {
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("commands timeout_seconds must not be negative")
	}
	return nil
}

// Timeout returns the expiry duration, zero when disabled.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
