// Package storage selects and opens the configured store.Store backend.
package storage

import (
	"context"
	"fmt"

	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/infra/storage/postgres"
	"github.com/kilianp07/smartdryer/infra/storage/sqlite"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	DefaultSQLitePath = "smartdryer.db"
)

// Config selects the persistence backend.
type Config struct {
	// Backend is one of memory, sqlite or postgres.
	Backend string `json:"backend"`
	// Path is the SQLite database file.
	Path string `json:"path"`
	// DSN is the PostgreSQL connection string.
	DSN string `json:"dsn"`
}

// SetDefaults fills in an embedded SQLite database.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.Backend == BackendSQLite && c.Path == "" {
		c.Path = DefaultSQLitePath
	}
}

// Validate checks the backend and its required settings.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Path == "" {
			return fmt.Errorf("storage.path required for sqlite backend")
		}
	case BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("storage.dsn required for postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	return nil
}

// Open returns the store described by cfg.
func Open(ctx context.Context, cfg Config) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendSQLite:
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return store.NewMemoryStore(), nil
	}
}
