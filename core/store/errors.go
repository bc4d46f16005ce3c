package store

import (
	"errors"
	"fmt"

	"github.com/kilianp07/smartdryer/core/model"
)

// ErrSkip may be returned by a mutator to leave the record untouched.
var ErrSkip = errors.New("store: skip update")

// NotFound builds an error wrapping model.ErrNotFound.
func NotFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, model.ErrNotFound)
}

// Persistence wraps a backend error with model.ErrPersistence.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrPersistence, err)
}
