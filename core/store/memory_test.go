package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/core/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return store.NewMemoryStore() })
}

func TestMemoryStore_Closed(t *testing.T) {
	s := store.NewMemoryStore()
	_ = s.Close()
	_, err := s.GetDevice(context.Background(), "x")
	assert.ErrorIs(t, err, model.ErrPersistence)
}
