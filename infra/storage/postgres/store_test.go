package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/core/store/storetest"
	"github.com/kilianp07/smartdryer/internal/testutil"
)

func TestConformance(t *testing.T) {
	dsn := testutil.StartPostgres(t)
	ctx := context.Background()
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(ctx, dsn)
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE events, sensor_readings, commands, devices`)
		require.NoError(t, err)
		return s
	})
}

func TestWherePlaceholders(t *testing.T) {
	w := &where{}
	assert.Equal(t, "", w.String())
	w.add("owner = ?", "alice")
	w.add("last_seen IS NOT NULL AND last_seen < ?", 5)
	assert.Equal(t, " WHERE owner = $1 AND last_seen IS NOT NULL AND last_seen < $2", w.String())
	assert.Equal(t, " LIMIT $3", w.limit(10))
	assert.Equal(t, "", w.limit(0))
	assert.Len(t, w.args, 3)
}
