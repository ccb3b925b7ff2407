package sql

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/storage"
	"tempmail/engine/internal/storage/storagetest"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("sqlite", ":memory:", 1, 1, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return newSQLiteStore(t) })
}

func TestMigrate(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	t.Run("重复执行迁移是幂等的", func(t *testing.T) {
		v, err := Migrate(ctx, s.DB(), "sqlite")
		require.NoError(t, err)
		assert.Equal(t, LatestVersion(), v)
	})

	t.Run("未知方言", func(t *testing.T) {
		_, err := Migrate(ctx, s.DB(), "oracle")
		assert.Error(t, err)
	})

	t.Run("健康检查", func(t *testing.T) {
		assert.NoError(t, s.Health(ctx))
	})
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewStore("mssql", "", 1, 1, time.Minute)
	assert.Error(t, err)
}
