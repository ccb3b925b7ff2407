package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/domain"
)

func TestNoticeService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultMailboxConfig())

	maintenance, err := f.notices.Create(ctx, CreateNoticeInput{Content: "维护通知", Severity: "warning", CreatedBy: "admin"})
	require.NoError(t, err)
	assert.True(t, maintenance.Active)
	assert.Equal(t, domain.SeverityWarning, maintenance.Severity)

	welcome, err := f.notices.Create(ctx, CreateNoticeInput{Content: "欢迎"})
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityInfo, welcome.Severity)

	t.Run("参数校验", func(t *testing.T) {
		_, err := f.notices.Create(ctx, CreateNoticeInput{Content: "  "})
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = f.notices.Create(ctx, CreateNoticeInput{Content: "x", Severity: "fatal"})
		assert.ErrorIs(t, err, domain.ErrInvalidSeverity)
	})

	t.Run("重复关闭只保留一条记录", func(t *testing.T) {
		require.NoError(t, f.notices.Dismiss(ctx, "u1", maintenance.ID))
		require.NoError(t, f.notices.Dismiss(ctx, "u1", maintenance.ID))

		rows, err := f.store.ListDismissals(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, rows, 1)

		visible, err := f.notices.ListVisible(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, visible, 1)
		assert.Equal(t, welcome.ID, visible[0].ID)
	})

	t.Run("关闭不存在的公告", func(t *testing.T) {
		assert.ErrorIs(t, f.notices.Dismiss(ctx, "u1", "missing"), domain.ErrNoticeNotFound)
	})

	t.Run("停用后不可见", func(t *testing.T) {
		updated, err := f.notices.SetActive(ctx, welcome.ID, false)
		require.NoError(t, err)
		assert.False(t, updated.Active)

		visible, err := f.notices.ListVisible(ctx, "u2")
		require.NoError(t, err)
		require.Len(t, visible, 1)
		assert.Equal(t, maintenance.ID, visible[0].ID)

		all, err := f.notices.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}
