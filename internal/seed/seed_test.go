package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/service"
	"tempmail/engine/internal/storage/memory"
)

const sample = `
domains:
  - temp.mail
  - Drop.Box
notices:
  - content: 欢迎使用临时邮箱
  - content: 计划维护
    type: warning
    active: false
`

func TestParse(t *testing.T) {
	t.Run("解析域名与公告", func(t *testing.T) {
		f, err := Parse(strings.NewReader(sample))
		require.NoError(t, err)
		assert.Equal(t, []string{"temp.mail", "Drop.Box"}, f.Domains)
		require.Len(t, f.Notices, 2)
		assert.Equal(t, "warning", f.Notices[1].Type)
		require.NotNil(t, f.Notices[1].Active)
		assert.False(t, *f.Notices[1].Active)
	})

	t.Run("空文件", func(t *testing.T) {
		f, err := Parse(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, f.Domains)
	})

	t.Run("未知字段报错", func(t *testing.T) {
		_, err := Parse(strings.NewReader("mailboxes: []\n"))
		assert.Error(t, err)
	})
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	domains := service.NewDomainService(store, 0)
	notices := service.NewNoticeService(store)

	f, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	t.Run("首次导入", func(t *testing.T) {
		res, err := Apply(ctx, f, domains, notices, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.NoticesCreated)

		list, err := domains.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		all, err := notices.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		for _, n := range all {
			if n.Content == "计划维护" {
				assert.False(t, n.Active)
				assert.Equal(t, domain.SeverityWarning, n.Severity)
			}
		}
	})

	t.Run("重复导入不产生新数据", func(t *testing.T) {
		res, err := Apply(ctx, f, domains, notices, nil)
		require.NoError(t, err)
		assert.Zero(t, res.NoticesCreated)
		assert.Equal(t, 2, res.NoticesSkipped)

		all, err := notices.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("非法公告类型", func(t *testing.T) {
		bad := &File{Notices: []Notice{{Content: "x", Type: "loud"}}}
		_, err := Apply(ctx, bad, domains, notices, nil)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}
