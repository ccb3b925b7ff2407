package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/storage/memory"
)

func TestDomainService(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewDomainService(store, time.Minute)
	defer svc.Close()

	t.Run("注册并规范化域名", func(t *testing.T) {
		d, err := svc.Create(ctx, " Mail.Example.COM. ")
		require.NoError(t, err)
		assert.Equal(t, "mail.example.com", d.Name)

		_, err = svc.Create(ctx, "mail.example.com")
		assert.ErrorIs(t, err, domain.ErrDomainExists)
	})

	t.Run("无效域名", func(t *testing.T) {
		_, err := svc.Create(ctx, "not a domain")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("列表缓存在变更后失效", func(t *testing.T) {
		list, err := svc.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)

		_, err = svc.Create(ctx, "another.test")
		require.NoError(t, err)

		list, err = svc.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("EnsureDomains 幂等", func(t *testing.T) {
		require.NoError(t, svc.EnsureDomains(ctx, []string{"another.test", "third.test"}))
		require.NoError(t, svc.EnsureDomains(ctx, []string{"third.test"}))

		list, err := svc.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 3)
	})

	t.Run("被引用时不能删除", func(t *testing.T) {
		f := newFixture(t, defaultMailboxConfig())
		_, err := f.address.Create(ctx, CreateAddressInput{DomainID: f.domain.ID})
		require.NoError(t, err)

		assert.ErrorIs(t, f.domains.Delete(ctx, f.domain.ID), domain.ErrDomainInUse)

		f.clock.Advance(time.Hour)
		require.NoError(t, f.domains.Delete(ctx, f.domain.ID))

		_, err = f.domains.Get(ctx, f.domain.ID)
		assert.ErrorIs(t, err, domain.ErrDomainNotFound)
	})
}
