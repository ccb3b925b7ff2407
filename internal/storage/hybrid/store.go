package hybrid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/storage"
)

// Cache 缓存后端，由 redis.Client 实现
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Health(ctx context.Context) error
}

// Store 在持久化存储前加一层缓存，缓存只作加速，失败时回退到底层存储
//
// 只缓存按 ID 和完整地址查询的地址记录，命中后仍按 now 校验过期，过期时回源。
// 邮件读取每次直达底层存储。
type Store struct {
	storage.Store
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(base storage.Store, cache Cache, ttl time.Duration, log *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{Store: base, cache: cache, ttl: ttl, log: log}
}

// Health 同时检查底层存储和缓存
func (s *Store) Health(ctx context.Context) error {
	if err := s.Store.Health(ctx); err != nil {
		return err
	}
	if err := s.cache.Health(ctx); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

func addressIDKey(id string) string      { return "addr:id:" + id }
func addressEmailKey(email string) string { return "addr:email:" + email }

func (s *Store) get(ctx context.Context, key string, dst any) bool {
	ok, err := s.cache.GetJSON(ctx, key, dst)
	if err != nil {
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (s *Store) set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl > s.ttl {
		ttl = s.ttl
	}
	if ttl <= 0 {
		return
	}
	if err := s.cache.SetJSON(ctx, key, value, ttl); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) del(ctx context.Context, keys ...string) {
	if err := s.cache.Del(ctx, keys...); err != nil {
		s.log.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (s *Store) cacheAddress(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) {
	ttl := addr.ExpiresAt.Sub(now)
	s.set(ctx, addressIDKey(addr.ID), addr, ttl)
	s.set(ctx, addressEmailKey(addr.Address), addr, ttl)
}

// ========== 地址 ==========

// CreateAddress 创建地址并清除同名的旧缓存
func (s *Store) CreateAddress(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) error {
	if err := s.Store.CreateAddress(ctx, addr, now); err != nil {
		return err
	}
	s.del(ctx, addressEmailKey(addr.Address))
	s.cacheAddress(ctx, addr, now)
	return nil
}

// GetAddress 先查缓存
func (s *Store) GetAddress(ctx context.Context, id string, now time.Time) (*domain.TemporaryAddress, error) {
	var cached domain.TemporaryAddress
	if s.get(ctx, addressIDKey(id), &cached) && !cached.IsExpired(now) {
		return &cached, nil
	}
	addr, err := s.Store.GetAddress(ctx, id, now)
	if err != nil {
		return nil, err
	}
	s.cacheAddress(ctx, addr, now)
	return addr, nil
}

// GetAddressByEmail 先查缓存，SMTP 收件时的热点路径
func (s *Store) GetAddressByEmail(ctx context.Context, email string, now time.Time) (*domain.TemporaryAddress, error) {
	var cached domain.TemporaryAddress
	if s.get(ctx, addressEmailKey(email), &cached) && !cached.IsExpired(now) {
		return &cached, nil
	}
	addr, err := s.Store.GetAddressByEmail(ctx, email, now)
	if err != nil {
		return nil, err
	}
	s.cacheAddress(ctx, addr, now)
	return addr, nil
}

// DeleteAddress 删除地址并清除相关缓存
func (s *Store) DeleteAddress(ctx context.Context, id string) error {
	var cached domain.TemporaryAddress
	email := ""
	if s.get(ctx, addressIDKey(id), &cached) {
		email = cached.Address
	}
	if err := s.Store.DeleteAddress(ctx, id); err != nil {
		return err
	}
	keys := []string{addressIDKey(id)}
	if email != "" {
		keys = append(keys, addressEmailKey(email))
	}
	s.del(ctx, keys...)
	return nil
}

// Close 关闭底层存储
func (s *Store) Close() error {
	var errs []error
	if err := s.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := s.cache.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
