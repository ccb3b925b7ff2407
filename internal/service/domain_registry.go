package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/engine/internal/cache"
	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/storage"
)

const domainListKey = "domains"

// DomainService 维护可用于创建地址的域名
type DomainService struct {
	repo      storage.DomainRepository
	cache     *cache.LocalCache[[]domain.Domain]
	validator *domain.EmailValidator
	now       func() time.Time
	log       *zap.Logger
}

// NewDomainService 创建域名服务，cacheTTL 为 0 时不缓存域名列表
func NewDomainService(repo storage.DomainRepository, cacheTTL time.Duration, opts ...Option) *DomainService {
	o := buildOptions(opts)
	s := &DomainService{
		repo:      repo,
		validator: domain.NewEmailValidator(),
		now:       o.now,
		log:       o.log,
	}
	if cacheTTL > 0 {
		s.cache = cache.NewLocalCache[[]domain.Domain](cacheTTL)
	}
	return s
}

// Close 释放缓存资源
func (s *DomainService) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// List 返回全部域名，按名称排序
func (s *DomainService) List(ctx context.Context) ([]domain.Domain, error) {
	if s.cache != nil {
		if list, ok := s.cache.Get(domainListKey); ok {
			return list, nil
		}
	}
	list, err := s.repo.ListDomains(ctx)
	if err != nil {
		return nil, domain.StorageFailure("list domains", err)
	}
	if s.cache != nil {
		s.cache.Set(domainListKey, list, 0)
	}
	return list, nil
}

// Get 根据 ID 获取域名
func (s *DomainService) Get(ctx context.Context, id string) (*domain.Domain, error) {
	if id == "" {
		return nil, domain.ErrDomainNotFound
	}
	d, err := s.repo.GetDomain(ctx, id)
	if err != nil {
		return nil, domain.StorageFailure("get domain", err)
	}
	return d, nil
}

// ResolveByName 根据名称查找受管域名
func (s *DomainService) ResolveByName(ctx context.Context, name string) (*domain.Domain, error) {
	d, err := s.repo.GetDomainByName(ctx, domain.NormalizeDomain(name))
	if err != nil {
		return nil, domain.StorageFailure("get domain by name", err)
	}
	return d, nil
}

// Create 注册新域名
func (s *DomainService) Create(ctx context.Context, name string) (*domain.Domain, error) {
	name = domain.NormalizeDomain(name)
	if err := s.validator.ValidateDomain(name); err != nil {
		return nil, err
	}

	d := &domain.Domain{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.now(),
	}
	if err := s.repo.SaveDomain(ctx, d); err != nil {
		return nil, domain.StorageFailure("save domain", err)
	}
	s.invalidate()

	s.log.Info("domain registered", zap.String("domain_id", d.ID), zap.String("domain", d.Name))
	return d, nil
}

// Delete 删除域名，仍有存活地址引用时返回 domain.ErrDomainInUse
func (s *DomainService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteDomain(ctx, id, s.now()); err != nil {
		return domain.StorageFailure("delete domain", err)
	}
	s.invalidate()

	s.log.Info("domain deleted", zap.String("domain_id", id))
	return nil
}

// EnsureDomains 确保给定域名均已注册，已存在的跳过
func (s *DomainService) EnsureDomains(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := s.ResolveByName(ctx, name); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrDomainNotFound) {
			return err
		}
		if _, err := s.Create(ctx, name); err != nil && !errors.Is(err, domain.ErrDomainExists) {
			return err
		}
	}
	return nil
}

func (s *DomainService) invalidate() {
	if s.cache != nil {
		s.cache.Delete(domainListKey)
	}
}
