package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/engine/internal/config"
	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/storage"
)

// AddressStore 地址服务依赖的存储能力
type AddressStore interface {
	storage.AddressRepository
	LatestMessages(ctx context.Context, addressIDs []string) (map[string]domain.Message, error)
}

// AddressService 管理临时地址的创建、查询、删除与过期。
type AddressService struct {
	repo      AddressStore
	domains   *DomainService
	cfg       config.MailboxConfig
	validator *domain.EmailValidator
	now       func() time.Time
	generate  func(n int) string
	log       *zap.Logger
}

// NewAddressService 创建地址服务。
func NewAddressService(repo AddressStore, domains *DomainService, cfg config.MailboxConfig, opts ...Option) *AddressService {
	o := buildOptions(opts)
	if cfg.RandomLength <= 0 {
		cfg.RandomLength = 10
	}
	if cfg.CreateRetries <= 0 {
		cfg.CreateRetries = 5
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	return &AddressService{
		repo:      repo,
		domains:   domains,
		cfg:       cfg,
		validator: domain.NewEmailValidator(),
		now:       o.now,
		generate:  o.generate,
		log:       o.log,
	}
}

// CreateAddressInput 定义创建地址所需的输入。
type CreateAddressInput struct {
	OwnerID  *string // 游客模式为 nil
	Email    string  // 可为空、本地部分或完整地址
	DomainID string
}

// Create 创建新的临时地址。
//
// Email 为空时生成随机本地部分，冲突后重试，次数用尽返回 domain.ErrAddressExhausted。
// 指定的本地部分与存活地址冲突时返回 domain.ErrAddressTaken。
func (s *AddressService) Create(ctx context.Context, input CreateAddressInput) (*domain.TemporaryAddress, error) {
	d, err := s.domains.Get(ctx, input.DomainID)
	if errors.Is(err, domain.ErrDomainNotFound) {
		return nil, domain.ErrInvalidDomain
	}
	if err != nil {
		return nil, err
	}

	requested, err := s.resolveLocalPart(input.Email, d.Name)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if requested == "" {
		attempts = s.cfg.CreateRetries
	}

	for i := 0; i < attempts; i++ {
		localPart := requested
		if localPart == "" {
			localPart = s.generate(s.cfg.RandomLength)
		}

		now := s.now()
		addr := &domain.TemporaryAddress{
			ID:        uuid.NewString(),
			OwnerID:   input.OwnerID,
			Address:   domain.JoinAddress(localPart, d.Name),
			LocalPart: localPart,
			DomainID:  d.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.DefaultTTL),
		}

		err := s.repo.CreateAddress(ctx, addr, now)
		switch {
		case err == nil:
			s.log.Info("address created",
				zap.String("address_id", addr.ID),
				zap.String("address", addr.Address),
				zap.Time("expires_at", addr.ExpiresAt),
			)
			return addr, nil
		case errors.Is(err, domain.ErrDomainNotFound):
			return nil, domain.ErrInvalidDomain
		case !errors.Is(err, domain.ErrAddressTaken):
			return nil, domain.StorageFailure("create address", err)
		case requested != "":
			return nil, domain.ErrAddressTaken
		}
		s.log.Debug("random address collided, retrying", zap.String("address", addr.Address), zap.Int("attempt", i+1))
	}

	s.log.Warn("random address generation exhausted", zap.String("domain", d.Name), zap.Int("attempts", attempts))
	return nil, domain.ErrAddressExhausted
}

// Get 获取调用方拥有的未过期地址，不存在、已过期或不属于调用方均返回 domain.ErrAddressNotFound。
func (s *AddressService) Get(ctx context.Context, id string, ownerID *string) (*domain.TemporaryAddress, error) {
	addr, err := s.repo.GetAddress(ctx, id, s.now())
	if err != nil {
		return nil, domain.StorageFailure("get address", err)
	}
	if !addr.OwnedBy(ownerID) {
		return nil, domain.ErrAddressNotFound
	}
	return addr, nil
}

// List 列出调用方的存活地址，附带每个地址最新邮件的摘要。
func (s *AddressService) List(ctx context.Context, ownerID *string) ([]domain.AddressSummary, error) {
	addrs, err := s.repo.ListAddressesByOwner(ctx, ownerID, s.now())
	if err != nil {
		return nil, domain.StorageFailure("list addresses", err)
	}

	ids := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ids = append(ids, a.ID)
	}
	latest, err := s.repo.LatestMessages(ctx, ids)
	if err != nil {
		return nil, domain.StorageFailure("latest messages", err)
	}

	result := make([]domain.AddressSummary, 0, len(addrs))
	for _, a := range addrs {
		item := domain.AddressSummary{TemporaryAddress: a}
		if msg, ok := latest[a.ID]; ok {
			item.LatestMessage = msg.Summary()
		}
		result = append(result, item)
	}
	return result, nil
}

// Delete 删除地址并级联删除其邮件与附件。
func (s *AddressService) Delete(ctx context.Context, id string, ownerID *string) error {
	if _, err := s.Get(ctx, id, ownerID); err != nil {
		return err
	}
	if err := s.repo.DeleteAddress(ctx, id); err != nil {
		return domain.StorageFailure("delete address", err)
	}
	s.log.Info("address deleted", zap.String("address_id", id))
	return nil
}

// ResolveRecipient 根据完整地址查找可投递的地址。
func (s *AddressService) ResolveRecipient(ctx context.Context, email string) (*domain.TemporaryAddress, error) {
	localPart, domainName, err := domain.SplitAddress(email)
	if err != nil {
		return nil, domain.ErrAddressNotFound
	}
	addr, err := s.repo.GetAddressByEmail(ctx, domain.JoinAddress(localPart, domainName), s.now())
	if err != nil {
		return nil, domain.StorageFailure("get address by email", err)
	}
	return addr, nil
}

// IsExpired 判断地址在当前时钟下是否过期。
func (s *AddressService) IsExpired(addr *domain.TemporaryAddress) bool {
	return addr.IsExpired(s.now())
}

// ReapExpired 删除全部过期地址，返回删除数量。
func (s *AddressService) ReapExpired(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpiredAddresses(ctx, s.now())
	if err != nil {
		return 0, domain.StorageFailure("delete expired addresses", err)
	}
	return n, nil
}

// resolveLocalPart 解析请求中的地址，返回空字符串表示需要随机生成。
func (s *AddressService) resolveLocalPart(requested, domainName string) (string, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		return "", nil
	}

	localPart := requested
	if strings.Contains(requested, "@") {
		lp, dn, err := domain.SplitAddress(requested)
		if err != nil {
			return "", err
		}
		if dn != domainName {
			return "", domain.ErrInvalidDomain
		}
		localPart = lp
	}

	if err := s.validator.ValidateLocalPart(localPart); err != nil {
		return "", err
	}
	return localPart, nil
}
