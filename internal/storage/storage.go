package storage

import (
	"context"
	"time"

	"tempmail/engine/internal/domain"
)

// DomainRepository 定义域名数据存取操作。
type DomainRepository interface {
	SaveDomain(ctx context.Context, d *domain.Domain) error // 名称重复返回 domain.ErrDomainExists
	GetDomain(ctx context.Context, id string) (*domain.Domain, error)
	GetDomainByName(ctx context.Context, name string) (*domain.Domain, error)
	ListDomains(ctx context.Context) ([]domain.Domain, error) // 按名称排序
	// DeleteDomain 删除域名。先清理该域名下已过期的地址，仍有存活地址时返回 domain.ErrDomainInUse。
	DeleteDomain(ctx context.Context, id string, now time.Time) error
}

// AddressRepository 定义临时地址数据存取操作。
// now 参数用于判断过期，存储层自身不读取系统时间。
type AddressRepository interface {
	// CreateAddress 在同一原子单元内清理同名的过期地址后插入，存活地址冲突返回 domain.ErrAddressTaken。
	CreateAddress(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) error
	GetAddress(ctx context.Context, id string, now time.Time) (*domain.TemporaryAddress, error)
	GetAddressByEmail(ctx context.Context, email string, now time.Time) (*domain.TemporaryAddress, error)
	ListAddressesByOwner(ctx context.Context, ownerID *string, now time.Time) ([]domain.TemporaryAddress, error) // 按创建时间倒序
	DeleteAddress(ctx context.Context, id string) error                                                          // 级联删除邮件与附件
	DeleteExpiredAddresses(ctx context.Context, now time.Time) (int, error)                                      // 返回删除数量
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// SaveMessage 与附件一起原子写入，地址不存在或已过期返回 domain.ErrAddressNotFound。
	SaveMessage(ctx context.Context, msg *domain.Message, now time.Time) error
	ListMessages(ctx context.Context, addressID string, filter domain.MessageFilter) ([]domain.Message, error) // 按接收时间倒序，附件不含内容
	GetMessage(ctx context.Context, addressID, messageID string) (*domain.Message, error)
	LatestMessages(ctx context.Context, addressIDs []string) (map[string]domain.Message, error)
	SetMessageFlag(ctx context.Context, addressID, messageID string, flag domain.Flag, value bool) error
	DeleteMessage(ctx context.Context, addressID, messageID string) error
	// BulkApply 在单个原子单元内执行，忽略不属于该地址的 ID，返回实际影响数量。
	BulkApply(ctx context.Context, addressID string, ids []string, action domain.BulkAction) (int, error)
	GetAttachment(ctx context.Context, addressID, messageID, attachmentID string) (*domain.Attachment, error)
}

// NoticeRepository 定义公告数据存取操作。
type NoticeRepository interface {
	SaveNotice(ctx context.Context, n *domain.Notice) error
	GetNotice(ctx context.Context, id string) (*domain.Notice, error)
	ListNotices(ctx context.Context) ([]domain.Notice, error)                            // 全部公告，按创建时间倒序
	ListVisibleNotices(ctx context.Context, userID string) ([]domain.Notice, error)      // 启用且用户未关闭
	SetNoticeActive(ctx context.Context, id string, active bool) error
	DismissNotice(ctx context.Context, dismissal *domain.NoticeDismissal) error // 重复关闭不产生新记录
	ListDismissals(ctx context.Context, userID string) ([]domain.NoticeDismissal, error)
}

// Store 聚合所有存储接口。
type Store interface {
	DomainRepository
	AddressRepository
	MessageRepository
	NoticeRepository

	Health(ctx context.Context) error
	Close() error
}
