package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tempmail/engine/internal/domain"
)

// Store 基于 GORM 的存储实现，支持 PostgreSQL 与 MySQL
type Store struct {
	db *gorm.DB
}

// PoolConfig 连接池参数
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, pool PoolConfig) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), pool)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, pool PoolConfig) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), pool)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolConfig) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Domain{},
		&domain.TemporaryAddress{},
		&domain.Message{},
		&domain.Attachment{},
		&domain.Notice{},
		&domain.NoticeDismissal{},
	)
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}

// ========== 域名 ==========

// SaveDomain 保存域名
func (s *Store) SaveDomain(ctx context.Context, d *domain.Domain) error {
	err := s.db.WithContext(ctx).Create(d).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDomainExists
	}
	return err
}

// GetDomain 根据 ID 获取域名
func (s *Store) GetDomain(ctx context.Context, id string) (*domain.Domain, error) {
	var d domain.Domain
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err, domain.ErrDomainNotFound)
	}
	return &d, nil
}

// GetDomainByName 根据名称获取域名
func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	var d domain.Domain
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&d).Error; err != nil {
		return nil, notFound(err, domain.ErrDomainNotFound)
	}
	return &d, nil
}

// ListDomains 按名称列出全部域名
func (s *Store) ListDomains(ctx context.Context) ([]domain.Domain, error) {
	list := make([]domain.Domain, 0)
	err := s.db.WithContext(ctx).Order("name ASC").Find(&list).Error
	return list, err
}

// DeleteDomain 删除域名，仍有存活地址时拒绝
func (s *Store) DeleteDomain(ctx context.Context, id string, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d domain.Domain
		if err := tx.Where("id = ?", id).First(&d).Error; err != nil {
			return notFound(err, domain.ErrDomainNotFound)
		}

		var live int64
		if err := tx.Model(&domain.TemporaryAddress{}).
			Where("domain_id = ? AND expires_at > ?", id, now.UTC()).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return domain.ErrDomainInUse
		}

		var expired []string
		if err := tx.Model(&domain.TemporaryAddress{}).Where("domain_id = ?", id).Pluck("id", &expired).Error; err != nil {
			return err
		}
		if err := deleteAddresses(tx, expired); err != nil {
			return err
		}
		return tx.Delete(&domain.Domain{}, "id = ?", id).Error
	})
}

// ========== 地址 ==========

// CreateAddress 创建地址，同名过期地址在同一事务内先被清理
func (s *Store) CreateAddress(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var domainCount int64
		if err := tx.Model(&domain.Domain{}).Where("id = ?", addr.DomainID).Count(&domainCount).Error; err != nil {
			return err
		}
		if domainCount == 0 {
			return domain.ErrDomainNotFound
		}

		var existing domain.TemporaryAddress
		err := tx.Where("address = ?", addr.Address).First(&existing).Error
		switch {
		case err == nil:
			if !existing.IsExpired(now) {
				return domain.ErrAddressTaken
			}
			if err := deleteAddresses(tx, []string{existing.ID}); err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(addr).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrAddressTaken
	}
	return err
}

// GetAddress 根据 ID 获取未过期的地址
func (s *Store) GetAddress(ctx context.Context, id string, now time.Time) (*domain.TemporaryAddress, error) {
	var addr domain.TemporaryAddress
	err := s.db.WithContext(ctx).Where("id = ? AND expires_at > ?", id, now.UTC()).First(&addr).Error
	if err != nil {
		return nil, notFound(err, domain.ErrAddressNotFound)
	}
	return &addr, nil
}

// GetAddressByEmail 根据完整地址获取未过期的地址
func (s *Store) GetAddressByEmail(ctx context.Context, email string, now time.Time) (*domain.TemporaryAddress, error) {
	var addr domain.TemporaryAddress
	err := s.db.WithContext(ctx).Where("address = ? AND expires_at > ?", email, now.UTC()).First(&addr).Error
	if err != nil {
		return nil, notFound(err, domain.ErrAddressNotFound)
	}
	return &addr, nil
}

// ListAddressesByOwner 列出所有者的存活地址
func (s *Store) ListAddressesByOwner(ctx context.Context, ownerID *string, now time.Time) ([]domain.TemporaryAddress, error) {
	q := s.db.WithContext(ctx).Where("expires_at > ?", now.UTC())
	if ownerID == nil {
		q = q.Where("owner_id IS NULL")
	} else {
		q = q.Where("owner_id = ?", *ownerID)
	}
	list := make([]domain.TemporaryAddress, 0)
	err := q.Order("created_at DESC").Order("id DESC").Find(&list).Error
	return list, err
}

// DeleteAddress 删除地址并级联删除邮件与附件
func (s *Store) DeleteAddress(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.TemporaryAddress{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrAddressNotFound
		}
		return deleteAddresses(tx, []string{id})
	})
}

// DeleteExpiredAddresses 删除所有过期地址
func (s *Store) DeleteExpiredAddresses(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&domain.TemporaryAddress{}).Where("expires_at <= ?", now.UTC()).Pluck("id", &ids).Error; err != nil {
			return err
		}
		count = len(ids)
		return deleteAddresses(tx, ids)
	})
	return count, err
}

func deleteAddresses(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	msgIDs := tx.Model(&domain.Message{}).Select("id").Where("address_id IN ?", ids)
	if err := tx.Where("message_id IN (?)", msgIDs).Delete(&domain.Attachment{}).Error; err != nil {
		return err
	}
	if err := tx.Where("address_id IN ?", ids).Delete(&domain.Message{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&domain.TemporaryAddress{}).Error
}

// ========== 邮件 ==========

// SaveMessage 在同一事务内写入邮件与附件
func (s *Store) SaveMessage(ctx context.Context, msg *domain.Message, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var live int64
		if err := tx.Model(&domain.TemporaryAddress{}).
			Where("id = ? AND expires_at > ?", msg.AddressID, now.UTC()).
			Count(&live).Error; err != nil {
			return err
		}
		if live == 0 {
			return domain.ErrAddressNotFound
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		for _, att := range msg.Attachments {
			att.MessageID = msg.ID
			if err := tx.Create(att).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMessages 按接收时间倒序列出邮件
func (s *Store) ListMessages(ctx context.Context, addressID string, filter domain.MessageFilter) ([]domain.Message, error) {
	q := s.db.WithContext(ctx).Where("address_id = ?", addressID)
	if !filter.IncludeArchived {
		q = q.Where("archived = ?", false)
	}
	if !filter.IncludeSpam {
		q = q.Where("spam = ?", false)
	}
	msgs := make([]domain.Message, 0)
	if err := q.Order("received_at DESC").Order("id DESC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	if err := s.attachMeta(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) attachMeta(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		ids = append(ids, m.ID)
		index[m.ID] = i
	}
	var atts []domain.Attachment
	if err := s.db.WithContext(ctx).
		Select("id", "message_id", "filename", "content_type", "size_bytes").
		Where("message_id IN ?", ids).
		Order("id").
		Find(&atts).Error; err != nil {
		return err
	}
	for i := range atts {
		att := atts[i]
		pos := index[att.MessageID]
		msgs[pos].Attachments = append(msgs[pos].Attachments, &att)
	}
	return nil
}

// GetMessage 获取单封邮件
func (s *Store) GetMessage(ctx context.Context, addressID, messageID string) (*domain.Message, error) {
	var msg domain.Message
	if err := s.db.WithContext(ctx).Where("id = ? AND address_id = ?", messageID, addressID).First(&msg).Error; err != nil {
		return nil, notFound(err, domain.ErrMessageNotFound)
	}
	msgs := []domain.Message{msg}
	if err := s.attachMeta(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// LatestMessages 返回每个地址最新的一封邮件
func (s *Store) LatestMessages(ctx context.Context, addressIDs []string) (map[string]domain.Message, error) {
	result := make(map[string]domain.Message, len(addressIDs))
	if len(addressIDs) == 0 {
		return result, nil
	}
	var msgs []domain.Message
	if err := s.db.WithContext(ctx).
		Where("address_id IN ?", addressIDs).
		Order("received_at DESC").Order("id DESC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if _, seen := result[m.AddressID]; !seen {
			result[m.AddressID] = m
		}
	}
	return result, nil
}

// SetMessageFlag 设置邮件标记
func (s *Store) SetMessageFlag(ctx context.Context, addressID, messageID string, flag domain.Flag, value bool) error {
	if !flag.Valid() {
		return domain.ErrInvalidFlag
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireMessage(tx, addressID, messageID); err != nil {
			return err
		}
		return tx.Model(&domain.Message{}).
			Where("id = ? AND address_id = ?", messageID, addressID).
			Update(flag.Column(), value).Error
	})
}

func requireMessage(tx *gorm.DB, addressID, messageID string) error {
	var n int64
	if err := tx.Model(&domain.Message{}).Where("id = ? AND address_id = ?", messageID, addressID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// DeleteMessage 删除邮件及其附件
func (s *Store) DeleteMessage(ctx context.Context, addressID, messageID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireMessage(tx, addressID, messageID); err != nil {
			return err
		}
		return deleteMessages(tx, []string{messageID})
	})
}

func deleteMessages(tx *gorm.DB, ids []string) error {
	if err := tx.Where("message_id IN ?", ids).Delete(&domain.Attachment{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&domain.Message{}).Error
}

// BulkApply 在单个事务内批量操作，只处理属于该地址的邮件
func (s *Store) BulkApply(ctx context.Context, addressID string, ids []string, action domain.BulkAction) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var affected int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owned []string
		if err := tx.Model(&domain.Message{}).
			Where("address_id = ? AND id IN ?", addressID, ids).
			Pluck("id", &owned).Error; err != nil {
			return err
		}
		affected = len(owned)
		if affected == 0 {
			return nil
		}
		if action == domain.BulkDelete {
			return deleteMessages(tx, owned)
		}
		return tx.Model(&domain.Message{}).Where("id IN ?", owned).Update(action.Flag().Column(), true).Error
	})
	return affected, err
}

// GetAttachment 获取附件内容
func (s *Store) GetAttachment(ctx context.Context, addressID, messageID, attachmentID string) (*domain.Attachment, error) {
	var att domain.Attachment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireMessage(tx, addressID, messageID); err != nil {
			return err
		}
		err := tx.Where("id = ? AND message_id = ?", attachmentID, messageID).First(&att).Error
		return notFound(err, domain.ErrAttachmentNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &att, nil
}

// ========== 公告 ==========

// SaveNotice 保存公告
func (s *Store) SaveNotice(ctx context.Context, n *domain.Notice) error {
	// Select("*") 保证 Active=false 也被写入而不是取列默认值
	return s.db.WithContext(ctx).Select("*").Create(n).Error
}

// GetNotice 获取公告
func (s *Store) GetNotice(ctx context.Context, id string) (*domain.Notice, error) {
	var n domain.Notice
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, notFound(err, domain.ErrNoticeNotFound)
	}
	return &n, nil
}

// ListNotices 列出全部公告
func (s *Store) ListNotices(ctx context.Context) ([]domain.Notice, error) {
	list := make([]domain.Notice, 0)
	err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&list).Error
	return list, err
}

// ListVisibleNotices 列出启用且用户未关闭的公告
func (s *Store) ListVisibleNotices(ctx context.Context, userID string) ([]domain.Notice, error) {
	dismissed := s.db.Model(&domain.NoticeDismissal{}).Select("notice_id").Where("user_id = ?", userID)
	list := make([]domain.Notice, 0)
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Where("id NOT IN (?)", dismissed).
		Order("created_at DESC").Order("id DESC").
		Find(&list).Error
	return list, err
}

// SetNoticeActive 启用或停用公告
func (s *Store) SetNoticeActive(ctx context.Context, id string, active bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Notice{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNoticeNotFound
		}
		return tx.Model(&domain.Notice{}).Where("id = ?", id).Update("active", active).Error
	})
}

// DismissNotice 记录关闭，已存在时保持原记录
func (s *Store) DismissNotice(ctx context.Context, d *domain.NoticeDismissal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Notice{}).Where("id = ?", d.NoticeID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNoticeNotFound
		}
		err := tx.Where(domain.NoticeDismissal{UserID: d.UserID, NoticeID: d.NoticeID}).
			Attrs(domain.NoticeDismissal{DismissedAt: d.DismissedAt}).
			FirstOrCreate(&domain.NoticeDismissal{}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return err
	})
}

// ListDismissals 列出用户的关闭记录
func (s *Store) ListDismissals(ctx context.Context, userID string) ([]domain.NoticeDismissal, error) {
	list := make([]domain.NoticeDismissal, 0)
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("notice_id").Find(&list).Error
	return list, err
}
