package sql

import (
	"context"
	dbsql "database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // SQLite driver

	"tempmail/engine/internal/domain"
)

// Store 基于 sqlx 的存储实现，支持 PostgreSQL、MySQL 5.7+ 与 SQLite。
// 级联删除与批量操作都在单个事务内完成。
type Store struct {
	db      *sqlx.DB
	dialect string
}

// NewStore 打开数据库、设置连接池并执行迁移
//
// driverName 取值 "postgres"、"mysql" 或 "sqlite"。
func NewStore(driverName, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Store, error) {
	if _, ok := dialects[driverName]; !ok {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driverName)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == "sqlite" {
		// 单连接避免内存库在连接间不共享以及写锁冲突
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
		db.SetConnMaxLifetime(connMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := Migrate(context.Background(), db, driverName); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db, dialect: driverName}, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB 暴露底层连接，供迁移工具使用
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isUniqueViolation 判断是否为唯一约束冲突
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func utc(t time.Time) time.Time { return t.UTC() }

// ========== 域名 ==========

// SaveDomain 保存域名
func (s *Store) SaveDomain(ctx context.Context, d *domain.Domain) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO domains (id, name, created_at) VALUES (?, ?, ?)`),
		d.ID, d.Name, utc(d.CreatedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return domain.ErrDomainExists
	}
	return err
}

// GetDomain 根据ID获取域名
func (s *Store) GetDomain(ctx context.Context, id string) (*domain.Domain, error) {
	return s.getDomain(ctx, s.db, `SELECT id, name, created_at FROM domains WHERE id = ?`, id)
}

// GetDomainByName 根据名称获取域名
func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	return s.getDomain(ctx, s.db, `SELECT id, name, created_at FROM domains WHERE name = ?`, name)
}

func (s *Store) getDomain(ctx context.Context, q sqlx.QueryerContext, query string, arg string) (*domain.Domain, error) {
	var d domain.Domain
	err := sqlx.GetContext(ctx, q, &d, s.db.Rebind(query), arg)
	if errors.Is(err, dbsql.ErrNoRows) {
		return nil, domain.ErrDomainNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDomains 按名称列出全部域名
func (s *Store) ListDomains(ctx context.Context) ([]domain.Domain, error) {
	list := make([]domain.Domain, 0)
	err := s.db.SelectContext(ctx, &list, `SELECT id, name, created_at FROM domains ORDER BY name ASC`)
	return list, err
}

// DeleteDomain 删除域名，先清理过期地址，仍有存活地址时拒绝
func (s *Store) DeleteDomain(ctx context.Context, id string, now time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.getDomain(ctx, tx, `SELECT id, name, created_at FROM domains WHERE id = ?`, id); err != nil {
			return err
		}

		var live int
		if err := tx.GetContext(ctx, &live,
			tx.Rebind(`SELECT COUNT(*) FROM temp_addresses WHERE domain_id = ? AND expires_at > ?`),
			id, utc(now),
		); err != nil {
			return err
		}
		if live > 0 {
			return domain.ErrDomainInUse
		}

		var expired []string
		if err := tx.SelectContext(ctx, &expired,
			tx.Rebind(`SELECT id FROM temp_addresses WHERE domain_id = ?`), id,
		); err != nil {
			return err
		}
		if err := deleteAddressesTx(ctx, tx, expired); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM domains WHERE id = ?`), id)
		return err
	})
}

// ========== 地址 ==========

const addressColumns = `id, owner_id, address, local_part, domain_id, created_at, expires_at`

// CreateAddress 创建地址，同名过期地址在同一事务内先被清理
func (s *Store) CreateAddress(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var domainCount int
		if err := tx.GetContext(ctx, &domainCount,
			tx.Rebind(`SELECT COUNT(*) FROM domains WHERE id = ?`), addr.DomainID,
		); err != nil {
			return err
		}
		if domainCount == 0 {
			return domain.ErrDomainNotFound
		}

		var existing domain.TemporaryAddress
		err := tx.GetContext(ctx, &existing,
			tx.Rebind(`SELECT `+addressColumns+` FROM temp_addresses WHERE address = ?`), addr.Address,
		)
		switch {
		case err == nil:
			if !existing.IsExpired(now) {
				return domain.ErrAddressTaken
			}
			if err := deleteAddressesTx(ctx, tx, []string{existing.ID}); err != nil {
				return err
			}
		case !errors.Is(err, dbsql.ErrNoRows):
			return err
		}

		_, err = tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO temp_addresses (`+addressColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			addr.ID, addr.OwnerID, addr.Address, addr.LocalPart, addr.DomainID, utc(addr.CreatedAt), utc(addr.ExpiresAt),
		)
		return err
	})
	if err != nil && isUniqueViolation(err) {
		return domain.ErrAddressTaken
	}
	return err
}

// GetAddress 根据ID获取未过期的地址
func (s *Store) GetAddress(ctx context.Context, id string, now time.Time) (*domain.TemporaryAddress, error) {
	return s.getLiveAddress(ctx, `SELECT `+addressColumns+` FROM temp_addresses WHERE id = ? AND expires_at > ?`, id, now)
}

// GetAddressByEmail 根据完整地址获取未过期的地址
func (s *Store) GetAddressByEmail(ctx context.Context, email string, now time.Time) (*domain.TemporaryAddress, error) {
	return s.getLiveAddress(ctx, `SELECT `+addressColumns+` FROM temp_addresses WHERE address = ? AND expires_at > ?`, email, now)
}

func (s *Store) getLiveAddress(ctx context.Context, query, key string, now time.Time) (*domain.TemporaryAddress, error) {
	var addr domain.TemporaryAddress
	err := s.db.GetContext(ctx, &addr, s.db.Rebind(query), key, utc(now))
	if errors.Is(err, dbsql.ErrNoRows) {
		return nil, domain.ErrAddressNotFound
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// ListAddressesByOwner 列出所有者的存活地址，ownerID 为 nil 时列出匿名地址
func (s *Store) ListAddressesByOwner(ctx context.Context, ownerID *string, now time.Time) ([]domain.TemporaryAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM temp_addresses WHERE expires_at > ? AND `
	args := []interface{}{utc(now)}
	if ownerID == nil {
		query += `owner_id IS NULL`
	} else {
		query += `owner_id = ?`
		args = append(args, *ownerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	list := make([]domain.TemporaryAddress, 0)
	err := s.db.SelectContext(ctx, &list, s.db.Rebind(query), args...)
	return list, err
}

// DeleteAddress 删除地址并级联删除邮件与附件
func (s *Store) DeleteAddress(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM temp_addresses WHERE id = ?`), id); err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrAddressNotFound
		}
		return deleteAddressesTx(ctx, tx, []string{id})
	})
}

// DeleteExpiredAddresses 删除所有过期地址
func (s *Store) DeleteExpiredAddresses(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var ids []string
		if err := tx.SelectContext(ctx, &ids,
			tx.Rebind(`SELECT id FROM temp_addresses WHERE expires_at <= ?`), utc(now),
		); err != nil {
			return err
		}
		count = len(ids)
		return deleteAddressesTx(ctx, tx, ids)
	})
	return count, err
}

// deleteAddressesTx 删除地址及其邮件、附件
func deleteAddressesTx(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	steps := []string{
		`DELETE FROM attachments WHERE message_id IN (SELECT id FROM received_emails WHERE address_id IN (?))`,
		`DELETE FROM received_emails WHERE address_id IN (?)`,
		`DELETE FROM temp_addresses WHERE id IN (?)`,
	}
	for _, step := range steps {
		query, args, err := sqlx.In(step, ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return err
		}
	}
	return nil
}

// ========== 邮件 ==========

const messageColumns = `id, address_id, from_address, from_name, subject, body_html, body_text, received_at, starred, archived, spam`

const attachmentMetaColumns = `id, message_id, filename, content_type, size_bytes`

// SaveMessage 在同一事务内写入邮件与附件
func (s *Store) SaveMessage(ctx context.Context, msg *domain.Message, now time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var live int
		if err := tx.GetContext(ctx, &live,
			tx.Rebind(`SELECT COUNT(*) FROM temp_addresses WHERE id = ? AND expires_at > ?`),
			msg.AddressID, utc(now),
		); err != nil {
			return err
		}
		if live == 0 {
			return domain.ErrAddressNotFound
		}

		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO received_emails (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			msg.ID, msg.AddressID, msg.FromAddress, msg.FromDisplayName, msg.Subject, msg.BodyHTML, msg.BodyText,
			utc(msg.ReceivedAt), msg.Starred, msg.Archived, msg.Spam,
		); err != nil {
			return err
		}

		for _, att := range msg.Attachments {
			if _, err := tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO attachments (id, message_id, filename, content_type, size_bytes, content) VALUES (?, ?, ?, ?, ?, ?)`),
				att.ID, msg.ID, att.Filename, att.ContentType, att.SizeBytes, att.Content,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMessages 按接收时间倒序列出邮件，附件只含元数据
func (s *Store) ListMessages(ctx context.Context, addressID string, filter domain.MessageFilter) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM received_emails WHERE address_id = ?`
	if !filter.IncludeArchived {
		query += ` AND archived = ?`
	}
	if !filter.IncludeSpam {
		query += ` AND spam = ?`
	}
	query += ` ORDER BY received_at DESC, id DESC`

	args := []interface{}{addressID}
	if !filter.IncludeArchived {
		args = append(args, false)
	}
	if !filter.IncludeSpam {
		args = append(args, false)
	}

	msgs := make([]domain.Message, 0)
	if err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(query), args...); err != nil {
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

	query, args, err := sqlx.In(`SELECT `+attachmentMetaColumns+` FROM attachments WHERE message_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	var atts []domain.Attachment
	if err := s.db.SelectContext(ctx, &atts, s.db.Rebind(query), args...); err != nil {
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
	err := s.db.GetContext(ctx, &msg,
		s.db.Rebind(`SELECT `+messageColumns+` FROM received_emails WHERE id = ? AND address_id = ?`),
		messageID, addressID,
	)
	if errors.Is(err, dbsql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
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
	query, args, err := sqlx.In(
		`SELECT `+messageColumns+` FROM received_emails WHERE address_id IN (?) ORDER BY received_at DESC, id DESC`,
		addressIDs,
	)
	if err != nil {
		return nil, err
	}
	var msgs []domain.Message
	if err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(query), args...); err != nil {
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
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := requireMessageTx(ctx, tx, addressID, messageID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE received_emails SET `+flag.Column()+` = ? WHERE id = ? AND address_id = ?`),
			value, messageID, addressID,
		)
		return err
	})
}

func requireMessageTx(ctx context.Context, tx *sqlx.Tx, addressID, messageID string) error {
	var n int
	if err := tx.GetContext(ctx, &n,
		tx.Rebind(`SELECT COUNT(*) FROM received_emails WHERE id = ? AND address_id = ?`),
		messageID, addressID,
	); err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// DeleteMessage 删除邮件及其附件
func (s *Store) DeleteMessage(ctx context.Context, addressID, messageID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := requireMessageTx(ctx, tx, addressID, messageID); err != nil {
			return err
		}
		return deleteMessagesTx(ctx, tx, []string{messageID})
	})
}

func deleteMessagesTx(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	for _, step := range []string{
		`DELETE FROM attachments WHERE message_id IN (?)`,
		`DELETE FROM received_emails WHERE id IN (?)`,
	} {
		query, args, err := sqlx.In(step, ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return err
		}
	}
	return nil
}

// BulkApply 在单个事务内批量操作，只处理属于该地址的邮件
func (s *Store) BulkApply(ctx context.Context, addressID string, ids []string, action domain.BulkAction) (int, error) {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return 0, nil
	}

	var affected int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(`SELECT id FROM received_emails WHERE address_id = ? AND id IN (?)`, addressID, unique)
		if err != nil {
			return err
		}
		var owned []string
		if err := tx.SelectContext(ctx, &owned, tx.Rebind(query), args...); err != nil {
			return err
		}
		affected = len(owned)
		if affected == 0 {
			return nil
		}

		if action == domain.BulkDelete {
			return deleteMessagesTx(ctx, tx, owned)
		}
		query, args, err = sqlx.In(`UPDATE received_emails SET `+action.Flag().Column()+` = ? WHERE id IN (?)`, true, owned)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
		return err
	})
	return affected, err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GetAttachment 获取附件内容
func (s *Store) GetAttachment(ctx context.Context, addressID, messageID, attachmentID string) (*domain.Attachment, error) {
	var att domain.Attachment
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := requireMessageTx(ctx, tx, addressID, messageID); err != nil {
			return err
		}
		err := tx.GetContext(ctx, &att,
			tx.Rebind(`SELECT `+attachmentMetaColumns+`, content FROM attachments WHERE id = ? AND message_id = ?`),
			attachmentID, messageID,
		)
		if errors.Is(err, dbsql.ErrNoRows) {
			return domain.ErrAttachmentNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &att, nil
}

// ========== 公告 ==========

const noticeColumns = `id, content, severity, active, created_at, created_by`

// SaveNotice 保存公告
func (s *Store) SaveNotice(ctx context.Context, n *domain.Notice) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO notices (`+noticeColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		n.ID, n.Content, string(n.Severity), n.Active, utc(n.CreatedAt), n.CreatedBy,
	)
	return err
}

// GetNotice 获取公告
func (s *Store) GetNotice(ctx context.Context, id string) (*domain.Notice, error) {
	var n domain.Notice
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT `+noticeColumns+` FROM notices WHERE id = ?`), id)
	if errors.Is(err, dbsql.ErrNoRows) {
		return nil, domain.ErrNoticeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNotices 列出全部公告
func (s *Store) ListNotices(ctx context.Context) ([]domain.Notice, error) {
	list := make([]domain.Notice, 0)
	err := s.db.SelectContext(ctx, &list, `SELECT `+noticeColumns+` FROM notices ORDER BY created_at DESC, id DESC`)
	return list, err
}

// ListVisibleNotices 列出启用且用户未关闭的公告
func (s *Store) ListVisibleNotices(ctx context.Context, userID string) ([]domain.Notice, error) {
	list := make([]domain.Notice, 0)
	err := s.db.SelectContext(ctx, &list, s.db.Rebind(`
		SELECT `+noticeColumns+` FROM notices
		WHERE active = ? AND id NOT IN (SELECT notice_id FROM notice_dismissals WHERE user_id = ?)
		ORDER BY created_at DESC, id DESC`),
		true, userID,
	)
	return list, err
}

// SetNoticeActive 启用或停用公告
func (s *Store) SetNoticeActive(ctx context.Context, id string, active bool) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM notices WHERE id = ?`), id); err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNoticeNotFound
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE notices SET active = ? WHERE id = ?`), active, id)
		return err
	})
}

// DismissNotice 记录关闭，已存在时保持原记录
func (s *Store) DismissNotice(ctx context.Context, d *domain.NoticeDismissal) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM notices WHERE id = ?`), d.NoticeID); err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNoticeNotFound
		}
		if err := tx.GetContext(ctx, &n,
			tx.Rebind(`SELECT COUNT(*) FROM notice_dismissals WHERE user_id = ? AND notice_id = ?`),
			d.UserID, d.NoticeID,
		); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO notice_dismissals (user_id, notice_id, dismissed_at) VALUES (?, ?, ?)`),
			d.UserID, d.NoticeID, utc(d.DismissedAt),
		)
		if err != nil && isUniqueViolation(err) {
			return nil
		}
		return err
	})
}

// ListDismissals 列出用户的关闭记录
func (s *Store) ListDismissals(ctx context.Context, userID string) ([]domain.NoticeDismissal, error) {
	list := make([]domain.NoticeDismissal, 0)
	err := s.db.SelectContext(ctx, &list,
		s.db.Rebind(`SELECT user_id, notice_id, dismissed_at FROM notice_dismissals WHERE user_id = ? ORDER BY notice_id`),
		userID,
	)
	return list, err
}
