package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tempmail/engine/internal/domain"
)

// Store 使用内存保存域名、地址、邮件与公告，用于开发验证与测试。
// 所有级联与批量操作都在同一把锁内完成。
type Store struct {
	mu sync.RWMutex

	domains      map[string]*domain.Domain
	domainByName map[string]string

	addresses map[string]*domain.TemporaryAddress
	byAddress map[string]string // 完整地址 -> 地址ID

	messages    map[string]map[string]*domain.Message // addressID -> messageID -> message
	attachments map[string][]*domain.Attachment       // messageID -> attachments

	notices    map[string]*domain.Notice
	dismissals map[string]map[string]*domain.NoticeDismissal // userID -> noticeID -> dismissal
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		domains:      make(map[string]*domain.Domain),
		domainByName: make(map[string]string),
		addresses:    make(map[string]*domain.TemporaryAddress),
		byAddress:    make(map[string]string),
		messages:     make(map[string]map[string]*domain.Message),
		attachments:  make(map[string][]*domain.Attachment),
		notices:      make(map[string]*domain.Notice),
		dismissals:   make(map[string]map[string]*domain.NoticeDismissal),
	}
}

// Health 内存存储始终可用
func (s *Store) Health(context.Context) error { return nil }

// Close 内存存储无需释放资源
func (s *Store) Close() error { return nil }

// ========== 域名 ==========

// SaveDomain 保存域名。
func (s *Store) SaveDomain(_ context.Context, d *domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.domainByName[d.Name]; ok && id != d.ID {
		return domain.ErrDomainExists
	}
	cp := *d
	s.domains[d.ID] = &cp
	s.domainByName[d.Name] = d.ID
	return nil
}

// GetDomain 根据 ID 获取域名。
func (s *Store) GetDomain(_ context.Context, id string) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains[id]
	if !ok {
		return nil, domain.ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

// GetDomainByName 根据名称获取域名。
func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	s.mu.RLock()
	id, ok := s.domainByName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrDomainNotFound
	}
	return s.GetDomain(ctx, id)
}

// ListDomains 按名称返回全部域名。
func (s *Store) ListDomains(context.Context) ([]domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// DeleteDomain 删除域名，仍被存活地址引用时拒绝。
func (s *Store) DeleteDomain(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok {
		return domain.ErrDomainNotFound
	}

	var expired []string
	for addrID, addr := range s.addresses {
		if addr.DomainID != id {
			continue
		}
		if !addr.IsExpired(now) {
			return domain.ErrDomainInUse
		}
		expired = append(expired, addrID)
	}
	for _, addrID := range expired {
		s.deleteAddressLocked(addrID)
	}

	delete(s.domainByName, d.Name)
	delete(s.domains, id)
	return nil
}

// ========== 地址 ==========

// CreateAddress 创建地址，同名过期地址会先被清理。
func (s *Store) CreateAddress(_ context.Context, addr *domain.TemporaryAddress, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[addr.DomainID]; !ok {
		return domain.ErrDomainNotFound
	}
	if existingID, ok := s.byAddress[addr.Address]; ok {
		if !s.addresses[existingID].IsExpired(now) {
			return domain.ErrAddressTaken
		}
		s.deleteAddressLocked(existingID)
	}

	cp := *addr
	s.addresses[addr.ID] = &cp
	s.byAddress[addr.Address] = addr.ID
	return nil
}

// GetAddress 根据 ID 获取未过期的地址。
func (s *Store) GetAddress(_ context.Context, id string, now time.Time) (*domain.TemporaryAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.addresses[id]
	if !ok || addr.IsExpired(now) {
		return nil, domain.ErrAddressNotFound
	}
	cp := *addr
	return &cp, nil
}

// GetAddressByEmail 根据完整地址获取未过期的地址。
func (s *Store) GetAddressByEmail(ctx context.Context, email string, now time.Time) (*domain.TemporaryAddress, error) {
	s.mu.RLock()
	id, ok := s.byAddress[email]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrAddressNotFound
	}
	return s.GetAddress(ctx, id, now)
}

// ListAddressesByOwner 列出所有者的存活地址。
func (s *Store) ListAddressesByOwner(_ context.Context, ownerID *string, now time.Time) ([]domain.TemporaryAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.TemporaryAddress, 0)
	for _, addr := range s.addresses {
		if addr.IsExpired(now) || !addr.OwnedBy(ownerID) {
			continue
		}
		result = append(result, *addr)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteAddress 删除地址并级联删除邮件与附件。
func (s *Store) DeleteAddress(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.addresses[id]; !ok {
		return domain.ErrAddressNotFound
	}
	s.deleteAddressLocked(id)
	return nil
}

// DeleteExpiredAddresses 删除所有过期地址，返回删除数量。
func (s *Store) DeleteExpiredAddresses(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, addr := range s.addresses {
		if addr.IsExpired(now) {
			s.deleteAddressLocked(id)
			count++
		}
	}
	return count, nil
}

func (s *Store) deleteAddressLocked(id string) {
	addr, ok := s.addresses[id]
	if !ok {
		return
	}
	for msgID := range s.messages[id] {
		delete(s.attachments, msgID)
	}
	delete(s.messages, id)
	delete(s.byAddress, addr.Address)
	delete(s.addresses, id)
}

// ========== 邮件 ==========

// SaveMessage 保存邮件及其附件。
func (s *Store) SaveMessage(_ context.Context, msg *domain.Message, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.addresses[msg.AddressID]
	if !ok || addr.IsExpired(now) {
		return domain.ErrAddressNotFound
	}

	stored := *msg
	atts := make([]*domain.Attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		cp := *att
		cp.MessageID = msg.ID
		atts = append(atts, &cp)
	}
	stored.Attachments = nil

	if s.messages[msg.AddressID] == nil {
		s.messages[msg.AddressID] = make(map[string]*domain.Message)
	}
	s.messages[msg.AddressID][msg.ID] = &stored
	s.attachments[msg.ID] = atts
	return nil
}

// ListMessages 按接收时间倒序列出邮件。
func (s *Store) ListMessages(_ context.Context, addressID string, filter domain.MessageFilter) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0, len(s.messages[addressID]))
	for _, msg := range s.messages[addressID] {
		if !filter.Visible(msg) {
			continue
		}
		result = append(result, s.withAttachmentMetaLocked(msg))
	}
	sortMessages(result)
	return result, nil
}

// GetMessage 获取单封邮件。
func (s *Store) GetMessage(_ context.Context, addressID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[addressID][messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := s.withAttachmentMetaLocked(msg)
	return &cp, nil
}

// LatestMessages 返回每个地址最新的一封邮件（不区分标记）。
func (s *Store) LatestMessages(_ context.Context, addressIDs []string) (map[string]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Message)
	for _, addressID := range addressIDs {
		var latest *domain.Message
		for _, msg := range s.messages[addressID] {
			if latest == nil || newerThan(msg, latest) {
				latest = msg
			}
		}
		if latest != nil {
			result[addressID] = *latest
		}
	}
	return result, nil
}

// SetMessageFlag 设置邮件标记。
func (s *Store) SetMessageFlag(_ context.Context, addressID, messageID string, flag domain.Flag, value bool) error {
	if !flag.Valid() {
		return domain.ErrInvalidFlag
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[addressID][messageID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	flag.Apply(msg, value)
	return nil
}

// DeleteMessage 删除邮件及其附件。
func (s *Store) DeleteMessage(_ context.Context, addressID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[addressID][messageID]; !ok {
		return domain.ErrMessageNotFound
	}
	delete(s.messages[addressID], messageID)
	delete(s.attachments, messageID)
	return nil
}

// BulkApply 批量操作，忽略不属于该地址的 ID。
func (s *Store) BulkApply(_ context.Context, addressID string, ids []string, action domain.BulkAction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[addressID]
	affected := 0
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		msg, ok := msgs[id]
		if !ok {
			continue
		}
		if action == domain.BulkDelete {
			delete(msgs, id)
			delete(s.attachments, id)
		} else {
			action.Flag().Apply(msg, true)
		}
		affected++
	}
	return affected, nil
}

// GetAttachment 获取附件内容。
func (s *Store) GetAttachment(_ context.Context, addressID, messageID, attachmentID string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.messages[addressID][messageID]; !ok {
		return nil, domain.ErrMessageNotFound
	}
	for _, att := range s.attachments[messageID] {
		if att.ID == attachmentID {
			cp := *att
			cp.Content = append([]byte(nil), att.Content...)
			return &cp, nil
		}
	}
	return nil, domain.ErrAttachmentNotFound
}

// AttachmentCount 返回存储中的附件总数，测试用于验证级联删除。
func (s *Store) AttachmentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, atts := range s.attachments {
		n += len(atts)
	}
	return n
}

func (s *Store) withAttachmentMetaLocked(msg *domain.Message) domain.Message {
	cp := *msg
	atts := s.attachments[msg.ID]
	if len(atts) > 0 {
		cp.Attachments = make([]*domain.Attachment, 0, len(atts))
		for _, att := range atts {
			cp.Attachments = append(cp.Attachments, att.Meta())
		}
	}
	return cp
}

func newerThan(a, b *domain.Message) bool {
	if a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ID > b.ID
	}
	return a.ReceivedAt.After(b.ReceivedAt)
}

func sortMessages(msgs []domain.Message) {
	sort.Slice(msgs, func(i, j int) bool { return newerThan(&msgs[i], &msgs[j]) })
}

// ========== 公告 ==========

// SaveNotice 保存公告。
func (s *Store) SaveNotice(_ context.Context, n *domain.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *n
	s.notices[n.ID] = &cp
	return nil
}

// GetNotice 获取公告。
func (s *Store) GetNotice(_ context.Context, id string) (*domain.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notices[id]
	if !ok {
		return nil, domain.ErrNoticeNotFound
	}
	cp := *n
	return &cp, nil
}

// ListNotices 列出全部公告。
func (s *Store) ListNotices(context.Context) ([]domain.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectNoticesLocked(func(*domain.Notice) bool { return true }), nil
}

// ListVisibleNotices 列出启用且用户未关闭的公告。
func (s *Store) ListVisibleNotices(_ context.Context, userID string) ([]domain.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dismissed := s.dismissals[userID]
	return s.collectNoticesLocked(func(n *domain.Notice) bool {
		if !n.Active {
			return false
		}
		_, gone := dismissed[n.ID]
		return !gone
	}), nil
}

func (s *Store) collectNoticesLocked(keep func(*domain.Notice) bool) []domain.Notice {
	result := make([]domain.Notice, 0, len(s.notices))
	for _, n := range s.notices {
		if keep(n) {
			result = append(result, *n)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// SetNoticeActive 启用或停用公告。
func (s *Store) SetNoticeActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notices[id]
	if !ok {
		return domain.ErrNoticeNotFound
	}
	n.Active = active
	return nil
}

// DismissNotice 记录关闭，已存在时保持原记录。
func (s *Store) DismissNotice(_ context.Context, d *domain.NoticeDismissal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notices[d.NoticeID]; !ok {
		return domain.ErrNoticeNotFound
	}
	byNotice := s.dismissals[d.UserID]
	if byNotice == nil {
		byNotice = make(map[string]*domain.NoticeDismissal)
		s.dismissals[d.UserID] = byNotice
	}
	if _, ok := byNotice[d.NoticeID]; ok {
		return nil
	}
	cp := *d
	byNotice[d.NoticeID] = &cp
	return nil
}

// ListDismissals 列出用户的关闭记录。
func (s *Store) ListDismissals(_ context.Context, userID string) ([]domain.NoticeDismissal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.NoticeDismissal, 0, len(s.dismissals[userID]))
	for _, d := range s.dismissals[userID] {
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].NoticeID < result[j].NoticeID })
	return result, nil
}
