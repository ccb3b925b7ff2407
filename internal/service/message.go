package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/storage"
)

// MessageStore 邮件服务依赖的存储，除邮件读写外还需按 now 查询地址是否存活。
type MessageStore interface {
	storage.MessageRepository
	GetAddress(ctx context.Context, id string, now time.Time) (*domain.TemporaryAddress, error)
}

// MessageService 封装邮件的写入、查询与标记操作。
// 地址过期后其邮件视为已销毁，所有操作返回 domain.ErrAddressNotFound；
// 归属校验由调用方通过 AddressService 完成。
type MessageService struct {
	repo MessageStore
	now  func() time.Time
	log  *zap.Logger
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(repo MessageStore, opts ...Option) *MessageService {
	o := buildOptions(opts)
	return &MessageService{repo: repo, now: o.now, log: o.log}
}

// IngestInput 定义投递一封邮件的输入。
type IngestInput struct {
	AddressID       string
	FromAddress     string
	FromDisplayName string
	Subject         string
	BodyHTML        string
	BodyText        string
	Attachments     []*domain.Attachment
}

// Ingest 将邮件投递到地址，地址不存在或已过期返回 domain.ErrAddressNotFound。
func (s *MessageService) Ingest(ctx context.Context, input IngestInput) (*domain.Message, error) {
	now := s.now()
	msg := &domain.Message{
		ID:              uuid.NewString(),
		AddressID:       input.AddressID,
		FromAddress:     input.FromAddress,
		FromDisplayName: input.FromDisplayName,
		Subject:         input.Subject,
		BodyHTML:        input.BodyHTML,
		BodyText:        input.BodyText,
		ReceivedAt:      now,
	}
	for _, att := range input.Attachments {
		cp := *att
		cp.ID = uuid.NewString()
		cp.MessageID = msg.ID
		if cp.SizeBytes == 0 {
			cp.SizeBytes = int64(len(cp.Content))
		}
		msg.Attachments = append(msg.Attachments, &cp)
	}

	if err := s.repo.SaveMessage(ctx, msg, now); err != nil {
		return nil, domain.StorageFailure("save message", err)
	}

	s.log.Debug("message ingested",
		zap.String("address_id", msg.AddressID),
		zap.String("message_id", msg.ID),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return msg, nil
}

// requireLive 确认地址存在且未过期
func (s *MessageService) requireLive(ctx context.Context, addressID string) error {
	if _, err := s.repo.GetAddress(ctx, addressID, s.now()); err != nil {
		return domain.StorageFailure("get address", err)
	}
	return nil
}

// List 列出地址下的邮件，按接收时间倒序。
func (s *MessageService) List(ctx context.Context, addressID string, filter domain.MessageFilter) ([]domain.Message, error) {
	if err := s.requireLive(ctx, addressID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, addressID, filter)
	if err != nil {
		return nil, domain.StorageFailure("list messages", err)
	}
	return msgs, nil
}

// Get 获取单封邮件详情。
func (s *MessageService) Get(ctx context.Context, addressID, messageID string) (*domain.Message, error) {
	if err := s.requireLive(ctx, addressID); err != nil {
		return nil, err
	}
	msg, err := s.repo.GetMessage(ctx, addressID, messageID)
	if err != nil {
		return nil, domain.StorageFailure("get message", err)
	}
	return msg, nil
}

// SetFlag 设置星标、归档或垃圾标记。
func (s *MessageService) SetFlag(ctx context.Context, addressID, messageID string, flag domain.Flag, value bool) error {
	if !flag.Valid() {
		return domain.ErrInvalidFlag
	}
	if err := s.requireLive(ctx, addressID); err != nil {
		return err
	}
	if err := s.repo.SetMessageFlag(ctx, addressID, messageID, flag, value); err != nil {
		return domain.StorageFailure("set message flag", err)
	}
	return nil
}

// Delete 删除邮件及其附件。
func (s *MessageService) Delete(ctx context.Context, addressID, messageID string) error {
	if err := s.requireLive(ctx, addressID); err != nil {
		return err
	}
	if err := s.repo.DeleteMessage(ctx, addressID, messageID); err != nil {
		return domain.StorageFailure("delete message", err)
	}
	return nil
}

// Bulk 对多封邮件执行同一操作，不属于该地址的 ID 被忽略，返回实际影响数量。
func (s *MessageService) Bulk(ctx context.Context, addressID string, ids []string, action domain.BulkAction) (int, error) {
	if len(ids) == 0 {
		return 0, domain.ErrInvalidRequest
	}
	if _, err := domain.ParseBulkAction(string(action)); err != nil {
		return 0, err
	}
	if err := s.requireLive(ctx, addressID); err != nil {
		return 0, err
	}

	n, err := s.repo.BulkApply(ctx, addressID, ids, action)
	if err != nil {
		return 0, domain.StorageFailure("bulk apply", err)
	}
	s.log.Debug("bulk applied",
		zap.String("address_id", addressID),
		zap.String("action", string(action)),
		zap.Int("requested", len(ids)),
		zap.Int("affected", n),
	)
	return n, nil
}

// Attachment 获取附件内容。
func (s *MessageService) Attachment(ctx context.Context, addressID, messageID, attachmentID string) (*domain.Attachment, error) {
	if err := s.requireLive(ctx, addressID); err != nil {
		return nil, err
	}
	att, err := s.repo.GetAttachment(ctx, addressID, messageID, attachmentID)
	if err != nil {
		return nil, domain.StorageFailure("get attachment", err)
	}
	return att, nil
}
