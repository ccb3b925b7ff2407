package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/storage"
)

// NoticeService 系统公告
type NoticeService struct {
	repo storage.NoticeRepository
	now  func() time.Time
}

// NewNoticeService 创建公告服务
func NewNoticeService(repo storage.NoticeRepository, opts ...Option) *NoticeService {
	o := buildOptions(opts)
	return &NoticeService{repo: repo, now: o.now}
}

// ListVisible 返回用户可见的公告：已启用且未被该用户关闭
func (s *NoticeService) ListVisible(ctx context.Context, userID string) ([]domain.Notice, error) {
	list, err := s.repo.ListVisibleNotices(ctx, userID)
	if err != nil {
		return nil, domain.StorageFailure("list visible notices", err)
	}
	return list, nil
}

// Dismiss 关闭公告，重复调用不产生新记录
func (s *NoticeService) Dismiss(ctx context.Context, userID, noticeID string) error {
	err := s.repo.DismissNotice(ctx, &domain.NoticeDismissal{
		UserID:      userID,
		NoticeID:    noticeID,
		DismissedAt: s.now(),
	})
	return domain.StorageFailure("dismiss notice", err)
}

// CreateNoticeInput 发布公告的输入
type CreateNoticeInput struct {
	Content   string
	Severity  string
	CreatedBy string
}

// Create 发布公告
func (s *NoticeService) Create(ctx context.Context, input CreateNoticeInput) (*domain.Notice, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domain.ErrInvalidRequest
	}
	severity, err := domain.ParseSeverity(input.Severity)
	if err != nil {
		return nil, err
	}

	n := &domain.Notice{
		ID:        uuid.NewString(),
		Content:   content,
		Severity:  severity,
		Active:    true,
		CreatedAt: s.now(),
		CreatedBy: input.CreatedBy,
	}
	if err := s.repo.SaveNotice(ctx, n); err != nil {
		return nil, domain.StorageFailure("save notice", err)
	}
	return n, nil
}

// SetActive 启用或停用公告
func (s *NoticeService) SetActive(ctx context.Context, id string, active bool) (*domain.Notice, error) {
	if err := s.repo.SetNoticeActive(ctx, id, active); err != nil {
		return nil, domain.StorageFailure("set notice active", err)
	}
	n, err := s.repo.GetNotice(ctx, id)
	if err != nil {
		return nil, domain.StorageFailure("get notice", err)
	}
	return n, nil
}

// ListAll 返回全部公告
func (s *NoticeService) ListAll(ctx context.Context) ([]domain.Notice, error) {
	list, err := s.repo.ListNotices(ctx)
	if err != nil {
		return nil, domain.StorageFailure("list notices", err)
	}
	return list, nil
}
