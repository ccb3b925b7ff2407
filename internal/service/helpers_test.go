package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/config"
	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/storage/memory"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixture 使用内存存储搭建完整的服务集合
type fixture struct {
	store    *memory.Store
	clock    *fakeClock
	domains  *DomainService
	address  *AddressService
	messages *MessageService
	notices  *NoticeService
	domain   *domain.Domain
}

func newFixture(t *testing.T, cfg config.MailboxConfig, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), clock: newFakeClock()}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)

	f.domains = NewDomainService(f.store, 0, opts...)
	f.address = NewAddressService(f.store, f.domains, cfg, opts...)
	f.messages = NewMessageService(f.store, opts...)
	f.notices = NewNoticeService(f.store, opts...)

	d, err := f.domains.Create(context.Background(), "temp.mail")
	require.NoError(t, err)
	f.domain = d
	return f
}

func defaultMailboxConfig() config.MailboxConfig {
	return config.MailboxConfig{
		DefaultTTL:    time.Hour,
		RandomLength:  10,
		CreateRetries: 5,
	}
}

func strPtr(s string) *string { return &s }

// MockAddressStore 模拟地址存储
type MockAddressStore struct {
	mock.Mock
}

func (m *MockAddressStore) CreateAddress(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) error {
	return m.Called(ctx, addr, now).Error(0)
}

func (m *MockAddressStore) GetAddress(ctx context.Context, id string, now time.Time) (*domain.TemporaryAddress, error) {
	args := m.Called(ctx, id, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TemporaryAddress), args.Error(1)
}

func (m *MockAddressStore) GetAddressByEmail(ctx context.Context, email string, now time.Time) (*domain.TemporaryAddress, error) {
	args := m.Called(ctx, email, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TemporaryAddress), args.Error(1)
}

func (m *MockAddressStore) ListAddressesByOwner(ctx context.Context, ownerID *string, now time.Time) ([]domain.TemporaryAddress, error) {
	args := m.Called(ctx, ownerID, now)
	return args.Get(0).([]domain.TemporaryAddress), args.Error(1)
}

func (m *MockAddressStore) DeleteAddress(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAddressStore) DeleteExpiredAddresses(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *MockAddressStore) LatestMessages(ctx context.Context, addressIDs []string) (map[string]domain.Message, error) {
	args := m.Called(ctx, addressIDs)
	return args.Get(0).(map[string]domain.Message), args.Error(1)
}
