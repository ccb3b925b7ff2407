package mailsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtpkg "tempmail/engine/internal/auth/jwt"
	"tempmail/engine/internal/config"
	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/health"
	"tempmail/engine/internal/monitoring"
	"tempmail/engine/internal/service"
	"tempmail/engine/internal/storage/memory"
	httptransport "tempmail/engine/internal/transport/http"
)

type serverEnv struct {
	url      string
	jwt      *jwtpkg.Manager
	domain   *domain.Domain
	messages *service.MessageService
	notices  *service.NoticeService
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := memory.NewStore()
	cfg := &config.Config{
		Mailbox: config.MailboxConfig{DefaultTTL: time.Hour, RandomLength: 10, CreateRetries: 5},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	domains := service.NewDomainService(store, 0)
	d, err := domains.Create(ctx, "temp.mail")
	require.NoError(t, err)
	addresses := service.NewAddressService(store, domains, cfg.Mailbox)
	messages := service.NewMessageService(store)
	notices := service.NewNoticeService(store)
	mgr := jwtpkg.NewManager("sync-secret-sync-secret-sync-secret", "tempmail", time.Hour)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:     cfg,
		Domains:    domains,
		Addresses:  addresses,
		Messages:   messages,
		Notices:    notices,
		JWTManager: mgr,
		Metrics:    monitoring.NewMetrics(prometheus.NewRegistry()),
		Health:     health.NewHealthChecker(store, nil),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &serverEnv{url: srv.URL, jwt: mgr, domain: d, messages: messages, notices: notices}
}

func (e *serverEnv) client(t *testing.T, userID string) *Client {
	t.Helper()
	tok, err := e.jwt.IssueAccessToken(userID, userID+"@example.com", "user")
	require.NoError(t, err)
	return NewClient(e.url, tok, 5*time.Second)
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	env := newServerEnv(t)
	c := env.client(t, "alice")

	addr, err := c.CreateAddress(ctx, "alice-box", env.domain.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice-box@temp.mail", addr.Address)

	for _, subject := range []string{"first", "second"} {
		_, err := env.messages.Ingest(ctx, service.IngestInput{AddressID: addr.ID, FromAddress: "x@example.org", Subject: subject, BodyText: "hi"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	t.Run("拉取与标记", func(t *testing.T) {
		msgs, err := c.ListMessages(ctx, addr.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "second", msgs[0].Subject)

		require.NoError(t, c.SetFlag(ctx, addr.ID, msgs[0].ID, domain.FlagStarred, true))
		require.NoError(t, c.SetFlag(ctx, addr.ID, msgs[0].ID, domain.FlagArchived, true))

		// 归档邮件仍在同步列表中
		msgs, err = c.ListMessages(ctx, addr.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.True(t, msgs[0].Starred)
		assert.True(t, msgs[0].Archived)
	})

	t.Run("批量操作跳过不存在的ID", func(t *testing.T) {
		msgs, err := c.ListMessages(ctx, addr.ID)
		require.NoError(t, err)
		n, err := c.Bulk(ctx, addr.ID, domain.BulkSpam, []string{msgs[1].ID, "missing"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("他人的地址返回终态错误", func(t *testing.T) {
		bob := env.client(t, "bob")
		_, err := bob.ListMessages(ctx, addr.ID)
		require.Error(t, err)
		assert.True(t, IsTerminal(err))

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
	})

	t.Run("公告关闭幂等", func(t *testing.T) {
		n, err := env.notices.Create(ctx, service.CreateNoticeInput{Content: "维护通知"})
		require.NoError(t, err)

		list, err := c.ListNotices(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)

		require.NoError(t, c.DismissNotice(ctx, n.ID))
		require.NoError(t, c.DismissNotice(ctx, n.ID))
		list, err = c.ListNotices(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("会话通过真实接口同步", func(t *testing.T) {
		s := NewSession(c, addr.ID)
		defer s.Close()
		require.NoError(t, wait(t, s.Refresh()))
		s.SetFolder(FolderAll)
		snap := s.Snapshot()
		require.Len(t, snap.Messages, 2)

		require.NoError(t, wait(t, s.Delete(snap.Messages[0].ID)))
		require.NoError(t, wait(t, s.Refresh()))
		assert.Len(t, s.Snapshot().Messages, 1)
	})

	t.Run("删除地址后不可访问", func(t *testing.T) {
		require.NoError(t, c.DeleteAddress(ctx, addr.ID))
		_, err := c.ListMessages(ctx, addr.ID)
		assert.True(t, IsTerminal(err))
	})

	t.Run("默认不设置请求超时", func(t *testing.T) {
		assert.Zero(t, NewClient(env.url, "", 0).http.Timeout)
		assert.Equal(t, 3*time.Second, NewClient(env.url, "", 3*time.Second).http.Timeout)
	})

	t.Run("网络错误为暂时性失败", func(t *testing.T) {
		dead := NewClient("http://127.0.0.1:1", "", time.Second)
		_, err := dead.ListDomains(ctx)
		require.Error(t, err)
		assert.False(t, IsTerminal(err))
		assert.ErrorIs(t, err, ErrTransient)
	})
}
