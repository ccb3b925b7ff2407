package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		t.Setenv("TEMPMAIL_JWT_SECRET", testSecret)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, []string{"temp.mail"}, cfg.Mailbox.AllowedDomains)
		assert.Equal(t, time.Hour, cfg.Mailbox.DefaultTTL)
		assert.Equal(t, 10, cfg.Mailbox.RandomLength)
		assert.Equal(t, 5, cfg.Mailbox.CreateRetries)
		assert.False(t, cfg.Mailbox.AllowAnonymous)
		assert.Equal(t, time.Hour, cfg.Mailbox.ReaperInterval)
		assert.Equal(t, ":25", cfg.SMTP.BindAddr)
		assert.Equal(t, "tempmail.inbound", cfg.AMQP.Queue)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "", cfg.Database.Type)
		assert.Equal(t, "gorm", cfg.Database.Driver)
		assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
		assert.Equal(t, "tempmail", cfg.JWT.Issuer)
		assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
		assert.Equal(t, 30*time.Second, cfg.Sync.PollInterval)
		assert.Equal(t, 2*time.Second, cfg.Sync.NoticeTTL)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		t.Setenv("TEMPMAIL_JWT_SECRET", testSecret)
		t.Setenv("TEMPMAIL_SERVER_PORT", "9090")
		t.Setenv("TEMPMAIL_MAILBOX_ALLOWED_DOMAINS", "Custom.Mail, test.dev")
		t.Setenv("TEMPMAIL_MAILBOX_DEFAULT_TTL", "2h")
		t.Setenv("TEMPMAIL_MAILBOX_ALLOW_ANONYMOUS", "true")
		t.Setenv("TEMPMAIL_MAILBOX_REAPER_INTERVAL", "0s")
		t.Setenv("TEMPMAIL_DATABASE_TYPE", "sqlite")
		t.Setenv("TEMPMAIL_DATABASE_DSN", "file:test.db")
		t.Setenv("TEMPMAIL_SYNC_POLL_INTERVAL", "5s")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, []string{"custom.mail", "test.dev"}, cfg.Mailbox.AllowedDomains)
		assert.Equal(t, 2*time.Hour, cfg.Mailbox.DefaultTTL)
		assert.True(t, cfg.Mailbox.AllowAnonymous)
		assert.Zero(t, cfg.Mailbox.ReaperInterval)
		assert.Equal(t, "sqlite", cfg.Database.Type)
		assert.Equal(t, "sql", cfg.Database.Driver, "sqlite 总是使用 sql 驱动")
		assert.Equal(t, 5*time.Second, cfg.Sync.PollInterval)
	})

	t.Run("拒绝默认JWT密钥", func(t *testing.T) {
		t.Setenv("TEMPMAIL_JWT_SECRET", "change-me-in-production")
		_, err := Load()
		assert.ErrorContains(t, err, "default value")
	})

	t.Run("拒绝过短的JWT密钥", func(t *testing.T) {
		t.Setenv("TEMPMAIL_JWT_SECRET", "short")
		_, err := Load()
		assert.ErrorContains(t, err, "at least 32")
	})

	t.Run("无效的TTL", func(t *testing.T) {
		t.Setenv("TEMPMAIL_JWT_SECRET", testSecret)
		t.Setenv("TEMPMAIL_MAILBOX_DEFAULT_TTL", "forever")
		_, err := Load()
		assert.ErrorContains(t, err, "mailbox.default_ttl")
	})

	t.Run("不支持的数据库类型", func(t *testing.T) {
		t.Setenv("TEMPMAIL_JWT_SECRET", testSecret)
		t.Setenv("TEMPMAIL_DATABASE_TYPE", "oracle")
		_, err := Load()
		assert.ErrorContains(t, err, "database.type")
	})
}

func TestLoadSync(t *testing.T) {
	t.Setenv("TEMPMAIL_SYNC_BASE_URL", "http://mail.example:8080")
	t.Setenv("TEMPMAIL_SYNC_NOTICE_TTL", "bogus")

	cfg := LoadSync()
	assert.Equal(t, "http://mail.example:8080", cfg.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.NoticeTTL, "无效值回退到默认")
	assert.Zero(t, cfg.Timeout, "默认不设置请求超时")

	t.Setenv("TEMPMAIL_SYNC_TIMEOUT", "3s")
	assert.Equal(t, 3*time.Second, LoadSync().Timeout)
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(" a, ,b ,"))
	assert.Empty(t, parseList(""))
}
