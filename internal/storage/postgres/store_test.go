package postgres

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/storage"
	"tempmail/engine/internal/storage/storagetest"
)

// 需要真实数据库：TEMPMAIL_TEST_POSTGRES_DSN / TEMPMAIL_TEST_MYSQL_DSN
func TestGormStore(t *testing.T) {
	cases := []struct {
		name string
		env  string
		open func(dsn string) (*Store, error)
	}{
		{"postgres", "TEMPMAIL_TEST_POSTGRES_DSN", func(dsn string) (*Store, error) {
			return NewStore(dsn, PoolConfig{MaxOpenConns: 5, MaxIdleConns: 1, ConnMaxLifetime: time.Minute})
		}},
		{"mysql", "TEMPMAIL_TEST_MYSQL_DSN", func(dsn string) (*Store, error) {
			return NewMySQLStore(dsn, PoolConfig{MaxOpenConns: 5, MaxIdleConns: 1, ConnMaxLifetime: time.Minute})
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dsn := os.Getenv(tc.env)
			if dsn == "" {
				t.Skipf("%s 未设置", tc.env)
			}
			storagetest.Run(t, func(t *testing.T) storage.Store {
				s, err := tc.open(dsn)
				require.NoError(t, err)
				truncate(t, s)
				t.Cleanup(func() { _ = s.Close() })
				return s
			})
		})
	}
}

func truncate(t *testing.T, s *Store) {
	t.Helper()
	for _, table := range []string{"notice_dismissals", "notices", "attachments", "received_emails", "temp_addresses", "domains"} {
		require.NoError(t, s.db.Exec("DELETE FROM "+table).Error)
	}
}
