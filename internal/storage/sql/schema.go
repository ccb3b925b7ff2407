package sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// dialect 不同数据库的列类型
type dialect struct {
	name string
	text string
	blob string
	ts   string
}

var dialects = map[string]dialect{
	"postgres": {name: "postgres", text: "TEXT", blob: "BYTEA", ts: "TIMESTAMPTZ"},
	"mysql":    {name: "mysql", text: "LONGTEXT", blob: "LONGBLOB", ts: "DATETIME(6)"},
	"sqlite":   {name: "sqlite", text: "TEXT", blob: "BLOB", ts: "TIMESTAMP"},
}

type migration struct {
	version    int
	statements []string
}

// migrations 按版本顺序执行，{text} {blob} {ts} 按方言替换
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS domains (
				id VARCHAR(36) PRIMARY KEY,
				name VARCHAR(253) NOT NULL UNIQUE,
				created_at {ts} NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS temp_addresses (
				id VARCHAR(36) PRIMARY KEY,
				owner_id VARCHAR(64) NULL,
				address VARCHAR(320) NOT NULL UNIQUE,
				local_part VARCHAR(64) NOT NULL,
				domain_id VARCHAR(36) NOT NULL,
				created_at {ts} NOT NULL,
				expires_at {ts} NOT NULL
			)`,
			`CREATE INDEX idx_temp_addresses_owner ON temp_addresses (owner_id)`,
			`CREATE INDEX idx_temp_addresses_domain ON temp_addresses (domain_id)`,
			`CREATE INDEX idx_temp_addresses_expires ON temp_addresses (expires_at)`,
			`CREATE TABLE IF NOT EXISTS received_emails (
				id VARCHAR(36) PRIMARY KEY,
				address_id VARCHAR(36) NOT NULL,
				from_address VARCHAR(320) NOT NULL DEFAULT '',
				from_name VARCHAR(255) NOT NULL DEFAULT '',
				subject {text} NOT NULL,
				body_html {text} NOT NULL,
				body_text {text} NOT NULL,
				received_at {ts} NOT NULL,
				starred BOOLEAN NOT NULL DEFAULT FALSE,
				archived BOOLEAN NOT NULL DEFAULT FALSE,
				spam BOOLEAN NOT NULL DEFAULT FALSE
			)`,
			`CREATE INDEX idx_received_emails_address ON received_emails (address_id, received_at)`,
			`CREATE TABLE IF NOT EXISTS attachments (
				id VARCHAR(36) PRIMARY KEY,
				message_id VARCHAR(36) NOT NULL,
				filename VARCHAR(255) NOT NULL DEFAULT '',
				content_type VARCHAR(255) NOT NULL DEFAULT '',
				size_bytes BIGINT NOT NULL DEFAULT 0,
				content {blob}
			)`,
			`CREATE INDEX idx_attachments_message ON attachments (message_id)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS notices (
				id VARCHAR(36) PRIMARY KEY,
				content {text} NOT NULL,
				severity VARCHAR(16) NOT NULL DEFAULT 'info',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at {ts} NOT NULL,
				created_by VARCHAR(64) NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS notice_dismissals (
				user_id VARCHAR(64) NOT NULL,
				notice_id VARCHAR(36) NOT NULL,
				dismissed_at {ts} NOT NULL,
				PRIMARY KEY (user_id, notice_id)
			)`,
		},
	},
}

func (d dialect) render(stmt string) string {
	return strings.NewReplacer("{text}", d.text, "{blob}", d.blob, "{ts}", d.ts).Replace(stmt)
}

// Migrate 执行尚未应用的迁移，返回迁移后的版本号
func Migrate(ctx context.Context, db *sqlx.DB, dialectName string) (int, error) {
	d, ok := dialects[dialectName]
	if !ok {
		return 0, fmt.Errorf("unsupported dialect: %s", dialectName)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("creating schema_version table: %w", err)
	}

	current := 0
	if err := db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return current, fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, d.render(stmt)); err != nil {
				_ = tx.Rollback()
				return current, fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), m.version); err != nil {
			_ = tx.Rollback()
			return current, fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return current, fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
		current = m.version
	}
	return current, nil
}

// LatestVersion 返回代码中最新的迁移版本
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}
