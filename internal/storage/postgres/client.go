package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tempmail/engine/internal/config"
)

// Client 独立于 GORM 的 pgx 连接池，用于就绪检查和过期统计
type Client struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New 创建新的 PostgreSQL 客户端
func New(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	// 只承担轻量查询，连接数保持很小
	poolConfig.MaxConns = 2
	poolConfig.MinConns = 0
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to PostgreSQL", zap.Int32("max_conns", poolConfig.MaxConns))
	return &Client{pool: pool, log: log}, nil
}

// Close 关闭连接池
func (c *Client) Close() {
	c.pool.Close()
	c.log.Info("PostgreSQL connection closed")
}

// Health 测试数据库连接
func (c *Client) Health(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// CountExpired 统计已过期但尚未清理的地址数量
func (c *Client) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := c.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM temp_addresses WHERE expires_at <= $1`, now.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting expired addresses: %w", err)
	}
	return n, nil
}

// LogStats 输出连接池统计信息
func (c *Client) LogStats() {
	st := c.pool.Stat()
	c.log.Debug("pgx pool stats",
		zap.Int32("total", st.TotalConns()),
		zap.Int32("idle", st.IdleConns()),
		zap.Int32("acquired", st.AcquiredConns()),
	)
}
