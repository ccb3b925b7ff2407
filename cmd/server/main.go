package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "tempmail/engine/docs" // Swagger docs
	jwtpkg "tempmail/engine/internal/auth/jwt"
	"tempmail/engine/internal/config"
	"tempmail/engine/internal/health"
	"tempmail/engine/internal/ingest"
	"tempmail/engine/internal/logger"
	"tempmail/engine/internal/monitoring"
	"tempmail/engine/internal/seed"
	"tempmail/engine/internal/service"
	"tempmail/engine/internal/smtp"
	"tempmail/engine/internal/storage"
	"tempmail/engine/internal/storage/hybrid"
	"tempmail/engine/internal/storage/memory"
	"tempmail/engine/internal/storage/postgres"
	"tempmail/engine/internal/storage/redis"
	sqlstore "tempmail/engine/internal/storage/sql"
	httptransport "tempmail/engine/internal/transport/http"
)

// main 启动 HTTP API、SMTP 收件、队列消费与过期清理。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting tempmail engine",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("storage close error", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)
	healthChecker := health.NewHealthChecker(store, log)

	var pgClient *postgres.Client
	if cfg.Database.Type == "postgres" {
		pgClient, err = postgres.New(ctx, &cfg.Database, log)
		if err != nil {
			return fmt.Errorf("initialize pgx client: %w", err)
		}
		defer pgClient.Close()
		healthChecker.AddReadinessCheck("postgres_pool", pgClient)
	}

	domains := service.NewDomainService(store, time.Minute, service.WithLogger(log))
	defer domains.Close()
	addresses := service.NewAddressService(store, domains, cfg.Mailbox, service.WithLogger(log))
	messages := service.NewMessageService(store, service.WithLogger(log))
	notices := service.NewNoticeService(store, service.WithLogger(log))

	if err := domains.EnsureDomains(ctx, cfg.Mailbox.AllowedDomains); err != nil {
		return fmt.Errorf("register configured domains: %w", err)
	}
	if cfg.Seed.File != "" {
		f, err := seed.Load(cfg.Seed.File)
		if err != nil {
			return err
		}
		if _, err := seed.Apply(ctx, f, domains, notices, log); err != nil {
			return err
		}
	}

	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	ingestor := ingest.NewIngestor(domains, addresses, messages, metrics, log)

	var consumer *ingest.Consumer
	if cfg.AMQP.URL != "" {
		consumer = ingest.NewConsumer(cfg.AMQP.URL, cfg.AMQP.Queue, cfg.AMQP.Workers, ingestor, log)
		healthChecker.AddReadinessCheck("amqp", consumer)
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:     cfg,
		Domains:    domains,
		Addresses:  addresses,
		Messages:   messages,
		Notices:    notices,
		JWTManager: jwtManager,
		Metrics:    metrics,
		Health:     healthChecker,
		Logger:     log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.SMTP.BindAddr != "" {
		limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.MaxRate)
		smtpServer := smtp.NewServer(smtp.NewBackend(ingestor, limiter, log), cfg.SMTP.BindAddr, cfg.SMTP.Domain)

		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
				zap.Int("max_conns", cfg.SMTP.MaxConns),
			)
			if err := smtpServer.ListenAndServe(); err != nil && groupCtx.Err() == nil {
				return fmt.Errorf("smtp server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			if err := smtpServer.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
			return nil
		})
	}

	if consumer != nil {
		group.Go(func() error {
			runConsumer(groupCtx, consumer, log)
			return nil
		})
	}

	if cfg.Mailbox.ReaperInterval > 0 {
		group.Go(func() error {
			runReaper(groupCtx, cfg.Mailbox.ReaperInterval, addresses, pgClient, metrics, log)
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStore 按配置选择存储实现，配置了 Redis 时在外层加缓存
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	var (
		base storage.Store
		err  error
	)
	db := cfg.Database
	switch {
	case db.Type == "":
		base = memory.NewStore()
		log.Info("using memory storage")
	case db.Driver == "sql":
		base, err = sqlstore.NewStore(db.Type, db.DSN, db.MaxOpenConns, db.MaxIdleConns, db.ConnMaxLifetime)
		log.Info("using sqlx storage", zap.String("type", db.Type))
	case db.Type == "mysql":
		base, err = postgres.NewMySQLStore(db.DSN, poolConfig(db))
		log.Info("using gorm storage", zap.String("type", db.Type))
	default:
		base, err = postgres.NewStore(db.DSN, poolConfig(db))
		log.Info("using gorm storage", zap.String("type", db.Type))
	}
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Address == "" {
		return base, nil
	}
	rc, err := redis.New(ctx, &cfg.Redis, log)
	if err != nil {
		_ = base.Close()
		return nil, err
	}
	log.Info("redis cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
	return hybrid.NewStore(base, rc, cfg.Redis.TTL, log), nil
}

func poolConfig(db config.DatabaseConfig) postgres.PoolConfig {
	return postgres.PoolConfig{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	}
}

// runConsumer 保持队列消费，连接断开后延迟重连
func runConsumer(ctx context.Context, consumer *ingest.Consumer, log *zap.Logger) {
	const backoff = 5 * time.Second
	for {
		err := consumer.Start(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn("amqp consumer stopped, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// runReaper 定期清理过期地址，不影响惰性过期的语义
func runReaper(ctx context.Context, interval time.Duration, addresses *service.AddressService, pg *postgres.Client, metrics *monitoring.Metrics, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info("starting expired address reaper", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("reaper stopped")
			return
		case <-ticker.C:
			if pg != nil {
				if pending, err := pg.CountExpired(ctx, time.Now()); err == nil {
					log.Debug("expired addresses pending", zap.Int64("count", pending))
				}
				pg.LogStats()
			}
			n, err := addresses.ReapExpired(ctx)
			if err != nil {
				log.Error("failed to reap expired addresses", zap.Error(err))
				continue
			}
			if n > 0 {
				metrics.RecordAddressesExpired(n)
				log.Info("expired addresses removed", zap.Int("count", n))
			}
		}
	}
}
