package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可被探测的依赖，存储层与 Redis 客户端均实现
type Pinger interface {
	Health(ctx context.Context) error
}

// PingFunc 将普通函数适配为 Pinger
type PingFunc func(ctx context.Context) error

// Health 实现 Pinger
func (f PingFunc) Health(ctx context.Context) error { return f(ctx) }

const defaultCheckTimeout = 3 * time.Second

type namedCheck struct {
	name   string
	pinger Pinger
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health  healthcheck.Handler
	checks  []namedCheck
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewHealthChecker 创建健康检查器，store 作为 "database" 就绪检查
func NewHealthChecker(store Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		timeout: defaultCheckTimeout,
		logger:  logger,
		now:     time.Now,
	}
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	if store != nil {
		hc.AddReadinessCheck("database", store)
	}
	return hc
}

// AddReadinessCheck 注册一个就绪检查，例如 redis 或 amqp 连接
func (hc *HealthChecker) AddReadinessCheck(name string, p Pinger) {
	hc.checks = append(hc.checks, namedCheck{name: name, pinger: p})
	hc.health.AddReadinessCheck(name, hc.wrap(name, p))
}

func (hc *HealthChecker) wrap(name string, p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()
		if err := p.Health(ctx); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活探针
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行所有就绪检查并汇总结果
func (hc *HealthChecker) CheckHealth(ctx context.Context) map[string]string {
	results := make(map[string]string, len(hc.checks)+1)
	for _, c := range hc.checks {
		checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
		err := c.pinger.Health(checkCtx)
		cancel()
		if err != nil {
			results[c.name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[c.name] = "OK"
		}
	}
	results["timestamp"] = hc.now().UTC().Format(time.RFC3339)
	return results
}

// Healthy 判断汇总结果是否全部正常
func Healthy(results map[string]string) bool {
	for name, status := range results {
		if name == "timestamp" {
			continue
		}
		if status != "OK" {
			return false
		}
	}
	return true
}
