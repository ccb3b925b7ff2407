package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tempmail/engine/internal/monitoring"
)

// MonitoringMiddleware 监控中间件
type MonitoringMiddleware struct {
	metrics *monitoring.Metrics
}

// NewMonitoringMiddleware 创建监控中间件
func NewMonitoringMiddleware(metrics *monitoring.Metrics) *MonitoringMiddleware {
	return &MonitoringMiddleware{metrics: metrics}
}

// HTTPMetrics HTTP 指标中间件
func (mm *MonitoringMiddleware) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		mm.metrics.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// BusinessMetrics 根据路由记录业务指标，只统计成功的请求
func (mm *MonitoringMiddleware) BusinessMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() != http.StatusOK {
			return
		}
		switch c.FullPath() {
		case "/emails/create":
			mm.metrics.RecordAddressCreated()
		case "/emails/delete/:id":
			mm.metrics.RecordAddressDeleted()
		case "/emails/:id/received/:msgId/star":
			mm.metrics.RecordFlagMutation("starred")
		case "/emails/:id/received/:msgId/archive":
			mm.metrics.RecordFlagMutation("archived")
		case "/emails/:id/received/:msgId/spam":
			mm.metrics.RecordFlagMutation("spam")
		case "/messages/:id/dismiss":
			mm.metrics.RecordNoticeDismissed()
		}
	}
}

// RecordPanic 供 RecoveryHandler 回调
func (mm *MonitoringMiddleware) RecordPanic() {
	mm.metrics.RecordPanic()
}

// RecordRateLimitBlock 供限流中间件回调
func (mm *MonitoringMiddleware) RecordRateLimitBlock(scope string) {
	mm.metrics.RecordRateLimitBlock(scope)
}
