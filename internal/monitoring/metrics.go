package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 地址指标
	AddressesCreated prometheus.Counter
	AddressesDeleted prometheus.Counter
	AddressesExpired prometheus.Counter

	// 邮件指标
	MessagesIngested *prometheus.CounterVec
	IngestRejected   *prometheus.CounterVec
	IngestDuration   *prometheus.HistogramVec
	AttachmentSize   prometheus.Histogram
	FlagMutations    *prometheus.CounterVec
	BulkAffected     *prometheus.CounterVec

	// 公告指标
	NoticesDismissed prometheus.Counter

	// 错误与限流
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 在指定注册表上创建监控指标
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		AddressesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_addresses_created_total",
			Help: "Total number of temporary addresses created",
		}),
		AddressesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_addresses_deleted_total",
			Help: "Total number of temporary addresses deleted by their owner",
		}),
		AddressesExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_addresses_expired_total",
			Help: "Total number of expired addresses removed by the reaper",
		}),

		MessagesIngested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_messages_ingested_total",
				Help: "Total number of messages stored, by ingestion source",
			},
			[]string{"source"},
		),
		IngestRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_ingest_rejected_total",
				Help: "Total number of rejected deliveries",
			},
			[]string{"source", "reason"},
		),
		IngestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_ingest_duration_seconds",
				Help:    "Time spent parsing and storing a delivery",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		AttachmentSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tempmail_attachment_size_bytes",
			Help:    "Size of stored attachments",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		FlagMutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_message_flag_mutations_total",
				Help: "Total number of message flag changes",
			},
			[]string{"flag"},
		),
		BulkAffected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_bulk_affected_messages_total",
				Help: "Total number of messages affected by bulk operations",
			},
			[]string{"action"},
		),

		NoticesDismissed: f.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_notices_dismissed_total",
			Help: "Total number of notice dismissals",
		}),

		PanicsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_panics_total",
			Help: "Total number of recovered panics",
		}),
		RateLimitBlocks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_rate_limit_blocks_total",
				Help: "Total number of requests or connections rejected by rate limiting",
			},
			[]string{"scope"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAddressCreated 记录地址创建
func (m *Metrics) RecordAddressCreated() { m.AddressesCreated.Inc() }

// RecordAddressDeleted 记录地址删除
func (m *Metrics) RecordAddressDeleted() { m.AddressesDeleted.Inc() }

// RecordAddressesExpired 记录清理的过期地址数量
func (m *Metrics) RecordAddressesExpired(n int) { m.AddressesExpired.Add(float64(n)) }

// RecordMessageIngested 记录一次成功投递
func (m *Metrics) RecordMessageIngested(source string, duration time.Duration, attachmentSizes []int64) {
	m.MessagesIngested.WithLabelValues(source).Inc()
	m.IngestDuration.WithLabelValues(source).Observe(duration.Seconds())
	for _, size := range attachmentSizes {
		m.AttachmentSize.Observe(float64(size))
	}
}

// RecordIngestRejected 记录一次被拒绝的投递
func (m *Metrics) RecordIngestRejected(source, reason string) {
	m.IngestRejected.WithLabelValues(source, reason).Inc()
}

// RecordFlagMutation 记录标记变更
func (m *Metrics) RecordFlagMutation(flag string) { m.FlagMutations.WithLabelValues(flag).Inc() }

// RecordBulk 记录批量操作影响的邮件数
func (m *Metrics) RecordBulk(action string, affected int) {
	m.BulkAffected.WithLabelValues(action).Add(float64(affected))
}

// RecordNoticeDismissed 记录公告关闭
func (m *Metrics) RecordNoticeDismissed() { m.NoticesDismissed.Inc() }

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() { m.PanicsTotal.Inc() }

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(scope string) { m.RateLimitBlocks.WithLabelValues(scope).Inc() }

// HTTPHandler 返回 /metrics 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
