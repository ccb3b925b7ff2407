package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordMessageIngested("smtp", 20*time.Millisecond, []int64{2048, 4096})
	m.RecordMessageIngested("amqp", time.Millisecond, nil)
	m.RecordIngestRejected("smtp", "unknown_recipient")
	m.RecordBulk("archive", 3)
	m.RecordAddressesExpired(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesIngested.WithLabelValues("smtp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestRejected.WithLabelValues("smtp", "unknown_recipient")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BulkAffected.WithLabelValues("archive")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.AddressesExpired))

	// 每个注册表独立，重复创建不会冲突
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}
