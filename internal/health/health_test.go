package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	t.Run("全部依赖正常", func(t *testing.T) {
		hc := NewHealthChecker(PingFunc(func(context.Context) error { return nil }), nil)
		hc.AddReadinessCheck("redis", PingFunc(func(context.Context) error { return nil }))

		results := hc.CheckHealth(context.Background())
		assert.Equal(t, "OK", results["database"])
		assert.Equal(t, "OK", results["redis"])
		assert.True(t, Healthy(results))

		rec := httptest.NewRecorder()
		hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("依赖异常时就绪探针失败", func(t *testing.T) {
		hc := NewHealthChecker(PingFunc(func(context.Context) error { return errors.New("db down") }), nil)

		results := hc.CheckHealth(context.Background())
		require.Contains(t, results["database"], "db down")
		assert.False(t, Healthy(results))

		rec := httptest.NewRecorder()
		hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = httptest.NewRecorder()
		hc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
