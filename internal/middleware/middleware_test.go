package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/auth/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(t *testing.T) (*gin.Engine, *jwt.Manager) {
	t.Helper()
	manager := jwt.NewManager("test-secret-key-for-development-32-chars-long", "tempmail", time.Minute)
	auth := NewJWTAuth(manager, nil)

	r := gin.New()
	whoami := func(c *gin.Context) {
		owner := OwnerID(c)
		if owner == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, *owner)
	}
	r.GET("/private", auth.RequireAuth(), whoami)
	r.GET("/optional", auth.OptionalAuth(), whoami)
	r.GET("/admin", auth.RequireAuth(), RequireRole(jwt.RoleAdmin), whoami)
	return r, manager
}

func doGet(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r, manager := newAuthRouter(t)
	userToken, err := manager.IssueAccessToken("user-1", "", "")
	require.NoError(t, err)
	adminToken, err := manager.IssueAccessToken("root", "", jwt.RoleAdmin)
	require.NoError(t, err)

	t.Run("缺少令牌返回401", func(t *testing.T) {
		w := doGet(r, "/private", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"code":401`)
	})

	t.Run("无效令牌返回401", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, doGet(r, "/private", "garbage").Code)
	})

	t.Run("有效令牌写入用户ID", func(t *testing.T) {
		w := doGet(r, "/private", userToken)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-1", w.Body.String())
	})

	t.Run("从cookie读取令牌", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: userToken})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("可选认证", func(t *testing.T) {
		assert.Equal(t, "anonymous", doGet(r, "/optional", "").Body.String())
		assert.Equal(t, "anonymous", doGet(r, "/optional", "garbage").Body.String())
		assert.Equal(t, "user-1", doGet(r, "/optional", userToken).Body.String())
	})

	t.Run("角色校验", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, doGet(r, "/admin", userToken).Code)
		assert.Equal(t, http.StatusOK, doGet(r, "/admin", adminToken).Code)
	})
}

func TestRateLimiter(t *testing.T) {
	blocked := 0
	rl := NewRateLimiter(2, func(scope string) {
		assert.Equal(t, "create", scope)
		blocked++
	})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.GET("/create", rl.Limit("create"), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, doGet(r, "/create", "").Code)
	assert.Equal(t, http.StatusOK, doGet(r, "/create", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(r, "/create", "").Code)
	assert.Equal(t, 1, blocked)

	now = now.Add(30 * time.Second)
	assert.Equal(t, http.StatusOK, doGet(r, "/create", "").Code, "令牌桶按时间补充")
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/upload", BodySizeLimit(4), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req.ContentLength = 10
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
