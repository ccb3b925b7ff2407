package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/engine/internal/auth/jwt"
)

// 上下文键
const (
	ContextUserID  = "userID"
	ContextRole    = "role"
	ContextAddress = "address"
)

// JWTAuth JWT认证中间件
type JWTAuth struct {
	jwtManager *jwt.Manager
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(jwtManager *jwt.Manager, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{jwtManager: jwtManager, log: log}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "请先登录")
			return
		}

		claims, err := ja.jwtManager.ValidateToken(token)
		if err != nil {
			ja.log.Warn("invalid token", zap.Error(err), zap.String("ip", c.ClientIP()))
			abort(c, http.StatusUnauthorized, "登录已失效，请重新登录")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// OptionalAuth 可选的JWT认证，无令牌或令牌无效时按匿名处理
func (ja *JWTAuth) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractToken(c); token != "" {
			if claims, err := ja.jwtManager.ValidateToken(token); err == nil {
				c.Set(ContextUserID, claims.UserID)
				c.Set(ContextRole, claims.Role)
			}
		}
		c.Next()
	}
}

// RequireRole 要求指定角色，需放在 RequireAuth 之后
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != role {
			abort(c, http.StatusForbidden, "没有权限执行此操作")
			return
		}
		c.Next()
	}
}

// OwnerID 返回当前调用方的用户ID，匿名时为 nil
func OwnerID(c *gin.Context) *string {
	userID := c.GetString(ContextUserID)
	if userID == "" {
		return nil
	}
	return &userID
}

// extractToken 依次从 Authorization 头与 cookie 中提取令牌
func extractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}
	return ""
}

// abort 以统一响应结构终止请求
func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "msg": msg})
}
