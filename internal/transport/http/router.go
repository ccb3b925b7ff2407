package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginSwagger "github.com/swaggo/gin-swagger"
	swaggerFiles "github.com/swaggo/files"
	"go.uber.org/zap"

	jwtpkg "tempmail/engine/internal/auth/jwt"
	"tempmail/engine/internal/config"
	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/health"
	"tempmail/engine/internal/middleware"
	"tempmail/engine/internal/monitoring"
	"tempmail/engine/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config     *config.Config
	Domains    *service.DomainService
	Addresses  *service.AddressService
	Messages   *service.MessageService
	Notices    *service.NoticeService
	JWTManager *jwtpkg.Manager
	Metrics    *monitoring.Metrics   // 可为 nil
	Health     *health.HealthChecker // 可为 nil
	Logger     *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	var monitor *middleware.MonitoringMiddleware
	onPanic := func() {}
	var onBlock func(string)
	if deps.Metrics != nil {
		monitor = middleware.NewMonitoringMiddleware(deps.Metrics)
		onPanic = monitor.RecordPanic
		onBlock = monitor.RecordRateLimitBlock
	}

	router.Use(middleware.RecoveryHandler(log, onPanic))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(deps.Config.Server.MaxBodyBytes))
	router.Use(gincors.New(corsConfig(deps.Config.CORS)))
	if monitor != nil {
		router.Use(monitor.HTTPMetrics(), monitor.BusinessMetrics())
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	registerOps(router, deps)

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log)
	requireAuth := jwtAuth.RequireAuth()
	mailboxAuth := requireAuth
	if deps.Config.Mailbox.AllowAnonymous {
		mailboxAuth = jwtAuth.OptionalAuth()
	}
	addressAccess := middleware.NewAddressAccess(deps.Addresses, log)

	addressHandler := NewAddressHandler(deps.Addresses, log)
	messageHandler := NewMessageHandler(deps.Messages, deps.Metrics, log)
	noticeHandler := NewNoticeHandler(deps.Notices, log)
	domainHandler := NewDomainHandler(deps.Domains, log)

	router.GET("/domains", domainHandler.List)

	emails := router.Group("/emails", mailboxAuth)
	{
		createChain := []gin.HandlerFunc{}
		if perMinute := deps.Config.Mailbox.CreateRatePerMinute; perMinute > 0 {
			createChain = append(createChain, middleware.NewRateLimiter(perMinute, onBlock).Limit("create"))
		}
		createChain = append(createChain, addressHandler.Create)
		emails.POST("/create", createChain...)
		emails.GET("", addressHandler.List)
		emails.DELETE("/delete/:id", addressHandler.Delete)

		owned := emails.Group("/:id", addressAccess.RequireOwnedAddress())
		owned.GET("", addressHandler.Get)
		owned.GET("/received", messageHandler.List)
		owned.POST("/received/bulk/:action", messageHandler.Bulk)
		owned.GET("/received/:msgId", messageHandler.Get)
		owned.DELETE("/received/:msgId", messageHandler.Delete)
		owned.GET("/received/:msgId/attachments/:attId", messageHandler.DownloadAttachment)
		owned.PATCH("/received/:msgId/star", messageHandler.SetFlag(domain.FlagStarred))
		owned.PATCH("/received/:msgId/archive", messageHandler.SetFlag(domain.FlagArchived))
		owned.PATCH("/received/:msgId/spam", messageHandler.SetFlag(domain.FlagSpam))
	}

	notices := router.Group("/messages", requireAuth)
	{
		notices.GET("", noticeHandler.ListVisible)
		notices.POST("/:id/dismiss", noticeHandler.Dismiss)
	}

	admin := router.Group("/admin", requireAuth, middleware.RequireRole(jwtpkg.RoleAdmin))
	{
		admin.POST("/domains", domainHandler.Create)
		admin.DELETE("/domains/:id", domainHandler.Delete)
		admin.GET("/messages", noticeHandler.ListAll)
		admin.POST("/messages", noticeHandler.Create)
		admin.PATCH("/messages/:id", noticeHandler.SetActive)
	}

	return router
}

// registerOps 注册健康检查与指标端点
func registerOps(router *gin.Engine, deps RouterDependencies) {
	if deps.Health != nil {
		hc := deps.Health
		router.GET("/health", func(c *gin.Context) {
			results := hc.CheckHealth(c.Request.Context())
			status := http.StatusOK
			if !health.Healthy(results) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, results)
		})
		router.GET("/health/live", gin.WrapF(hc.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(hc.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}
}

func corsConfig(cfg config.CORSConfig) gincors.Config {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 允许所有来源时不能携带凭证
	for _, origin := range origins {
		if origin == "*" {
			c.AllowCredentials = false
			break
		}
	}
	return c
}
