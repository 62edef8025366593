// Package router 组装 gin 引擎和全部路由。
package router

import (
	"time"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/config"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/handler"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/middleware"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/repository"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/service"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/token"

	"github.com/gin-gonic/gin"
)

// Deps 是路由需要的外部依赖，RateLimitRepo 和 JWTManager 可为 nil。
type Deps struct {
	RelayService  service.RelayService
	RateLimitRepo repository.RateLimitRepository
	JWTManager    *token.JWTManager
}

// Setup 创建 gin 引擎并注册路由。
func Setup(cfg *config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.Use(middleware.CORS(cfg.CORS.AllowOrigins, cfg.CORS.AllowHeaders))

	r.GET("/health", handler.Health)
	// 预检请求由 CORS 中间件直接应答
	r.OPTIONS("/*path", func(c *gin.Context) {})

	var chain []gin.HandlerFunc
	if deps.JWTManager != nil {
		chain = append(chain, middleware.AuthMiddleware(deps.JWTManager))
	}
	if deps.RateLimitRepo != nil && cfg.RateLimit.Enabled {
		window := cfg.RateLimit.Window
		if window <= 0 {
			window = time.Minute
		}
		chain = append(chain, middleware.RateLimit(deps.RateLimitRepo, cfg.RateLimit.Requests, window))
	}

	relay := handler.NewRelayHandler(deps.RelayService)
	chat := handler.NewChatHandler(deps.RelayService)

	functions := r.Group("/functions/v1", chain...)
	{
		functions.POST("/travel-chat", relay.Relay)
	}

	apiV1 := r.Group("/api/v1", chain...)
	{
		apiV1.POST("/chat", relay.Relay)
		apiV1.GET("/chat/ws", chat.Handle)
	}

	return r
}
