package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/repository"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/service"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/log"

	"github.com/gin-gonic/gin"
)

// RateLimit 按客户端 IP 做固定窗口限流，超限时返回与上游限流相同的 429 文案。
// 计数器不可用时放行请求。
func RateLimit(repo repository.RateLimitRepository, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		windowStart := time.Now().Truncate(window).Unix()
		key := fmt.Sprintf("travel-chat:%s:%d", c.ClientIP(), windowStart)

		count, err := repo.Incr(c.Request.Context(), key, window)
		if err != nil {
			log.Error("限流计数失败，放行请求", err)
			c.Next()
			return
		}
		if count > int64(limit) {
			log.Warnw("client rate limited", "clientIP", c.ClientIP(), "count", count)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": service.MsgRateLimited})
			return
		}
		c.Next()
	}
}
