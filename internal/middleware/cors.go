package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS 为所有响应加上跨域头，预检请求直接返回 200 空响应。
func CORS(allowOrigins, allowHeaders []string) gin.HandlerFunc {
	headers := strings.Join(allowHeaders, ", ")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		wildcard := false
		for _, o := range allowOrigins {
			if o == "*" {
				allowed, wildcard = true, true
				break
			}
			if o == origin {
				allowed = true
			}
		}

		if allowed {
			if wildcard || origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}
