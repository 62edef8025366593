// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 日志里响应体最多保留的字节数
const maxLoggedBody = 1 << 10

// RequestIDHeader 是贯穿日志和响应的请求 ID 头。
const RequestIDHeader = "X-Request-ID"

// bodyLogWriter 用于捕获响应体。流式响应不捕获，避免把整段 SSE 留在内存里。
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if !isEventStream(w.Header().Get("Content-Type")) && w.body.Len() < maxLoggedBody {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap 让 http.ResponseController 等调用方拿到底层 writer。
func (w bodyLogWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// RequestLogger 是一个 Gin 中间件，记录每个请求的状态、耗时、请求体长度和截断后的响应体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("requestID", requestID)
		c.Header(RequestIDHeader, requestID)

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		log.Infow("HTTP Request Log",
			"requestId", requestID,
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			// 请求体是用户的对话内容，只记录长度
			"requestBytes", c.Request.ContentLength,
			"responseBody", truncate(blw.body.String()),
		)
	}
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(contentType, "text/event-stream")
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}
