// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/model"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/service"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/log"

	"github.com/gin-gonic/gin"
)

const copyBufferSize = 4096

// RelayHandler 负责把浏览器的聊天请求转发给上游并原样回传 SSE。
type RelayHandler struct {
	relayService service.RelayService
}

// NewRelayHandler 创建一个新的 RelayHandler。
func NewRelayHandler(relayService service.RelayService) *RelayHandler {
	return &RelayHandler{relayService: relayService}
}

// Relay 处理一次聊天轮次。上游字节不做任何变换，每次读取后立即 flush。
func (h *RelayHandler) Relay(c *gin.Context) {
	var req model.RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Relay: invalid request payload, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", model.ErrMalformedBody, err)})
		return
	}

	body, err := h.relayService.Open(c.Request.Context(), req.Messages)
	if err != nil {
		writeRelayError(c, err)
		return
	}
	defer body.Close()

	setSSEHeaders(c)
	c.Status(http.StatusOK)

	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := c.Writer.Write(buf[:n]); err != nil {
				log.Warnf("Relay: client went away: %v", err)
				return
			}
			c.Writer.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && c.Request.Context().Err() == nil {
				log.Error("Relay: upstream stream broke", readErr)
				abortConnection(c)
			}
			return
		}
	}
}

// abortConnection 在响应头已发出后中断客户端连接。
// 不能正常结束分块响应，否则客户端会把半截回复当成完整结束。
// gin 的 writer 在写过 body 后拒绝 Hijack，所以要解包到底层的 http.ResponseWriter。
func abortConnection(c *gin.Context) {
	var w http.ResponseWriter = c.Writer
	for {
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			break
		}
		w = u.Unwrap()
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		log.Warnf("Relay: cannot abort client connection: %T is not a hijacker", w)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		log.Warnf("Relay: cannot abort client connection: %v", err)
		return
	}
	if err := conn.Close(); err != nil {
		log.Warnf("Relay: closing hijacked connection: %v", err)
	}
}
