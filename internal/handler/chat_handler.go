package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/model"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/service"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var errNoMessages = fmt.Errorf("%w: a chat frame needs a non-empty messages array", model.ErrMalformedBody)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源，与 HTTP 中继的 CORS 策略一致
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。每个连接同一时间只允许一个轮次。
type ChatHandler struct {
	relayService service.RelayService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(relayService service.RelayService) *ChatHandler {
	return &ChatHandler{relayService: relayService}
}

// wsMessage 是客户端发来的消息：{"type":"stop"} 或 {"messages":[...]}。
type wsMessage struct {
	Type     string              `json:"type"`
	Messages []model.ChatMessage `json:"messages"`
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	ws := &lockedConn{conn: conn}
	s := &wsSession{handler: h, ws: ws}
	defer s.close()

	log.Infof("WebSocket 连接已建立: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			ws.writeJSON(gin.H{"error": model.ErrMalformedBody.Error()})
			continue
		}

		switch {
		case msg.Type == "stop":
			if s.stop() {
				ws.writeJSON(gin.H{"type": "stop", "message": "Response stopped", "timestamp": time.Now().UnixMilli()})
			}
			continue
		case msg.Type != "" || len(msg.Messages) == 0:
			// 未知类型或没有历史的帧不能发起轮次
			ws.writeJSON(gin.H{"error": errNoMessages.Error()})
			continue
		}

		if !s.start(c.Request.Context(), msg.Messages) {
			ws.writeJSON(gin.H{"error": "A reply is still streaming. Stop it or wait for it to finish."})
		}
	}
}

// wsSession 持有一个连接上正在进行的轮次。
type wsSession struct {
	handler *ChatHandler
	ws      *lockedConn

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *wsSession) start(parent context.Context, history []model.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish()

		err := s.handler.relayService.Stream(ctx, history, &chunkWriter{ws: s.ws})
		switch {
		case err == nil:
			sendCompletion(s.ws)
		case ctx.Err() != nil || errors.Is(err, context.Canceled):
			// 用户主动停止，不算错误
		default:
			var relayErr *service.RelayError
			msg := service.MsgUpstreamFailure
			if errors.As(err, &relayErr) {
				msg = relayErr.Message
			}
			s.ws.writeJSON(gin.H{"error": msg})
			sendCompletion(s.ws)
		}
	}()
	return true
}

func (s *wsSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// stop 取消正在进行的轮次，没有轮次时返回 false。
func (s *wsSession) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *wsSession) close() {
	s.stop()
	s.wg.Wait()
}

// lockedConn 串行化并发写：轮次 goroutine 写分块，读循环写控制消息。
type lockedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *lockedConn) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

func (l *lockedConn) writeJSON(v interface{}) {
	b, _ := json.Marshal(v)
	if err := l.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 失败: %v", err)
	}
}

// chunkWriter 将原始分块包装成 {"chunk":"..."}。
type chunkWriter struct {
	ws *lockedConn
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *chunkWriter) WriteMessage(messageType int, data []byte) error {
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.ws.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws *lockedConn) {
	ws.writeJSON(gin.H{
		"type":      "completion",
		"status":    "finished",
		"message":   "Response completed",
		"timestamp": time.Now().UnixMilli(),
	})
}
