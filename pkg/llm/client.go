// Package llm provides a client for an OpenAI-compatible chat-completions gateway.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/config"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/sse"

	"github.com/gorilla/websocket"
)

// 上游错误响应体最多读取的字节数
const maxErrorBody = 4 << 10

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and an interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an LLM gateway client.
type Client interface {
	// OpenStream 发起一次流式请求，成功时返回未经处理的 SSE 响应体，由调用方关闭。
	OpenStream(ctx context.Context, messages []Message, gen *GenerationParams) (io.ReadCloser, error)
	// StreamChatMessages 在服务端解码 SSE，并把每个增量写入 writer。
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error
}

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat api returned non-2xx status: %d %s, body: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

type gatewayClient struct {
	cfg    config.AIConfig
	client *http.Client
}

// NewClient creates a gateway client. The http.Client has no overall timeout
// because a streamed reply may run for minutes. DialTimeout bounds connecting
// only; ResponseHeaderTimeout is separate and off unless configured.
func NewClient(cfg config.AIConfig) Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.DialTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext
	}
	transport.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	return &gatewayClient{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

func (c *gatewayClient) OpenStream(ctx context.Context, messages []Message, gen *GenerationParams) (io.ReadCloser, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   true,
	}
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}
	return resp.Body, nil
}

func (c *gatewayClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := c.OpenStream(ctx, messages, gen)
	if err != nil {
		return err
	}
	defer body.Close()

	for ev := range sse.Stream(ctx, body) {
		switch ev.Type {
		case sse.EventDelta:
			if err := writer.WriteMessage(websocket.TextMessage, []byte(ev.Content)); err != nil {
				return fmt.Errorf("failed to write message to websocket: %w", err)
			}
		case sse.EventError:
			return fmt.Errorf("failed to read from stream: %w", ev.Err)
		case sse.EventDone:
			return nil
		}
	}
	return ctx.Err()
}
