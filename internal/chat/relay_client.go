package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/model"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/sse"
)

// 中继没有返回可解析的错误体时使用的文案
const fallbackErrorMessage = "Failed to start stream"

// RelayError 是中继返回的非 2xx 响应。
type RelayError struct {
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	return e.Message
}

// RelayClient 把会话历史发给中继，并把 SSE 响应解码为事件流。
type RelayClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewRelayClient 创建客户端。apiKey 为空时不带鉴权头。
func NewRelayClient(url, apiKey string) *RelayClient {
	return &RelayClient{
		url:    url,
		apiKey: apiKey,
		// 不设置整体超时，流式响应可能持续较久
		httpClient: &http.Client{},
	}
}

// Stream 实现 Streamer。
func (c *RelayClient) Stream(ctx context.Context, history []model.ChatMessage) (<-chan sse.Event, error) {
	reqBody, err := json.Marshal(model.RelayRequest{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relay: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeRelayError(resp)
	}

	src := sse.Stream(ctx, resp.Body)
	out := make(chan sse.Event)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		for ev := range src {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func decodeRelayError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var errResp model.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &RelayError{StatusCode: resp.StatusCode, Message: fallbackErrorMessage}
	}
	return &RelayError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
