// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/config"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/model"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/llm"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/log"
)

// 面向浏览器的错误文案
const (
	MsgRateLimited      = "Rate limit reached. Please try again in a moment."
	MsgCreditsExhausted = "AI usage limit reached. Please add credits to continue."
	MsgUpstreamFailure  = "AI service error. Please try again."
)

// RelayError 是已映射为客户端状态码和文案的错误。
type RelayError struct {
	Status  int
	Message string
	Err     error
}

func (e *RelayError) Error() string {
	return e.Message
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// RelayService 定义了聊天中继的接口。
type RelayService interface {
	// Open 把历史转发给上游，返回原样的 SSE 响应体，由调用方关闭。
	Open(ctx context.Context, history []model.ChatMessage) (io.ReadCloser, error)
	// Stream 在服务端解码上游 SSE，把增量逐条写入 writer。
	Stream(ctx context.Context, history []model.ChatMessage, writer llm.MessageWriter) error
}

type relayService struct {
	llmClient llm.Client
	cfg       config.AIConfig
}

// NewRelayService 创建一个新的 RelayService 实例。
func NewRelayService(llmClient llm.Client, cfg config.AIConfig) RelayService {
	return &relayService{
		llmClient: llmClient,
		cfg:       cfg,
	}
}

func (s *relayService) Open(ctx context.Context, history []model.ChatMessage) (io.ReadCloser, error) {
	messages, err := s.composeMessages(history)
	if err != nil {
		return nil, err
	}
	body, err := s.llmClient.OpenStream(ctx, messages, nil)
	if err != nil {
		return nil, MapUpstreamError(err)
	}
	return body, nil
}

func (s *relayService) Stream(ctx context.Context, history []model.ChatMessage, writer llm.MessageWriter) error {
	messages, err := s.composeMessages(history)
	if err != nil {
		return err
	}
	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, writer); err != nil {
		return MapUpstreamError(err)
	}
	return nil
}

// composeMessages 在客户端历史前面插入系统指令。凭证每次请求都检查。
func (s *relayService) composeMessages(history []model.ChatMessage) ([]llm.Message, error) {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		log.Error("AI gateway credential missing", config.ErrMissingAPIKey)
		return nil, &RelayError{Status: http.StatusInternalServerError, Message: config.ErrMissingAPIKey.Error(), Err: config.ErrMissingAPIKey}
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: s.cfg.SystemPrompt})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return msgs, nil
}

// MapUpstreamError 把上游错误映射为客户端可见的状态码和文案。
// 429 和 402 原样透出；其他非 2xx 只记录日志，客户端拿到通用文案；
// 网络错误返回 500 并带上失败原因。
func MapUpstreamError(err error) *RelayError {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr
	}

	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			return &RelayError{Status: http.StatusTooManyRequests, Message: MsgRateLimited, Err: err}
		case http.StatusPaymentRequired:
			return &RelayError{Status: http.StatusPaymentRequired, Message: MsgCreditsExhausted, Err: err}
		}
		log.Errorw("AI gateway error", "status", statusErr.StatusCode, "body", statusErr.Body)
		return &RelayError{Status: http.StatusInternalServerError, Message: MsgUpstreamFailure, Err: err}
	}

	log.Error("travel chat relay failed", err)
	return &RelayError{Status: http.StatusInternalServerError, Message: err.Error(), Err: err}
}
