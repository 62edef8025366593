// Package model 包含了应用的数据模型定义。
package model

import "errors"

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrMalformedBody 表示请求体不是合法的 JSON。
var ErrMalformedBody = errors.New("malformed request body")

// ChatMessage 代表对话历史中的单条消息。
type ChatMessage struct {
	Role    string `json:"role"` // "user" 或 "assistant"
	Content string `json:"content"`
}

// RelayRequest 是浏览器发给中继接口的请求体，每轮都携带完整历史。
type RelayRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ErrorResponse 是中继接口统一的错误响应体。
type ErrorResponse struct {
	Error string `json:"error"`
}
