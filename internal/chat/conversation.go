// Package chat 实现客户端的消息组装：把中继返回的增量逐步拼成助手消息。
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/model"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/log"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/sse"

	"github.com/google/uuid"
)

var (
	ErrEmptyInput   = errors.New("message is empty")
	ErrTurnInFlight = errors.New("a reply is still streaming")

	errStreamEnded = errors.New("stream ended before completion")
)

// TurnState 是单个轮次的状态。
type TurnState int

const (
	Idle TurnState = iota
	Sending
	Streaming
	Complete
	Cancelled
	Errored
)

func (s TurnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	case Complete:
		return "complete"
	case Cancelled:
		return "cancelled"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// Entry 是可见历史中的一条消息。Streaming 为 true 表示助手消息仍在增长。
type Entry struct {
	ID        string
	Role      string
	Content   string
	Streaming bool
}

// Publisher 接收历史变化和错误提示。
// 回调在 Conversation 持锁时执行，实现不能再回调 Conversation 的方法。
type Publisher interface {
	Publish(history []Entry)
	Notify(message string)
}

type nopPublisher struct{}

func (nopPublisher) Publish([]Entry) {}
func (nopPublisher) Notify(string)   {}

// Streamer 发起一次轮次请求，返回解码后的事件流。ctx 取消时流必须结束。
type Streamer interface {
	Stream(ctx context.Context, history []model.ChatMessage) (<-chan sse.Event, error)
}

type streamSession struct {
	cancel      context.CancelFunc
	assistantID string
	cancelled   bool
}

// Conversation 持有一个会话的历史，同一时间最多一个进行中的轮次。
type Conversation struct {
	streamer Streamer
	pub      Publisher

	mu      sync.Mutex
	history []Entry
	state   TurnState
	session *streamSession
}

// NewConversation 创建会话，pub 为 nil 时丢弃所有通知。
func NewConversation(streamer Streamer, pub Publisher) *Conversation {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Conversation{streamer: streamer, pub: pub}
}

// Send 发送一条用户消息并阻塞到轮次结束。
// 主动取消返回 nil；其他失败会回滚占位消息、通知一次并返回错误。
func (c *Conversation) Send(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return ErrTurnInFlight
	}

	c.history = append(c.history, Entry{ID: uuid.NewString(), Role: model.RoleUser, Content: input})
	request := toMessages(c.history)

	turnCtx, cancel := context.WithCancel(ctx)
	sess := &streamSession{cancel: cancel, assistantID: uuid.NewString()}
	c.session = sess
	c.history = append(c.history, Entry{ID: sess.assistantID, Role: model.RoleAssistant, Streaming: true})
	c.state = Sending
	c.publishLocked()
	c.mu.Unlock()

	events, err := c.streamer.Stream(turnCtx, request)
	if err != nil {
		return c.settle(turnCtx, sess, err)
	}

	for ev := range events {
		switch ev.Type {
		case sse.EventDelta:
			c.applyDelta(sess, ev.Content)
		case sse.EventDone:
			return c.settle(turnCtx, sess, nil)
		case sse.EventError:
			return c.settle(turnCtx, sess, ev.Err)
		}
	}
	// 没有收到终止事件就结束，通常是 ctx 被取消
	return c.settle(turnCtx, sess, errStreamEnded)
}

// Cancel 中止进行中的轮次，没有轮次时返回 false。
func (c *Conversation) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return false
	}
	c.session.cancelled = true
	c.session.cancel()
	return true
}

// Reset 中止进行中的轮次并清空历史。
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.cancelled = true
		c.session.cancel()
		c.session = nil
	}
	c.history = nil
	c.state = Idle
	c.publishLocked()
}

// History 返回可见历史的副本。
func (c *Conversation) History() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Conversation) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conversation) applyDelta(sess *streamSession, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess.cancelled || c.session != sess {
		return
	}
	i := c.indexLocked(sess.assistantID)
	if i < 0 {
		return
	}
	c.history[i].Content += delta
	c.state = Streaming
	c.publishLocked()
}

func (c *Conversation) settle(ctx context.Context, sess *streamSession, err error) error {
	defer sess.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.session == sess
	if current {
		c.session = nil
	}

	if sess.cancelled || errors.Is(ctx.Err(), context.Canceled) {
		c.removeLocked(sess.assistantID)
		// Reset 之后保持 Idle
		if current {
			c.state = Cancelled
		}
		c.publishLocked()
		return nil
	}

	if err != nil {
		c.removeLocked(sess.assistantID)
		c.state = Errored
		c.publishLocked()
		log.Warnf("chat turn failed: %v", err)
		c.pub.Notify(err.Error())
		return err
	}

	if i := c.indexLocked(sess.assistantID); i >= 0 {
		c.history[i].Streaming = false
	}
	c.state = Complete
	c.publishLocked()
	return nil
}

func (c *Conversation) indexLocked(id string) int {
	for i := range c.history {
		if c.history[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) removeLocked(id string) {
	if i := c.indexLocked(id); i >= 0 {
		c.history = append(c.history[:i], c.history[i+1:]...)
	}
}

func (c *Conversation) snapshotLocked() []Entry {
	out := make([]Entry, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Conversation) publishLocked() {
	c.pub.Publish(c.snapshotLocked())
}

func toMessages(entries []Entry) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, model.ChatMessage{Role: e.Role, Content: e.Content})
	}
	return msgs
}
