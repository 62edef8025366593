package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/model"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/sse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	snapshots [][]Entry
	notes     []string
}

func (r *recorder) Publish(history []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, history)
}

func (r *recorder) Notify(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, message)
}

func (r *recorder) notifications() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notes...)
}

// assistantContents 返回每次发布时最后一条助手消息的内容。
func (r *recorder) assistantContents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, snap := range r.snapshots {
		if n := len(snap); n > 0 && snap[n-1].Role == model.RoleAssistant {
			out = append(out, snap[n-1].Content)
		}
	}
	return out
}

// fakeStreamer 每次调用创建一个新的 feed，测试通过 next 取得并推送事件；ctx 取消时关闭输出。
type fakeStreamer struct {
	started chan chan sse.Event

	mu       sync.Mutex
	calls    int
	requests [][]model.ChatMessage
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{started: make(chan chan sse.Event, 4)}
}

func (f *fakeStreamer) Stream(ctx context.Context, history []model.ChatMessage) (<-chan sse.Event, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, history)
	f.mu.Unlock()

	feed := make(chan sse.Event)
	out := make(chan sse.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-feed:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	f.started <- feed
	return out, nil
}

func (f *fakeStreamer) next(t *testing.T) chan<- sse.Event {
	t.Helper()
	select {
	case feed := <-f.started:
		return feed
	case <-time.After(5 * time.Second):
		t.Fatal("Stream was not called")
		return nil
	}
}

func (f *fakeStreamer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sendAsync(conv *Conversation, input string) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- conv.Send(context.Background(), input) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return")
		return nil
	}
}

func waitState(t *testing.T, conv *Conversation, want TurnState) {
	t.Helper()
	require.Eventually(t, func() bool { return conv.State() == want }, 5*time.Second, 5*time.Millisecond)
}

func TestSendRejectsBlankInput(t *testing.T) {
	fs := newFakeStreamer()
	conv := NewConversation(fs, nil)

	assert.ErrorIs(t, conv.Send(context.Background(), "   \n"), ErrEmptyInput)
	assert.Empty(t, conv.History())
	assert.Equal(t, 0, fs.callCount())
	assert.Equal(t, Idle, conv.State())
}

func TestSendAppendsIncrementally(t *testing.T) {
	fs := newFakeStreamer()
	rec := &recorder{}
	conv := NewConversation(fs, rec)

	errCh := sendAsync(conv, "Plan 3 days in Goa")
	feed := fs.next(t)

	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "Plan 3 days in Goa", history[0].Content)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.True(t, history[1].Streaming)

	feed <- sse.Event{Type: sse.EventDelta, Content: "Day"}
	feed <- sse.Event{Type: sse.EventDelta, Content: " 1"}
	feed <- sse.Event{Type: sse.EventDone}
	require.NoError(t, waitErr(t, errCh))

	assert.Equal(t, []string{"", "Day", "Day 1", "Day 1"}, rec.assistantContents())
	assert.Equal(t, Complete, conv.State())

	history = conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Day 1", history[1].Content)
	assert.False(t, history[1].Streaming)

	require.Len(t, fs.requests, 1)
	assert.Equal(t, []model.ChatMessage{{Role: model.RoleUser, Content: "Plan 3 days in Goa"}}, fs.requests[0])
}

func TestSendWhileStreamingIsRejected(t *testing.T) {
	fs := newFakeStreamer()
	conv := NewConversation(fs, nil)

	errCh := sendAsync(conv, "first")
	feed := fs.next(t)

	assert.ErrorIs(t, conv.Send(context.Background(), "second"), ErrTurnInFlight)
	assert.Equal(t, 1, fs.callCount())
	assert.Len(t, conv.History(), 2)

	feed <- sse.Event{Type: sse.EventDone}
	require.NoError(t, waitErr(t, errCh))

	// 上一轮结束后可以继续发送，请求携带完整历史
	errCh = sendAsync(conv, "second")
	fs.next(t) <- sse.Event{Type: sse.EventDone}
	require.NoError(t, waitErr(t, errCh))

	assert.Equal(t, 2, fs.callCount())
	assert.Len(t, fs.requests[1], 3)
	assert.Len(t, conv.History(), 4)
}

func TestCancelIsSilent(t *testing.T) {
	fs := newFakeStreamer()
	rec := &recorder{}
	conv := NewConversation(fs, rec)

	errCh := sendAsync(conv, "Plan 3 days in Goa")
	fs.next(t) <- sse.Event{Type: sse.EventDelta, Content: "Day"}
	waitState(t, conv, Streaming)

	assert.True(t, conv.Cancel())
	require.NoError(t, waitErr(t, errCh))

	assert.Empty(t, rec.notifications())
	assert.Equal(t, Cancelled, conv.State())
	history := conv.History()
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)
	for _, e := range history {
		assert.False(t, e.Streaming)
	}
	assert.False(t, conv.Cancel())
}

func TestContextCancelIsSilent(t *testing.T) {
	fs := newFakeStreamer()
	rec := &recorder{}
	conv := NewConversation(fs, rec)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- conv.Send(ctx, "hello") }()
	waitState(t, conv, Sending)

	cancel()
	require.NoError(t, waitErr(t, errCh))
	assert.Empty(t, rec.notifications())
	assert.Len(t, conv.History(), 1)
}

func TestResetClearsHistory(t *testing.T) {
	fs := newFakeStreamer()
	rec := &recorder{}
	conv := NewConversation(fs, rec)

	errCh := sendAsync(conv, "hello")
	waitState(t, conv, Sending)

	conv.Reset()
	require.NoError(t, waitErr(t, errCh))

	assert.Empty(t, conv.History())
	assert.Equal(t, Idle, conv.State())
	assert.Empty(t, rec.notifications())
}

func TestErrorRollsBackPartialReply(t *testing.T) {
	fs := newFakeStreamer()
	rec := &recorder{}
	conv := NewConversation(fs, rec)

	errCh := sendAsync(conv, "Plan 3 days in Goa")
	feed := fs.next(t)
	feed <- sse.Event{Type: sse.EventDelta, Content: "Day"}
	feed <- sse.Event{Type: sse.EventError, Err: io.ErrUnexpectedEOF}

	err := waitErr(t, errCh)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, Errored, conv.State())
	assert.Equal(t, []string{io.ErrUnexpectedEOF.Error()}, rec.notifications())

	history := conv.History()
	require.Len(t, history, 1)
	assert.Equal(t, "Plan 3 days in Goa", history[0].Content)
}

type failingStreamer struct{ err error }

func (f failingStreamer) Stream(context.Context, []model.ChatMessage) (<-chan sse.Event, error) {
	return nil, f.err
}

func TestOpenFailureNotifiesOnce(t *testing.T) {
	rec := &recorder{}
	relayErr := &RelayError{StatusCode: http.StatusTooManyRequests, Message: "Rate limit reached. Please try again in a moment."}
	conv := NewConversation(failingStreamer{err: relayErr}, rec)

	err := conv.Send(context.Background(), "hi")

	var got *RelayError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, http.StatusTooManyRequests, got.StatusCode)
	assert.Equal(t, []string{relayErr.Message}, rec.notifications())
	assert.Len(t, conv.History(), 1)
}

func TestTurnStateString(t *testing.T) {
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "unknown", TurnState(42).String())
}

func TestEndToEndGoaExample(t *testing.T) {
	chunks := []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"Day\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\" 1\"}}]}\n\n",
		"data: [DONE]\n\n",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			_, _ = io.WriteString(w, chunk)
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	conv := NewConversation(NewRelayClient(srv.URL, ""), rec)

	require.NoError(t, conv.Send(context.Background(), "Plan 3 days in Goa"))

	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Day 1", history[1].Content)
	assert.False(t, history[1].Streaming)
	assert.Equal(t, Complete, conv.State())
	assert.Empty(t, rec.notifications())
}

func TestEndToEndConnectionDrop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Day\"}}]}\n\n")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	rec := &recorder{}
	conv := NewConversation(NewRelayClient(srv.URL, ""), rec)

	err := conv.Send(context.Background(), "Plan 3 days in Goa")
	require.Error(t, err)

	assert.Len(t, rec.notifications(), 1)
	assert.Equal(t, Errored, conv.State())
	history := conv.History()
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)
}
