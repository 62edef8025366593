// Package main 是一个终端聊天客户端，通过中继与 Yatri 对话，回复逐字显示。
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/chat"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/config"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/model"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	relayURL := flag.String("url", "", "relay endpoint, overrides client.relay_url")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	// 日志只写文件，避免打断终端输出
	if cfg.Log.OutputPath != "" {
		log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
		defer log.Sync()
	}

	url := cfg.Client.RelayURL
	if *relayURL != "" {
		url = *relayURL
	}

	term := &terminal{out: os.Stdout}
	conv := chat.NewConversation(chat.NewRelayClient(url, cfg.Client.APIKey), term)

	// Ctrl-C 先停止正在生成的回复，空闲时退出
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		for range sigCh {
			if !conv.Cancel() {
				fmt.Fprintln(os.Stdout)
				os.Exit(0)
			}
		}
	}()

	fmt.Fprintf(os.Stdout, "Yatri travel planner (%s)\nType /reset to start over, /quit to exit, Ctrl-C to stop a reply.\n", url)
	run(context.Background(), conv, term, os.Stdin)
}

func run(ctx context.Context, conv *chat.Conversation, term *terminal, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for {
		term.prompt()
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return
		case "/reset":
			conv.Reset()
			term.println("(conversation cleared)")
			continue
		}

		if err := conv.Send(ctx, line); err != nil {
			// 错误已经通过 Notify 展示
			continue
		}
		if conv.State() == chat.Cancelled {
			term.println("\n(stopped)")
		}
	}
}

// terminal 把历史变化渲染成增量输出：只打印助手消息新增的部分。
type terminal struct {
	out io.Writer

	mu       sync.Mutex
	current  string
	printed  int
	finished bool
}

func (t *terminal) Publish(history []chat.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(history) == 0 {
		return
	}
	last := history[len(history)-1]
	if last.Role != model.RoleAssistant {
		return
	}
	if last.ID != t.current {
		t.current, t.printed, t.finished = last.ID, 0, false
		fmt.Fprint(t.out, "yatri> ")
	}
	if t.finished {
		return
	}
	if len(last.Content) > t.printed {
		fmt.Fprint(t.out, last.Content[t.printed:])
		t.printed = len(last.Content)
	}
	if !last.Streaming {
		t.finished = true
		fmt.Fprintln(t.out)
	}
}

func (t *terminal) Notify(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "\n! %s\n", message)
}

func (t *terminal) prompt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, "you> ")
}

func (t *terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, s)
}
