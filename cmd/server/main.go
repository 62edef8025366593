// Package main 是中继服务的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/config"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/repository"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/router"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/internal/service"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/database"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/llm"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/log"
	"github.com/Pankzz30/yatri-ai-6efaf656-sub000/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to ./configs/config.yaml when present)")
	flag.Parse()

	// 1. 初始化配置
	if err := config.Init(*configPath); err != nil {
		log.Init("info", "json", "")
		log.Fatal("加载配置失败", err)
	}
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 缺少上游凭证时直接拒绝启动
	if err := cfg.Validate(); err != nil {
		log.Fatal("配置校验失败", err)
	}

	// 3. 可选依赖：Redis 限流和调用方 JWT 校验
	deps := router.Deps{}
	if cfg.RateLimit.Enabled {
		if err := database.InitRedis(cfg.Database.Redis); err != nil {
			log.Fatal("Redis 初始化失败", err)
		}
		defer database.RDB.Close()
		deps.RateLimitRepo = repository.NewRateLimitRepository(database.RDB)
		log.Infof("限流已开启: %d 次 / %s", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}
	if cfg.Auth.JWTSecret != "" {
		deps.JWTManager = token.NewJWTManager(cfg.Auth.JWTSecret, 0)
		log.Info("调用方 JWT 校验已开启")
	}

	// 4. 初始化 Service
	llmClient := llm.NewClient(cfg.AI)
	deps.RelayService = service.NewRelayService(llmClient, cfg.AI)

	// 5. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := router.Setup(&cfg, deps)

	// 启动 HTTP 服务器并实现优雅停机。流式响应不设 WriteTimeout。
	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		log.Infof("服务启动于 %s，上游模型 %s", srv.Addr, cfg.AI.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP 服务器关闭失败", err)
		return
	}
	log.Info("服务已优雅关闭")
}
