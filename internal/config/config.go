// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// ErrMissingAPIKey 表示未配置上游 AI 网关的凭证。
var ErrMissingAPIKey = errors.New("LOVABLE_API_KEY is not configured")

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	AI        AIConfig        `mapstructure:"ai"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Client    ClientConfig    `mapstructure:"client"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// AIConfig 存储上游 AI 网关的配置。
type AIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	// DialTimeout 只约束建立 TCP 连接。
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// ResponseHeaderTimeout 约束等待上游响应头的时间，0 表示不限制。流式读取本身从不设超时。
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
}

// CORSConfig 存储跨域相关的配置。
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
	AllowHeaders []string `mapstructure:"allow_headers"`
}

// AuthConfig 存储调用方 JWT 校验的配置，secret 为空时不校验。
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// RateLimitConfig 存储按客户端限流的配置。
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ClientConfig 存储终端聊天客户端的配置。
type ClientConfig struct {
	RelayURL string `mapstructure:"relay_url"`
	APIKey   string `mapstructure:"api_key"`
}

// DefaultSystemPrompt 是注入到每次上游请求最前面的系统指令。
const DefaultSystemPrompt = `You are Yatri, a friendly and knowledgeable AI travel planner for travellers in India and abroad.
Help users plan trips: suggest destinations, build day-by-day itineraries, estimate budgets in INR, recommend stays, food and local transport, and share practical tips on weather, safety and visas.
Keep answers well structured with short headings and bullet points. Ask a brief clarifying question when the traveller's dates, budget or group size are unclear.`

// Init 加载配置并写入全局 Conf。
func Init(configPath string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	Conf = *cfg
	return nil
}

// Load 从 YAML 文件、.env 文件和环境变量加载配置。
// 配置文件不存在时只使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("YATRI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 凭证沿用网关的环境变量名
	if err := v.BindEnv("ai.api_key", "YATRI_AI_API_KEY", "LOVABLE_API_KEY"); err != nil {
		return nil, fmt.Errorf("绑定环境变量失败: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if strings.TrimSpace(cfg.AI.SystemPrompt) == "" {
		cfg.AI.SystemPrompt = DefaultSystemPrompt
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "https://ai.gateway.lovable.dev/v1")
	v.SetDefault("ai.model", "google/gemini-2.5-flash")
	v.SetDefault("ai.system_prompt", "")
	v.SetDefault("ai.dial_timeout", 60*time.Second)
	v.SetDefault("ai.response_header_timeout", 0)

	v.SetDefault("cors.allow_origins", []string{"*"})
	v.SetDefault("cors.allow_headers", []string{
		"authorization", "x-client-info", "apikey", "content-type",
		"x-supabase-client-platform", "x-supabase-client-platform-version",
		"x-supabase-client-runtime", "x-supabase-client-runtime-version",
	})

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 30)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("client.relay_url", "http://localhost:8080/functions/v1/travel-chat")
	v.SetDefault("client.api_key", "")
}

// Validate 检查服务端启动所必需的配置。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AI.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.AI.BaseURL == "" {
		return errors.New("ai.base_url 不能为空")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit 配置无效: requests=%d window=%s", c.RateLimit.Requests, c.RateLimit.Window)
	}
	return nil
}

// Address 返回 HTTP 服务监听地址。
func (c *Config) Address() string {
	return ":" + c.Server.Port
}
