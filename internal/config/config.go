// Package config loads the chat server settings from the environment and
// command-line flags, and applies the defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/botchat/internal/chat"
	"github.com/Tyrowin/botchat/internal/logger"
)

// Defaults applied by Validate to unset or invalid settings.
const (
	DefaultAddr            = ":9001"
	DefaultMaxMessageSize  = 64 * 1024
	DefaultRateLimitBurst  = 5
	DefaultRefillInterval  = time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHistoryFileName = "message.json"
	DefaultStaticDirName   = "dist"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// LogConfig selects the log level and handler format.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// BotConfig defines the bot identity and its completion limits.
type BotConfig struct {
	UserID        string        `env:"BOT_USER_ID" envDefault:"bot_001"`
	Nickname      string        `env:"BOT_NAME" envDefault:"ChatBot"`
	Avatar        string        `env:"BOT_AVATAR" envDefault:"🤖"`
	Timeout       time.Duration `env:"BOT_TIMEOUT" envDefault:"60s"`
	MaxConcurrent int64         `env:"BOT_MAX_CONCURRENT" envDefault:"4"`
	ContextLimit  int           `env:"BOT_CONTEXT_LIMIT" envDefault:"0"`
}

// LLMConfig points at the OpenAI-compatible completion service. An empty
// APIKey disables bot replies.
type LLMConfig struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	BaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://dashscope.aliyuncs.com/compatible-mode/v1"`
	Model   string `env:"OPENAI_MODEL" envDefault:"qwen-flash"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Addr           string   `env:"CHAT_ADDR" envDefault:":9001"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:9001,http://127.0.0.1:9001"`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE" envDefault:"65536"`
	RateLimit      RateLimitConfig

	// HistoryFile and StaticDir default to paths next to the executable.
	HistoryFile string `env:"HISTORY_FILE"`
	HistoryCap  int    `env:"HISTORY_CAP" envDefault:"10000"`
	StaticDir   string `env:"STATIC_DIR"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Log LogConfig
	Bot BotConfig
	LLM LLMConfig
}

// Load parses the environment into a validated Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AddFlags registers command-line overrides for the most common settings.
// Values already loaded from the environment become the flag defaults.
func (c *Config) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	flagSet.StringVar(&c.HistoryFile, "history-file", c.HistoryFile, "path of the persisted message history")
	flagSet.IntVar(&c.HistoryCap, "history-cap", c.HistoryCap, "number of messages kept in history")
	flagSet.StringVar(&c.StaticDir, "static-dir", c.StaticDir, "directory with the web client")
	flagSet.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level (debug, info, warn, error)")
	flagSet.StringVar(&c.Log.Format, "log-format", c.Log.Format, "log format (text, json)")
}

// Validate fills zero values with defaults and rejects settings that cannot
// be repaired.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = DefaultRefillInterval
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = chat.DefaultHistoryCap
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.HistoryFile == "" {
		c.HistoryFile = filepath.Join(executableDir(), DefaultHistoryFileName)
	}
	if c.StaticDir == "" {
		c.StaticDir = filepath.Join(executableDir(), DefaultStaticDirName)
	}
	c.AllowedOrigins = trimOrigins(c.AllowedOrigins)

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if !logger.ValidFormat(c.Log.Format) {
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}

func trimOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
