package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clawinfra/pilink/internal/scheduler"
)

// Config holds the gateway service configuration
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// MQTT broker the gateway publishes to. An empty host leaves the
	// gateway unconfigured: every publish fails with a configuration error.
	MQTT MQTTConfig `json:"mqtt" yaml:"mqtt"`

	// LLM provider settings
	Models ModelsConfig `json:"models" yaml:"models"`

	// Chat history storage
	Sessions SessionsConfig `json:"sessions" yaml:"sessions"`

	// Publish journal
	Journal JournalConfig `json:"journal" yaml:"journal"`

	// HTTP bearer auth
	Auth AuthConfig `json:"auth" yaml:"auth"`

	// Scheduled requests
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
}

type MQTTConfig struct {
	Host        string `json:"host" yaml:"host" toml:"host"`
	Port        int    `json:"port" yaml:"port" toml:"port"`
	Username    string `json:"username,omitempty" yaml:"username,omitempty" toml:"username"`
	Password    string `json:"password,omitempty" yaml:"password,omitempty" toml:"password"`
	ClientID    string `json:"clientId,omitempty" yaml:"clientId,omitempty" toml:"client_id"`
	TopicPrefix string `json:"topicPrefix" yaml:"topicPrefix" toml:"topic_prefix"`
}

type ModelsConfig struct {
	// Primary names the provider used first; Fallbacks are tried in order
	// when it fails.
	Primary   string                    `json:"primary" yaml:"primary"`
	Fallbacks []string                  `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`

	SystemPrompt string  `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	MaxRounds    int     `json:"maxRounds" yaml:"maxRounds"`
	MaxTokens    int     `json:"maxTokens" yaml:"maxTokens"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
}

type ProviderConfig struct {
	Type    string `json:"type" yaml:"type"` // "openai", "gemini"
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	Model   string `json:"model" yaml:"model"`
}

type SessionsConfig struct {
	Backend     string      `json:"backend" yaml:"backend"` // "memory", "redis"
	TTLSeconds  int         `json:"ttlSeconds" yaml:"ttlSeconds"`
	MaxMessages int         `json:"maxMessages" yaml:"maxMessages"`
	Redis       RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

type JournalConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Path defaults to <dataDir>/journal.db
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

type AuthConfig struct {
	// JWTSecret enables bearer auth on /api/* when set.
	JWTSecret string `json:"jwtSecret,omitempty" yaml:"jwtSecret,omitempty"`
	Issuer    string `json:"issuer" yaml:"issuer"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled bool             `json:"enabled" yaml:"enabled"`
	Jobs    []*scheduler.Job `json:"jobs" yaml:"jobs"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8420,
			DataDir:  "./data",
			LogLevel: "info",
		},
		MQTT: MQTTConfig{
			Port:        1883,
			TopicPrefix: "pilink/",
		},
		Models: ModelsConfig{
			Providers:   map[string]ProviderConfig{},
			MaxRounds:   5,
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Sessions: SessionsConfig{
			Backend:     "memory",
			TTLSeconds:  86400,
			MaxMessages: 50,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "pilink:session:",
			},
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Auth: AuthConfig{
			Issuer: "pilink",
		},
	}
}

// Load reads config from a JSON or YAML file (chosen by extension), then
// applies PILINK_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config as JSON or YAML depending on the extension
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if _, err := ParseLogLevel(c.Server.LogLevel); err != nil {
		return err
	}
	if c.MQTT.Host != "" && (c.MQTT.Port <= 0 || c.MQTT.Port > 65535) {
		return fmt.Errorf("mqtt.port out of range: %d", c.MQTT.Port)
	}

	for name, p := range c.Models.Providers {
		switch p.Type {
		case "openai", "gemini":
		default:
			return fmt.Errorf("models.providers.%s: unknown type %q (use openai or gemini)", name, p.Type)
		}
		if p.Model == "" {
			return fmt.Errorf("models.providers.%s: model required", name)
		}
	}
	for _, name := range append([]string{c.Models.Primary}, c.Models.Fallbacks...) {
		if name == "" {
			continue
		}
		if _, ok := c.Models.Providers[name]; !ok {
			return fmt.Errorf("models: provider %q is not defined", name)
		}
	}
	if c.Models.MaxRounds < 0 {
		return fmt.Errorf("models.maxRounds must not be negative")
	}

	switch c.Sessions.Backend {
	case "", "memory":
	case "redis":
		if c.Sessions.Redis.Addr == "" {
			return fmt.Errorf("sessions.redis.addr required for redis backend")
		}
	default:
		return fmt.Errorf("sessions.backend: unknown backend %q (use memory or redis)", c.Sessions.Backend)
	}

	return nil
}

// JournalPath returns the journal database location.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.Server.DataDir, "journal.db")
}

// ParseLogLevel maps debug|info|warn|error to a slog level. Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}
