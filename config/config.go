package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	return nil
}

// LLMConfig contains the external language model provider settings
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Normalize() LLMConfig {
	if l.Provider == "" {
		l.Provider = "openai"
	}
	if l.APIKey == "" {
		l.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 800
	}
	if l.Timeout <= 0 {
		l.Timeout = 30 * time.Second
	}
	return l
}

// AssistantConfig controls the orchestration core.
type AssistantConfig struct {
	PublishCost       int64         `mapstructure:"publish_cost"`       // credits debited per publish
	InitialCredits    int64         `mapstructure:"initial_credits"`    // wallet balance granted on signup
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`    // pending_publish/delete confirmation window
	ExtractionTimeout time.Duration `mapstructure:"extraction_timeout"` // per-field extraction deadline
	SearchTimeout     time.Duration `mapstructure:"search_timeout"`     // per-strategy search deadline
	MaxExtractors     int           `mapstructure:"max_extractors"`     // concurrent field extractors per message
	SweepCron         string        `mapstructure:"sweep_cron"`         // schedule for stale pending_publish sweeps
}

func (a AssistantConfig) Normalize() AssistantConfig {
	if a.PublishCost <= 0 {
		a.PublishCost = 1
	}
	if a.InitialCredits < 0 {
		a.InitialCredits = 0
	}
	if a.ConfirmTimeout <= 0 {
		a.ConfirmTimeout = 5 * time.Minute
	}
	if a.ExtractionTimeout <= 0 {
		a.ExtractionTimeout = 20 * time.Second
	}
	if a.SearchTimeout <= 0 {
		a.SearchTimeout = 10 * time.Second
	}
	if a.MaxExtractors <= 0 {
		a.MaxExtractors = 5
	}
	if strings.TrimSpace(a.SweepCron) == "" {
		a.SweepCron = "@hourly"
	}
	return a
}

// SessionConfig controls conversation state retention.
type SessionConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

func (s SessionConfig) Normalize() SessionConfig {
	if s.TTL <= 0 {
		s.TTL = 24 * time.Hour
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = 100
	}
	return s
}

// StorageConfig contains the persistent store settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host or storage.postgres.url required")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from file and environment.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":8090")
	viper.SetDefault("assistant.publish_cost", 1)
	viper.SetDefault("assistant.confirm_timeout", "5m")
	viper.SetDefault("session.ttl", "24h")
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ASSISTANT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional when everything comes from the environment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.LLM = cfg.LLM.Normalize()
	cfg.Assistant = cfg.Assistant.Normalize()
	cfg.Session = cfg.Session.Normalize()

	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
