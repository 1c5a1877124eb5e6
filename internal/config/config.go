package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "convoflow"
	DefaultPGSSLMode       = "disable"
	DefaultRedisURL        = "redis://127.0.0.1:6379"
	DefaultQueuePrefix     = "convoflow:queue"
	DefaultVisibilitySecs  = 30
	DefaultMaxReceiveCount = 3
	DefaultWorkerCount     = 4
	DefaultAssistantAPI    = "https://api.openai.com/v1"
	DefaultRunPollSecs     = 5
	DefaultRunDeadlineSecs = 540
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Queue     QueueConfig     `toml:"queue"`
	Processor ProcessorConfig `toml:"processor"`
	Assistant AssistantConfig `toml:"assistant"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	URL string `toml:"url"`
}

type QueueConfig struct {
	Prefix            string `toml:"prefix"`
	VisibilitySeconds int    `toml:"visibility_seconds"`
	MaxReceiveCount   int    `toml:"max_receive_count"`
}

func (c QueueConfig) Visibility() time.Duration {
	secs := c.VisibilitySeconds
	if secs <= 0 {
		secs = DefaultVisibilitySecs
	}
	return time.Duration(secs) * time.Second
}

type ProcessorConfig struct {
	Channel     string `toml:"channel"`
	WorkerCount int    `toml:"worker_count"`
}

type AssistantConfig struct {
	BaseURL             string `toml:"base_url"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	RunDeadlineSeconds  int    `toml:"run_deadline_seconds"`
}

func (c AssistantConfig) PollInterval() time.Duration {
	secs := c.PollIntervalSeconds
	if secs <= 0 {
		secs = DefaultRunPollSecs
	}
	return time.Duration(secs) * time.Second
}

func (c AssistantConfig) RunDeadline() time.Duration {
	secs := c.RunDeadlineSeconds
	if secs <= 0 {
		secs = DefaultRunDeadlineSecs
	}
	return time.Duration(secs) * time.Second
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			URL: DefaultRedisURL,
		},
		Queue: QueueConfig{
			Prefix:            DefaultQueuePrefix,
			VisibilitySeconds: DefaultVisibilitySecs,
			MaxReceiveCount:   DefaultMaxReceiveCount,
		},
		Processor: ProcessorConfig{
			WorkerCount: DefaultWorkerCount,
		},
		Assistant: AssistantConfig{
			BaseURL:             DefaultAssistantAPI,
			PollIntervalSeconds: DefaultRunPollSecs,
			RunDeadlineSeconds:  DefaultRunDeadlineSecs,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
