// Package config loads the watcher configuration from an optional YAML file
// with environment overrides for credentials and the poll interval.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML as either a Go
// duration string ("90s", "10m") or a bare number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		dur, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		*d = Duration(dur)
		return nil
	}
	var secs int64
	if err := node.Decode(&secs); err != nil {
		return err
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Poll     PollConfig     `yaml:"poll"`
	AI       AIConfig       `yaml:"ai"`
	Telegram TelegramConfig `yaml:"telegram"`
	Paths    PathsConfig    `yaml:"paths"`
	LogLevel string         `yaml:"log_level"` // debug | info | warn | error
}

type PollConfig struct {
	Interval      Duration `yaml:"interval"`
	BackoffFactor float64  `yaml:"backoff_factor"`
	MaxBackoff    Duration `yaml:"max_backoff"`
}

type AIConfig struct {
	Provider string `yaml:"provider"` // gemini | anthropic | openai
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type PathsConfig struct {
	PluginsDir string `yaml:"plugins_dir"`
	DBPath     string `yaml:"db_path"`
}

// Load reads path when it exists; a missing file yields pure defaults.
// Environment variables override the file in either case.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// optional file
	default:
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = Duration(60 * time.Second)
	}
	if c.Poll.BackoffFactor <= 1 {
		c.Poll.BackoffFactor = 2
	}
	if c.Poll.MaxBackoff <= 0 {
		c.Poll.MaxBackoff = Duration(10 * time.Minute)
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "gemini"
	}
	if c.Paths.PluginsDir == "" {
		c.Paths.PluginsDir = "plugins"
	}
	if c.Paths.DBPath == "" {
		c.Paths.DBPath = "watchlist.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := apiKeyEnv(c.AI.Provider); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return fmt.Errorf("POLL_INTERVAL: want positive seconds, got %q", v)
		}
		c.Poll.Interval = Duration(time.Duration(secs) * time.Second)
	}
	return nil
}

func apiKeyEnv(provider string) string {
	switch provider {
	case "gemini", "google":
		return os.Getenv("GEMINI_API_KEY")
	case "anthropic", "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}
