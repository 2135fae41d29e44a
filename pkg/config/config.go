package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Store     StoreConfig     `json:"store"`
	Context   ContextConfig   `json:"context"`
	Retention RetentionConfig `json:"retention"`
	Log       LogConfig       `json:"log"`
	mu        sync.RWMutex
}

type StoreConfig struct {
	Path string `json:"path" env:"DOTSESSION_STORE_PATH"`
}

type ContextConfig struct {
	// MaxTokens is the working-context budget handed to Compress.
	MaxTokens int `json:"max_tokens" env:"DOTSESSION_CONTEXT_MAX_TOKENS"`
}

type RetentionConfig struct {
	// SweepSchedule is a cron expression for the periodic session sweep.
	SweepSchedule string `json:"sweep_schedule" env:"DOTSESSION_RETENTION_SWEEP_SCHEDULE"`
	// MaxSessionAgeDays is how long an untouched session survives a sweep.
	MaxSessionAgeDays int `json:"max_session_age_days" env:"DOTSESSION_RETENTION_MAX_SESSION_AGE_DAYS"`
}

type LogConfig struct {
	Level string `json:"level" env:"DOTSESSION_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "~/.dotsession/state/sessions.db",
		},
		Context: ContextConfig{
			MaxTokens: 8192,
		},
		Retention: RetentionConfig{
			SweepSchedule:     "0 4 * * *",
			MaxSessionAgeDays: 90,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate rejects configurations that would fail later at a worse moment.
func (c *Config) Validate() error {
	if c.Context.MaxTokens <= 0 {
		return fmt.Errorf("context.max_tokens must be positive, got %d", c.Context.MaxTokens)
	}
	if c.Retention.MaxSessionAgeDays < 0 {
		return fmt.Errorf("retention.max_session_age_days must not be negative, got %d", c.Retention.MaxSessionAgeDays)
	}
	schedule := strings.TrimSpace(c.Retention.SweepSchedule)
	if schedule != "" && !gronx.New().IsValid(schedule) {
		return fmt.Errorf("retention.sweep_schedule %q is not a valid cron expression", schedule)
	}
	return nil
}

func (c *Config) StorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Store.Path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
