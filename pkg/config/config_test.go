package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig_Complete(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store.Path == "" {
		t.Error("Store path should not be empty")
	}
	if cfg.Context.MaxTokens == 0 {
		t.Error("Context MaxTokens should not be zero")
	}
	if cfg.Retention.SweepSchedule == "" {
		t.Error("Retention sweep schedule should have a default")
	}
	if cfg.Retention.MaxSessionAgeDays == 0 {
		t.Error("Retention max session age should have a default")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log level = %q, want %q", cfg.Log.Level, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("DOTSESSION_CONTEXT_MAX_TOKENS", "4096")
	t.Setenv("DOTSESSION_STORE_PATH", "/tmp/dotsession-test.db")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Context.MaxTokens; got != 4096 {
		t.Fatalf("expected env override max tokens, got %d", got)
	}
	if got := cfg.Store.Path; got != "/tmp/dotsession-test.db" {
		t.Fatalf("expected env override store path, got %q", got)
	}
}

func TestLoadConfig_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"context":{"max_tokens":2048},"log":{"level":"debug"}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOTSESSION_CONTEXT_MAX_TOKENS", "1024")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Context.MaxTokens; got != 1024 {
		t.Fatalf("env should override file, got %d", got)
	}
	if got := cfg.Log.Level; got != "debug" {
		t.Fatalf("file value should survive when no env override, got %q", got)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	testcases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "zero-budget",
			mutate: func(c *Config) { c.Context.MaxTokens = 0 },
		},
		{
			name:   "negative-retention",
			mutate: func(c *Config) { c.Retention.MaxSessionAgeDays = -1 },
		},
		{
			name:   "bad-cron",
			mutate: func(c *Config) { c.Retention.SweepSchedule = "every day at four" },
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidate_EmptyScheduleAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention.SweepSchedule = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty schedule should disable sweeping, got %v", err)
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}
