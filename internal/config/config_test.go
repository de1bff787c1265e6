package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.DetectorTimeout != 2*time.Second {
		t.Fatalf("DetectorTimeout = %v, want 2s", cfg.DetectorTimeout)
	}
	if cfg.ConversationStore != "memory" || cfg.ConversationWindow != 5 {
		t.Fatalf("store = %q window = %d, want memory/5", cfg.ConversationStore, cfg.ConversationWindow)
	}
	if cfg.NATSSubject != "safety.analyze" {
		t.Fatalf("NATSSubject = %q, want %q", cfg.NATSSubject, "safety.analyze")
	}
	if cfg.EscalationSlopeThreshold != 0.08 || cfg.EscalationSlopeSaturation != 0.2 {
		t.Fatalf("slope settings = %v/%v, want 0.08/0.2", cfg.EscalationSlopeThreshold, cfg.EscalationSlopeSaturation)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("DETECTOR_TIMEOUT", "250ms")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("CONVERSATION_STORE", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9191")
	}
	if cfg.DetectorTimeout != 250*time.Millisecond {
		t.Fatalf("DetectorTimeout = %v, want 250ms", cfg.DetectorTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if cfg.ConversationStore != "redis" {
		t.Fatalf("ConversationStore = %q, want %q", cfg.ConversationStore, "redis")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	body := "CONVERSATION_WINDOW: 8\nAPP_LOG_FORMAT: console\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("APP_LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConversationWindow != 8 {
		t.Fatalf("ConversationWindow = %d, want 8", cfg.ConversationWindow)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("LogFormat = %q, want env to win over file", cfg.LogFormat)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"DETECTOR_TIMEOUT":        "soon",
		"CONVERSATION_WINDOW":     "five",
		"APP_ALLOW_ANY_ORIGIN":    "maybe",
		"CONVERSATION_STORE":      "cassandra",
		"ESCALATION_MIN_MESSAGES": "1",
		"APP_LOG_FORMAT":          "xml",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q should fail", key, val)
			}
		})
	}
}

func TestLoadRequiresBackendURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CONVERSATION_STORE", "postgres")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("Load() error = %v, want DATABASE_URL requirement", err)
	}
}

func TestLoadRejectsWindowSmallerThanMinMessages(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CONVERSATION_WINDOW", "2")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject a window below ESCALATION_MIN_MESSAGES")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	t.Setenv("APP_CONFIG_FILE", "")
	for key := range defaults {
		t.Setenv(key, "")
	}
}
