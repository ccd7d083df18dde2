package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json")); err == nil {
		t.Fatal("explicit missing file should error")
	}

	// The default file being absent is fine; chdir into an empty dir so
	// a stray syncboard.json cannot interfere.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != DefaultAddress {
		t.Errorf("Address = %q, want %q", cfg.Address, DefaultAddress)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `{
		"address": ":9090",
		"log_level": "debug",
		"storage": {"backend": "redis", "redis_url": "redis://localhost:6379/0"},
		"room": {"max_sessions": 10, "heartbeat_timeout": "45s", "eviction_delay": "2m"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != ":9090" {
		t.Errorf("Address = %q, want :9090", cfg.Address)
	}
	if cfg.Storage.Backend != "redis" {
		t.Errorf("Backend = %q, want redis", cfg.Storage.Backend)
	}
	if cfg.Room.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want 10", cfg.Room.MaxSessions)
	}
	if got := time.Duration(cfg.Room.HeartbeatTimeout); got != 45*time.Second {
		t.Errorf("HeartbeatTimeout = %v, want 45s", got)
	}
	if got := time.Duration(cfg.Room.EvictionDelay); got != 2*time.Minute {
		t.Errorf("EvictionDelay = %v, want 2m", got)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"address": ":9090"}`)
	t.Setenv("SYNCBOARD_ADDRESS", ":7070")
	t.Setenv("SYNCBOARD_STORAGE_BACKEND", "redis")
	t.Setenv("SYNCBOARD_REDIS_URL", "redis://env-host:6379/0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != ":7070" {
		t.Errorf("Address = %q, env must override file", cfg.Address)
	}
	if cfg.Storage.RedisURL != "redis://env-host:6379/0" {
		t.Errorf("RedisURL = %q, want env value", cfg.Storage.RedisURL)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := writeConfig(t, `{"address": `)
	if _, err := Load(path); err == nil {
		t.Error("malformed JSON should error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"redis without url", func(c *Config) {
			c.Storage.Backend = "redis"
		}, true},
		{"postgres without dsn", func(c *Config) {
			c.Storage.Backend = "postgres"
		}, true},
		{"s3 without bucket", func(c *Config) {
			c.Storage.Backend = "s3"
		}, true},
		{"unknown backend", func(c *Config) {
			c.Storage.Backend = "etcd"
		}, true},
		{"bad log level", func(c *Config) {
			c.LogLevel = "verbose"
		}, true},
		{"negative max sessions", func(c *Config) {
			c.Room.MaxSessions = -1
		}, true},
		{"complete s3", func(c *Config) {
			c.Storage.Backend = "s3"
			c.Storage.S3Bucket = "snapshots"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationForms(t *testing.T) {
	var rc RoomConfig
	if err := json.Unmarshal([]byte(`{"heartbeat_interval": "90s", "heartbeat_timeout": 5000000000}`), &rc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := time.Duration(rc.HeartbeatInterval); got != 90*time.Second {
		t.Errorf("string form = %v, want 90s", got)
	}
	if got := time.Duration(rc.HeartbeatTimeout); got != 5*time.Second {
		t.Errorf("integer form = %v, want 5s", got)
	}

	if err := json.Unmarshal([]byte(`{"eviction_delay": "soon"}`), &rc); err == nil {
		t.Error("unparseable duration should error")
	}

	out, err := json.Marshal(Duration(90 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"1m30s"` {
		t.Errorf("marshal = %s, want \"1m30s\"", out)
	}
}
