package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PLATFORM", "")
	t.Setenv("ROOM_ID", "")
	t.Setenv("HEARTBEAT_INTERVAL", "")
	t.Setenv("HTTP_ADDR", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Platform != "web" {
		t.Errorf("Platform = %q, want web default", cfg.Platform)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s default", cfg.HeartbeatInterval)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ROOM_ID", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric ROOM_ID")
	}
	t.Setenv("ROOM_ID", "1000")
	t.Setenv("HEARTBEAT_INTERVAL", "banana")
	if _, err := Load(); err == nil {
		t.Error("expected error for unparseable HEARTBEAT_INTERVAL")
	}
	t.Setenv("HEARTBEAT_INTERVAL", "-5s")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative HEARTBEAT_INTERVAL")
	}
}

func TestValidateWebReady(t *testing.T) {
	t.Setenv("ROOM_ID", "1000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.ValidateWebReady(); err != nil {
		t.Errorf("expected valid web config, got %v", err)
	}
	t.Setenv("ROOM_ID", "")
	cfg, _ = Load()
	if err := cfg.ValidateWebReady(); err == nil {
		t.Error("expected error when ROOM_ID is missing")
	}
}

func TestValidateOpenLiveReady(t *testing.T) {
	t.Setenv("OPEN_LIVE_ACCESS_KEY", "ak")
	t.Setenv("OPEN_LIVE_ACCESS_SECRET", "sk")
	t.Setenv("OPEN_LIVE_APP_ID", "12345")
	t.Setenv("OPEN_LIVE_CODE", "CODE1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.ValidateOpenLiveReady(); err != nil {
		t.Errorf("expected valid open-live config, got %v", err)
	}
	t.Setenv("OPEN_LIVE_ACCESS_SECRET", "")
	cfg, _ = Load()
	if err := cfg.ValidateOpenLiveReady(); err == nil {
		t.Error("expected error when access secret is missing")
	}
}
