// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Use ValidateWebReady / ValidateOpenLiveReady before building the matching client.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Platform selects the upstream: "web" (default) or "open_live".
	Platform string

	// Web platform
	RoomID int64
	Cookie string

	// Open platform
	OpenLiveAccessKey    string
	OpenLiveAccessSecret string
	OpenLiveAppID        int64
	OpenLiveCode         string

	// Connection
	HeartbeatInterval time.Duration

	// Ops HTTP server
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail
// when platform credentials are missing; use the Validate* methods when a
// specific platform is required.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Platform = os.Getenv("PLATFORM")
	if cfg.Platform == "" {
		cfg.Platform = "web"
	}

	if v := os.Getenv("ROOM_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ROOM_ID: %w", err)
		}
		cfg.RoomID = id
	}
	cfg.Cookie = os.Getenv("BILI_COOKIE")

	cfg.OpenLiveAccessKey = os.Getenv("OPEN_LIVE_ACCESS_KEY")
	cfg.OpenLiveAccessSecret = os.Getenv("OPEN_LIVE_ACCESS_SECRET")
	if v := os.Getenv("OPEN_LIVE_APP_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid OPEN_LIVE_APP_ID: %w", err)
		}
		cfg.OpenLiveAppID = id
	}
	cfg.OpenLiveCode = os.Getenv("OPEN_LIVE_CODE")

	cfg.HeartbeatInterval = 30 * time.Second
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("HEARTBEAT_INTERVAL must be positive")
		}
		cfg.HeartbeatInterval = d
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// ValidateWebReady checks required fields for the web platform.
func (c *Config) ValidateWebReady() error {
	if c.RoomID <= 0 {
		return fmt.Errorf("missing env: require a positive ROOM_ID")
	}
	return nil
}

// ValidateOpenLiveReady checks required fields for the open platform.
func (c *Config) ValidateOpenLiveReady() error {
	if c.OpenLiveAccessKey == "" || c.OpenLiveAccessSecret == "" || c.OpenLiveAppID == 0 || c.OpenLiveCode == "" {
		return fmt.Errorf("missing open-live env: require OPEN_LIVE_ACCESS_KEY, OPEN_LIVE_ACCESS_SECRET, OPEN_LIVE_APP_ID, OPEN_LIVE_CODE")
	}
	return nil
}
