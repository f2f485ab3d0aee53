// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	// ConfigFileName is the configuration file looked up in the working
	// directory when --config is not given.
	ConfigFileName = "bridge.json"

	DefaultHost = "127.0.0.1"

	DefaultHTTPFirstPort   = 8400
	DefaultHTTPLastPort    = 8419
	DefaultSocketFirstPort = 8420
	DefaultSocketLastPort  = 8439
)

// Config is the bridge.json schema.
type Config struct {
	// ServerID identifies this host in describe output and logs.
	ServerID string `json:"serverId,omitempty"`

	// Host is the loopback address both listeners bind to.
	Host string `json:"host,omitempty"`

	// HTTP is the port range searched for the primary transport.
	HTTP PortRange `json:"http"`

	// Socket is the port range searched for the WebSocket transport.
	Socket PortRange `json:"socket"`

	// Origin is sent as Access-Control-Allow-Origin. Empty means "*".
	Origin string `json:"origin,omitempty"`

	Cookie CookieConfig `json:"cookie"`

	// Compression enables gzip on the primary transport.
	Compression bool `json:"compression,omitempty"`

	Log LogConfig `json:"log"`

	// Tracing selects the span exporter: "none" or "stdout".
	Tracing string `json:"tracing,omitempty"`

	// Metrics mounts a Prometheus endpoint at /__metrics.
	Metrics bool `json:"metrics,omitempty"`

	Demo DemoConfig `json:"demo"`
}

// PortRange is an inclusive port range. {0, 0} asks for any free port.
type PortRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

func (p PortRange) String() string {
	if p.First == 0 && p.Last == 0 {
		return "any"
	}
	return fmt.Sprintf("%d-%d", p.First, p.Last)
}

// CookieConfig is the authorization cookie the web app must present.
type CookieConfig struct {
	Name  string `json:"name,omitempty"`
	Token string `json:"token,omitempty"`
	// Enforce rejects requests that fail the check instead of only logging.
	Enforce bool `json:"enforce,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // text, json
}

// DemoConfig configures the bundled demo handlers.
type DemoConfig struct {
	ScanCodes   []string `json:"scanCodes,omitempty"`
	ScanDelay   string   `json:"scanDelay,omitempty"`
	FrameWidth  int      `json:"frameWidth,omitempty"`
	FrameHeight int      `json:"frameHeight,omitempty"`
}

// NewConfig returns the defaults.
func NewConfig() *Config {
	return &Config{
		Host:    DefaultHost,
		HTTP:    PortRange{First: DefaultHTTPFirstPort, Last: DefaultHTTPLastPort},
		Socket:  PortRange{First: DefaultSocketFirstPort, Last: DefaultSocketLastPort},
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: "none",
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error
// when optional is set.
func LoadConfig(path string, optional bool) (*Config, error) {
	cfg := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills fields an explicit file left empty.
func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Tracing == "" {
		c.Tracing = "none"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	for _, r := range []struct {
		name string
		rng  PortRange
	}{{"http", c.HTTP}, {"socket", c.Socket}} {
		if r.rng.First < 0 || r.rng.Last > 65535 || r.rng.Last < r.rng.First {
			return fmt.Errorf("%s port range %d-%d is invalid", r.name, r.rng.First, r.rng.Last)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q is not text or json", c.Log.Format)
	}
	switch c.Tracing {
	case "none", "stdout":
	default:
		return fmt.Errorf("tracing exporter %q is not none or stdout", c.Tracing)
	}
	if (c.Cookie.Name == "") != (c.Cookie.Token == "") {
		return errors.New("cookie name and token must be set together")
	}
	if c.Cookie.Enforce && c.Cookie.Name == "" {
		return errors.New("cookie enforcement needs a cookie name and token")
	}
	if _, err := c.ScanDelay(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// ScanDelay parses Demo.ScanDelay. Empty means no delay.
func (c *Config) ScanDelay() (time.Duration, error) {
	if c.Demo.ScanDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Demo.ScanDelay)
	if err != nil {
		return 0, fmt.Errorf("demo scan delay: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("demo scan delay %s is negative", d)
	}
	return d, nil
}

// NewLogger builds the process logger described by Log.
func (c *Config) NewLogger() (*slog.Logger, error) {
	level, err := c.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
