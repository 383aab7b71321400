package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Server.Port != ":8188" || cfg.Server.Mode != "debug" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Backend.WaitTimeout != 300*time.Second || cfg.Backend.Store != "memory" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Submit.Timeout != 0 {
		t.Errorf("watchdog enabled by default: %v", cfg.Submit.Timeout)
	}
	if cfg.Marker.MinSize != 5 || cfg.Marker.StrokeWidth != 5 || cfg.Marker.Color != "#ff0000" {
		t.Errorf("marker = %+v", cfg.Marker)
	}
	if cfg.Redis.TTL != 10*time.Minute {
		t.Errorf("redis ttl = %v", cfg.Redis.TTL)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marker.yaml")
	yaml := `server:
  port: ":9000"
  mode: release
backend:
  wait_timeout: 45s
  store: redis
redis:
  addr: "redis:6379"
encode:
  format: webp
  quality: 80
marker:
  color: "#00ff00"
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != ":9000" || cfg.Server.Mode != "release" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Backend.WaitTimeout != 45*time.Second || cfg.Backend.Store != "redis" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Marker.StrokeWidth != 5 {
		t.Errorf("default stroke width lost: %v", cfg.Marker.StrokeWidth)
	}
	p, err := cfg.Processor()
	if err != nil || p.Format() != "webp" {
		t.Errorf("Processor() = %v, %v", p, err)
	}
	style, err := cfg.Style()
	if err != nil {
		t.Fatal(err)
	}
	if r, g, _, _ := style.Color.RGBA(); r != 0 || g != 0xffff {
		t.Errorf("color = %v", style.Color)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("IMAGE_MARKER_SERVER_PORT", ":7777")
	t.Setenv("IMAGE_MARKER_SUBMIT_TIMEOUT", "15s")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \":9000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != ":7777" {
		t.Errorf("env override ignored: %q", cfg.Server.Port)
	}
	if cfg.Submit.Timeout != 15*time.Second {
		t.Errorf("submit timeout = %v", cfg.Submit.Timeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for explicit missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Server.Mode = "prod" }, "server.mode"},
		{"wait", func(c *Config) { c.Backend.WaitTimeout = 0 }, "wait_timeout"},
		{"store", func(c *Config) { c.Backend.Store = "disk" }, "backend.store"},
		{"redis addr", func(c *Config) { c.Backend.Store = "redis"; c.Redis.Addr = "" }, "redis.addr"},
		{"redis ttl", func(c *Config) { c.Backend.Store = "redis"; c.Redis.TTL = time.Minute }, "redis.ttl"},
		{"submit", func(c *Config) { c.Submit.Timeout = -time.Second }, "submit.timeout"},
		{"format", func(c *Config) { c.Encode.Format = "tiff" }, "encode"},
		{"quality", func(c *Config) { c.Encode.Quality = 0 }, "quality"},
		{"min size", func(c *Config) { c.Marker.MinSize = -1 }, "min_size"},
		{"stroke", func(c *Config) { c.Marker.StrokeWidth = 0 }, "stroke_width"},
		{"color", func(c *Config) { c.Marker.Color = "red" }, "marker.color"},
		{"vision backend", func(c *Config) { c.Vision.Backend = "gpt" }, "vision.backend"},
		{"vision model", func(c *Config) { c.Vision.Enabled = true }, "vision.model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateRedisTTL(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		ok   bool
	}{
		{"no expiry", 0, true},
		{"equal to wait", 300 * time.Second, true},
		{"longer than wait", 10 * time.Minute, true},
		{"shorter than wait", 299 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Backend.Store = "redis"
			cfg.Redis.TTL = tt.ttl
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
