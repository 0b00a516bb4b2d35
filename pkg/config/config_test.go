package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.PageCapacity != 20 {
		t.Errorf("page capacity = %d, want 20", cfg.Cache.PageCapacity)
	}
	if cfg.Cache.ThumbnailCapacity != 500 {
		t.Errorf("thumbnail capacity = %d, want 500", cfg.Cache.ThumbnailCapacity)
	}
	if cfg.Render.Rasterizer != "pdfcpu" {
		t.Errorf("rasterizer = %q, want pdfcpu", cfg.Render.Rasterizer)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "viewer.yaml")
	body := `
server:
  port: 8181
cache:
  pageCapacity: 4
prefetch:
  stagger: 250ms
render:
  jpegQuality: 70
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DV_REDIS_ADDR", "cache:6379")
	t.Setenv("DV_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("port = %d, want 8181", cfg.Server.Port)
	}
	if cfg.Cache.PageCapacity != 4 {
		t.Errorf("page capacity = %d, want 4", cfg.Cache.PageCapacity)
	}
	if cfg.Cache.ThumbnailCapacity != 500 {
		t.Errorf("thumbnail capacity should keep default, got %d", cfg.Cache.ThumbnailCapacity)
	}
	if cfg.Prefetch.Stagger != 250*time.Millisecond {
		t.Errorf("stagger = %v, want 250ms", cfg.Prefetch.Stagger)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero page capacity", func(c *Config) { c.Cache.PageCapacity = 0 }},
		{"quality out of range", func(c *Config) { c.Render.JPEGQuality = 101 }},
		{"unknown rasterizer", func(c *Config) { c.Render.Rasterizer = "ghostscript" }},
		{"unknown source", func(c *Config) { c.Source.Backend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Source.Backend = "s3"; c.Source.S3.Endpoint = "minio:9000" }},
		{"file listing without path", func(c *Config) { c.Catalog.Backend = "file" }},
		{"threshold above one", func(c *Config) { c.Overlay.ConfidenceThreshold = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
