package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort=%s, want 8080", cfg.HTTPPort)
	}
	if cfg.NATSStreamName != "CONTENTHUB" {
		t.Errorf("NATSStreamName=%s", cfg.NATSStreamName)
	}
	if cfg.WorkerConcurrency != 5 {
		t.Errorf("WorkerConcurrency=%d, want 5", cfg.WorkerConcurrency)
	}
	if cfg.GenerationTimeout != 30*time.Minute {
		t.Errorf("GenerationTimeout=%s, want 30m", cfg.GenerationTimeout)
	}
	if cfg.GenerationMaxRetries != 3 {
		t.Errorf("GenerationMaxRetries=%d, want 3", cfg.GenerationMaxRetries)
	}
	if cfg.WebhookEnabled {
		t.Error("WebhookEnabled defaults on")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("GENERATION_TIMEOUT", "90s")
	t.Setenv("WEBHOOK_ENABLED", "true")
	t.Setenv("WEBHOOK_SECRET", "hunter2")

	cfg := Load()
	if cfg.HTTPPort != "9999" {
		t.Errorf("HTTPPort=%s", cfg.HTTPPort)
	}
	if cfg.WorkerConcurrency != 12 {
		t.Errorf("WorkerConcurrency=%d", cfg.WorkerConcurrency)
	}
	if cfg.GenerationTimeout != 90*time.Second {
		t.Errorf("GenerationTimeout=%s", cfg.GenerationTimeout)
	}
	if !cfg.WebhookEnabled || cfg.WebhookSecret != "hunter2" {
		t.Errorf("webhook config not read: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "lots")
	t.Setenv("GENERATION_TIMEOUT", "soon")
	t.Setenv("WEBHOOK_ENABLED", "maybe")

	cfg := Load()
	if cfg.WorkerConcurrency != 5 {
		t.Errorf("WorkerConcurrency=%d, want default 5", cfg.WorkerConcurrency)
	}
	if cfg.GenerationTimeout != 30*time.Minute {
		t.Errorf("GenerationTimeout=%s, want default 30m", cfg.GenerationTimeout)
	}
	if cfg.WebhookEnabled {
		t.Error("malformed bool must fall back to default false")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"missing nats", func(c *Config) { c.NATSURL = "" }, "NATS_URL"},
		{"zero concurrency", func(c *Config) { c.WorkerConcurrency = 0 }, "WORKER_CONCURRENCY"},
		{"zero batch", func(c *Config) { c.ScannerBatchSize = 0 }, "SCANNER_BATCH_SIZE"},
		{"zero timeout", func(c *Config) { c.GenerationTimeout = 0 }, "GENERATION_TIMEOUT"},
		{"negative retries", func(c *Config) { c.GenerationMaxRetries = -1 }, "GENERATION_MAX_RETRIES"},
		{"webhook without secret", func(c *Config) { c.WebhookEnabled = true; c.WebhookSecret = "" }, "WEBHOOK_SECRET"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Load()
			c.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("error %q does not mention %s", err, c.want)
			}
		})
	}
}
