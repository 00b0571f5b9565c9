package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("BATCH_SIZE", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" || cfg.Addr() != ":8080" {
		t.Fatalf("Port mismatch: got %q", cfg.Port)
	}
	if cfg.Batch.Size != 2 || cfg.Batch.Count != 4 || cfg.Batch.Timeout != 0 {
		t.Fatalf("Batch defaults mismatch: %+v", cfg.Batch)
	}
	if cfg.HTTP.WriteTimeout != 30*time.Second {
		t.Fatalf("WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.LLM.Provider != "static" {
		t.Fatalf("LLM provider = %q, want static", cfg.LLM.Provider)
	}
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "1919")
	t.Setenv("BATCH_SIZE", "5")
	t.Setenv("BATCH_TIMEOUT", "90s")
	t.Setenv("IMAGE_PROVIDER", "tuzi")
	t.Setenv("LLM_API_KEY", "sk-live")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com ")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "1919" || cfg.Batch.Size != 5 || cfg.Batch.Timeout != 90*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Image.Provider != "tuzi" {
		t.Fatalf("Image.Provider = %q", cfg.Image.Provider)
	}
	if cfg.LLM.Provider != "openai" {
		t.Fatalf("LLM.Provider = %q, want openai when a key is present", cfg.LLM.Provider)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Fatalf("CORSOrigins = %#v", cfg.CORSOrigins)
	}
}

func TestLoadConfigFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "batch:\n  size: 3\n  width: 512\nimage:\n  provider: stablediffusion\n  base_url: http://127.0.0.1:7860\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BATCH_SIZE", "4")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Batch.Size != 4 {
		t.Fatalf("env must override file: size = %d", cfg.Batch.Size)
	}
	if cfg.Batch.Width != 512 || cfg.Image.BaseURL != "http://127.0.0.1:7860" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("BATCH_SIZE", "0")

	_, err := LoadConfig()
	if err == nil || !strings.Contains(err.Error(), "Size") {
		t.Fatalf("expected batch size validation error, got %v", err)
	}
}
