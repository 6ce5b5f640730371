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
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7171 {
		t.Errorf("default port: got %d, want 7171", cfg.Server.Port)
	}
	if cfg.Storage.Engine != "memory" {
		t.Errorf("default engine: got %s, want memory", cfg.Storage.Engine)
	}
	if cfg.Storage.EmbeddingDim != 768 {
		t.Errorf("default embedding dim: got %d, want 768", cfg.Storage.EmbeddingDim)
	}
	if cfg.Tasks.MaxRetries != 3 {
		t.Errorf("default max retries: got %d, want 3", cfg.Tasks.MaxRetries)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memcore.yaml")
	data := `
server:
  port: 9999
storage:
  engine: postgres
  postgres_dsn: postgres://localhost/memcore
  embedding_dim: 1536
provider:
  provider: mock
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("yaml port: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.Storage.Engine != "postgres" {
		t.Errorf("yaml engine: got %s, want postgres", cfg.Storage.Engine)
	}
	if cfg.Storage.EmbeddingDim != 1536 {
		t.Errorf("yaml embedding dim: got %d, want 1536", cfg.Storage.EmbeddingDim)
	}
	// Untouched sections keep their defaults.
	if cfg.Provider.OllamaURL != "http://localhost:11434" {
		t.Errorf("default ollama url lost: %s", cfg.Provider.OllamaURL)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	t.Setenv("MEMCORE_PORT", "8181")
	t.Setenv("MEMCORE_PROVIDER", "mock")
	t.Setenv("MEMCORE_PROVIDER_TIMEOUT", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("env port: got %d, want 8181", cfg.Server.Port)
	}
	if cfg.Provider.Provider != "mock" {
		t.Errorf("env provider: got %s, want mock", cfg.Provider.Provider)
	}
	if cfg.Provider.Timeout != 5*time.Second {
		t.Errorf("env timeout: got %s, want 5s", cfg.Provider.Timeout)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Setenv("MEMCORE_STORAGE_ENGINE", "postgres")
	if _, err := Load(""); err == nil {
		t.Error("postgres engine without DSN must fail validation")
	}

	t.Setenv("MEMCORE_STORAGE_ENGINE", "cassandra")
	if _, err := Load(""); err == nil {
		t.Error("unknown engine must fail validation")
	}
}
