package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.VectorDB.EmbeddingDim != 384 {
		t.Errorf("EmbeddingDim = %d, want 384", cfg.VectorDB.EmbeddingDim)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://vectors.example:6333")
	t.Setenv("POSTGRES_DSN", "postgres://example")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VectorDB.BaseURL != "http://vectors.example:6333" {
		t.Errorf("VectorDB.BaseURL = %q", cfg.VectorDB.BaseURL)
	}
	if cfg.Relational.DSN != "postgres://example" {
		t.Errorf("Relational.DSN = %q", cfg.Relational.DSN)
	}
}

func TestOptionsOverrideEnv(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://from-env:6333")
	cfg, err := Load(WithVectorDBURL("http://from-option:6333"), WithPort(9999))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VectorDB.BaseURL != "http://from-option:6333" {
		t.Errorf("option did not override env: %q", cfg.VectorDB.BaseURL)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
}

func TestAPIKeyFileTakesPrecedenceOverEnvValue(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "apikey")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("from-file-key\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	t.Setenv("API_KEY", "from-env-key")
	t.Setenv("API_KEY_FILE", f.Name())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.APIKey != "from-file-key" {
		t.Errorf("APIKey = %q, want from-file-key", cfg.HTTP.APIKey)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Port = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for bad port")
	}
}

func TestValidateRejectsBadRalphBounds(t *testing.T) {
	cfg := Default()
	cfg.Ralph.MinIterations = 100
	cfg.Ralph.MaxIterationsCap = 10
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for min > max")
	}
}
