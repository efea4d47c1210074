package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anorix.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Buffer.Capacity != 10 {
		t.Errorf("buffer capacity = %d", cfg.Buffer.Capacity)
	}
	if cfg.Chunking.MaxSize != 500 || cfg.Chunking.Overlap != 50 {
		t.Errorf("chunking defaults = %+v", cfg.Chunking)
	}
	if cfg.Pipeline.EmbedTimeout.Std() != 10*time.Second {
		t.Errorf("embed timeout = %v", cfg.Pipeline.EmbedTimeout)
	}
	if !cfg.Session.Resume {
		t.Error("session resume should default to true")
	}
}

func TestDurationParsing(t *testing.T) {
	path := writeConfig(t, `
embedding:
  provider: mock
pipeline:
  embed_timeout: 30s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.EmbedTimeout.Std() != 30*time.Second {
		t.Errorf("embed_timeout = %v", cfg.Pipeline.EmbedTimeout.Std())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/x.db
buffer:
  capacity: 25
embedding:
  provider: mock
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/x.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.Buffer.Capacity != 25 {
		t.Errorf("capacity = %d", cfg.Buffer.Capacity)
	}
	// Untouched keys keep their defaults.
	if cfg.Search.Limit != 5 {
		t.Errorf("search limit = %d", cfg.Search.Limit)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("ANORIX_TEST_MODEL", "all-minilm")
	path := writeConfig(t, `
embedding:
  provider: mock
  model: ${ANORIX_TEST_MODEL}
  base_url: ${ANORIX_TEST_MISSING:-http://localhost:11434}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Embedding.Model != "all-minilm" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.BaseURL != "http://localhost:11434" {
		t.Errorf("base_url = %q", cfg.Embedding.BaseURL)
	}
}

func TestUnresolvedVariableFails(t *testing.T) {
	path := writeConfig(t, `db_path: ${ANORIX_DEFINITELY_UNSET_VAR}`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unresolved variable") {
		t.Fatalf("err = %v, want unresolved variable", err)
	}
}

func TestValidation(t *testing.T) {
	path := writeConfig(t, `
embedding:
  provider: quantum
facts:
  min_confidence: 3
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
