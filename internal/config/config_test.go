package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/elasticmodels/elastic/internal/registry"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Storage.Driver != "sqlite3" {
		t.Errorf("Storage.Driver = %q, want sqlite3", cfg.Storage.Driver)
	}
	if cfg.Storage.Path != filepath.Join(".elastic", "elastic.db") {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("Server.Addr = %q, want :8000", cfg.Server.Addr)
	}
	if cfg.Fields.OnChange != registry.PolicyWipe {
		t.Errorf("Fields.OnChange = %q, want wipe", cfg.Fields.OnChange)
	}
	if cfg.Definitions.Debounce != 100*time.Millisecond {
		t.Errorf("Definitions.Debounce = %v, want 100ms", cfg.Definitions.Debounce)
	}
	if cfg.Log.MaxSizeMB != 10 || cfg.Log.MaxBackups != 3 || cfg.Log.MaxAgeDays != 28 {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())

	content := `storage:
  backend: bolt
  path: data/elastic.bolt
fields:
  on_change: revalidate
definitions:
  dir: defs
  watch: true
`
	if err := os.WriteFile(filepath.Join(dir, "elastic.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ELASTIC_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("ELASTIC_DEFINITIONS_DEBOUNCE", "250ms")

	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Storage.Backend != BackendBolt || cfg.Storage.Path != "data/elastic.bolt" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Fields.OnChange != registry.PolicyRevalidate {
		t.Errorf("Fields.OnChange = %q, want revalidate", cfg.Fields.OnChange)
	}
	if !cfg.Definitions.Watch || cfg.Definitions.Dir != "defs" {
		t.Errorf("Definitions = %+v", cfg.Definitions)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("env should override Server.Addr, got %q", cfg.Server.Addr)
	}
	if cfg.Definitions.Debounce != 250*time.Millisecond {
		t.Errorf("env should override debounce, got %v", cfg.Definitions.Debounce)
	}
	if filepath.Base(cfg.File) != "elastic.yaml" {
		t.Errorf("File = %q", cfg.File)
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(path, []byte("[server]\naddr = \":7000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(New(path))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %q, want :7000", cfg.Server.Addr)
	}

	if _, err := Load(New(filepath.Join(t.TempDir(), "missing.yaml"))); err == nil {
		t.Error("Load() should fail when a named config file is missing")
	}
}

func TestResolve_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"unknown backend", "storage.backend", "postgres"},
		{"unknown policy", "fields.on_change", "keep"},
		{"empty path", "storage.path", ""},
		{"watch without dir", "definitions.watch", true},
		{"zero debounce", "definitions.debounce", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			v := New("")
			v.Set(tt.key, tt.val)
			if _, err := Resolve(v); err == nil {
				t.Errorf("Resolve() with %s=%v should fail", tt.key, tt.val)
			}
		})
	}
}
