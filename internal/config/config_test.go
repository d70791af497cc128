package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"roadcore/internal/blob"
	"roadcore/internal/core"
	"roadcore/internal/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roadsync.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "ROADCORE_") {
			t.Setenv(name, "")
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StorageSQLite || cfg.Blob.Driver != blob.DriverFilesystem || cfg.Log.Format != logging.FormatText {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.EngineOptions()) != 3 {
		t.Fatalf("expected three engine options")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[storage]
driver = "memory"

[blob]
driver = "s3"
  [blob.s3]
  bucket = "road-archives"
  path_style = true

[engine]
workers = 4
identity_capacity = 0

[archive]
enabled = true

[log]
level = "debug"
format = "json"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StorageMemory || cfg.Storage.SQLitePath != "roadcore.db" {
		t.Fatalf("file must only override defined keys, got %+v", cfg.Storage)
	}
	if cfg.Blob.Driver != blob.DriverS3 || cfg.Blob.S3.Bucket != "road-archives" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("unexpected blob config %+v", cfg.Blob)
	}
	if cfg.Engine.Workers != 4 || cfg.Engine.BatchSize != 0 {
		t.Fatalf("unexpected engine config %+v", cfg.Engine)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Prefix != "snapshots" {
		t.Fatalf("unexpected archive config %+v", cfg.Archive)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != logging.FormatJSON || cfg.Log.Service != "roadcore" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[engine]\nworkers = 4\n[storage]\ndriver = \"memory\"\n")
	t.Setenv("ROADCORE_ENGINE_WORKERS", "9")
	t.Setenv("ROADCORE_STORAGE_DRIVER", "postgres")
	t.Setenv("ROADCORE_POSTGRES_DSN", "postgres://localhost/road")
	t.Setenv("ROADCORE_BLOB_DRIVER", "memory")
	t.Setenv("ROADCORE_ARCHIVE", "true")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Workers != 9 || cfg.Storage.Driver != core.StoragePostgres || cfg.Storage.PostgresDSN == "" {
		t.Fatalf("env must win: %+v", cfg)
	}
	if cfg.Blob.Driver != blob.DriverMemory || !cfg.Archive.Enabled {
		t.Fatalf("unexpected blob/archive %+v %+v", cfg.Blob, cfg.Archive)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{name: "syntax", body: "[engine\n", want: "load config"},
		{name: "unknown key", body: "[engine]\nthreads = 3\n", want: "unknown key engine.threads"},
		{name: "bad storage", body: "[storage]\ndriver = \"mongo\"\n", want: "unknown storage driver"},
		{name: "postgres without dsn", body: "[storage]\ndriver = \"postgres\"\n", want: "requires postgres_dsn"},
		{name: "s3 without bucket", body: "[blob]\ndriver = \"s3\"\n", want: "requires a bucket"},
		{name: "negative workers", body: "[engine]\nworkers = -1\n", want: "must not be negative"},
		{name: "bad level", body: "[log]\nlevel = \"loud\"\n", want: "unknown log level"},
		{name: "bad env number", body: "", env: map[string]string{"ROADCORE_ENGINE_BATCH_SIZE": "many"}, want: "ROADCORE_ENGINE_BATCH_SIZE"},
		{name: "bad env bool", body: "", env: map[string]string{"ROADCORE_ARCHIVE": "maybe"}, want: "ROADCORE_ARCHIVE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
