// Package config loads roadsync settings from a TOML file and the
// environment. Values are layered: built-in defaults, then keys present in
// the file, then ROADCORE_* variables that are set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"roadcore/internal/blob"
	"roadcore/internal/core"
	"roadcore/internal/logging"
)

// Engine tunes the reconciliation engine.
type Engine struct {
	Workers          int
	BatchSize        int
	IdentityCapacity int
}

// Archive controls snapshot archiving after apply.
type Archive struct {
	Enabled bool
	Prefix  string
}

// Config is the resolved roadsync configuration.
type Config struct {
	Storage core.StorageConfig
	Blob    blob.Config
	Engine  Engine
	Archive Archive
	Log     logging.Config
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: "roadcore.db"},
		Blob:    blob.Config{Driver: blob.DriverFilesystem, FSRoot: "archives"},
		Archive: Archive{Prefix: "snapshots"},
		Log:     logging.Default(),
	}
}

type fileConfig struct {
	Storage struct {
		Driver      string `toml:"driver"`
		SQLitePath  string `toml:"sqlite_path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"storage"`
	Blob struct {
		Driver string `toml:"driver"`
		FSRoot string `toml:"fs_root"`
		S3     struct {
			Bucket          string `toml:"bucket"`
			Region          string `toml:"region"`
			Endpoint        string `toml:"endpoint"`
			PathStyle       bool   `toml:"path_style"`
			AccessKeyID     string `toml:"access_key"`
			SecretAccessKey string `toml:"secret_key"`
		} `toml:"s3"`
	} `toml:"blob"`
	Engine struct {
		Workers          int `toml:"workers"`
		BatchSize        int `toml:"batch_size"`
		IdentityCapacity int `toml:"identity_capacity"`
	} `toml:"engine"`
	Archive struct {
		Enabled bool   `toml:"enabled"`
		Prefix  string `toml:"prefix"`
	} `toml:"archive"`
	Log logging.Config `toml:"log"`
}

// Load resolves the configuration. An empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := overlayEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %s", undecoded[0])
	}

	setString := func(dst *string, src string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(src)
		}
	}
	setInt := func(dst *int, src int, key ...string) {
		if meta.IsDefined(key...) {
			*dst = src
		}
	}
	setBool := func(dst *bool, src bool, key ...string) {
		if meta.IsDefined(key...) {
			*dst = src
		}
	}

	if meta.IsDefined("storage", "driver") {
		cfg.Storage.Driver = core.StorageDriver(strings.TrimSpace(raw.Storage.Driver))
	}
	setString(&cfg.Storage.SQLitePath, raw.Storage.SQLitePath, "storage", "sqlite_path")
	setString(&cfg.Storage.PostgresDSN, raw.Storage.PostgresDSN, "storage", "postgres_dsn")

	if meta.IsDefined("blob", "driver") {
		cfg.Blob.Driver = blob.Driver(strings.TrimSpace(raw.Blob.Driver))
	}
	setString(&cfg.Blob.FSRoot, raw.Blob.FSRoot, "blob", "fs_root")
	setString(&cfg.Blob.S3.Bucket, raw.Blob.S3.Bucket, "blob", "s3", "bucket")
	setString(&cfg.Blob.S3.Region, raw.Blob.S3.Region, "blob", "s3", "region")
	setString(&cfg.Blob.S3.Endpoint, raw.Blob.S3.Endpoint, "blob", "s3", "endpoint")
	setBool(&cfg.Blob.S3.PathStyle, raw.Blob.S3.PathStyle, "blob", "s3", "path_style")
	setString(&cfg.Blob.S3.AccessKeyID, raw.Blob.S3.AccessKeyID, "blob", "s3", "access_key")
	setString(&cfg.Blob.S3.SecretAccessKey, raw.Blob.S3.SecretAccessKey, "blob", "s3", "secret_key")

	setInt(&cfg.Engine.Workers, raw.Engine.Workers, "engine", "workers")
	setInt(&cfg.Engine.BatchSize, raw.Engine.BatchSize, "engine", "batch_size")
	setInt(&cfg.Engine.IdentityCapacity, raw.Engine.IdentityCapacity, "engine", "identity_capacity")

	setBool(&cfg.Archive.Enabled, raw.Archive.Enabled, "archive", "enabled")
	setString(&cfg.Archive.Prefix, raw.Archive.Prefix, "archive", "prefix")

	setString(&cfg.Log.Level, raw.Log.Level, "log", "level")
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = logging.Format(strings.TrimSpace(string(raw.Log.Format)))
	}
	setString(&cfg.Log.Service, raw.Log.Service, "log", "service")
	setBool(&cfg.Log.Quiet, raw.Log.Quiet, "log", "quiet")
	return nil
}

type lookupFunc func(string) (string, bool)

// overlayEnv applies the ROADCORE_* variables understood by the storage and
// blob factories plus the engine and log knobs.
func overlayEnv(cfg *Config, lookup lookupFunc) error {
	str := func(dst *string, name string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(dst *int, name string) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}
	flag := func(dst *bool, name string) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
		return nil
	}

	if v, ok := lookup("ROADCORE_STORAGE_DRIVER"); ok && v != "" {
		cfg.Storage.Driver = core.StorageDriver(v)
	}
	str(&cfg.Storage.SQLitePath, "ROADCORE_SQLITE_PATH")
	str(&cfg.Storage.PostgresDSN, "ROADCORE_POSTGRES_DSN")

	if v, ok := lookup("ROADCORE_BLOB_DRIVER"); ok && v != "" {
		cfg.Blob.Driver = blob.Driver(v)
	}
	str(&cfg.Blob.FSRoot, "ROADCORE_BLOB_FS_ROOT")
	str(&cfg.Blob.S3.Bucket, "ROADCORE_BLOB_S3_BUCKET")
	str(&cfg.Blob.S3.Region, "ROADCORE_BLOB_S3_REGION")
	str(&cfg.Blob.S3.Endpoint, "ROADCORE_BLOB_S3_ENDPOINT")
	str(&cfg.Blob.S3.AccessKeyID, "ROADCORE_BLOB_S3_ACCESS_KEY")
	str(&cfg.Blob.S3.SecretAccessKey, "ROADCORE_BLOB_S3_SECRET_KEY")
	if err := flag(&cfg.Blob.S3.PathStyle, "ROADCORE_BLOB_S3_PATH_STYLE"); err != nil {
		return err
	}

	for _, n := range []struct {
		dst  *int
		name string
	}{
		{&cfg.Engine.Workers, "ROADCORE_ENGINE_WORKERS"},
		{&cfg.Engine.BatchSize, "ROADCORE_ENGINE_BATCH_SIZE"},
		{&cfg.Engine.IdentityCapacity, "ROADCORE_ENGINE_IDENTITY_CAPACITY"},
	} {
		if err := num(n.dst, n.name); err != nil {
			return err
		}
	}
	if err := flag(&cfg.Archive.Enabled, "ROADCORE_ARCHIVE"); err != nil {
		return err
	}
	str(&cfg.Log.Level, "ROADCORE_LOG_LEVEL")
	if v, ok := lookup("ROADCORE_LOG_FORMAT"); ok && v != "" {
		cfg.Log.Format = logging.Format(v)
	}
	return nil
}

// Validate rejects settings no backend can honour.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage driver postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob driver s3 requires a bucket")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Engine.Workers < 0 || c.Engine.BatchSize < 0 || c.Engine.IdentityCapacity < 0 {
		return fmt.Errorf("engine settings must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// EngineOptions converts the engine section into engine options. Zero values
// keep the engine defaults.
func (c Config) EngineOptions() []core.EngineOption {
	return []core.EngineOption{
		core.WithWorkers(c.Engine.Workers),
		core.WithBatchSize(c.Engine.BatchSize),
		core.WithIdentityCapacity(c.Engine.IdentityCapacity),
	}
}
