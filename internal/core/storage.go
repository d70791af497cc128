package core

import (
	"fmt"
	"os"

	"roadcore/internal/infra/persistence/memory"
	"roadcore/internal/infra/persistence/postgres"
	"roadcore/internal/infra/persistence/sqlite"
	"roadcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// StorageConfig selects and locates a backend.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// StorageConfigFromEnv reads the backend selection from the environment.
//
//	ROADCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ROADCORE_SQLITE_PATH: path to sqlite file (default ./roadcore.db)
//	ROADCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func StorageConfigFromEnv() StorageConfig {
	cfg := StorageConfig{
		Driver:      StorageDriver(os.Getenv("ROADCORE_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("ROADCORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("ROADCORE_POSTGRES_DSN"),
	}
	if cfg.Driver == "" {
		cfg.Driver = StorageSQLite
	}
	return cfg
}

// OpenPersistentStore selects a backend using environment variables.
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	return OpenStorage(StorageConfigFromEnv(), engine)
}

// OpenStorage opens the backend described by cfg.
func OpenStorage(cfg StorageConfig, engine *RulesEngine) (PersistentStore, error) {
	switch cfg.Driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite, "":
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
