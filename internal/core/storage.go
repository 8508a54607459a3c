package core

import (
	"fmt"
	"strings"

	"foodlab/internal/infra/persistence/file"
	"foodlab/internal/infra/persistence/memory"
	"foodlab/internal/infra/persistence/postgres"
	"foodlab/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete slot store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageFile     StorageDriver = "file"     // one JSON file per slot
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions carries the driver specific settings.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	FileRoot    string
}

// OpenSlotStore selects a slot backend. An empty driver defaults to sqlite.
func OpenSlotStore(opts StorageOptions) (SlotStore, error) {
	driver := StorageDriver(strings.ToLower(strings.TrimSpace(string(opts.Driver))))
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageFile:
		return file.NewStore(opts.FileRoot)
	case StorageSQLite:
		return sqlite.NewStore(opts.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
