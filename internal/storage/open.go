package storage

import (
	"fmt"

	"github.com/ismart-scholar/workbench/internal/config"
)

// Open returns the Store selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "file", "":
		return NewFileStore(cfg.Path)
	case "duckdb":
		return NewDuckStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
