package database

import (
	"fmt"
	"path/filepath"

	"rcm-go/internal/config"
)

// NewRepositoryFromConfig creates a repository based on the database config
// type.
func NewRepositoryFromConfig(cfg config.DatabaseConfig) (*SQLiteRepository, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteRepository(filepath.Join(cfg.DataDir, "collection.db"))
	case "memory":
		return NewSQLiteRepository(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
