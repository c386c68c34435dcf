package vault

import (
	"fmt"

	"rcm-go/internal/config"
	"rcm-go/internal/rcm"
)

// NewStoreFromConfig creates a vault store based on the vault config type.
func NewStoreFromConfig(cfg config.VaultConfig) (rcm.Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.CollectionRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires collection_root to be set")
		}
		return NewFileSystemStore(cfg.CollectionRoot)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
