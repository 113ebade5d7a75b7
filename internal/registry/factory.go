package registry

import (
	"fmt"

	"github.com/spf13/afero"

	"share-go/internal/config"
	"share-go/internal/share"
)

// NewStoreFromConfig creates a share.Store based on the registry config type.
func NewStoreFromConfig(cfg config.RegistryConfig, logger share.Logger) (share.Store, error) {
	switch cfg.Type {
	case "json", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for json registry")
		}
		s, err := OpenJSONFileStore(afero.NewOsFs(), cfg.Path, JSONOptions{ResetCorrupt: cfg.ResetCorrupt}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite registry")
		}
		return openSQLite(cfg.Path, logger)
	case "memory":
		return openSQLite(":memory:", logger)
	default:
		return nil, fmt.Errorf("unknown registry type: %s", cfg.Type)
	}
}

func openSQLite(path string, logger share.Logger) (share.Store, error) {
	s, err := NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}
