package payload

import (
	"context"
	"fmt"

	"share-go/internal/config"
	"share-go/internal/share"
)

// NewPayloadStoreFromConfig creates a PayloadStore based on the payload config type.
func NewPayloadStoreFromConfig(ctx context.Context, cfg config.PayloadConfig) (share.PayloadStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem", "":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem payload store requires root to be set")
		}
		s, err := NewFileSystemStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		s, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown payload store type: %s", cfg.Type)
	}
}
