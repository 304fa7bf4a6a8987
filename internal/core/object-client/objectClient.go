package objectclient

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/markdave123-py/knowledgehub/internal/config"
	"github.com/markdave123-py/knowledgehub/internal/core"
)

// New builds the object store selected by STORAGE_DRIVER.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.ObjectClient, error) {
	switch cfg.StorageDriver {
	case "s3":
		c, err := NewS3Client(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "local", "":
		c, err := NewLocalClient(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		logger.Info("local object storage configured", slog.String("dir", c.root))
		return c, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
