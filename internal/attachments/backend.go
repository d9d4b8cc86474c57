package attachments

import (
	"fmt"

	"odportal/internal/config"
)

// New builds the storage backend named by STORAGE_BACKEND.
func New(cfg config.App) (Storage, error) {
	switch cfg.StorageBackend {
	case "cloudinary":
		if cfg.CloudinaryCloudName == "" {
			return nil, fmt.Errorf("cloudinary: %w", ErrNotConfigured)
		}
		return NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder), nil
	case "oss":
		return NewOSS(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey, cfg.OSSBucket, cfg.OSSPublicBase)
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
