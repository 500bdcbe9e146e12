package config

type StorageConfig interface {
	GetStorageKey() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetStorageKey returns the passphrase used to seal persisted values. Empty disables sealing.
func (Storage) GetStorageKey() string {
	return GetEnv("STORAGE_KEY", "")
}
