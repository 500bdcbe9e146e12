package config

import "github.com/joho/godotenv"

type Config interface {
	EnvConfig
	ClientConfig
	ReporterConfig
	LocationConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetDataFolder() string
	GetDeviceID() string
	IsProduction() bool
}

type mainConfig struct {
	EnvVars
	Client
	Reporter
	Location
	Storage
}

// New loads an optional .env file and returns the environment backed configuration.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}
