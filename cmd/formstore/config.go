package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config is read from a YAML file, then overridden by FORMSTORE_* environment
// variables (optionally loaded from a .env file), then by flags.
type Config struct {
	Backend         string `yaml:"backend" env:"FORMSTORE_BACKEND"`
	BoltPath        string `yaml:"bolt_path" env:"FORMSTORE_BOLT_PATH"`
	PostgresDSN     string `yaml:"postgres_dsn" env:"FORMSTORE_POSTGRES_DSN"`
	PostgresSchema  string `yaml:"postgres_schema" env:"FORMSTORE_POSTGRES_SCHEMA"`
	ChunkSize       int    `yaml:"chunk_size" env:"FORMSTORE_CHUNK_SIZE"`
	MaxBlobSize     int64  `yaml:"max_blob_size" env:"FORMSTORE_MAX_BLOB_SIZE"`
	CacheChunks     int    `yaml:"cache_chunks" env:"FORMSTORE_CACHE_CHUNKS"`
	LoadConcurrency int    `yaml:"load_concurrency" env:"FORMSTORE_LOAD_CONCURRENCY"`
	Verbose         bool   `yaml:"verbose" env:"FORMSTORE_VERBOSE"`
}

func defaultConfig() Config {
	return Config{
		Backend:         BackendBolt,
		BoltPath:        "formstore.db",
		LoadConcurrency: 4,
		CacheChunks:     64,
	}
}

// loadConfig builds the configuration before flag overrides. An empty path
// skips the file; an empty envFile skips the .env file, and a missing one is
// ignored.
func loadConfig(path, envFile string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("%s: %w", envFile, err)
		}
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.Backend {
	case BackendBolt:
		if cfg.BoltPath == "" {
			return errors.New("bolt backend needs bolt_path")
		}
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("postgres backend needs postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return nil
}
