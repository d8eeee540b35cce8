// Package config loads the TOML run configuration for the migration tool.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config describes the three backend stores of one migration run.
type Config struct {
	Mongo    MongoConfig    `toml:"mongo"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	S3       S3Config       `toml:"s3"`
}

// MongoConfig locates the legacy source database.
type MongoConfig struct {
	URL      string `toml:"url"`
	Database string `toml:"database"`
}

// PostgresConfig locates the destination relational database.
type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

// SQLiteConfig locates the rehearsal destination database file.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// S3Config locates the destination object store bucket.
type S3Config struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	SessionToken    string `toml:"session_token"`
	PathStyle       bool   `toml:"path_style"`
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Mongo.URL == "" {
		cfg.Mongo.URL = "mongodb://localhost:27017"
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "registry"
	}
	if cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = "postgres://localhost/registry?sslmode=disable"
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "registry-rehearsal.db"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

// Validate rejects configurations that cannot identify all three backends.
func Validate(cfg Config) error {
	if cfg.S3.Bucket == "" {
		return fmt.Errorf("config: s3.bucket is required")
	}
	return nil
}
