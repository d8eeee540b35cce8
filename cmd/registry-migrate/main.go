// Command registry-migrate performs a one-time ordered migration of the
// legacy registry: documents from MongoDB into PostgreSQL (or a local SQLite
// rehearsal database) and binary template assets into an S3-compatible
// object store, inserting only the mutually-consistent subset of records.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"registrymigrate/internal/blob"
	"registrymigrate/internal/config"
	"registrymigrate/internal/metrics"
	"registrymigrate/internal/migrate"
	"registrymigrate/internal/source"
	"registrymigrate/internal/target"
)

var exitFunc = os.Exit

const strategyRegistry = "registry"

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("registry-migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "registry-migrate.toml", "path to run configuration")
	dryRun := fs.Bool("dry-run", false, "perform all reads and statements but never commit or upload")
	fixIntegrity := fs.Bool("fix-integrity", false, "skip records violating integrity instead of aborting")
	strategy := fs.String("strategy", strategyRegistry, "migration strategy (only registry is supported)")
	targetKind := fs.String("target", "postgres", "destination relational store: postgres or sqlite")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Str("app", "registry-migrate").Logger()

	if *strategy != strategyRegistry {
		logger.Error().Str("strategy", *strategy).Msg("unsupported migration strategy")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load run configuration")
		return 1
	}
	logger.Info().Str("path", *configPath).Msg("loaded run configuration")

	ctx := context.Background()
	src, err := source.Dial(cfg.Mongo.URL, cfg.Mongo.Database)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to source store")
		return 1
	}

	tgt, err := openTarget(*targetKind, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to target store")
		_ = src.Close()
		return 1
	}

	objects, err := blob.NewS3(ctx, blob.S3Config{
		Region:          cfg.S3.Region,
		Bucket:          cfg.S3.Bucket,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		SessionToken:    cfg.S3.SessionToken,
		PathStyle:       cfg.S3.PathStyle,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to object store")
		_ = src.Close()
		_ = tgt.Close()
		return 1
	}

	opts := migrate.Options{DryRun: *dryRun, FixIntegrity: *fixIntegrity}
	migrator := migrate.New(src, tgt, objects, opts, logger, metrics.NewRun())
	if err := migrator.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("migration failed")
		return 1
	}
	logger.Info().Msg("migration succeeded")
	return 0
}

func openTarget(kind string, cfg config.Config) (migrate.TargetStore, error) {
	switch kind {
	case "postgres":
		return target.NewPostgres(cfg.Postgres.DSN)
	case "sqlite":
		return target.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown target store %q", kind)
	}
}
