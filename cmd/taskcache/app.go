package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nhle/taskcache/internal/cache"
	"github.com/nhle/taskcache/internal/credential"
	"github.com/nhle/taskcache/internal/grouping"
	"github.com/nhle/taskcache/internal/logging"
	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/recovery"
	"github.com/nhle/taskcache/internal/source"
	"github.com/nhle/taskcache/internal/source/jira"
	"github.com/nhle/taskcache/internal/store"
	"github.com/nhle/taskcache/internal/sync"
)

// tokenEnv overrides the keyring-stored API token.
const tokenEnv = "TASKCACHE_TOKEN"

// shutdownTimeout bounds how long exit waits for background writes.
const shutdownTimeout = 30 * time.Second

// app holds everything a command needs, built from the config file.
type app struct {
	cfg     *model.AppConfig
	logger  *slog.Logger
	logFile io.Closer
	db      *store.SQLiteStore
	adapter *jira.Adapter
	scanner *recovery.Scanner
	orch    *sync.Orchestrator
}

// newApp loads the config and opens the stores.
func newApp() (*app, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, logFile, err := logging.New(cfg.Log, verbose)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, logFile: logFile}
	if err := a.open(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open() error {
	cfg := a.cfg

	if cfg.Source.Type != string(source.SourceTypeJira) {
		return fmt.Errorf("unsupported source type %q", cfg.Source.Type)
	}

	codec, err := cache.ParseCodec(cfg.Cache.Compression)
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	a.db = db

	var blobs store.BlobStore = db
	if cfg.Cache.BlobDir != "" {
		fileBlobs, err := store.NewFileBlobStore(cfg.Cache.BlobDir)
		if err != nil {
			return fmt.Errorf("opening blob directory: %w", err)
		}
		blobs = fileBlobs
	}

	filters, err := grouping.FiltersFromConfig(cfg.Filters)
	if err != nil {
		return err
	}

	a.adapter = jira.NewAdapter(
		cfg.Source.BaseURL,
		cfg.Source.Email,
		a.token(),
		cfg.Source.JQL,
		cfg.Source.PageSize,
		a.logger,
	)
	a.scanner = recovery.NewScanner(db, cfg.Cache.LegacyKeys, cfg.Cache.LegacyConfigKey, a.logger)

	tiers := sync.NewTiers(db, blobs, cfg.Cache.SchemaVersion,
		cache.WithLogger(a.logger),
		cache.WithCodec(codec),
	)
	a.orch = sync.New(a.adapter, tiers, sync.Config{
		Version: cfg.Cache.SchemaVersion,
		Timeout: time.Duration(cfg.Cache.SyncTimeoutSec) * time.Second,
		Filters: filters,
		Names:   cfg.Names,
		Scanner: a.scanner,
		Logger:  a.logger,
	})
	return nil
}

// token resolves the API token: config or environment first, then the
// keyring.
func (a *app) token() string {
	if a.cfg.Source.Token != "" {
		return a.cfg.Source.Token
	}
	if tok := os.Getenv(tokenEnv); tok != "" {
		return tok
	}
	tok, err := credential.Get(credential.TokenKey(a.cfg.Source.Type))
	if err != nil {
		if !credential.IsNotFound(err) {
			a.logger.Warn("reading token from keyring failed", "error", err)
		}
		return ""
	}
	return tok
}

// Close waits for background writes, then releases the stores.
func (a *app) Close() {
	if a.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.orch.Wait(ctx); err != nil {
			a.logger.Warn("background writes did not finish", "error", err)
		}
		cancel()
	}
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	if err := errors.Join(errs...); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing: %v\n", err)
	}
}
