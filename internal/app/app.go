// Package app wires configuration into a ready-to-use service and exposes
// the high-level operations the CLI drives.
package app

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"rcm-go/internal/cloud"
	"rcm-go/internal/config"
	"rcm-go/internal/database"
	"rcm-go/internal/database/migrations"
	"rcm-go/internal/model"
	"rcm-go/internal/rcm"
	"rcm-go/internal/reader"
	"rcm-go/internal/vault"
)

// App is the application layer between the CLI and the Service. It constructs
// all dependencies from config, owns the at-most-one-sync flag, and manages
// the DB lifecycle on Close.
type App struct {
	cfg     *config.Config
	repo    *database.SQLiteRepository
	store   rcm.Store
	service *rcm.Service
	logging io.Closer

	syncRunning atomic.Bool
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Import", "Sync"). The caller
// must call Close when done.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	store, err := vault.NewStoreFromConfig(cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	repo, err := database.NewRepositoryFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := migrations.MigrateUp(repo.DB()); err != nil {
		repo.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	var connector rcm.CloudConnector
	if cfg.Sync.Enabled {
		if cfg.Sync.S3 == nil {
			repo.Close()
			return nil, fmt.Errorf("sync enabled but no s3 section configured")
		}
		connector = cloud.NewS3Connector(*cfg.Sync.S3)
	}

	logger, logging, err := newLogger(cfg.LogDir, operation)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	svc := rcm.NewService(repo, store, reader.New(), connector,
		rcm.RealClock{}, rcm.UUIDNamer{}, &slogAdapter{l: logger}, cfg.Sync.Enabled)

	return &App{
		cfg:     cfg,
		repo:    repo,
		store:   store,
		service: svc,
		logging: logging,
	}, nil
}

// Service exposes the wired service for operations the App does not wrap.
func (a *App) Service() *rcm.Service { return a.service }

// ScanSources reads sources so the user can pick files before importing.
func (a *App) ScanSources(paths []string) ([]rcm.FileRecord, error) {
	return a.service.ScanSources(paths)
}

// Import ingests the selected files into the collection.
func (a *App) Import(req *rcm.ImportRequest) (*rcm.ImportResult, error) {
	return a.service.Import(req)
}

// UpdateFileSet reconciles a set's membership with a new selection.
func (a *App) UpdateFileSet(req *rcm.UpdateFileSetRequest) (*rcm.UpdateFileSetResult, error) {
	return a.service.UpdateFileSet(req)
}

// DeleteFileSet removes a set and any members no other set references.
func (a *App) DeleteFileSet(fileSetID int64) (*rcm.DeleteResult, error) {
	return a.service.DeleteFileSet(fileSetID)
}

// Sync runs the cloud-synchronisation engine. At most one sync runs per App;
// a second concurrent call returns ErrSyncRunning.
func (a *App) Sync(ctx context.Context, events chan<- rcm.SyncEvent) (rcm.SyncSummary, error) {
	if !a.syncRunning.CompareAndSwap(false, true) {
		return rcm.SyncSummary{}, rcm.ErrSyncRunning
	}
	defer a.syncRunning.Store(false)
	return a.service.Sync(ctx, events)
}

// VerifyCloud reports uploaded files missing from the bucket.
func (a *App) VerifyCloud(ctx context.Context) ([]string, error) {
	return a.service.VerifyCloud(ctx)
}

// Status summarises the collection and the replication backlog.
func (a *App) Status() (*rcm.CollectionStatus, error) {
	return a.service.Status()
}

// SyncHistory returns the journal for one file, newest first.
func (a *App) SyncHistory(fileInfoID int64) ([]*model.FileSyncLogEntry, error) {
	return a.service.SyncHistory(fileInfoID)
}

// Close releases the database and the log writer.
func (a *App) Close() error {
	var firstErr error
	if err := a.repo.Close(); err != nil {
		firstErr = err
	}
	if a.logging != nil {
		if err := a.logging.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
