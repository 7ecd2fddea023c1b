package store

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
)

// Storages is the storage layer handed to the service layer: the migrated
// connection pool and the repositories working on its sessions.
type Storages struct {
	DB           *DB
	Repositories *Repositories
}

// NewStorages connects to the database named by cfg.DSN, applies the
// migrations of its dialect and builds the repositories.
func NewStorages(ctx context.Context, cfg config.DB, logger *logger.Logger) (*Storages, error) {
	logger.Info().Msg("creating new storages...")

	db, err := NewConnect(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("database connection error: %w", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	repositories, err := NewRepositories(cfg.CurrentDeviceCacheSize, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storages{DB: db, Repositories: repositories}, nil
}

// Close closes the connection pool.
func (s *Storages) Close() error {
	return s.DB.Close()
}
