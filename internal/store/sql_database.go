package store

import (
	"context"
	"database/sql"
	"sync"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/migrations"
)

// DB is the connection pool shared by every repository. It also owns the
// dialect-specific query builder, the driver error classifier and the
// commit hooks fired after successful transactions.
type DB struct {
	*sql.DB
	dialect            string
	builder            sq.StatementBuilderType
	errorClassificator ErrorClassificator
	logger             *logger.Logger

	hooksMu sync.RWMutex
	hooks   []CommitHook
}

func newDB(conn *sql.DB, dialect string, classifier ErrorClassificator, log *logger.Logger) *DB {
	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == migrations.DialectPostgres {
		placeholder = sq.Dollar
	}

	return &DB{
		DB:                 conn,
		dialect:            dialect,
		builder:            sq.StatementBuilder.PlaceholderFormat(placeholder),
		errorClassificator: classifier,
		logger:             log,
	}
}

// NewConnect opens PostgreSQL for postgres:// DSNs and SQLite otherwise.
func NewConnect(ctx context.Context, cfg config.DB, log *logger.Logger) (*DB, error) {
	if cfg.IsPostgres() {
		return NewConnectPostgres(ctx, cfg, log)
	}
	return NewConnectSQLite(ctx, cfg, log)
}

// Migrate applies the embedded schema migrations of the connection dialect.
func (db *DB) Migrate() error {
	return migrations.Migrate(db.DB, db.dialect)
}

// Dialect returns migrations.DialectSQLite or migrations.DialectPostgres.
func (db *DB) Dialect() string {
	return db.dialect
}

// OnCommit registers a hook fired after every successful commit with the
// events recorded by the committed session.
func (db *DB) OnCommit(hook CommitHook) {
	db.hooksMu.Lock()
	defer db.hooksMu.Unlock()
	db.hooks = append(db.hooks, hook)
}

func (db *DB) commitHooks() []CommitHook {
	db.hooksMu.RLock()
	defer db.hooksMu.RUnlock()
	return append([]CommitHook(nil), db.hooks...)
}
