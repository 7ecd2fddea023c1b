package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// EventKind tells commit hooks what kind of side effect a mutation asked for.
type EventKind int

const (
	// EventBackupNeeded marks data of an owned identity as changed since the
	// last backup.
	EventBackupNeeded EventKind = iota + 1
	// EventNotification carries a notification to post once the mutation is
	// durable.
	EventNotification
)

// Event is a side effect recorded by a mutating call and delivered to commit
// hooks only if the surrounding transaction commits.
type Event struct {
	Kind          EventKind
	OwnedIdentity models.Identity
	Notification  string
	Payload       map[string]any
}

// BackupNeeded builds an [EventBackupNeeded] event.
func BackupNeeded(owned models.Identity) Event {
	return Event{Kind: EventBackupNeeded, OwnedIdentity: owned}
}

// Notification builds an [EventNotification] event.
func Notification(name string, owned models.Identity, payload map[string]any) Event {
	return Event{Kind: EventNotification, OwnedIdentity: owned, Notification: name, Payload: payload}
}

// CommitHook receives the events of a committed session.
type CommitHook func(ctx context.Context, events []Event)

// Querier is the subset of *sql.DB and *sql.Tx used by repositories.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session is a unit of work. It wraps either the pool (autocommit) or a
// transaction, collects the events recorded by mutations and hands them to
// the commit hooks once the work is durable. Rolled back sessions drop their
// events.
//
// A Session is not safe for concurrent use.
type Session struct {
	db     *DB
	tx     *sql.Tx
	ctx    context.Context
	events []Event
	hooks  []CommitHook
	after  []func(ctx context.Context)
	closed bool
}

// Session returns an autocommit session. Events recorded on it are delivered
// immediately.
func (db *DB) Session(ctx context.Context) *Session {
	return &Session{db: db, ctx: ctx}
}

// Begin opens a transactional session.
func (db *DB) Begin(ctx context.Context) (*Session, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*DB.Begin").Msg("error beginning transaction")
		return nil, fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	return &Session{db: db, tx: tx, ctx: ctx}, nil
}

// WithinTransaction runs fn in a new transaction, committing when fn returns
// nil and rolling back otherwise.
func (db *DB) WithinTransaction(ctx context.Context, fn func(s *Session) error) error {
	s, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer s.Rollback()

	if err := fn(s); err != nil {
		return err
	}
	return s.Commit()
}

// InTransaction reports whether the session wraps a transaction.
func (s *Session) InTransaction() bool {
	return s.tx != nil && !s.closed
}

// RequireTransaction fails with [ErrNotInTransaction] outside a transaction.
func (s *Session) RequireTransaction() error {
	if !s.InTransaction() {
		return ErrNotInTransaction
	}
	return nil
}

// Record queues events for delivery after commit. Autocommit sessions
// deliver them right away.
func (s *Session) Record(events ...Event) {
	if s.tx == nil {
		s.fire(events)
		return
	}
	s.events = append(s.events, events...)
}

// OnCommit registers a hook scoped to this session only.
func (s *Session) OnCommit(hook CommitHook) {
	s.hooks = append(s.hooks, hook)
}

// AfterCommit schedules fn to run once the session commits, after the
// commit hooks. Autocommit sessions run it right away; rolled back sessions
// never do. Used for side effects outside the database such as protocol
// triggers.
func (s *Session) AfterCommit(fn func(ctx context.Context)) {
	if s.tx == nil {
		fn(s.ctx)
		return
	}
	s.after = append(s.after, fn)
}

// Events returns the events recorded so far.
func (s *Session) Events() []Event {
	return append([]Event(nil), s.events...)
}

// Commit commits the transaction and fires the commit hooks.
func (s *Session) Commit() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.tx == nil {
		s.closed = true
		return nil
	}

	if err := s.tx.Commit(); err != nil {
		s.closed = true
		logger.FromContext(s.ctx).Err(err).Str("func", "*Session.Commit").Msg("error committing transaction")
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}
	s.closed = true

	events, after := s.events, s.after
	s.events, s.after = nil, nil
	s.fire(events)
	for _, fn := range after {
		fn(s.ctx)
	}
	return nil
}

// Rollback aborts the transaction and drops recorded events. Rolling back a
// finished session is a no-op.
func (s *Session) Rollback() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.events = nil
	s.after = nil
	if s.tx == nil {
		return nil
	}
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (s *Session) fire(events []Event) {
	events = compactEvents(events)
	if len(events) == 0 {
		return
	}
	for _, hook := range s.db.commitHooks() {
		hook(s.ctx, events)
	}
	for _, hook := range s.hooks {
		hook(s.ctx, events)
	}
}

// compactEvents keeps one backup event per owned identity.
func compactEvents(events []Event) []Event {
	seen := make(map[models.Identity]struct{})
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Kind == EventBackupNeeded {
			if _, ok := seen[e.OwnedIdentity]; ok {
				continue
			}
			seen[e.OwnedIdentity] = struct{}{}
		}
		out = append(out, e)
	}
	return out
}

func (s *Session) querier() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db.DB
}

// Builder returns the squirrel statement builder of the session dialect.
func (s *Session) Builder() sq.StatementBuilderType {
	return s.db.builder
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.querier().ExecContext(ctx, query, args...)
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.querier().QueryContext(ctx, query, args...)
}

func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.querier().QueryRowContext(ctx, query, args...)
}

// exec builds and runs a DML statement. Unique violations are wrapped with
// [ErrUniqueViolation].
func (s *Session) exec(ctx context.Context, q sq.Sqlizer) (sql.Result, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	res, err := s.ExecContext(ctx, query, args...)
	if err != nil {
		if s.db.errorClassificator != nil && s.db.errorClassificator.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	return res, nil
}

func (s *Session) query(ctx context.Context, q sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return rows, nil
}

// queryRow scans a single row into dest. It returns false when no row
// matched.
func (s *Session) queryRow(ctx context.Context, q sq.Sqlizer, dest ...any) (bool, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	if s.closed {
		return false, ErrSessionClosed
	}

	err = s.QueryRowContext(ctx, query, args...).Scan(dest...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return true, nil
}

// exists reports whether q returns at least one row.
func (s *Session) exists(ctx context.Context, q sq.SelectBuilder) (bool, error) {
	var one int
	return s.queryRow(ctx, q.Columns("1").Limit(1), &one)
}
