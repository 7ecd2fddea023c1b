package store

import "errors"

// Sentinel errors returned by repository methods to signal well-known failure
// conditions. Callers should use [errors.Is] to match against these values.
// Not-found is not an error: lookups return nil or false instead.
var (
	// ErrDeviceCollision is returned when a device uid is already registered
	// under another owned identity or another contact.
	ErrDeviceCollision = errors.New("device uid already belongs to another identity")

	// ErrUniqueViolation wraps driver errors raised by primary key or unique
	// constraint violations.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrNotInTransaction is returned by [Session.RequireTransaction] for
	// operations that must be atomic with the caller's other writes.
	ErrNotInTransaction = errors.New("operation requires an open transaction")

	// ErrSessionClosed is returned when a committed or rolled back session
	// is used again.
	ErrSessionClosed = errors.New("session already committed or rolled back")
)

// Low-level database operation errors. These are returned (or wrapped) by
// repository methods when a SQL-level operation fails before any domain logic
// can be applied.
var (
	// ErrBuildingSQLQuery is returned when constructing a parameterised SQL
	// query fails (e.g. invalid argument count or unsupported type).
	ErrBuildingSQLQuery = errors.New("error building sql query")

	// ErrExecutingQuery is returned when executing a SELECT or similar
	// read-only query against the database fails.
	ErrExecutingQuery = errors.New("error executing sql query")

	// ErrBeginningTransaction is returned when the database driver cannot
	// start a new transaction.
	ErrBeginningTransaction = errors.New("failed to begin transaction")

	// ErrCommitingTransaction is returned when committing an open transaction
	// fails. The transaction is considered rolled back at this point.
	ErrCommitingTransaction = errors.New("failed to commit transaction")

	// ErrExecutingStatement is returned when executing a DML statement
	// (INSERT, UPDATE, DELETE) fails.
	ErrExecutingStatement = errors.New("failed to executing statement")

	// ErrScanningRow is returned when scanning column values from a single
	// result row fails.
	ErrScanningRow = errors.New("failed to scan row")

	// ErrScanningRows is returned when scanning column values during
	// multi-row iteration fails, typically mid-result-set.
	ErrScanningRows = errors.New("failed to scan rows")
)

// IsStorageError reports whether err originates from the database layer
// rather than from the data being stored.
func IsStorageError(err error) bool {
	for _, target := range []error{
		ErrBuildingSQLQuery, ErrExecutingQuery, ErrExecutingStatement,
		ErrScanningRow, ErrScanningRows,
		ErrBeginningTransaction, ErrCommitingTransaction,
		ErrNotInTransaction, ErrSessionClosed,
		ErrUniqueViolation, ErrDeviceCollision,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
