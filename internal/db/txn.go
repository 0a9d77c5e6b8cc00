package db

import (
	"database/sql"
	"strings"
	"time"
)

// Querier is the subset of database operations shared by *sql.DB and
// *sql.Tx. Query functions in this package accept it so they can run
// either standalone or inside a transaction.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const txMaxAttempts = 5

// WithTx runs fn inside a transaction, retrying the whole transaction
// with exponential backoff when SQLite reports the database busy or
// locked. Any other error rolls back and returns immediately.
func WithTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	return withTxRetry(db, fn, time.Sleep)
}

// withTxRetry is WithTx with an injectable sleep for tests.
func withTxRetry(db *sql.DB, fn func(tx *sql.Tx) error, sleep func(time.Duration)) error {
	var err error
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		err = runTx(db, fn)
		if err == nil || !isBusyError(err) {
			return err
		}
		if attempt < txMaxAttempts {
			// 100ms, 200ms, 400ms, 800ms
			sleep(100 * time.Millisecond << (attempt - 1))
		}
	}
	return err
}

func runTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isBusyError checks for SQLite BUSY/LOCKED conditions. modernc.org/sqlite
// surfaces these as plain errors, so match on the message.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy")
}
