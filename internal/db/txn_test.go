package db

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
)

func TestWithTx_Commit(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	err = WithTx(db, func(tx *sql.Tx) error {
		return InsertCapture(tx, newTestCapture("01TX001", "inside tx"))
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	if _, err := GetCapture(db, "01TX001"); err != nil {
		t.Fatalf("capture not visible after commit: %v", err)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	wantErr := fmt.Errorf("boom")
	err = WithTx(db, func(tx *sql.Tx) error {
		if err := InsertCapture(tx, newTestCapture("01TX002", "doomed")); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	// Insert must have been rolled back
	if _, err := GetCapture(db, "01TX002"); err == nil {
		t.Fatal("capture visible after rollback")
	}
}

func TestWithTxRetry_BusyRetried(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	var slept []time.Duration
	sleep := func(d time.Duration) { slept = append(slept, d) }

	attempts := 0
	err = withTxRetry(db, func(tx *sql.Tx) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("database is locked")
		}
		return InsertCapture(tx, newTestCapture("01TX003", "eventually"))
	}, sleep)
	if err != nil {
		t.Fatalf("withTxRetry failed: %v", err)
	}

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	// Exponential backoff between attempts
	if len(slept) != 2 || slept[0] != 100*time.Millisecond || slept[1] != 200*time.Millisecond {
		t.Errorf("slept = %v, want [100ms 200ms]", slept)
	}

	got, err := GetCapture(db, "01TX003")
	if err != nil {
		t.Fatalf("GetCapture failed: %v", err)
	}
	if got.RawText != "eventually" {
		t.Errorf("RawText = %q", got.RawText)
	}
}

func TestWithTxRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	attempts := 0
	err = withTxRetry(db, func(tx *sql.Tx) error {
		attempts++
		return fmt.Errorf("database is locked")
	}, func(time.Duration) {})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != txMaxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, txMaxAttempts)
	}
}

func TestWithTxRetry_NonBusyNotRetried(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	attempts := 0
	err = withTxRetry(db, func(tx *sql.Tx) error {
		attempts++
		return fmt.Errorf("constraint violation")
	}, func(time.Duration) {})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestQuerier_SharedBetweenDBAndTx(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	// The same query function runs against both connection and transaction
	var _ Querier = db
	err = WithTx(db, func(tx *sql.Tx) error {
		var _ Querier = tx
		if err := InsertCapture(tx, newTestCapture("01TX004", "a")); err != nil {
			return err
		}
		c, err := GetCapture(tx, "01TX004")
		if err != nil {
			return err
		}
		c.DecisionStatus = capture.DecisionApproved
		return UpdateCapture(tx, c)
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	got, err := GetCapture(db, "01TX004")
	if err != nil {
		t.Fatalf("GetCapture failed: %v", err)
	}
	if got.DecisionStatus != capture.DecisionApproved {
		t.Errorf("DecisionStatus = %q, want approved", got.DecisionStatus)
	}
}
