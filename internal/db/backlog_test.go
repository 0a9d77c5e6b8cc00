package db

import (
	"testing"

	"github.com/mkoskin/inflow/internal/capture"
)

func newTestBacklogItem(id string, createdAt int64) *capture.BacklogItem {
	return &capture.BacklogItem{
		ID:        id,
		CreatedAt: createdAt,
		RawText:   "item " + id,
		Status:    capture.BacklogPending,
	}
}

func TestBacklogItemLifecycle(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	if err := InsertBacklogItem(db, newTestBacklogItem("01B001", 100)); err != nil {
		t.Fatalf("InsertBacklogItem failed: %v", err)
	}
	if err := InsertBacklogItem(db, newTestBacklogItem("01B002", 200)); err != nil {
		t.Fatalf("InsertBacklogItem failed: %v", err)
	}

	pending, err := ListPendingBacklog(db, 10)
	if err != nil {
		t.Fatalf("ListPendingBacklog failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	// FIFO on created_at
	if pending[0].ID != "01B001" || pending[1].ID != "01B002" {
		t.Errorf("order = [%s %s], want [01B001 01B002]", pending[0].ID, pending[1].ID)
	}

	// Drain the first item
	item := pending[0]
	item.Status = capture.BacklogProcessed
	item.ClarifyAttempts = 1
	item.ProcessedAt = int64Ptr(300)
	item.CaptureID = stringPtr("01CAP001")
	if err := UpdateBacklogItem(db, item); err != nil {
		t.Fatalf("UpdateBacklogItem failed: %v", err)
	}

	pending, err = ListPendingBacklog(db, 10)
	if err != nil {
		t.Fatalf("ListPendingBacklog failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "01B002" {
		t.Fatalf("pending = %v, want only 01B002", pending)
	}

	counts, err := CountBacklogByStatus(db)
	if err != nil {
		t.Fatalf("CountBacklogByStatus failed: %v", err)
	}
	if counts["pending"] != 1 || counts["processed"] != 1 {
		t.Errorf("counts = %v, want pending:1 processed:1", counts)
	}
}

func TestListPendingBacklog_Limit(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	for i := int64(0); i < 8; i++ {
		item := newTestBacklogItem("01B00"+string(rune('0'+i)), 100+i)
		if err := InsertBacklogItem(db, item); err != nil {
			t.Fatalf("InsertBacklogItem failed: %v", err)
		}
	}

	pending, err := ListPendingBacklog(db, 5)
	if err != nil {
		t.Fatalf("ListPendingBacklog failed: %v", err)
	}
	if len(pending) != 5 {
		t.Fatalf("pending = %d, want 5", len(pending))
	}
	// Oldest items drained first
	if pending[0].ID != "01B000" {
		t.Errorf("first = %s, want 01B000", pending[0].ID)
	}
}

func TestUpdateBacklogItem_NotFound(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	item := newTestBacklogItem("missing", 100)
	if err := UpdateBacklogItem(db, item); err == nil {
		t.Fatal("expected error for missing item")
	}
}
