package db

import (
	"testing"

	"github.com/mkoskin/inflow/internal/capture"
)

const day = int64(86400)

func newTestTask(taskID string, createdAt int64) *capture.CachedTask {
	return &capture.CachedTask{
		TaskID:       taskID,
		TaskSeriesID: "s-" + taskID,
		ListID:       "l1",
		Name:         "Task " + taskID,
		CreatedAt:    createdAt,
		LastSyncedAt: 1700000000,
	}
}

// testFilter builds a filter as the selector would for now = 100*day.
func testFilter() capture.HighlightFilter {
	now := 100 * day
	return capture.HighlightFilter{
		OldCutoff:      now - 14*day,
		RecentCutoff:   now - 7*day,
		NagCutoff:      now - 14*day,
		MaxSuggestions: 3,
		ExcludeLabel:   "highlight",
	}
}

func TestUpsertCachedTask_PreservesSuggestionCounters(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	task := newTestTask("t1", 50*day)
	if err := UpsertCachedTask(db, task); err != nil {
		t.Fatalf("UpsertCachedTask failed: %v", err)
	}

	if err := MarkSuggested(db, "t1", 99*day); err != nil {
		t.Fatalf("MarkSuggested failed: %v", err)
	}

	// Re-sync with fresh provider data
	task.Name = "Task t1 renamed"
	task.Completed = true
	task.LastSyncedAt = 1700009999
	if err := UpsertCachedTask(db, task); err != nil {
		t.Fatalf("UpsertCachedTask refresh failed: %v", err)
	}

	got, err := GetCachedTask(db, "t1")
	if err != nil {
		t.Fatalf("GetCachedTask failed: %v", err)
	}
	if got.Name != "Task t1 renamed" {
		t.Errorf("Name = %q, want renamed", got.Name)
	}
	if !got.Completed {
		t.Error("Completed = false, want true")
	}
	// Counters survive the refresh
	if got.TimesSuggested != 1 {
		t.Errorf("TimesSuggested = %d, want 1", got.TimesSuggested)
	}
	if got.LastSuggestedAt == nil || *got.LastSuggestedAt != 99*day {
		t.Errorf("LastSuggestedAt = %v, want %d", got.LastSuggestedAt, 99*day)
	}
}

func TestSelectHighlightOld_OrderingAndBounds(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	f := testFilter()

	// Three old tasks with different suggestion history
	never := newTestTask("never", 10*day)
	early := newTestTask("early", 10*day)
	early.TimesSuggested = 1
	early.LastSuggestedAt = int64Ptr(20 * day)
	late := newTestTask("late", 10*day)
	late.TimesSuggested = 1
	late.LastSuggestedAt = int64Ptr(80 * day)
	// Too recent for the old band
	fresh := newTestTask("fresh", 95*day)

	for _, task := range []*capture.CachedTask{late, early, never, fresh} {
		if err := UpsertCachedTask(db, task); err != nil {
			t.Fatalf("UpsertCachedTask failed: %v", err)
		}
	}

	got, err := SelectHighlightOld(db, f, 5)
	if err != nil {
		t.Fatalf("SelectHighlightOld failed: %v", err)
	}

	// Never-suggested first, then least recently suggested
	if len(got) != 3 {
		t.Fatalf("got %d tasks, want 3", len(got))
	}
	wantOrder := []string{"never", "early", "late"}
	for i, w := range wantOrder {
		if got[i].TaskID != w {
			t.Errorf("got[%d] = %s, want %s", i, got[i].TaskID, w)
		}
	}
}

func TestSelectHighlightRecent_NewestFirst(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	f := testFilter()

	for _, task := range []*capture.CachedTask{
		newTestTask("d95", 95 * day),
		newTestTask("d98", 98 * day),
		newTestTask("d50", 50 * day), // outside the recent band
	} {
		if err := UpsertCachedTask(db, task); err != nil {
			t.Fatalf("UpsertCachedTask failed: %v", err)
		}
	}

	got, err := SelectHighlightRecent(db, f, 5)
	if err != nil {
		t.Fatalf("SelectHighlightRecent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tasks, want 2", len(got))
	}
	if got[0].TaskID != "d98" || got[1].TaskID != "d95" {
		t.Errorf("order = [%s %s], want [d98 d95]", got[0].TaskID, got[1].TaskID)
	}
}

func TestHighlightEligibility_Exclusions(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	f := testFilter()

	completed := newTestTask("completed", 10*day)
	completed.Completed = true

	inProject := newTestTask("project", 10*day)
	inProject.ProjectID = stringPtr("p1")

	optedOut := newTestTask("optout", 10*day)
	optedOut.Tags = []string{"highlight"}

	// The system label must not trip the user opt-out match
	labeled := newTestTask("labeled", 10*day)
	labeled.Tags = []string{"highlight-today"}

	eligible := newTestTask("eligible", 10*day)

	for _, task := range []*capture.CachedTask{completed, inProject, optedOut, labeled, eligible} {
		if err := UpsertCachedTask(db, task); err != nil {
			t.Fatalf("UpsertCachedTask failed: %v", err)
		}
	}

	got, err := SelectHighlightOld(db, f, 10)
	if err != nil {
		t.Fatalf("SelectHighlightOld failed: %v", err)
	}

	ids := map[string]bool{}
	for _, task := range got {
		ids[task.TaskID] = true
	}
	if !ids["eligible"] || !ids["labeled"] {
		t.Errorf("ids = %v, want eligible and labeled included", ids)
	}
	if ids["completed"] || ids["project"] || ids["optout"] {
		t.Errorf("ids = %v, want completed/project/optout excluded", ids)
	}
}

func TestHighlightEligibility_AntiNag(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	f := testFilter()

	// Suggested three times yesterday: rested
	nagged := newTestTask("nagged", 10*day)
	nagged.TimesSuggested = 3
	nagged.LastSuggestedAt = int64Ptr(99 * day)

	// Suggested three times long ago: readmitted by the nag cutoff
	rested := newTestTask("rested", 10*day)
	rested.TimesSuggested = 3
	rested.LastSuggestedAt = int64Ptr(50 * day)

	// Under the cap, recent suggestion does not matter
	under := newTestTask("under", 10*day)
	under.TimesSuggested = 2
	under.LastSuggestedAt = int64Ptr(99 * day)

	for _, task := range []*capture.CachedTask{nagged, rested, under} {
		if err := UpsertCachedTask(db, task); err != nil {
			t.Fatalf("UpsertCachedTask failed: %v", err)
		}
	}

	got, err := SelectHighlightOld(db, f, 10)
	if err != nil {
		t.Fatalf("SelectHighlightOld failed: %v", err)
	}

	ids := map[string]bool{}
	for _, task := range got {
		ids[task.TaskID] = true
	}
	if ids["nagged"] {
		t.Error("nagged task should be excluded")
	}
	if !ids["rested"] || !ids["under"] {
		t.Errorf("ids = %v, want rested and under included", ids)
	}
}

func TestMarkTaskCompleted(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	if err := UpsertCachedTask(db, newTestTask("t1", 10*day)); err != nil {
		t.Fatalf("UpsertCachedTask failed: %v", err)
	}
	if err := MarkTaskCompleted(db, "t1"); err != nil {
		t.Fatalf("MarkTaskCompleted failed: %v", err)
	}

	got, err := GetCachedTask(db, "t1")
	if err != nil {
		t.Fatalf("GetCachedTask failed: %v", err)
	}
	if !got.Completed {
		t.Error("Completed = false, want true")
	}
}
