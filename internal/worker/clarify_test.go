package worker

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/config"
	"github.com/mkoskin/inflow/internal/db"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedCapture inserts a fresh capture in its initial state, optionally
// mutated before insert.
func seedCapture(t *testing.T, database *sql.DB, id string, mutate ...func(*capture.Capture)) *capture.Capture {
	t.Helper()
	c := &capture.Capture{
		ID:             id,
		CreatedAt:      time.Now().Unix(),
		RawText:        "osta maitoa kaupasta",
		Source:         "manual",
		ClarifyStatus:  capture.ClarifyPending,
		DecisionStatus: capture.DecisionProposed,
		CommitStatus:   capture.CommitPending,
	}
	for _, m := range mutate {
		m(c)
	}
	require.NoError(t, db.InsertCapture(database, c))
	return c
}

type fakeClarifier struct {
	configured bool
	calls      int
	fn         func(rawText string) (*capture.Clarification, string, error)
}

func (f *fakeClarifier) Clarify(_ context.Context, rawText string) (*capture.Clarification, string, error) {
	f.calls++
	if f.fn != nil {
		return f.fn(rawText)
	}
	return nil, "", fmt.Errorf("no response configured")
}

func (f *fakeClarifier) Configured() bool { return f.configured }

func TestClarifyWorker_Success(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer database.Close()

	raw := `{"type":"next_action","clarified_text":"Osta maitoa","next_action":"Osta maitoa","confidence_score":0.9}`
	clarifier := &fakeClarifier{
		configured: true,
		fn: func(string) (*capture.Clarification, string, error) {
			clar, parseErr := capture.ParseClarification([]byte(raw))
			return clar, raw, parseErr
		},
	}
	seedCapture(t, database, "cap-1")

	w := NewClarifyWorker(database, clarifier, config.DefaultConfig(), testLogger())
	require.NoError(t, w.RunOnce(context.Background()))

	got, err := db.GetCapture(database, "cap-1")
	require.NoError(t, err)
	require.Equal(t, capture.ClarifyCompleted, got.ClarifyStatus)
	require.Equal(t, 1, got.ClarifyAttempts)
	require.NotNil(t, got.LastClarifyAt)
	require.NotNil(t, got.ClarifyJSON)
	// Provider payload is stored verbatim
	require.Equal(t, raw, *got.ClarifyJSON)
	require.Equal(t, 1, clarifier.calls)
}

func TestClarifyWorker_AttemptPersistedBeforeCall(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer database.Close()

	seedCapture(t, database, "cap-1")

	clarifier := &fakeClarifier{configured: true}
	clarifier.fn = func(string) (*capture.Clarification, string, error) {
		// Observed from inside the outbound call: the attempt is
		// already durable.
		mid, getErr := db.GetCapture(database, "cap-1")
		require.NoError(t, getErr)
		require.Equal(t, capture.ClarifyInProgress, mid.ClarifyStatus)
		require.Equal(t, 1, mid.ClarifyAttempts)
		return nil, "", fmt.Errorf("provider exploded")
	}

	w := NewClarifyWorker(database, clarifier, config.DefaultConfig(), testLogger())
	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, 1, clarifier.calls)
}

func TestClarifyWorker_FailureWillRetry(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer database.Close()

	seedCapture(t, database, "cap-1")
	clarifier := &fakeClarifier{configured: true}

	w := NewClarifyWorker(database, clarifier, config.DefaultConfig(), testLogger())
	require.NoError(t, w.RunOnce(context.Background()))

	got, err := db.GetCapture(database, "cap-1")
	require.NoError(t, err)
	require.Equal(t, capture.ClarifyFailed, got.ClarifyStatus)
	require.Equal(t, 1, got.ClarifyAttempts)
	require.NotNil(t, got.ClarifyJSON)
	require.Contains(t, *got.ClarifyJSON, "clarification_failed")
	require.Contains(t, *got.ClarifyJSON, `"requires_user_attention":false`)
}

func TestClarifyWorker_PermanentFailureAtMaxAttempts(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer database.Close()

	cfg := config.DefaultConfig()
	longAgo := time.Now().Add(-24 * time.Hour).Unix()
	seedCapture(t, database, "cap-1", func(c *capture.Capture) {
		c.ClarifyStatus = capture.ClarifyFailed
		c.ClarifyAttempts = cfg.MaxClarifyAttempts - 1
		c.LastClarifyAt = &longAgo
	})

	clarifier := &fakeClarifier{configured: true}
	w := NewClarifyWorker(database, clarifier, cfg, testLogger())
	require.NoError(t, w.RunOnce(context.Background()))

	got, err := db.GetCapture(database, "cap-1")
	require.NoError(t, err)
	require.Equal(t, capture.ClarifyPermanentlyFailed, got.ClarifyStatus)
	require.Equal(t, cfg.MaxClarifyAttempts, got.ClarifyAttempts)
	require.Contains(t, *got.ClarifyJSON, "clarification_permanently_failed")
	require.Contains(t, *got.ClarifyJSON, `"requires_user_attention":true`)

	// Permanently failed captures leave the queue for good.
	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, 1, clarifier.calls)
}

func TestClarifyWorker_BackoffGate(t *testing.T) {
	w := NewClarifyWorker(nil, &fakeClarifier{}, config.DefaultConfig(), testLogger())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	ago := func(d time.Duration) *int64 {
		ts := now.Add(-d).Unix()
		return &ts
	}

	tests := []struct {
		name string
		c    capture.Capture
		want bool
	}{
		{"pending is immediate", capture.Capture{ClarifyStatus: capture.ClarifyPending}, true},
		{"in progress never", capture.Capture{ClarifyStatus: capture.ClarifyInProgress}, false},
		{"completed never", capture.Capture{ClarifyStatus: capture.ClarifyCompleted}, false},
		{"failed without timestamp", capture.Capture{ClarifyStatus: capture.ClarifyFailed, ClarifyAttempts: 1}, true},
		{"failed still in backoff", capture.Capture{ClarifyStatus: capture.ClarifyFailed, ClarifyAttempts: 1, LastClarifyAt: ago(time.Minute)}, false},
		{"failed past backoff", capture.Capture{ClarifyStatus: capture.ClarifyFailed, ClarifyAttempts: 1, LastClarifyAt: ago(6 * time.Minute)}, true},
		{"third attempt needs half an hour", capture.Capture{ClarifyStatus: capture.ClarifyFailed, ClarifyAttempts: 2, LastClarifyAt: ago(20 * time.Minute)}, false},
		{"third attempt after half an hour", capture.Capture{ClarifyStatus: capture.ClarifyFailed, ClarifyAttempts: 2, LastClarifyAt: ago(31 * time.Minute)}, true},
		{"attempt budget spent", capture.Capture{ClarifyStatus: capture.ClarifyFailed, ClarifyAttempts: 5, LastClarifyAt: ago(48 * time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, w.shouldAttempt(&tt.c, now))
		})
	}
}

func TestClarifyWorker_NotConfiguredSkipsCycle(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer database.Close()

	seedCapture(t, database, "cap-1")
	clarifier := &fakeClarifier{configured: false}

	w := NewClarifyWorker(database, clarifier, config.DefaultConfig(), testLogger())
	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, 0, clarifier.calls)

	got, err := db.GetCapture(database, "cap-1")
	require.NoError(t, err)
	require.Equal(t, capture.ClarifyPending, got.ClarifyStatus)
	require.Equal(t, 0, got.ClarifyAttempts)
}

func TestErrorInfoJSON(t *testing.T) {
	s := errorInfoJSON("clarification_failed", "boom", false, 2)
	require.NotNil(t, s)
	for _, want := range []string{`"type":"error"`, `"status":"clarification_failed"`, `"attempts":2`} {
		require.True(t, strings.Contains(*s, want), "missing %s in %s", want, *s)
	}
}
