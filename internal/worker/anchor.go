package worker

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/config"
	"github.com/mkoskin/inflow/internal/db"
	"github.com/mkoskin/inflow/internal/rtm"
)

// TaskLister is the provider read API the anchor manager uses for its
// duplicate check.
type TaskLister interface {
	ListTasks(ctx context.Context, token, listID, filter string) ([]rtm.TaskEntry, error)
}

// AnchorProvider combines the write and read surface the anchor
// manager needs.
type AnchorProvider interface {
	TaskWriter
	TaskLister
}

// AnchorManager maintains the single daily reminder task that points
// the user at captures awaiting a decision. The local anchor row is
// written before the external call; the external outcome is recorded on
// it afterwards and never retried automatically.
type AnchorManager struct {
	db       *sql.DB
	provider AnchorProvider
	tokens   TokenSource
	cfg      *config.Config
	log      *slog.Logger
	now      func() time.Time
}

// NewAnchorManager creates an anchor manager.
func NewAnchorManager(database *sql.DB, provider AnchorProvider, tokens TokenSource, cfg *config.Config, log *slog.Logger) *AnchorManager {
	return &AnchorManager{
		db:       database,
		provider: provider,
		tokens:   tokens,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// anchorExternalState is the JSON persisted in the anchor row.
type anchorExternalState struct {
	Provider  string       `json:"provider"`
	Status    string       `json:"status"`
	SmartAdd  string       `json:"smart_add"`
	Timeline  string       `json:"timeline,omitempty"`
	Ref       *rtm.TaskRef `json:"ref,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	UpdatedAt string       `json:"updated_at"`
}

// RunOnce ensures an active anchor exists for today when captures are
// awaiting a decision. At most one active, unexpired anchor exists at
// any instant.
func (m *AnchorManager) RunOnce(ctx context.Context) error {
	if !m.provider.Configured() {
		return nil
	}

	hasProposed, err := db.HasProposed(m.db)
	if err != nil {
		return err
	}
	if !hasProposed {
		return nil
	}

	today := m.now().UTC().Format("2006-01-02")

	active, err := db.GetActiveAnchor(m.db, capture.AnchorKindApproval, today)
	if err != nil {
		return err
	}
	if active != nil {
		return nil
	}

	if _, err := db.ExpireAnchors(m.db, capture.AnchorKindApproval, today); err != nil {
		return err
	}

	token, err := m.tokens.Token(ctx)
	if err != nil {
		m.log.Info("provider auth not valid, skipping anchor", "error", err)
		return nil
	}

	smartAdd := m.cfg.AnchorTaskName + " " + TagActionable

	// The row exists before any external call so a crash cannot lose
	// track of an anchor attempt.
	anchor := &capture.Anchor{
		ID:         ulid.MustNew(ulid.Timestamp(m.now()), ulid.Monotonic(rand.Reader, 0)).String(),
		CreatedAt:  m.now().Unix(),
		Kind:       capture.AnchorKindApproval,
		Status:     capture.AnchorActive,
		ValidUntil: today,
	}
	if err := db.InsertAnchor(m.db, anchor); err != nil {
		return err
	}

	state := anchorExternalState{
		Provider: rtm.Provider,
		Status:   "in_progress",
		SmartAdd: smartAdd,
	}

	// Duplicate check: an untouched reminder from a previous day means
	// nothing new to create.
	exists, err := m.reminderExists(ctx, token)
	if err != nil {
		state.Status = "unknown"
		state.LastError = err.Error()
		m.log.Warn("anchor duplicate check failed", "error", err)
		return m.recordState(anchor.ID, state)
	}
	if exists {
		state.Status = "already_exists"
		m.log.Info("anchor reminder already exists, skipping create")
		return m.recordState(anchor.ID, state)
	}

	timeline, err := m.provider.CreateTimeline(ctx, token)
	if err == nil {
		state.Timeline = timeline
		var ref rtm.TaskRef
		ref, err = m.provider.AddTask(ctx, token, timeline, smartAdd)
		if err == nil {
			state.Status = "committed"
			state.Ref = &ref
			m.log.Info("anchor reminder created", "task_id", ref.TaskID)
			return m.recordState(anchor.ID, state)
		}
	}

	// Unknown state: never retried automatically, a retry could create
	// a duplicate reminder.
	state.Status = "unknown"
	state.LastError = err.Error()
	m.log.Error("anchor reminder creation failed", "error", err)
	return m.recordState(anchor.ID, state)
}

// reminderExists looks for an incomplete external task with the exact
// reminder name.
func (m *AnchorManager) reminderExists(ctx context.Context, token string) (bool, error) {
	entries, err := m.provider.ListTasks(ctx, token, "", `name:"`+m.cfg.AnchorTaskName+`"`)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Name == m.cfg.AnchorTaskName && !e.Completed {
			return true, nil
		}
	}
	return false, nil
}

func (m *AnchorManager) recordState(anchorID string, state anchorExternalState) error {
	state.UpdatedAt = m.now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return db.UpdateAnchorExternalState(m.db, anchorID, string(data))
}
