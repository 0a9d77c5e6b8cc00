package worker

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/config"
	"github.com/mkoskin/inflow/internal/db"
	"github.com/mkoskin/inflow/internal/errors"
	"github.com/mkoskin/inflow/internal/resilience"
	"github.com/mkoskin/inflow/internal/rtm"
)

// TaskWriter is the slice of the provider API the commit worker uses.
type TaskWriter interface {
	CreateTimeline(ctx context.Context, token string) (string, error)
	AddTask(ctx context.Context, token, timeline, name string) (rtm.TaskRef, error)
	Configured() bool
}

// TokenSource yields a valid provider auth token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

const commitBatchLimit = 50

// CommitWorker pushes approved captures to the external task manager.
// The provider offers no idempotency key, so any failure where a task
// may or may not have landed parks the capture in the unknown state and
// is never retried automatically.
type CommitWorker struct {
	db     *sql.DB
	writer TaskWriter
	tokens TokenSource
	cfg    *config.Config
	log    *slog.Logger
	now    func() time.Time
}

// NewCommitWorker creates a commit worker.
func NewCommitWorker(database *sql.DB, writer TaskWriter, tokens TokenSource, cfg *config.Config, log *slog.Logger) *CommitWorker {
	return &CommitWorker{
		db:     database,
		writer: writer,
		tokens: tokens,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// RunOnce processes one poll cycle of approved, uncommitted captures.
func (w *CommitWorker) RunOnce(ctx context.Context) error {
	if !w.writer.Configured() {
		w.log.Debug("task provider not configured, skipping cycle")
		return nil
	}

	token, err := w.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrAuthRequired) {
			w.log.Info("provider auth not valid, skipping commit cycle")
			return nil
		}
		return err
	}

	queue, err := db.ListCommitQueue(w.db, commitBatchLimit)
	if err != nil {
		return err
	}
	w.log.Info("commit poll", "queued", len(queue))

	for _, c := range queue {
		if err := w.commitOne(ctx, token, c); err != nil {
			w.log.Error("commit cycle error", "capture_id", c.ID, "error", err)
		}
	}
	return nil
}

func (w *CommitWorker) commitOne(ctx context.Context, token string, c *capture.Capture) error {
	// Approval normally requires a completed clarification, but a row
	// can still arrive here mid-clarify or after a clarify failure.
	// Leave it pending; it becomes committable once a clarification
	// lands, it is never a terminal defect.
	if c.ClarifyStatus != capture.ClarifyCompleted {
		w.log.Warn("approved capture has no completed clarification, leaving in queue",
			"capture_id", c.ID, "clarify_status", string(c.ClarifyStatus))
		return nil
	}

	clar, err := parseStoredClarification(c)
	if err != nil {
		// Data defect, no amount of retrying fixes it
		return w.failPermanently(c, err.Error())
	}
	if clar.Kind == capture.KindProject &&
		(clar.Project == nil || !capture.ValidShortname(clar.Project.Shortname)) {
		return w.failPermanently(c, "missing or invalid project_shortname in clarification")
	}

	entries := BuildEntries(clar)

	// Durable state boundary before any outbound call
	c.CommitAttempts++
	now := w.now().Unix()
	c.LastCommitAt = &now
	if err := w.update(c); err != nil {
		return err
	}

	w.log.Info("committing capture",
		"capture_id", c.ID,
		"entries", len(entries),
		"attempt", c.CommitAttempts)

	timeline, err := w.writer.CreateTimeline(ctx, token)
	if err != nil {
		return w.recordFailure(c, err, 0)
	}

	var refs []rtm.TaskRef
	for i, entry := range entries {
		ref, err := w.writer.AddTask(ctx, token, timeline, entry.SmartAdd)
		if err != nil {
			return w.recordFailure(c, err, i)
		}
		refs = append(refs, ref)
	}

	c.CommitStatus = capture.CommitCommitted
	c.CommitError = nil
	c.TaskID = &refs[0].TaskID
	c.TaskSeriesID = &refs[0].SeriesID
	c.ListID = &refs[0].ListID

	if err := w.update(c); err != nil {
		return err
	}
	w.cacheCreated(entries, refs, now)

	w.log.Info("committed capture",
		"capture_id", c.ID, "tasks", len(refs), "attempt", c.CommitAttempts)
	return nil
}

// recordFailure classifies a commit error and persists the resulting
// state. createdBefore is the number of tasks already created in this
// attempt: any failure after the first created task forces the unknown
// state because a retry would duplicate it.
func (w *CommitWorker) recordFailure(c *capture.Capture, err error, createdBefore int) error {
	status, msg := classifyCommitError(err)
	if createdBefore > 0 {
		status = capture.CommitUnknown
		msg = fmt.Sprintf("partial commit: %d of the tasks were created before the failure (%s), manual review required", createdBefore, err)
	}

	switch status {
	case capture.CommitUnknown, capture.CommitAuthFailed:
		// Not counted against the retry budget; parked until a human
		// or a re-auth intervenes.
	default:
		if c.CommitAttempts >= w.cfg.MaxCommitAttempts {
			status = capture.CommitPermanentlyFailed
			msg = fmt.Sprintf("commit failed after %d attempts: %s", c.CommitAttempts, msg)
		}
	}

	c.CommitStatus = status
	c.CommitError = &msg

	level := w.log.Warn
	if status != capture.CommitFailed {
		level = w.log.Error
	}
	level("commit failed",
		"capture_id", c.ID,
		"status", string(status),
		"attempt", c.CommitAttempts,
		"error", err)

	return w.update(c)
}

// classifyCommitError maps an error to the resulting commit status.
// Timeouts are the trap case: the provider may have created the task.
func classifyCommitError(err error) (capture.CommitStatus, string) {
	switch {
	case resilience.IsTimeout(err):
		return capture.CommitUnknown,
			fmt.Sprintf("timeout during commit: %s, manual review required", err)
	case rtm.IsAuthError(err), errors.Is(err, errors.ErrAuthRequired), isHTTPAuthError(err):
		return capture.CommitAuthFailed,
			fmt.Sprintf("provider authentication failed: %s, user must re-authenticate", err)
	case errors.Is(err, errors.ErrServiceUnavailable):
		return capture.CommitFailed,
			fmt.Sprintf("provider temporarily unavailable (circuit open): %s", err)
	default:
		return capture.CommitFailed, fmt.Sprintf("commit failed: %s", err)
	}
}

func isHTTPAuthError(err error) bool {
	var httpErr *resilience.HTTPError
	if !stderrors.As(err, &httpErr) {
		return false
	}
	return httpErr.Status == 401 || httpErr.Status == 403
}

// cacheCreated mirrors freshly created tasks into the local cache so
// the highlight selector can see them without a full sync.
func (w *CommitWorker) cacheCreated(entries []CommitEntry, refs []rtm.TaskRef, now int64) {
	for i, ref := range refs {
		t := &capture.CachedTask{
			TaskID:       ref.TaskID,
			TaskSeriesID: ref.SeriesID,
			ListID:       ref.ListID,
			Name:         entries[i].Name,
			CreatedAt:    now,
			ProjectID:    entries[i].ProjectID,
			Tags:         entries[i].Tags,
			LastSyncedAt: now,
		}
		if err := db.UpsertCachedTask(w.db, t); err != nil {
			w.log.Warn("caching created task failed", "task_id", ref.TaskID, "error", err)
		}
	}
}

func (w *CommitWorker) failPermanently(c *capture.Capture, msg string) error {
	now := w.now().Unix()
	c.CommitStatus = capture.CommitPermanentlyFailed
	c.CommitError = &msg
	c.LastCommitAt = &now

	w.log.Error("commit permanently failed", "capture_id", c.ID, "error", msg)
	return w.update(c)
}

func (w *CommitWorker) update(c *capture.Capture) error {
	return db.WithTx(w.db, func(tx *sql.Tx) error {
		return db.UpdateCapture(tx, c)
	})
}

func parseStoredClarification(c *capture.Capture) (*capture.Clarification, error) {
	if c.ClarifyJSON == nil {
		return nil, fmt.Errorf("capture has no clarification")
	}
	return capture.ParseClarification([]byte(*c.ClarifyJSON))
}
