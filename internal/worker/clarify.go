package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/config"
	"github.com/mkoskin/inflow/internal/db"
)

// Clarifier produces a structured clarification for raw capture text.
// The second return value is the provider's verbatim JSON, persisted as
// the audit record.
type Clarifier interface {
	Clarify(ctx context.Context, rawText string) (*capture.Clarification, string, error)
	Configured() bool
}

const clarifyBatchLimit = 50

// ClarifyWorker drives pending captures through the clarification call.
// Attempt count and in-progress status are persisted before the
// outbound call so a crash mid-call still consumes the attempt.
type ClarifyWorker struct {
	db        *sql.DB
	clarifier Clarifier
	cfg       *config.Config
	log       *slog.Logger
	now       func() time.Time
}

// NewClarifyWorker creates a clarification worker.
func NewClarifyWorker(database *sql.DB, clarifier Clarifier, cfg *config.Config, log *slog.Logger) *ClarifyWorker {
	return &ClarifyWorker{
		db:        database,
		clarifier: clarifier,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// RunOnce processes one poll cycle. Per-capture failures are recorded on
// the capture and never abort the cycle.
func (w *ClarifyWorker) RunOnce(ctx context.Context) error {
	if !w.clarifier.Configured() {
		w.log.Debug("clarifier not configured, skipping cycle")
		return nil
	}

	queue, err := db.ListClarifyQueue(w.db, clarifyBatchLimit)
	if err != nil {
		return err
	}
	w.log.Info("clarification poll", "queued", len(queue))

	now := w.now()
	for _, c := range queue {
		if !w.shouldAttempt(c, now) {
			continue
		}
		if err := w.clarifyOne(ctx, c); err != nil {
			w.log.Error("clarify cycle error", "capture_id", c.ID, "error", err)
		}
	}
	return nil
}

// shouldAttempt applies the backoff schedule: the first attempt is
// immediate, later attempts wait out the delay keyed by their number.
func (w *ClarifyWorker) shouldAttempt(c *capture.Capture, now time.Time) bool {
	if c.ClarifyStatus == capture.ClarifyPending {
		return true
	}
	if c.ClarifyStatus != capture.ClarifyFailed {
		return false
	}
	if c.ClarifyAttempts >= w.cfg.MaxClarifyAttempts {
		return false
	}
	if c.LastClarifyAt == nil {
		return true
	}

	delay := w.cfg.ClarifyRetryDelay(c.ClarifyAttempts + 1)
	return now.Sub(time.Unix(*c.LastClarifyAt, 0)) >= delay
}

func (w *ClarifyWorker) clarifyOne(ctx context.Context, c *capture.Capture) error {
	// Durable state boundary before the outbound call
	c.ClarifyStatus = capture.ClarifyInProgress
	c.ClarifyAttempts++
	if err := w.update(c); err != nil {
		return err
	}

	w.log.Info("clarifying capture",
		"capture_id", c.ID,
		"attempt", c.ClarifyAttempts,
		"max_attempts", w.cfg.MaxClarifyAttempts)

	_, raw, callErr := w.clarifier.Clarify(ctx, c.RawText)

	now := w.now().Unix()
	c.LastClarifyAt = &now

	if callErr != nil {
		if c.ClarifyAttempts >= w.cfg.MaxClarifyAttempts {
			c.ClarifyStatus = capture.ClarifyPermanentlyFailed
			c.ClarifyJSON = errorInfoJSON(
				"clarification_permanently_failed",
				fmt.Sprintf("failed to clarify after %d attempts, requires manual review", c.ClarifyAttempts),
				true, c.ClarifyAttempts)
			w.log.Error("clarification permanently failed",
				"capture_id", c.ID, "attempts", c.ClarifyAttempts, "error", callErr)
		} else {
			c.ClarifyStatus = capture.ClarifyFailed
			c.ClarifyJSON = errorInfoJSON(
				"clarification_failed",
				fmt.Sprintf("failed to clarify, will retry (attempt %d/%d)", c.ClarifyAttempts, w.cfg.MaxClarifyAttempts),
				false, c.ClarifyAttempts)
			w.log.Warn("clarification failed, will retry",
				"capture_id", c.ID, "attempt", c.ClarifyAttempts, "error", callErr)
		}
		return w.update(c)
	}

	c.ClarifyStatus = capture.ClarifyCompleted
	c.ClarifyJSON = &raw
	w.log.Info("clarified capture", "capture_id", c.ID, "attempt", c.ClarifyAttempts)
	return w.update(c)
}

func (w *ClarifyWorker) update(c *capture.Capture) error {
	return db.WithTx(w.db, func(tx *sql.Tx) error {
		return db.UpdateCapture(tx, c)
	})
}

// errorInfoJSON records a failed attempt in the clarification slot so
// read models can show what went wrong.
func errorInfoJSON(status, message string, needsAttention bool, attempts int) *string {
	data, err := json.Marshal(map[string]any{
		"type":                    "error",
		"status":                  status,
		"message":                 message,
		"requires_user_attention": needsAttention,
		"attempts":                attempts,
	})
	if err != nil {
		fallback := `{"type":"error"}`
		return &fallback
	}
	s := string(data)
	return &s
}
