package backlog

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/config"
	"github.com/mkoskin/inflow/internal/db"
)

// Clarifier produces a structured clarification for raw text. The
// second return value is the provider's verbatim JSON.
type Clarifier interface {
	Clarify(ctx context.Context, rawText string) (*capture.Clarification, string, error)
	Configured() bool
}

// SourceName marks captures born from the backlog drain.
const SourceName = "backlog"

// DrainResult reports one nightly drain run.
type DrainResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Drainer digests the imported backlog at a controlled daily rate:
// each run clarifies a handful of pending items and feeds the
// successes into the standard approval pipeline as proposed captures.
type Drainer struct {
	db        *sql.DB
	clarifier Clarifier
	cfg       *config.Config
	log       *slog.Logger
	now       func() time.Time
}

// NewDrainer creates a backlog drainer.
func NewDrainer(database *sql.DB, clarifier Clarifier, cfg *config.Config, log *slog.Logger) *Drainer {
	return &Drainer{
		db:        database,
		clarifier: clarifier,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// RunOnce drains up to the daily limit of pending items, oldest first.
func (d *Drainer) RunOnce(ctx context.Context) (*DrainResult, error) {
	if !d.clarifier.Configured() {
		d.log.Debug("clarifier not configured, skipping backlog drain")
		return &DrainResult{}, nil
	}

	items, err := db.ListPendingBacklog(d.db, d.cfg.BacklogDailyLimit)
	if err != nil {
		return nil, err
	}
	d.log.Info("backlog drain starting", "items", len(items))

	result := &DrainResult{}
	for _, item := range items {
		if err := d.processItem(ctx, item); err != nil {
			d.log.Error("backlog item failed", "backlog_id", item.ID, "error", err)
			result.Failed++
			continue
		}
		result.Processed++
	}

	d.log.Info("backlog drain complete",
		"processed", result.Processed, "failed", result.Failed)
	return result, nil
}

func (d *Drainer) processItem(ctx context.Context, item *capture.BacklogItem) error {
	item.Status = capture.BacklogProcessing
	if err := d.updateItem(item); err != nil {
		return err
	}

	_, raw, err := d.clarifier.Clarify(ctx, item.RawText)
	if err != nil {
		item.ClarifyAttempts++
		if item.ClarifyAttempts >= d.cfg.BacklogMaxClarifyAttempts {
			item.Status = capture.BacklogFailed
			d.log.Warn("backlog item exhausted clarify attempts",
				"backlog_id", item.ID, "attempts", item.ClarifyAttempts)
		} else {
			// Back to the queue for a future drain
			item.Status = capture.BacklogPending
		}
		if uerr := d.updateItem(item); uerr != nil {
			return uerr
		}
		return err
	}

	now := d.now().Unix()
	sourceID := SourceName + "-" + item.ID
	c := &capture.Capture{
		ID:              newULID(),
		CreatedAt:       now,
		RawText:         item.RawText,
		Source:          SourceName,
		SourceID:        &sourceID,
		ClarifyStatus:   capture.ClarifyCompleted,
		ClarifyAttempts: 1,
		LastClarifyAt:   &now,
		ClarifyJSON:     &raw,
		DecisionStatus:  capture.DecisionProposed,
		CommitStatus:    capture.CommitPending,
	}

	err = db.WithTx(d.db, func(tx *sql.Tx) error {
		if err := db.InsertCapture(tx, c); err != nil {
			return err
		}
		item.Status = capture.BacklogProcessed
		item.ProcessedAt = &now
		item.CaptureID = &c.ID
		return db.UpdateBacklogItem(tx, item)
	})
	if err != nil {
		return err
	}

	d.log.Info("backlog item processed", "backlog_id", item.ID, "capture_id", c.ID)
	return nil
}

func (d *Drainer) updateItem(item *capture.BacklogItem) error {
	return db.WithTx(d.db, func(tx *sql.Tx) error {
		return db.UpdateBacklogItem(tx, item)
	})
}
