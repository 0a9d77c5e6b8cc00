package ops

import (
	"database/sql"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/db"
	"github.com/mkoskin/inflow/internal/errors"
)

// AttachClarificationInput contains parameters for the manual
// clarification override.
type AttachClarificationInput struct {
	CaptureID   string // required
	ClarifyJSON string // required, must parse as a valid clarification
}

// AttachClarificationOutput contains the result of the override.
type AttachClarificationOutput struct {
	Capture       *capture.Capture       `json:"capture"`
	Clarification *capture.Clarification `json:"clarification"`
}

// AttachClarification stores a hand-written clarification on a capture,
// bypassing the automatic worker. The payload is validated the same way
// worker results are. Committed captures cannot be re-clarified; a
// capture whose commit permanently failed on bad clarification data is
// returned to the commit queue.
func AttachClarification(database *sql.DB, input AttachClarificationInput) (*AttachClarificationOutput, error) {
	if input.CaptureID == "" {
		return nil, errors.NewInvalidRequest("capture_id is required")
	}
	if input.ClarifyJSON == "" {
		return nil, errors.NewInvalidRequest("clarify_json is required")
	}

	clar, err := capture.ParseClarification([]byte(input.ClarifyJSON))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid clarification: " + err.Error())
	}

	var updated *capture.Capture
	err = db.WithTx(database, func(tx *sql.Tx) error {
		c, err := db.GetCapture(tx, input.CaptureID)
		if err != nil {
			return err
		}
		if c.CommitStatus == capture.CommitCommitted {
			return errors.NewConflict("capture is already committed")
		}

		now := time.Now().Unix()
		c.ClarifyStatus = capture.ClarifyCompleted
		c.ClarifyJSON = &input.ClarifyJSON
		c.LastClarifyAt = &now

		// A corrected clarification supersedes whatever data defect
		// killed the commit, so the capture re-enters the queue with a
		// fresh attempt budget.
		if c.CommitStatus == capture.CommitPermanentlyFailed {
			c.CommitStatus = capture.CommitPending
			c.CommitError = nil
			c.CommitAttempts = 0
		}

		if err := db.UpdateCapture(tx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &AttachClarificationOutput{Capture: updated, Clarification: clar}, nil
}
