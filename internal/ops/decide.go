package ops

import (
	"database/sql"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/db"
	"github.com/mkoskin/inflow/internal/errors"
)

// Decision is the human verdict on a proposed capture.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// DecideInput contains parameters for the Decide operation.
type DecideInput struct {
	CaptureID string   // required
	Decision  Decision // required: approve or reject
	Notes     *string  // optional
}

// DecideOutput contains the result of the Decide operation.
type DecideOutput struct {
	Capture *capture.Capture `json:"capture"`
}

// Decide records the human decision on a proposed capture. The
// transition is one-way: a decided capture can never be re-decided, and
// a failed attempt leaves it unchanged. Approval requires a completed
// clarification, since that is what the human is approving; rejection
// is allowed at any stage.
func Decide(database *sql.DB, input DecideInput) (*DecideOutput, error) {
	if input.CaptureID == "" {
		return nil, errors.NewInvalidRequest("capture_id is required")
	}
	if input.Decision != DecisionApprove && input.Decision != DecisionReject {
		return nil, errors.NewInvalidRequest("decision must be one of: approve, reject")
	}
	input.Notes = cleanOptionalString(input.Notes)

	var decided *capture.Capture
	err := db.WithTx(database, func(tx *sql.Tx) error {
		c, err := db.GetCapture(tx, input.CaptureID)
		if err != nil {
			return err
		}
		if c.DecisionStatus != capture.DecisionProposed {
			return errors.NewConflict("capture is already " + string(c.DecisionStatus))
		}
		if input.Decision == DecisionApprove && c.ClarifyStatus != capture.ClarifyCompleted {
			return errors.NewConflict("capture is not clarified yet (" + string(c.ClarifyStatus) + "), attach a clarification or wait for the worker")
		}

		now := time.Now().Unix()
		if input.Decision == DecisionApprove {
			c.DecisionStatus = capture.DecisionApproved
		} else {
			c.DecisionStatus = capture.DecisionRejected
		}
		c.DecisionAt = &now
		c.DecisionNotes = input.Notes

		if err := db.UpdateCapture(tx, c); err != nil {
			return err
		}
		decided = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &DecideOutput{Capture: decided}, nil
}
