package ops

import (
	"database/sql"
	"strings"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/db"
	"github.com/mkoskin/inflow/internal/errors"
)

// SubmitInput contains parameters for the Submit operation.
type SubmitInput struct {
	RawText    string  // required
	Source     string  // default: "api"
	SourceID   *string // optional, deduplicates repeated submissions
	SourceLink *string // optional
}

// SubmitOutput contains the result of the Submit operation.
type SubmitOutput struct {
	Capture *capture.Capture `json:"capture"`
}

// Submit records a new raw capture. Every capture starts awaiting a
// decision with clarification and commit both pending.
func Submit(database *sql.DB, input SubmitInput) (*SubmitOutput, error) {
	if strings.TrimSpace(input.RawText) == "" {
		return nil, errors.NewInvalidRequest("raw_text is required")
	}
	if strings.TrimSpace(input.Source) == "" {
		input.Source = "api"
	}
	input.SourceID = cleanOptionalString(input.SourceID)
	input.SourceLink = cleanOptionalString(input.SourceLink)

	if input.SourceID != nil {
		exists, err := db.SourceIDExists(database, input.Source, *input.SourceID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errors.NewConflict("capture already exists for source id " + *input.SourceID)
		}
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	c := &capture.Capture{
		ID:             id,
		CreatedAt:      time.Now().Unix(),
		RawText:        input.RawText,
		Source:         input.Source,
		SourceID:       input.SourceID,
		SourceLink:     input.SourceLink,
		ClarifyStatus:  capture.ClarifyPending,
		DecisionStatus: capture.DecisionProposed,
		CommitStatus:   capture.CommitPending,
	}

	if err := db.InsertCapture(database, c); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			return nil, errors.NewConflict("capture already exists for source id")
		}
		return nil, err
	}

	return &SubmitOutput{Capture: c}, nil
}
