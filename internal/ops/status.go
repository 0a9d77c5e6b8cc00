package ops

import (
	"database/sql"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/db"
)

// StatusOutput is the pipeline read model: counts along every status
// dimension plus the captures currently waiting on a human.
type StatusOutput struct {
	CaptureCounts map[string]int     `json:"capture_counts"`
	BacklogCounts map[string]int     `json:"backlog_counts"`
	Proposed      []*capture.Capture `json:"proposed"`
}

// Status derives the pipeline status from stored state. Terminal states
// stay visible here until a human acts on them.
func Status(database *sql.DB, limit int) (*StatusOutput, error) {
	limit = clampLimit(limit)

	captureCounts, err := db.CountCapturesByStatus(database)
	if err != nil {
		return nil, err
	}

	backlogCounts, err := db.CountBacklogByStatus(database)
	if err != nil {
		return nil, err
	}

	proposed, err := db.ListProposed(database, limit)
	if err != nil {
		return nil, err
	}

	return &StatusOutput{
		CaptureCounts: captureCounts,
		BacklogCounts: backlogCounts,
		Proposed:      proposed,
	}, nil
}

// GetCapture returns a single capture by id.
func GetCapture(database *sql.DB, id string) (*capture.Capture, error) {
	return db.GetCapture(database, id)
}
