package db

import (
	"database/sql"
	"strings"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.InflowError{
	Code:    "CONFLICT",
	Status:  409,
	Message: "unique constraint violation",
}

const captureColumns = `
	id, created_at, raw_text, source, source_id, source_link,
	clarify_status, clarify_attempts, last_clarify_at, clarify_json,
	decision_status, decision_at, decision_notes,
	commit_status, commit_attempts, last_commit_at, commit_error,
	task_id, task_series_id, list_id
`

// InsertCapture stores a new capture.
func InsertCapture(q Querier, c *capture.Capture) error {
	query := `
		INSERT INTO captures (` + captureColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.Exec(query,
		c.ID, c.CreatedAt, c.RawText, c.Source,
		toNullString(c.SourceID), toNullString(c.SourceLink),
		c.ClarifyStatus, c.ClarifyAttempts,
		toNullInt64(c.LastClarifyAt), toNullString(c.ClarifyJSON),
		toNullString(statusPtr(c.DecisionStatus)),
		toNullInt64(c.DecisionAt), toNullString(c.DecisionNotes),
		toNullString(statusPtr(c.CommitStatus)),
		c.CommitAttempts, toNullInt64(c.LastCommitAt),
		toNullString(c.CommitError),
		toNullString(c.TaskID), toNullString(c.TaskSeriesID), toNullString(c.ListID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	return nil
}

// GetCapture retrieves a capture by its ULID.
func GetCapture(q Querier, id string) (*capture.Capture, error) {
	row := q.QueryRow(`SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// SourceIDExists reports whether a capture with the given source and
// source id is already stored. Used by ingestion to deduplicate.
func SourceIDExists(q Querier, source, sourceID string) (bool, error) {
	var exists int
	err := q.QueryRow(`
		SELECT 1 FROM captures WHERE source = ? AND source_id = ? LIMIT 1
	`, source, sourceID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// UpdateCapture writes all mutable state columns of an existing capture.
// Does NOT change: id, created_at, raw_text, source, source_id, source_link.
func UpdateCapture(q Querier, c *capture.Capture) error {
	query := `
		UPDATE captures
		SET clarify_status = ?, clarify_attempts = ?, last_clarify_at = ?,
			clarify_json = ?, decision_status = ?, decision_at = ?,
			decision_notes = ?, commit_status = ?, commit_attempts = ?,
			last_commit_at = ?, commit_error = ?,
			task_id = ?, task_series_id = ?, list_id = ?
		WHERE id = ?
	`

	result, err := q.Exec(query,
		c.ClarifyStatus, c.ClarifyAttempts, toNullInt64(c.LastClarifyAt),
		toNullString(c.ClarifyJSON),
		toNullString(statusPtr(c.DecisionStatus)),
		toNullInt64(c.DecisionAt), toNullString(c.DecisionNotes),
		toNullString(statusPtr(c.CommitStatus)),
		c.CommitAttempts, toNullInt64(c.LastCommitAt),
		toNullString(c.CommitError),
		toNullString(c.TaskID), toNullString(c.TaskSeriesID), toNullString(c.ListID),
		c.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(c.ID)
	}

	return nil
}

// ListClarifyQueue returns undecided captures whose clarification is
// pending or retryable, oldest first. The worker applies backoff gating
// itself.
func ListClarifyQueue(q Querier, limit int) ([]*capture.Capture, error) {
	return listCaptures(q, `
		SELECT `+captureColumns+` FROM captures
		WHERE decision_status = ? AND clarify_status IN (?, ?)
		ORDER BY created_at ASC
		LIMIT ?
	`, capture.DecisionProposed, capture.ClarifyPending, capture.ClarifyFailed, limit)
}

// ListCommitQueue returns approved captures whose external commit is
// still pending or retryable, oldest first. Unknown-state captures are
// excluded: they require manual resolution.
func ListCommitQueue(q Querier, limit int) ([]*capture.Capture, error) {
	return listCaptures(q, `
		SELECT `+captureColumns+` FROM captures
		WHERE decision_status = ? AND commit_status IN (?, ?)
		ORDER BY created_at ASC
		LIMIT ?
	`, capture.DecisionApproved, capture.CommitPending, capture.CommitFailed, limit)
}

// ListProposed returns captures clarified and waiting on a human decision.
func ListProposed(q Querier, limit int) ([]*capture.Capture, error) {
	return listCaptures(q, `
		SELECT `+captureColumns+` FROM captures
		WHERE decision_status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, capture.DecisionProposed, limit)
}

// HasProposed reports whether any capture is awaiting a decision.
func HasProposed(q Querier) (bool, error) {
	var exists int
	err := q.QueryRow(`
		SELECT 1 FROM captures WHERE decision_status = ? LIMIT 1
	`, capture.DecisionProposed).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// CountCapturesByStatus returns counts keyed by clarify status, plus
// decision and commit status counts under "decision_<s>" and "commit_<s>".
func CountCapturesByStatus(q Querier) (map[string]int, error) {
	counts := make(map[string]int)

	type grouping struct {
		query  string
		prefix string
	}
	groups := []grouping{
		{`SELECT clarify_status, COUNT(*) FROM captures GROUP BY clarify_status`, "clarify_"},
		{`SELECT decision_status, COUNT(*) FROM captures WHERE decision_status IS NOT NULL GROUP BY decision_status`, "decision_"},
		{`SELECT commit_status, COUNT(*) FROM captures WHERE commit_status IS NOT NULL GROUP BY commit_status`, "commit_"},
	}

	for _, g := range groups {
		rows, err := q.Query(g.query)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				rows.Close()
				return nil, errors.NewInternal(err)
			}
			counts[g.prefix+status] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, errors.NewInternal(err)
		}
		rows.Close()
	}

	return counts, nil
}

func listCaptures(q Querier, query string, args ...any) ([]*capture.Capture, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*capture.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanCapture scans a single row into a Capture struct.
func scanCapture(row rowScanner) (*capture.Capture, error) {
	var (
		c              capture.Capture
		sourceID       sql.NullString
		sourceLink     sql.NullString
		lastClarifyAt  sql.NullInt64
		clarifyJSON    sql.NullString
		decisionStatus sql.NullString
		decisionAt     sql.NullInt64
		decisionNotes  sql.NullString
		commitStatus   sql.NullString
		lastCommitAt   sql.NullInt64
		commitError    sql.NullString
		taskID         sql.NullString
		taskSeriesID   sql.NullString
		listID         sql.NullString
	)

	err := row.Scan(
		&c.ID, &c.CreatedAt, &c.RawText, &c.Source, &sourceID, &sourceLink,
		&c.ClarifyStatus, &c.ClarifyAttempts, &lastClarifyAt, &clarifyJSON,
		&decisionStatus, &decisionAt, &decisionNotes,
		&commitStatus, &c.CommitAttempts, &lastCommitAt, &commitError,
		&taskID, &taskSeriesID, &listID,
	)
	if err != nil {
		return nil, err
	}

	c.SourceID = fromNullString(sourceID)
	c.SourceLink = fromNullString(sourceLink)
	c.LastClarifyAt = fromNullInt64(lastClarifyAt)
	c.ClarifyJSON = fromNullString(clarifyJSON)
	if decisionStatus.Valid {
		c.DecisionStatus = capture.DecisionStatus(decisionStatus.String)
	}
	c.DecisionAt = fromNullInt64(decisionAt)
	c.DecisionNotes = fromNullString(decisionNotes)
	if commitStatus.Valid {
		c.CommitStatus = capture.CommitStatus(commitStatus.String)
	}
	c.LastCommitAt = fromNullInt64(lastCommitAt)
	c.CommitError = fromNullString(commitError)
	c.TaskID = fromNullString(taskID)
	c.TaskSeriesID = fromNullString(taskSeriesID)
	c.ListID = fromNullString(listID)

	return &c, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// statusPtr converts a string-typed status to *string, nil for empty.
func statusPtr[T ~string](s T) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// toNullInt64 converts a *int64 to sql.NullInt64.
func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// fromNullInt64 converts a sql.NullInt64 to *int64.
func fromNullInt64(nv sql.NullInt64) *int64 {
	if !nv.Valid {
		return nil
	}
	return &nv.Int64
}
