package db

import (
	"database/sql"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/errors"
)

const backlogColumns = `id, created_at, raw_text, status, clarify_attempts, processed_at, capture_id`

// InsertBacklogItem stores one imported backlog line.
func InsertBacklogItem(q Querier, b *capture.BacklogItem) error {
	_, err := q.Exec(`
		INSERT INTO backlog_items (`+backlogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.CreatedAt, b.RawText, b.Status, b.ClarifyAttempts,
		toNullInt64(b.ProcessedAt), toNullString(b.CaptureID))
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListPendingBacklog returns pending backlog items, oldest first.
func ListPendingBacklog(q Querier, limit int) ([]*capture.BacklogItem, error) {
	rows, err := q.Query(`
		SELECT `+backlogColumns+` FROM backlog_items
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, capture.BacklogPending, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*capture.BacklogItem
	for rows.Next() {
		b, err := scanBacklogItem(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// UpdateBacklogItem writes the mutable state of a backlog item.
func UpdateBacklogItem(q Querier, b *capture.BacklogItem) error {
	result, err := q.Exec(`
		UPDATE backlog_items
		SET status = ?, clarify_attempts = ?, processed_at = ?, capture_id = ?
		WHERE id = ?
	`, b.Status, b.ClarifyAttempts, toNullInt64(b.ProcessedAt),
		toNullString(b.CaptureID), b.ID)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(b.ID)
	}
	return nil
}

// CountBacklogByStatus returns backlog item counts keyed by status.
func CountBacklogByStatus(q Querier) (map[string]int, error) {
	rows, err := q.Query(`SELECT status, COUNT(*) FROM backlog_items GROUP BY status`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return counts, nil
}

func scanBacklogItem(row rowScanner) (*capture.BacklogItem, error) {
	var (
		b           capture.BacklogItem
		processedAt sql.NullInt64
		captureID   sql.NullString
	)
	err := row.Scan(&b.ID, &b.CreatedAt, &b.RawText, &b.Status,
		&b.ClarifyAttempts, &processedAt, &captureID)
	if err != nil {
		return nil, err
	}
	b.ProcessedAt = fromNullInt64(processedAt)
	b.CaptureID = fromNullString(captureID)
	return &b, nil
}
