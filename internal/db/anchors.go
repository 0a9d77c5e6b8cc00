package db

import (
	"database/sql"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/errors"
)

const anchorColumns = `id, created_at, kind, status, valid_until, external_state`

// InsertAnchor stores a new anchor row.
func InsertAnchor(q Querier, a *capture.Anchor) error {
	_, err := q.Exec(`
		INSERT INTO anchors (`+anchorColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.CreatedAt, a.Kind, a.Status, a.ValidUntil, toNullString(a.ExternalState))
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetActiveAnchor returns the active anchor of the given kind valid on
// the given day (YYYY-MM-DD), or nil when none exists.
func GetActiveAnchor(q Querier, kind, day string) (*capture.Anchor, error) {
	row := q.QueryRow(`
		SELECT `+anchorColumns+` FROM anchors
		WHERE kind = ? AND status = ? AND valid_until >= ?
		ORDER BY created_at DESC
		LIMIT 1
	`, kind, capture.AnchorActive, day)

	a, err := scanAnchor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return a, nil
}

// ExpireAnchors marks all active anchors of the given kind whose
// valid_until precedes the given day as expired. Returns rows changed.
func ExpireAnchors(q Querier, kind, day string) (int64, error) {
	result, err := q.Exec(`
		UPDATE anchors SET status = ?
		WHERE kind = ? AND status = ? AND valid_until < ?
	`, capture.AnchorExpired, kind, capture.AnchorActive, day)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// UpdateAnchorExternalState records the outcome of the external create.
func UpdateAnchorExternalState(q Querier, id, state string) error {
	result, err := q.Exec(`
		UPDATE anchors SET external_state = ? WHERE id = ?
	`, state, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

func scanAnchor(row rowScanner) (*capture.Anchor, error) {
	var (
		a             capture.Anchor
		externalState sql.NullString
	)
	err := row.Scan(&a.ID, &a.CreatedAt, &a.Kind, &a.Status, &a.ValidUntil, &externalState)
	if err != nil {
		return nil, err
	}
	a.ExternalState = fromNullString(externalState)
	return &a, nil
}
