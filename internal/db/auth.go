package db

import (
	"database/sql"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/errors"
)

// GetProviderAuth returns the stored credentials for a provider, or nil
// when the provider has never been authenticated.
func GetProviderAuth(q Querier, provider string) (*capture.ProviderAuth, error) {
	var (
		a     capture.ProviderAuth
		perms sql.NullString
		user  sql.NullString
		uid   sql.NullString
		valid int
	)
	err := q.QueryRow(`
		SELECT token, perms, username, user_id, valid, last_checked_at
		FROM provider_auth WHERE provider = ?
	`, provider).Scan(&a.Token, &perms, &user, &uid, &valid, &a.LastCheckedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	if perms.Valid {
		a.Perms = perms.String
	}
	if user.Valid {
		a.Username = user.String
	}
	if uid.Valid {
		a.UserID = uid.String
	}
	a.Valid = valid != 0

	return &a, nil
}

// PutProviderAuth stores or replaces the credentials for a provider.
func PutProviderAuth(q Querier, provider string, a *capture.ProviderAuth) error {
	_, err := q.Exec(`
		INSERT INTO provider_auth (provider, token, perms, username, user_id, valid, last_checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			token = excluded.token,
			perms = excluded.perms,
			username = excluded.username,
			user_id = excluded.user_id,
			valid = excluded.valid,
			last_checked_at = excluded.last_checked_at
	`, provider, a.Token, a.Perms, a.Username, a.UserID, boolToInt(a.Valid), a.LastCheckedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// MarkProviderAuthChecked refreshes the validity flag and check time.
func MarkProviderAuthChecked(q Querier, provider string, valid bool, now int64) error {
	result, err := q.Exec(`
		UPDATE provider_auth SET valid = ?, last_checked_at = ? WHERE provider = ?
	`, boolToInt(valid), now, provider)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(provider)
	}
	return nil
}
