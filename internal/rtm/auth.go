package rtm

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/db"
	"github.com/mkoskin/inflow/internal/errors"
)

// Provider is the key under which credentials are stored.
const Provider = "rtm"

// revalidateAfter is how long a validity check stays fresh.
const revalidateAfter = 24 * time.Hour

// AuthManager owns the provider auth token: stored in the database,
// revalidated against the provider at most once per revalidation window.
type AuthManager struct {
	db     *sql.DB
	client *Client
	log    *slog.Logger
	now    func() time.Time
}

// NewAuthManager creates an auth manager.
func NewAuthManager(database *sql.DB, client *Client, log *slog.Logger) *AuthManager {
	return &AuthManager{db: database, client: client, log: log, now: time.Now}
}

// Token returns a valid auth token, revalidating a stale one first.
// Returns an auth-required error when no usable token exists.
func (m *AuthManager) Token(ctx context.Context) (string, error) {
	auth, err := db.GetProviderAuth(m.db, Provider)
	if err != nil {
		return "", err
	}
	if auth == nil || auth.Token == "" {
		return "", errors.NewAuthRequired(Provider)
	}

	now := m.now()
	stale := now.Sub(time.Unix(auth.LastCheckedAt, 0)) > revalidateAfter
	if auth.Valid && !stale {
		return auth.Token, nil
	}
	if !auth.Valid && !stale {
		return "", errors.NewAuthRequired(Provider)
	}

	refreshed, err := m.client.CheckToken(ctx, auth.Token)
	if err != nil {
		if IsAuthError(err) {
			if merr := db.MarkProviderAuthChecked(m.db, Provider, false, now.Unix()); merr != nil {
				m.log.Error("marking auth invalid failed", "error", merr)
			}
			return "", errors.NewAuthRequired(Provider)
		}
		// Transient failure: keep using the stored token rather than
		// blocking the pipeline on a flaky check.
		m.log.Warn("token revalidation failed, continuing with stored token", "error", err)
		return auth.Token, nil
	}

	refreshed.LastCheckedAt = now.Unix()
	if err := db.PutProviderAuth(m.db, Provider, refreshed); err != nil {
		return "", err
	}
	m.log.Info("provider auth revalidated", "username", refreshed.Username)
	return refreshed.Token, nil
}

// Store persists a freshly obtained token.
func (m *AuthManager) Store(auth *capture.ProviderAuth) error {
	auth.Valid = true
	auth.LastCheckedAt = m.now().Unix()
	return db.PutProviderAuth(m.db, Provider, auth)
}

// BootstrapFromEnv seeds the database from an environment token once.
// A token already in the database always wins.
func (m *AuthManager) BootstrapFromEnv(token string) error {
	if token == "" {
		return nil
	}
	existing, err := db.GetProviderAuth(m.db, Provider)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	m.log.Info("bootstrapping provider auth from environment")
	return db.PutProviderAuth(m.db, Provider, &capture.ProviderAuth{
		Token: token,
		// Validated on first use
		Valid:         false,
		LastCheckedAt: 0,
	})
}
