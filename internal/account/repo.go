package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"odportal/internal/store"
)

// Account is a sign-in identity. It carries no role; see identity.Resolve.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GoogleSub    string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// RefreshToken is the stored state of an issued refresh token.
type RefreshToken struct {
	Token     string
	AccountID string
	SessionID string
	ExpiresAt time.Time
	Revoked   bool
}

// Repository persists accounts and refresh tokens.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new account using q so sign-up can share a transaction with the profile rows.
func (r *Repository) Insert(ctx context.Context, q store.Querier, a Account) error {
	var sub any
	if a.GoogleSub != "" {
		sub = a.GoogleSub
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, google_sub, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.Email, a.PasswordHash, sub, a.CreatedAt)
	return err
}

// ByID returns the account or nil when absent.
func (r *Repository) ByID(ctx context.Context, id string) (*Account, error) {
	return r.one(ctx, `SELECT id, email, password_hash, google_sub, created_at FROM accounts WHERE id = $1`, id)
}

// ByEmail returns the account or nil when absent. email must already be lower-cased.
func (r *Repository) ByEmail(ctx context.Context, email string) (*Account, error) {
	return r.one(ctx, `SELECT id, email, password_hash, google_sub, created_at FROM accounts WHERE email = $1`, email)
}

// ByGoogleSub returns the account linked to a Google subject or nil.
func (r *Repository) ByGoogleSub(ctx context.Context, sub string) (*Account, error) {
	return r.one(ctx, `SELECT id, email, password_hash, google_sub, created_at FROM accounts WHERE google_sub = $1`, sub)
}

func (r *Repository) one(ctx context.Context, query string, arg string) (*Account, error) {
	var a Account
	var sub sql.NullString
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.Email, &a.PasswordHash, &sub, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.GoogleSub = sub.String
	return &a, nil
}

// LinkGoogle attaches a Google subject to an existing account.
func (r *Repository) LinkGoogle(ctx context.Context, id, sub string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET google_sub = $1 WHERE id = $2`, sub, id)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, t RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, account_id, session_id, expires_at, revoked)
		VALUES ($1, $2, $3, $4, FALSE)
	`, t.Token, t.AccountID, t.SessionID, t.ExpiresAt)
	return err
}

// GetRefreshToken returns the stored token or nil when unknown.
func (r *Repository) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var t RefreshToken
	err := r.db.QueryRowContext(ctx, `
		SELECT token, account_id, session_id, expires_at, revoked
		FROM refresh_tokens WHERE token = $1
	`, token).Scan(&t.Token, &t.AccountID, &t.SessionID, &t.ExpiresAt, &t.Revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// RevokeRefreshToken marks a live token revoked and reports whether this call revoked it.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1 AND revoked = FALSE`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RevokeSession revokes every refresh token issued to a session.
func (r *Repository) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE session_id = $1`, sessionID)
	return err
}
