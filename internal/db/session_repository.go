package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/linksync/internal/models"
)

// ErrSessionNotFound is returned when no session matches a token.
var ErrSessionNotFound = fmt.Errorf("session %w", models.ErrNotFound)

// SessionRepository handles issued-session persistence.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type sessionExecer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// Create stores a newly issued session.
func (r *SessionRepository) Create(ctx context.Context, record *models.SessionRecord) error {
	return r.createWithExecutor(ctx, r.db, record)
}

func (r *SessionRepository) createWithExecutor(ctx context.Context, execer sessionExecer, record *models.SessionRecord) error {
	if record.AccessToken == "" || record.RefreshToken == "" {
		return models.ErrMissingTokens
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := execer.ExecContext(ctx, `
		INSERT INTO sessions (
			access_token, refresh_token, identity,
			access_expires_at, refresh_expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		record.AccessToken,
		record.RefreshToken,
		models.NormalizeIdentity(record.Identity),
		record.AccessExpiresAt.UnixNano(),
		record.RefreshExpiresAt.UnixNano(),
		record.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetByAccess looks a session up by access token.
func (r *SessionRepository) GetByAccess(ctx context.Context, accessToken string) (*models.SessionRecord, error) {
	return r.get(ctx, "access_token", accessToken)
}

// GetByRefresh looks a session up by refresh token.
func (r *SessionRepository) GetByRefresh(ctx context.Context, refreshToken string) (*models.SessionRecord, error) {
	return r.get(ctx, "refresh_token", refreshToken)
}

func (r *SessionRepository) get(ctx context.Context, column, token string) (*models.SessionRecord, error) {
	// column is one of two fixed names, never user input.
	row := r.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, identity,
			access_expires_at, refresh_expires_at, created_at
		FROM sessions WHERE `+column+` = ?
	`, token)

	var (
		record                          models.SessionRecord
		accessExp, refreshExp, createdAt int64
	)
	err := row.Scan(
		&record.AccessToken,
		&record.RefreshToken,
		&record.Identity,
		&accessExp,
		&refreshExp,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	record.AccessExpiresAt = time.Unix(0, accessExp).UTC()
	record.RefreshExpiresAt = time.Unix(0, refreshExp).UTC()
	record.CreatedAt = time.Unix(0, createdAt).UTC()
	return &record, nil
}

// Delete removes the session owning accessToken.
func (r *SessionRepository) Delete(ctx context.Context, accessToken string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE access_token = ?`, accessToken)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Rotate atomically replaces the session identified by oldAccessToken with next.
// It fails with ErrSessionNotFound if another caller rotated it first. Lock
// contention with a concurrent rotation is retried under RotationRetry.
func (r *SessionRepository) Rotate(ctx context.Context, oldAccessToken string, next *models.SessionRecord) error {
	return r.db.TransactionWithRetry(ctx, RotationRetry, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE access_token = ?`, oldAccessToken)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrSessionNotFound
		}
		return r.createWithExecutor(ctx, tx, next)
	})
}

// DeleteExpired removes sessions whose refresh token has expired.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE refresh_expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
