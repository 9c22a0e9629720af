package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/linksync/internal/models"
)

// Account repository errors.
var (
	ErrAccountNotFound      = fmt.Errorf("account %w", models.ErrNotFound)
	ErrAccountAlreadyExists = fmt.Errorf("account %w", models.ErrAlreadyExists)
)

// AccountRepository handles account persistence.
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create adds a new account.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}
	account.Identity = models.NormalizeIdentity(account.Identity)
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (identity, password_hash, created_at)
		VALUES (?, ?, ?)
	`,
		account.Identity,
		account.PasswordHash,
		account.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAccountAlreadyExists
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// Get retrieves an account by identity.
func (r *AccountRepository) Get(ctx context.Context, identity string) (*models.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT identity, password_hash, created_at
		FROM accounts WHERE identity = ?
	`, models.NormalizeIdentity(identity))

	var (
		account   models.Account
		createdAt int64
	)
	if err := row.Scan(&account.Identity, &account.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	account.CreatedAt = time.Unix(0, createdAt).UTC()
	return &account, nil
}

// Count returns the number of registered accounts.
func (r *AccountRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}
