package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// RetryPolicy bounds how a write transaction is retried on lock contention.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	// MaxBackoff caps the doubled wait. Zero leaves it uncapped.
	MaxBackoff time.Duration
}

// RotationRetry is the policy for swapping session tokens. Two devices
// refreshing the same session collide within milliseconds, and the loser
// must still answer before the client's request timeout, so waits are short
// and capped.
var RotationRetry = RetryPolicy{
	MaxAttempts: 5,
	BaseBackoff: 5 * time.Millisecond,
	MaxBackoff:  40 * time.Millisecond,
}

var defaultRetry = RetryPolicy{MaxAttempts: 3, BaseBackoff: 50 * time.Millisecond}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultRetry.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = defaultRetry.BaseBackoff
	}
	return p
}

// backoff returns the wait before attempt n+1, n starting at 1.
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// TransactionWithRetry runs fn in a transaction, retrying per policy while
// SQLite reports the database as busy or locked. Errors from fn that are not
// lock contention, such as a lost rotation, are returned at once.
func (db *DB) TransactionWithRetry(ctx context.Context, policy RetryPolicy, fn func(*sql.Tx) error) error {
	return withRetry(ctx, policy, func() error {
		return db.Transaction(ctx, fn)
	})
}

func withRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	policy = policy.normalized()
	attempt := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn()
		if err == nil {
			return nil
		}

		attempt++
		if !isBusyError(err) || attempt >= policy.MaxAttempts {
			return err
		}

		if err := sleepWithContext(ctx, policy.backoff(attempt)); err != nil {
			return err
		}
	}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended codes such as SQLITE_BUSY_SNAPSHOT keep the primary code in the low byte.
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database is busy") ||
		strings.Contains(message, "sqlite_busy")
}

func sleepWithContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
