package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tOgg1/linksync/internal/models"
)

func seedAccount(t *testing.T, db *DB, identity string) {
	t.Helper()
	if err := NewAccountRepository(db).Create(context.Background(), &models.Account{
		Identity:     identity,
		PasswordHash: "hash",
	}); err != nil {
		t.Fatalf("seed account failed: %v", err)
	}
}

func newRecord(identity, access, refresh string, now time.Time) *models.SessionRecord {
	return &models.SessionRecord{
		Identity:         identity,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(time.Hour),
		RefreshExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestSessionRepository_CreateAndLookup(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedAccount(t, db, "a@x.io")

	repo := NewSessionRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Create(ctx, newRecord("a@x.io", "acc-1", "ref-1", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	byAccess, err := repo.GetByAccess(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetByAccess failed: %v", err)
	}
	if byAccess.RefreshToken != "ref-1" || byAccess.Identity != "a@x.io" {
		t.Fatalf("unexpected record %+v", byAccess)
	}
	if !byAccess.AccessExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("access expiry mismatch: %v", byAccess.AccessExpiresAt)
	}

	byRefresh, err := repo.GetByRefresh(ctx, "ref-1")
	if err != nil {
		t.Fatalf("GetByRefresh failed: %v", err)
	}
	if byRefresh.AccessToken != "acc-1" {
		t.Fatalf("unexpected access token %q", byRefresh.AccessToken)
	}

	if _, err := repo.GetByAccess(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRepository_Rotate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedAccount(t, db, "a@x.io")

	repo := NewSessionRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Create(ctx, newRecord("a@x.io", "acc-1", "ref-1", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Rotate(ctx, "acc-1", newRecord("a@x.io", "acc-2", "ref-2", now)); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if _, err := repo.GetByRefresh(ctx, "ref-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old refresh token should be gone, got %v", err)
	}
	if _, err := repo.GetByAccess(ctx, "acc-2"); err != nil {
		t.Fatalf("rotated session missing: %v", err)
	}

	// A second rotation of the same old token loses the race.
	err := repo.Rotate(ctx, "acc-1", newRecord("a@x.io", "acc-3", "ref-3", now))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := repo.GetByAccess(ctx, "acc-3"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("failed rotation must not insert, got %v", err)
	}
}

func TestSessionRepository_DeleteAndPrune(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedAccount(t, db, "a@x.io")

	repo := NewSessionRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Create(ctx, newRecord("a@x.io", "acc-1", "ref-1", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	expired := newRecord("a@x.io", "acc-old", "ref-old", now.Add(-48*time.Hour))
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatalf("Create expired failed: %v", err)
	}

	pruned, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned session, got %d", pruned)
	}

	if err := repo.Delete(ctx, "acc-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "acc-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second delete, got %v", err)
	}
}
