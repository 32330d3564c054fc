package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"pagewell/engine/internal/store"
	"pagewell/engine/internal/util"
)

func setupTestManager(t *testing.T) (*Manager, *sql.DB, int64, int64, int64) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := store.Open(ctx, url)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	data := store.NewPostgresStore(db)
	slug := util.NewID("w")
	wiki, err := data.CreateWiki(ctx, slug, "Lock Test", slug+".example.com")
	if err != nil {
		t.Fatalf("create wiki: %v", err)
	}
	alice, err := data.CreateUser(ctx, util.NewID("u"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	bob, err := data.CreateUser(ctx, util.NewID("u"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	pageID, _, err := data.CommitRevision(ctx, store.RevisionDraft{
		UserID:     alice.ID,
		Message:    "create page",
		GitCommit:  util.NewID("commit"),
		ChangeType: store.ChangeCreate,
		NewPage: &store.Page{
			WikiID:     wiki.ID,
			Slug:       "locked-page",
			Title:      "Locked Page",
			ContentKey: util.NewID("page"),
		},
	})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}

	return NewManager(db, 15*time.Minute), db, pageID, alice.ID, bob.ID
}

func TestAcquireAndHold(t *testing.T) {
	m, _, pageID, alice, _ := setupTestManager(t)
	ctx := context.Background()

	held, err := m.Acquire(ctx, pageID, alice)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if held.UserID != alice || held.TakenFrom != nil {
		t.Fatalf("lock = %+v", held)
	}

	ok, err := m.Holds(ctx, pageID, alice)
	if err != nil || !ok {
		t.Fatalf("Holds = %v, %v", ok, err)
	}
}

func TestAcquireConflict(t *testing.T) {
	m, _, pageID, alice, bob := setupTestManager(t)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, pageID, alice); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err := m.Acquire(ctx, pageID, bob)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}
	if !strings.Contains(err.Error(), fmt.Sprintf("user %d", alice)) {
		t.Fatalf("error must name the holder: %v", err)
	}
}

func TestAcquireRenewsOwnLock(t *testing.T) {
	m, _, pageID, alice, _ := setupTestManager(t)
	ctx := context.Background()

	first, err := m.Acquire(ctx, pageID, alice)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	renewed, err := m.Acquire(ctx, pageID, alice)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.ExpiresAt.Before(first.ExpiresAt) {
		t.Fatal("renewal must not shorten the lock")
	}
	if renewed.TakenFrom != nil {
		t.Fatal("renewing own lock is not a takeover")
	}
}

func TestAcquireStealsExpiredLock(t *testing.T) {
	m, db, pageID, alice, bob := setupTestManager(t)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, pageID, alice); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Age the lock past its expiry; no sweeper runs, the row stays.
	if _, err := db.ExecContext(ctx, `
		UPDATE page_locks SET expires_at = NOW() - INTERVAL '1 minute' WHERE page_id=$1
	`, pageID); err != nil {
		t.Fatalf("expire lock: %v", err)
	}

	held, err := m.Acquire(ctx, pageID, bob)
	if err != nil {
		t.Fatalf("steal expired lock: %v", err)
	}
	if held.TakenFrom == nil || *held.TakenFrom != alice {
		t.Fatalf("expected takeover from %d, got %+v", alice, held)
	}
}

func TestReleaseByNonHolder(t *testing.T) {
	m, _, pageID, alice, bob := setupTestManager(t)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, pageID, alice); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(ctx, pageID, bob); !errors.Is(err, ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
	if err := m.Release(ctx, pageID, alice); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, ok, err := m.Get(ctx, pageID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("lock must be gone after release")
	}
}
