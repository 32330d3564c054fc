// Package lock implements per-page edit locks on top of the relational
// store. Expiry is lazy: an expired row stays in place until another acquire
// steals it or the holder releases it, so no background sweeper is needed.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyLocked is returned when another user holds a live lock.
var ErrAlreadyLocked = errors.New("page is locked by another user")

// ErrNotHolder is returned when releasing a lock the user does not hold.
var ErrNotHolder = errors.New("lock not held by user")

type Lock struct {
	PageID     int64
	UserID     int64
	AcquiredAt time.Time
	ExpiresAt  time.Time

	// TakenFrom is set when the acquire stole an expired lock.
	TakenFrom *int64
}

type Manager struct {
	db  *sql.DB
	ttl time.Duration
}

func NewManager(db *sql.DB, ttl time.Duration) *Manager {
	return &Manager{db: db, ttl: ttl}
}

// Acquire takes or renews the edit lock on a page. The upsert only fires when
// the row is free, already ours, or expired; a live lock held by someone else
// yields no row and maps to ErrAlreadyLocked naming the current holder.
func (m *Manager) Acquire(ctx context.Context, pageID, userID int64) (Lock, error) {
	var lock Lock
	var prevUser sql.NullInt64
	err := m.db.QueryRowContext(ctx, `
		WITH existing AS (
			SELECT user_id, expires_at FROM page_locks WHERE page_id=$1
		), claimed AS (
			INSERT INTO page_locks (page_id, user_id, acquired_at, expires_at)
			VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3))
			ON CONFLICT (page_id) DO UPDATE
			SET user_id=EXCLUDED.user_id,
			    acquired_at=EXCLUDED.acquired_at,
			    expires_at=EXCLUDED.expires_at
			WHERE page_locks.user_id=EXCLUDED.user_id
			   OR page_locks.expires_at < NOW()
			RETURNING user_id, acquired_at, expires_at
		)
		SELECT c.user_id, c.acquired_at, c.expires_at, e.user_id
		FROM claimed c
		LEFT JOIN existing e ON TRUE
	`, pageID, userID, m.ttl.Seconds()).Scan(&lock.UserID, &lock.AcquiredAt, &lock.ExpiresAt, &prevUser)
	if errors.Is(err, sql.ErrNoRows) {
		if held, ok, getErr := m.Get(ctx, pageID); getErr == nil && ok {
			return Lock{}, fmt.Errorf("page %d held by user %d: %w", pageID, held.UserID, ErrAlreadyLocked)
		}
		return Lock{}, fmt.Errorf("page %d: %w", pageID, ErrAlreadyLocked)
	}
	if err != nil {
		return Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	lock.PageID = pageID
	if prevUser.Valid && prevUser.Int64 != userID {
		lock.TakenFrom = &prevUser.Int64
	}
	return lock, nil
}

// Release drops the caller's lock. Expired rows release the same way, so a
// holder can always clean up after itself.
func (m *Manager) Release(ctx context.Context, pageID, userID int64) error {
	result, err := m.db.ExecContext(ctx, `
		DELETE FROM page_locks WHERE page_id=$1 AND user_id=$2
	`, pageID, userID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("page %d user %d: %w", pageID, userID, ErrNotHolder)
	}
	return nil
}

// Get returns the live lock on a page. ok is false when the page is free or
// its lock has expired.
func (m *Manager) Get(ctx context.Context, pageID int64) (Lock, bool, error) {
	var lock Lock
	err := m.db.QueryRowContext(ctx, `
		SELECT page_id, user_id, acquired_at, expires_at
		FROM page_locks
		WHERE page_id=$1 AND expires_at > NOW()
	`, pageID).Scan(&lock.PageID, &lock.UserID, &lock.AcquiredAt, &lock.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Lock{}, false, nil
	}
	if err != nil {
		return Lock{}, false, fmt.Errorf("get lock: %w", err)
	}
	return lock, true, nil
}

// Holds reports whether the user holds a live lock on the page.
func (m *Manager) Holds(ctx context.Context, pageID, userID int64) (bool, error) {
	var held bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM page_locks
			WHERE page_id=$1 AND user_id=$2 AND expires_at > NOW()
		)
	`, pageID, userID).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("check lock: %w", err)
	}
	return held, nil
}
