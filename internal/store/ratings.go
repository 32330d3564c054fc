package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CastVote records or replaces a user's vote on a page. The current-state
// upsert and the history append happen in one transaction so the ledger
// never disagrees with the live table.
func (s *PostgresStore) CastVote(ctx context.Context, pageID, userID int64, rating int16) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vote tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ratings (page_id, user_id, rating)
		VALUES ($1, $2, $3)
		ON CONFLICT (page_id, user_id) DO UPDATE SET rating=EXCLUDED.rating
	`, pageID, userID, rating)
	if err != nil {
		err = wrapConstraint(err, "cast vote")
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ratings_history (page_id, user_id, rating)
		VALUES ($1, $2, $3)
	`, pageID, userID, rating)
	if err != nil {
		err = wrapConstraint(err, "record vote history")
		return err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit vote tx: %w", err)
		return err
	}
	return nil
}

// RetractVote removes a user's vote entirely. The history row carries a NULL
// rating, which keeps retraction distinct from a neutral vote of 0.
func (s *PostgresStore) RetractVote(ctx context.Context, pageID, userID int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retract tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM ratings WHERE page_id=$1 AND user_id=$2
	`, pageID, userID)
	if err != nil {
		err = fmt.Errorf("retract vote: %w", err)
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("retract vote: %w", err)
		return err
	}
	if affected == 0 {
		err = fmt.Errorf("vote by %d on page %d: %w", userID, pageID, ErrNotFound)
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ratings_history (page_id, user_id, rating)
		VALUES ($1, $2, NULL)
	`, pageID, userID)
	if err != nil {
		err = wrapConstraint(err, "record vote retraction")
		return err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit retract tx: %w", err)
		return err
	}
	return nil
}

// GetVote returns a user's current vote on a page.
func (s *PostgresStore) GetVote(ctx context.Context, pageID, userID int64) (int16, error) {
	var rating int16
	err := s.db.QueryRowContext(ctx, `
		SELECT rating FROM ratings WHERE page_id=$1 AND user_id=$2
	`, pageID, userID).Scan(&rating)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("vote by %d on page %d: %w", userID, pageID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get vote: %w", err)
	}
	return rating, nil
}

// VoteDistribution returns the count of current votes per value for a page.
func (s *PostgresStore) VoteDistribution(ctx context.Context, pageID int64) (map[int16]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rating, COUNT(*)
		FROM ratings
		WHERE page_id=$1
		GROUP BY rating
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("vote distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[int16]int)
	for rows.Next() {
		var rating int16
		var count int
		if err := rows.Scan(&rating, &count); err != nil {
			return nil, fmt.Errorf("scan vote count: %w", err)
		}
		dist[rating] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote counts: %w", err)
	}
	return dist, nil
}

// ListVoteHistory returns the full vote ledger for a page, oldest first.
// NULL ratings mark retractions.
func (s *PostgresStore) ListVoteHistory(ctx context.Context, pageID int64) ([]RatingHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rating_id, page_id, user_id, rating, created_at
		FROM ratings_history
		WHERE page_id=$1
		ORDER BY rating_id ASC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list vote history: %w", err)
	}
	defer rows.Close()

	items := make([]RatingHistory, 0)
	for rows.Next() {
		var item RatingHistory
		if err := rows.Scan(&item.ID, &item.PageID, &item.UserID, &item.Rating, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote history: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote history: %w", err)
	}
	return items, nil
}
