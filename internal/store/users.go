package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Users are opaque identities; credentials live with the external
// credential subsystem and never touch this store.

func (s *PostgresStore) CreateUser(ctx context.Context, name string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name)
		VALUES ($1)
		RETURNING user_id, name, created_at
	`, name).Scan(&user.ID, &user.Name, &user.CreatedAt)
	if err != nil {
		return User{}, wrapConstraint(err, "create user")
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, created_at
		FROM users
		WHERE user_id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
