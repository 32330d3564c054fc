package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConstraintViolation marks a uniqueness or check failure rejected by the
// database. It is surfaced verbatim to the caller and never retried.
var ErrConstraintViolation = errors.New("constraint violation")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLSTATE class 23: integrity constraint violations.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// wrapConstraint converts constraint rejections into ErrConstraintViolation,
// keeping the database detail in the chain. Other errors pass through.
func wrapConstraint(err error, verb string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case pgUniqueViolation, pgCheckViolation, pgForeignKeyViolation:
			return fmt.Errorf("%s: %w: %s", verb, ErrConstraintViolation, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", verb, err)
}
