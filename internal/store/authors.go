package store

import (
	"context"
	"fmt"
)

// ListAuthors returns every attribution on a page, most significant type
// first within insertion order.
func (s *PostgresStore) ListAuthors(ctx context.Context, pageID int64) ([]Author, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_id, user_id, author_type, written_at
		FROM authors
		WHERE page_id=$1
		ORDER BY author_type ASC, user_id ASC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	defer rows.Close()

	items := make([]Author, 0)
	for rows.Next() {
		var item Author
		var authorType string
		if err := rows.Scan(&item.PageID, &item.UserID, &authorType, &item.WrittenAt); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		item.Type = AuthorType(authorType)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authors: %w", err)
	}
	return items, nil
}

// AddAuthor records an attribution outside the revision flow, for manual
// attribution edits such as crediting a translator after the fact.
func (s *PostgresStore) AddAuthor(ctx context.Context, author Author) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authors (page_id, user_id, author_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (page_id, user_id, author_type) DO NOTHING
	`, author.PageID, author.UserID, string(author.Type))
	if err != nil {
		return wrapConstraint(err, "add author")
	}
	return nil
}

func (s *PostgresStore) RemoveAuthor(ctx context.Context, pageID, userID int64, authorType AuthorType) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM authors
		WHERE page_id=$1 AND user_id=$2 AND author_type=$3
	`, pageID, userID, string(authorType))
	if err != nil {
		return fmt.Errorf("remove author: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove author: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("author %d/%s on page %d: %w", userID, authorType, pageID, ErrNotFound)
	}
	return nil
}
