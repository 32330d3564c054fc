package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const pageColumns = `page_id, wiki_id, slug, title, alt_title, to_jsonb(tags), content_key, created_at, deleted_at`

func scanPage(row interface{ Scan(...any) error }) (Page, error) {
	var page Page
	var rawTags []byte
	err := row.Scan(
		&page.ID,
		&page.WikiID,
		&page.Slug,
		&page.Title,
		&page.AltTitle,
		&rawTags,
		&page.ContentKey,
		&page.CreatedAt,
		&page.DeletedAt,
	)
	if err != nil {
		return Page{}, err
	}
	page.Tags, err = decodeTags(rawTags)
	if err != nil {
		return Page{}, err
	}
	return page, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID int64) (Page, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE page_id=$1
	`, pageID))
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, fmt.Errorf("page %d: %w", pageID, ErrNotFound)
	}
	if err != nil {
		return Page{}, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// GetPageBySlug resolves a live (non-deleted) page.
func (s *PostgresStore) GetPageBySlug(ctx context.Context, wikiID int64, slug string) (Page, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE wiki_id=$1 AND slug=$2 AND deleted_at IS NULL
	`, wikiID, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, fmt.Errorf("page %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return Page{}, fmt.Errorf("get page by slug: %w", err)
	}
	return page, nil
}

func (s *PostgresStore) PageExists(ctx context.Context, wikiID int64, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM pages
			WHERE wiki_id=$1 AND slug=$2 AND deleted_at IS NULL
		)
	`, wikiID, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check page exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListPages(ctx context.Context, wikiID int64) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE wiki_id=$1 AND deleted_at IS NULL
		ORDER BY slug ASC
	`, wikiID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	items := make([]Page, 0)
	for rows.Next() {
		item, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}

// ListPagesWithTags returns live pages carrying every one of the given tags.
func (s *PostgresStore) ListPagesWithTags(ctx context.Context, wikiID int64, tags []string) ([]Page, error) {
	if len(tags) == 0 {
		return []Page{}, nil
	}
	encoded, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE wiki_id=$1
		  AND deleted_at IS NULL
		  AND tags @> ARRAY(SELECT jsonb_array_elements_text($2::jsonb))
		ORDER BY slug ASC
	`, wikiID, encoded)
	if err != nil {
		return nil, fmt.Errorf("list pages with tags: %w", err)
	}
	defer rows.Close()

	items := make([]Page, 0)
	for rows.Next() {
		item, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}
