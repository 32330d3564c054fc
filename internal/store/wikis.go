package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) CreateWiki(ctx context.Context, slug, name, domain string) (Wiki, error) {
	var wiki Wiki
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO wikis (slug, name, domain)
		VALUES ($1, $2, $3)
		RETURNING wiki_id, slug, name, domain, created_at
	`, slug, name, domain).Scan(&wiki.ID, &wiki.Slug, &wiki.Name, &wiki.Domain, &wiki.CreatedAt)
	if err != nil {
		return Wiki{}, wrapConstraint(err, "create wiki")
	}
	return wiki, nil
}

func (s *PostgresStore) GetWiki(ctx context.Context, wikiID int64) (Wiki, error) {
	var wiki Wiki
	err := s.db.QueryRowContext(ctx, `
		SELECT wiki_id, slug, name, domain, created_at
		FROM wikis
		WHERE wiki_id=$1
	`, wikiID).Scan(&wiki.ID, &wiki.Slug, &wiki.Name, &wiki.Domain, &wiki.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Wiki{}, fmt.Errorf("wiki %d: %w", wikiID, ErrNotFound)
	}
	if err != nil {
		return Wiki{}, fmt.Errorf("get wiki: %w", err)
	}
	return wiki, nil
}

func (s *PostgresStore) GetWikiBySlug(ctx context.Context, slug string) (Wiki, error) {
	var wiki Wiki
	err := s.db.QueryRowContext(ctx, `
		SELECT wiki_id, slug, name, domain, created_at
		FROM wikis
		WHERE slug=$1
	`, slug).Scan(&wiki.ID, &wiki.Slug, &wiki.Name, &wiki.Domain, &wiki.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Wiki{}, fmt.Errorf("wiki %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return Wiki{}, fmt.Errorf("get wiki by slug: %w", err)
	}
	return wiki, nil
}

func (s *PostgresStore) ListWikis(ctx context.Context) ([]Wiki, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wiki_id, slug, name, domain, created_at
		FROM wikis
		ORDER BY wiki_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list wikis: %w", err)
	}
	defer rows.Close()

	items := make([]Wiki, 0)
	for rows.Next() {
		var item Wiki
		if err := rows.Scan(&item.ID, &item.Slug, &item.Name, &item.Domain, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wiki: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wikis: %w", err)
	}
	return items, nil
}
