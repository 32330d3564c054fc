package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertParentLink(ctx context.Context, link ParentLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parents (page_id, parent_page_id, parented_by)
		VALUES ($1, $2, $3)
	`, link.PageID, link.ParentPageID, link.ParentedBy)
	if err != nil {
		return wrapConstraint(err, "insert parent link")
	}
	return nil
}

func (s *PostgresStore) DeleteParentLink(ctx context.Context, pageID, parentPageID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM parents WHERE page_id=$1 AND parent_page_id=$2
	`, pageID, parentPageID)
	if err != nil {
		return fmt.Errorf("delete parent link: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete parent link: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("parent link %d->%d: %w", pageID, parentPageID, ErrNotFound)
	}
	return nil
}

// ListParents returns the pages the given page is parented under.
func (s *PostgresStore) ListParents(ctx context.Context, pageID int64) ([]ParentLink, error) {
	return s.listLinks(ctx, `
		SELECT page_id, parent_page_id, parented_by, parented_at
		FROM parents
		WHERE page_id=$1
		ORDER BY parent_page_id ASC
	`, pageID)
}

// ListChildren returns the pages parented under the given page.
func (s *PostgresStore) ListChildren(ctx context.Context, pageID int64) ([]ParentLink, error) {
	return s.listLinks(ctx, `
		SELECT page_id, parent_page_id, parented_by, parented_at
		FROM parents
		WHERE parent_page_id=$1
		ORDER BY page_id ASC
	`, pageID)
}

func (s *PostgresStore) listLinks(ctx context.Context, query string, pageID int64) ([]ParentLink, error) {
	rows, err := s.db.QueryContext(ctx, query, pageID)
	if err != nil {
		return nil, fmt.Errorf("list parent links: %w", err)
	}
	defer rows.Close()

	items := make([]ParentLink, 0)
	for rows.Next() {
		var item ParentLink
		if err := rows.Scan(&item.PageID, &item.ParentPageID, &item.ParentedBy, &item.ParentedAt); err != nil {
			return nil, fmt.Errorf("scan parent link: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parent links: %w", err)
	}
	return items, nil
}

// AncestorIDs walks the parent graph upward from a page and returns every
// transitive ancestor. The UNION in the recursive CTE deduplicates visited
// rows, so the walk terminates even if the graph already contains a cycle.
func (s *PostgresStore) AncestorIDs(ctx context.Context, pageID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE ancestry AS (
			SELECT parent_page_id FROM parents WHERE page_id=$1
			UNION
			SELECT p.parent_page_id
			FROM parents p
			JOIN ancestry a ON p.page_id = a.parent_page_id
		)
		SELECT parent_page_id FROM ancestry
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list ancestors: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ancestor: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ancestors: %w", err)
	}
	return ids, nil
}
