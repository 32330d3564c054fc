package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RevisionDraft is everything one revision commit persists. The zero PageID
// means the draft creates its page; NewPage must then be set.
type RevisionDraft struct {
	PageID     int64
	UserID     int64
	Message    string
	GitCommit  string
	ChangeType ChangeType

	// Set when ChangeType is ChangeCreate.
	NewPage *Page

	// Page metadata updates applied alongside the revision row.
	NewSlug     *string
	NewTitle    *string
	NewAltTitle *string

	// Tag changes: the delta rows plus the folded set stored on the page.
	TagDelta   *TagDelta
	FoldedTags []string

	// Attributions upserted with this revision.
	Authors []Author
}

// CommitRevision is the authoritative commit point of the engine: the
// revision row, its tag delta, author rows, and the page update land in one
// transaction, so no reader ever sees a revision without its dependents.
// The unique constraint on git_commit makes a crash retry insert at most one
// revision per content commit.
func (s *PostgresStore) CommitRevision(ctx context.Context, draft RevisionDraft) (pageID, revisionID int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin revision tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	pageID = draft.PageID
	if draft.ChangeType == ChangeCreate {
		if draft.NewPage == nil {
			return 0, 0, fmt.Errorf("create revision without page draft")
		}
		encoded, encErr := encodeTags(draft.NewPage.Tags)
		if encErr != nil {
			return 0, 0, encErr
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO pages (wiki_id, slug, title, alt_title, tags, content_key)
			VALUES ($1, $2, $3, $4, ARRAY(SELECT jsonb_array_elements_text($5::jsonb)), $6)
			RETURNING page_id
		`,
			draft.NewPage.WikiID,
			draft.NewPage.Slug,
			draft.NewPage.Title,
			draft.NewPage.AltTitle,
			encoded,
			draft.NewPage.ContentKey,
		).Scan(&pageID)
		if err != nil {
			err = wrapConstraint(err, "insert page")
			return 0, 0, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO revisions (page_id, user_id, message, git_commit, change_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING revision_id
	`, pageID, draft.UserID, draft.Message, draft.GitCommit, string(draft.ChangeType)).Scan(&revisionID)
	if err != nil {
		err = wrapConstraint(err, "insert revision")
		return 0, 0, err
	}

	if draft.TagDelta != nil {
		added, encErr := encodeTags(draft.TagDelta.Added)
		if encErr != nil {
			return 0, 0, encErr
		}
		removed, encErr := encodeTags(draft.TagDelta.Removed)
		if encErr != nil {
			return 0, 0, encErr
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tag_history (revision_id, added_tags, removed_tags)
			VALUES ($1,
				ARRAY(SELECT jsonb_array_elements_text($2::jsonb)),
				ARRAY(SELECT jsonb_array_elements_text($3::jsonb)))
		`, revisionID, added, removed)
		if err != nil {
			err = wrapConstraint(err, "insert tag delta")
			return 0, 0, err
		}

		folded, encErr := encodeTags(draft.FoldedTags)
		if encErr != nil {
			return 0, 0, encErr
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE pages
			SET tags=ARRAY(SELECT jsonb_array_elements_text($2::jsonb))
			WHERE page_id=$1
		`, pageID, folded)
		if err != nil {
			err = fmt.Errorf("update folded tags: %w", err)
			return 0, 0, err
		}
	}

	for _, author := range draft.Authors {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO authors (page_id, user_id, author_type)
			VALUES ($1, $2, $3)
			ON CONFLICT (page_id, user_id, author_type) DO NOTHING
		`, pageID, author.UserID, string(author.Type))
		if err != nil {
			err = wrapConstraint(err, "insert author")
			return 0, 0, err
		}
	}

	if draft.NewSlug != nil || draft.NewTitle != nil || draft.NewAltTitle != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE pages
			SET slug=COALESCE($2, slug),
			    title=COALESCE($3, title),
			    alt_title=COALESCE($4, alt_title)
			WHERE page_id=$1
		`, pageID, draft.NewSlug, draft.NewTitle, draft.NewAltTitle)
		if err != nil {
			err = wrapConstraint(err, "update page metadata")
			return 0, 0, err
		}
	}

	if draft.ChangeType == ChangeDelete {
		_, err = tx.ExecContext(ctx, `
			UPDATE pages SET deleted_at=NOW() WHERE page_id=$1
		`, pageID)
		if err != nil {
			err = fmt.Errorf("mark page deleted: %w", err)
			return 0, 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit revision tx: %w", err)
		return 0, 0, err
	}
	return pageID, revisionID, nil
}

// HeadCommit returns the content commit id of the page's latest revision.
// ok is false when the page has no revisions yet.
func (s *PostgresStore) HeadCommit(ctx context.Context, pageID int64) (string, bool, error) {
	var commit string
	err := s.db.QueryRowContext(ctx, `
		SELECT git_commit
		FROM revisions
		WHERE page_id=$1
		ORDER BY revision_id DESC
		LIMIT 1
	`, pageID).Scan(&commit)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get head commit: %w", err)
	}
	return commit, true, nil
}

func (s *PostgresStore) GetRevision(ctx context.Context, revisionID int64) (Revision, error) {
	var item Revision
	var changeType string
	err := s.db.QueryRowContext(ctx, `
		SELECT revision_id, page_id, user_id, message, git_commit, change_type, created_at
		FROM revisions
		WHERE revision_id=$1
	`, revisionID).Scan(&item.ID, &item.PageID, &item.UserID, &item.Message, &item.GitCommit, &changeType, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, fmt.Errorf("revision %d: %w", revisionID, ErrNotFound)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("get revision: %w", err)
	}
	item.ChangeType = ChangeType(changeType)
	return item, nil
}

func (s *PostgresStore) GetRevisionByCommit(ctx context.Context, gitCommit string) (Revision, error) {
	var item Revision
	var changeType string
	err := s.db.QueryRowContext(ctx, `
		SELECT revision_id, page_id, user_id, message, git_commit, change_type, created_at
		FROM revisions
		WHERE git_commit=$1
	`, gitCommit).Scan(&item.ID, &item.PageID, &item.UserID, &item.Message, &item.GitCommit, &changeType, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, fmt.Errorf("revision for commit %s: %w", gitCommit, ErrNotFound)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("get revision by commit: %w", err)
	}
	item.ChangeType = ChangeType(changeType)
	return item, nil
}

// ListRevisions returns a page's revisions oldest first.
func (s *PostgresStore) ListRevisions(ctx context.Context, pageID int64) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT revision_id, page_id, user_id, message, git_commit, change_type, created_at
		FROM revisions
		WHERE page_id=$1
		ORDER BY revision_id ASC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	items := make([]Revision, 0)
	for rows.Next() {
		var item Revision
		var changeType string
		if err := rows.Scan(&item.ID, &item.PageID, &item.UserID, &item.Message, &item.GitCommit, &changeType, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		item.ChangeType = ChangeType(changeType)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return items, nil
}

// ListTagDeltas returns a page's tag deltas in revision order.
func (s *PostgresStore) ListTagDeltas(ctx context.Context, pageID int64) ([]TagDelta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT th.revision_id, to_jsonb(th.added_tags), to_jsonb(th.removed_tags)
		FROM tag_history th
		JOIN revisions r ON r.revision_id = th.revision_id
		WHERE r.page_id=$1
		ORDER BY th.revision_id ASC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list tag deltas: %w", err)
	}
	defer rows.Close()

	items := make([]TagDelta, 0)
	for rows.Next() {
		var item TagDelta
		var rawAdded, rawRemoved []byte
		if err := rows.Scan(&item.RevisionID, &rawAdded, &rawRemoved); err != nil {
			return nil, fmt.Errorf("scan tag delta: %w", err)
		}
		if item.Added, err = decodeTags(rawAdded); err != nil {
			return nil, err
		}
		if item.Removed, err = decodeTags(rawRemoved); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag deltas: %w", err)
	}
	return items, nil
}

// SetPageTags overwrites the materialized tag set on a page. The set is a
// projection of the tag_history log, so rewriting it is always safe.
func (s *PostgresStore) SetPageTags(ctx context.Context, pageID int64, tags []string) error {
	encoded, err := encodeTags(tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE pages
		SET tags=ARRAY(SELECT jsonb_array_elements_text($2::jsonb))
		WHERE page_id=$1
	`, pageID, encoded)
	if err != nil {
		return fmt.Errorf("set page tags: %w", err)
	}
	return nil
}
