package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) InsertFile(ctx context.Context, file File) (File, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO files (page_id, file_name, file_uri, description, uploaded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING file_id, created_at
	`, file.PageID, file.Name, file.URI, file.Description, file.UploadedBy).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return File{}, wrapConstraint(err, "insert file")
	}
	return file, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, pageID int64, name string) (File, error) {
	var file File
	err := s.db.QueryRowContext(ctx, `
		SELECT file_id, page_id, file_name, file_uri, description, uploaded_by, created_at
		FROM files
		WHERE page_id=$1 AND file_name=$2
	`, pageID, name).Scan(&file.ID, &file.PageID, &file.Name, &file.URI, &file.Description, &file.UploadedBy, &file.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, fmt.Errorf("file %q on page %d: %w", name, pageID, ErrNotFound)
	}
	if err != nil {
		return File{}, fmt.Errorf("get file: %w", err)
	}
	return file, nil
}

func (s *PostgresStore) ListFiles(ctx context.Context, pageID int64) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, page_id, file_name, file_uri, description, uploaded_by, created_at
		FROM files
		WHERE page_id=$1
		ORDER BY file_name ASC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	items := make([]File, 0)
	for rows.Next() {
		var item File
		if err := rows.Scan(&item.ID, &item.PageID, &item.Name, &item.URI, &item.Description, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteFile(ctx context.Context, pageID int64, name string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM files WHERE page_id=$1 AND file_name=$2
	`, pageID, name)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("file %q on page %d: %w", name, pageID, ErrNotFound)
	}
	return nil
}
