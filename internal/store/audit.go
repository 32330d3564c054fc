package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// InsertAuditEntry appends one row to the audit log. The log is append-only
// at the database level: triggers reject UPDATE, DELETE and TRUNCATE with
// SQLSTATE 55000, so a successful insert is permanent.
func (s *PostgresStore) InsertAuditEntry(ctx context.Context, entry AuditEntry) (int64, error) {
	data := entry.Data
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("marshal audit data: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (entry_type, wiki_id, user_id, data)
		VALUES ($1, $2, $3, $4)
		RETURNING audit_id
	`, entry.Type, entry.WikiID, entry.UserID, string(encoded)).Scan(&id)
	if err != nil {
		return 0, wrapConstraint(err, "insert audit entry")
	}
	return id, nil
}

// ListAuditEntries returns a wiki's audit trail newest first, capped at limit.
func (s *PostgresStore) ListAuditEntries(ctx context.Context, wikiID int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, entry_type, wiki_id, user_id, data, created_at
		FROM audit_log
		WHERE wiki_id=$1
		ORDER BY audit_id DESC
		LIMIT $2
	`, wikiID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var item AuditEntry
		var rawData []byte
		if err := rows.Scan(&item.ID, &item.Type, &item.WikiID, &item.UserID, &rawData, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal(rawData, &item.Data); err != nil {
			return nil, fmt.Errorf("decode audit data: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}
