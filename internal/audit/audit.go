// Package audit records the immutable action trail. Rows live in the
// audit_log table, which rejects UPDATE, DELETE and TRUNCATE at the trigger
// level, so an entry that landed can never be altered.
package audit

import (
	"context"

	"pagewell/engine/internal/store"
)

// Entry types recorded by the engine.
const (
	EntryWikiCreated  = "wiki.created"
	EntryPageCommit   = "page.committed"
	EntryPageDeleted  = "page.deleted"
	EntryLockTakeover = "lock.takeover"
	EntryVoteCast     = "vote.cast"
	EntryVoteRetract  = "vote.retracted"
	EntryFileUploaded = "file.uploaded"
	EntryFileDeleted  = "file.deleted"
)

// Recorder is the slice of the metadata store the audit service writes
// through.
type Recorder interface {
	InsertAuditEntry(ctx context.Context, entry store.AuditEntry) (int64, error)
	ListAuditEntries(ctx context.Context, wikiID int64, limit int) ([]store.AuditEntry, error)
}

type Log struct {
	recorder Recorder
}

func NewLog(recorder Recorder) *Log {
	return &Log{recorder: recorder}
}

// Record appends one entry. Failures are returned to the caller, who decides
// whether the surrounding operation survives them.
func (l *Log) Record(ctx context.Context, entryType string, wikiID int64, userID *int64, data map[string]any) error {
	_, err := l.recorder.InsertAuditEntry(ctx, store.AuditEntry{
		Type:   entryType,
		WikiID: wikiID,
		UserID: userID,
		Data:   data,
	})
	return err
}

// Trail returns the wiki's most recent entries, newest first.
func (l *Log) Trail(ctx context.Context, wikiID int64, limit int) ([]store.AuditEntry, error) {
	return l.recorder.ListAuditEntries(ctx, wikiID, limit)
}
