package revision

import "errors"

// ErrNotLocked is returned when a mutation arrives without the caller
// holding the page's edit lock.
var ErrNotLocked = errors.New("page is not locked by user")

// ErrNoChanges is returned when an edit would produce a revision identical
// in effect to the current state.
var ErrNoChanges = errors.New("edit contains no changes")

// ErrAuditWriteFailed marks a revision that committed but whose audit entry
// did not land. It is carried in Result.Warning, never as the primary error.
var ErrAuditWriteFailed = errors.New("audit write failed")

// ErrParentCycle is returned when a parent link is rejected by the
// configured cycle check.
var ErrParentCycle = errors.New("parent link would create a cycle")
