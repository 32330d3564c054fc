package content

import "errors"

// ErrConflictingParent is returned when a commit's parent is not the current
// head of the page's history. The caller is expected to re-read and retry.
var ErrConflictingParent = errors.New("parent is not the current head")

// ErrContentUnavailable marks a content read whose backing repository or
// object is missing. Metadata for the revision may still exist.
var ErrContentUnavailable = errors.New("content unavailable")
