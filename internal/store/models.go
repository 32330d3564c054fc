package store

import "time"

type Wiki struct {
	ID        int64
	Slug      string
	Name      string
	Domain    string
	CreatedAt time.Time
}

type User struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

type Page struct {
	ID         int64
	WikiID     int64
	Slug       string
	Title      string
	AltTitle   *string
	Tags       []string
	ContentKey string
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

// ChangeType classifies what a revision did to its page.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
	ChangeRename ChangeType = "rename"
	ChangeTags   ChangeType = "tags"
)

type Revision struct {
	ID         int64
	PageID     int64
	UserID     int64
	Message    string
	GitCommit  string
	ChangeType ChangeType
	CreatedAt  time.Time
}

type TagDelta struct {
	RevisionID int64
	Added      []string
	Removed    []string
}

// AuthorType classifies an attribution on a page.
type AuthorType string

const (
	AuthorAuthor     AuthorType = "author"
	AuthorRewrite    AuthorType = "rewrite"
	AuthorTranslator AuthorType = "translator"
	AuthorMaintainer AuthorType = "maintainer"
)

type Author struct {
	PageID    int64
	UserID    int64
	Type      AuthorType
	WrittenAt time.Time
}

type RatingHistory struct {
	ID        int64
	PageID    int64
	UserID    int64
	Rating    *int16
	CreatedAt time.Time
}

type ParentLink struct {
	PageID       int64
	ParentPageID int64
	ParentedBy   int64
	ParentedAt   time.Time
}

type File struct {
	ID          int64
	PageID      int64
	Name        string
	URI         string
	Description string
	UploadedBy  int64
	CreatedAt   time.Time
}

type AuditEntry struct {
	ID        int64
	Type      string
	WikiID    int64
	UserID    *int64
	Data      map[string]any
	CreatedAt time.Time
}
