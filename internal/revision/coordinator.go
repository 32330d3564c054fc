// Package revision coordinates the content store and the metadata store
// through a commit protocol that needs no shared transaction: the content
// write is idempotent and content-addressed, the metadata transaction is the
// single commit point, and a crash between the two is repaired by retrying
// with identical inputs.
package revision

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"pagewell/engine/internal/audit"
	"pagewell/engine/internal/content"
	"pagewell/engine/internal/lock"
	"pagewell/engine/internal/search"
	"pagewell/engine/internal/store"
	"pagewell/engine/internal/util"
)

// Store is the metadata surface the coordinator drives.
type Store interface {
	CreateWiki(ctx context.Context, slug, name, domain string) (store.Wiki, error)
	GetWiki(ctx context.Context, wikiID int64) (store.Wiki, error)
	ListWikis(ctx context.Context) ([]store.Wiki, error)
	GetPage(ctx context.Context, pageID int64) (store.Page, error)
	CommitRevision(ctx context.Context, draft store.RevisionDraft) (int64, int64, error)
	HeadCommit(ctx context.Context, pageID int64) (string, bool, error)
	GetRevision(ctx context.Context, revisionID int64) (store.Revision, error)
	GetRevisionByCommit(ctx context.Context, gitCommit string) (store.Revision, error)
	ListRevisions(ctx context.Context, pageID int64) ([]store.Revision, error)
	InsertParentLink(ctx context.Context, link store.ParentLink) error
	DeleteParentLink(ctx context.Context, pageID, parentPageID int64) error
	AncestorIDs(ctx context.Context, pageID int64) ([]int64, error)
}

// Contents is the content store surface.
type Contents interface {
	EnsureWikiRepo(wikiSlug string) error
	Commit(wikiSlug string, input content.CommitInput) (string, error)
	Head(wikiSlug, contentKey string) (string, bool, error)
	ResetHead(wikiSlug, contentKey, commitID string) error
	Read(wikiSlug, commitID string) (string, error)
	Diff(wikiSlug, fromID, toID string) (string, error)
	Blame(wikiSlug, commitID string) ([]content.BlameLine, error)
}

// Locker is the edit-lock surface.
type Locker interface {
	Acquire(ctx context.Context, pageID, userID int64) (lock.Lock, error)
	Release(ctx context.Context, pageID, userID int64) error
	Holds(ctx context.Context, pageID, userID int64) (bool, error)
}

// Indexer receives page updates after commits land. A nil Meili indexer is
// valid and drops everything.
type Indexer interface {
	IndexPage(ctx context.Context, doc search.Document) error
	DeletePage(ctx context.Context, pageID int64) error
}

type Coordinator struct {
	store    Store
	contents Contents
	locks    Locker
	trail    *audit.Log
	index    Indexer
	cycle    CycleCheck
	log      zerolog.Logger
}

func NewCoordinator(metadata Store, contents Contents, locks Locker, trail *audit.Log, index Indexer, cycle CycleCheck, log zerolog.Logger) *Coordinator {
	if cycle == nil {
		cycle = SelfReferenceCheck
	}
	return &Coordinator{
		store:    metadata,
		contents: contents,
		locks:    locks,
		trail:    trail,
		index:    index,
		cycle:    cycle,
		log:      log,
	}
}

// Result describes a committed revision. Warning carries non-fatal failures
// that happened after the commit point (audit, search index); the revision
// itself is durable whenever the error return is nil.
type Result struct {
	PageID     int64
	RevisionID int64
	GitCommit  string
	ChangeType store.ChangeType
	Warning    error
}

// CreateInput starts a page's history.
type CreateInput struct {
	WikiID     int64
	UserID     int64
	Slug       string
	Title      string
	AltTitle   *string
	Tags       []string
	Body       string
	Message    string
	AuthorName string
}

// EditInput revises an existing page. Nil fields are left untouched; Tags,
// when set, is the full desired tag set.
type EditInput struct {
	PageID      int64
	UserID      int64
	Body        *string
	NewSlug     *string
	NewTitle    *string
	NewAltTitle *string
	Tags        *[]string
	Message     string
	AuthorName  string
}

// Bootstrap prepares the content repository of every registered wiki. Safe
// to run on every start.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	wikis, err := c.store.ListWikis(ctx)
	if err != nil {
		return err
	}
	for _, wiki := range wikis {
		if err := c.contents.EnsureWikiRepo(wiki.Slug); err != nil {
			return fmt.Errorf("wiki %s: %w", wiki.Slug, err)
		}
	}
	return nil
}

// CreateWiki registers a wiki and its content repository.
func (c *Coordinator) CreateWiki(ctx context.Context, slug, name, domain string) (store.Wiki, error) {
	wiki, err := c.store.CreateWiki(ctx, slug, name, domain)
	if err != nil {
		return store.Wiki{}, err
	}
	if err := c.contents.EnsureWikiRepo(wiki.Slug); err != nil {
		return store.Wiki{}, fmt.Errorf("prepare content repo: %w", err)
	}
	if err := c.trail.Record(ctx, audit.EntryWikiCreated, wiki.ID, nil, map[string]any{
		"slug":   wiki.Slug,
		"domain": wiki.Domain,
	}); err != nil {
		c.log.Warn().Err(err).Int64("wiki_id", wiki.ID).Msg("audit write failed")
	}
	return wiki, nil
}

// CreatePage commits the first revision of a page. No lock is needed: the
// page does not exist until the metadata transaction commits, and the
// partial unique index on live slugs arbitrates concurrent creates.
func (c *Coordinator) CreatePage(ctx context.Context, in CreateInput) (Result, error) {
	wiki, err := c.store.GetWiki(ctx, in.WikiID)
	if err != nil {
		return Result{}, err
	}
	if err := c.contents.EnsureWikiRepo(wiki.Slug); err != nil {
		return Result{}, err
	}

	tags := normalizeTags(in.Tags)
	contentKey := util.NewID("page")

	commitID, err := c.contents.Commit(wiki.Slug, content.CommitInput{
		ContentKey: contentKey,
		Body:       in.Body,
		Message:    in.Message,
		Author:     in.AuthorName,
	})
	if err != nil {
		return Result{}, err
	}

	draft := store.RevisionDraft{
		UserID:     in.UserID,
		Message:    in.Message,
		GitCommit:  commitID,
		ChangeType: store.ChangeCreate,
		NewPage: &store.Page{
			WikiID:     in.WikiID,
			Slug:       in.Slug,
			Title:      in.Title,
			AltTitle:   in.AltTitle,
			Tags:       tags,
			ContentKey: contentKey,
		},
		Authors: []store.Author{{UserID: in.UserID, Type: store.AuthorAuthor}},
	}
	if len(tags) > 0 {
		draft.TagDelta = &store.TagDelta{Added: tags}
		draft.FoldedTags = tags
	}

	pageID, revisionID, err := c.store.CommitRevision(ctx, draft)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		PageID:     pageID,
		RevisionID: revisionID,
		GitCommit:  commitID,
		ChangeType: store.ChangeCreate,
	}
	result.Warning = c.afterCommit(ctx, wiki, store.Page{
		ID:     pageID,
		WikiID: in.WikiID,
		Slug:   in.Slug,
		Title:  in.Title,
		Tags:   tags,
	}, in.UserID, in.Body, result, false)
	return result, nil
}

// Edit commits a revision on an existing page. The caller must hold the edit
// lock. Retrying a crashed edit with identical inputs converges on the same
// content commit and at most one revision row.
func (c *Coordinator) Edit(ctx context.Context, in EditInput) (Result, error) {
	if err := c.gate(ctx, in.PageID, in.UserID); err != nil {
		return Result{}, err
	}

	page, err := c.store.GetPage(ctx, in.PageID)
	if err != nil {
		return Result{}, err
	}
	if page.DeletedAt != nil {
		return Result{}, fmt.Errorf("page %d is deleted: %w", in.PageID, store.ErrNotFound)
	}
	wiki, err := c.store.GetWiki(ctx, page.WikiID)
	if err != nil {
		return Result{}, err
	}
	head, _, err := c.store.HeadCommit(ctx, in.PageID)
	if err != nil {
		return Result{}, err
	}

	var tagDelta *store.TagDelta
	var foldedTags []string
	if in.Tags != nil {
		desired := normalizeTags(*in.Tags)
		delta := diffTags(page.Tags, desired)
		if len(delta.Added) > 0 || len(delta.Removed) > 0 {
			tagDelta = &delta
			foldedTags = desired
		}
	}

	changeType, err := classifyEdit(in, tagDelta)
	if err != nil {
		return Result{}, err
	}

	body := ""
	if in.Body != nil {
		body = *in.Body
	} else {
		// Metadata-only revisions re-commit the current body so every
		// revision row points at its own commit.
		body, err = c.contents.Read(wiki.Slug, head)
		if err != nil {
			return Result{}, err
		}
	}

	commitID, err := c.commitContent(ctx, wiki.Slug, page, content.CommitInput{
		ContentKey: page.ContentKey,
		Parent:     head,
		Body:       body,
		Message:    in.Message,
		Author:     in.AuthorName,
	})
	if err != nil {
		return Result{}, err
	}

	draft := store.RevisionDraft{
		PageID:      in.PageID,
		UserID:      in.UserID,
		Message:     in.Message,
		GitCommit:   commitID,
		ChangeType:  changeType,
		NewSlug:     in.NewSlug,
		NewTitle:    in.NewTitle,
		NewAltTitle: in.NewAltTitle,
		TagDelta:    tagDelta,
		FoldedTags:  foldedTags,
	}
	if changeType == store.ChangeModify {
		draft.Authors = []store.Author{{PageID: in.PageID, UserID: in.UserID, Type: store.AuthorAuthor}}
	}

	pageID, revisionID, err := c.store.CommitRevision(ctx, draft)
	if err != nil {
		if recovered, ok := c.recoverCommitted(ctx, commitID, err); ok {
			pageID, revisionID = recovered.PageID, recovered.ID
		} else {
			return Result{}, err
		}
	}

	result := Result{
		PageID:     pageID,
		RevisionID: revisionID,
		GitCommit:  commitID,
		ChangeType: changeType,
	}

	indexed := page
	if in.NewSlug != nil {
		indexed.Slug = *in.NewSlug
	}
	if in.NewTitle != nil {
		indexed.Title = *in.NewTitle
	}
	if foldedTags != nil {
		indexed.Tags = foldedTags
	}
	result.Warning = c.afterCommit(ctx, wiki, indexed, in.UserID, body, result, false)
	return result, nil
}

// Delete soft-deletes a page: an empty-tree content commit plus a delete
// revision. History, files and votes all stay.
func (c *Coordinator) Delete(ctx context.Context, pageID, userID int64, message, authorName string) (Result, error) {
	if err := c.gate(ctx, pageID, userID); err != nil {
		return Result{}, err
	}

	page, err := c.store.GetPage(ctx, pageID)
	if err != nil {
		return Result{}, err
	}
	if page.DeletedAt != nil {
		return Result{}, fmt.Errorf("page %d is deleted: %w", pageID, store.ErrNotFound)
	}
	wiki, err := c.store.GetWiki(ctx, page.WikiID)
	if err != nil {
		return Result{}, err
	}
	head, _, err := c.store.HeadCommit(ctx, pageID)
	if err != nil {
		return Result{}, err
	}

	commitID, err := c.commitContent(ctx, wiki.Slug, page, content.CommitInput{
		ContentKey: page.ContentKey,
		Parent:     head,
		Delete:     true,
		Message:    message,
		Author:     authorName,
	})
	if err != nil {
		return Result{}, err
	}

	_, revisionID, err := c.store.CommitRevision(ctx, store.RevisionDraft{
		PageID:     pageID,
		UserID:     userID,
		Message:    message,
		GitCommit:  commitID,
		ChangeType: store.ChangeDelete,
	})
	if err != nil {
		if recovered, ok := c.recoverCommitted(ctx, commitID, err); ok {
			revisionID = recovered.ID
		} else {
			return Result{}, err
		}
	}

	result := Result{
		PageID:     pageID,
		RevisionID: revisionID,
		GitCommit:  commitID,
		ChangeType: store.ChangeDelete,
	}
	result.Warning = c.afterCommit(ctx, wiki, page, userID, "", result, true)
	return result, nil
}

// AcquireLock takes the page's edit lock. An expired lock held by someone
// else is stolen, and the takeover is recorded in the audit trail.
func (c *Coordinator) AcquireLock(ctx context.Context, pageID, userID int64) (lock.Lock, error) {
	held, err := c.locks.Acquire(ctx, pageID, userID)
	if err != nil {
		return lock.Lock{}, err
	}
	if held.TakenFrom != nil {
		page, pageErr := c.store.GetPage(ctx, pageID)
		if pageErr == nil {
			if auditErr := c.trail.Record(ctx, audit.EntryLockTakeover, page.WikiID, &userID, map[string]any{
				"page_id":    pageID,
				"taken_from": *held.TakenFrom,
			}); auditErr != nil {
				c.log.Warn().Err(auditErr).Int64("page_id", pageID).Msg("audit write failed")
			}
		}
	}
	return held, nil
}

func (c *Coordinator) ReleaseLock(ctx context.Context, pageID, userID int64) error {
	return c.locks.Release(ctx, pageID, userID)
}

// ReadContent returns the page body at its latest revision.
func (c *Coordinator) ReadContent(ctx context.Context, pageID int64) (string, error) {
	page, err := c.store.GetPage(ctx, pageID)
	if err != nil {
		return "", err
	}
	wiki, err := c.store.GetWiki(ctx, page.WikiID)
	if err != nil {
		return "", err
	}
	head, ok, err := c.store.HeadCommit(ctx, pageID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("page %d has no revisions: %w", pageID, store.ErrNotFound)
	}
	return c.contents.Read(wiki.Slug, head)
}

// ReadContentAt returns the page body at a specific revision.
func (c *Coordinator) ReadContentAt(ctx context.Context, revisionID int64) (string, error) {
	rev, wiki, err := c.resolveRevision(ctx, revisionID)
	if err != nil {
		return "", err
	}
	return c.contents.Read(wiki.Slug, rev.GitCommit)
}

// Diff returns the unified patch between two revisions of the same page.
func (c *Coordinator) Diff(ctx context.Context, fromRevisionID, toRevisionID int64) (string, error) {
	from, wiki, err := c.resolveRevision(ctx, fromRevisionID)
	if err != nil {
		return "", err
	}
	to, err := c.store.GetRevision(ctx, toRevisionID)
	if err != nil {
		return "", err
	}
	if from.PageID != to.PageID {
		return "", fmt.Errorf("revisions %d and %d belong to different pages", fromRevisionID, toRevisionID)
	}
	return c.contents.Diff(wiki.Slug, from.GitCommit, to.GitCommit)
}

// Blame attributes each line of the body at a revision.
func (c *Coordinator) Blame(ctx context.Context, revisionID int64) ([]content.BlameLine, error) {
	rev, wiki, err := c.resolveRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	return c.contents.Blame(wiki.Slug, rev.GitCommit)
}

// History returns a page's revisions, oldest first.
func (c *Coordinator) History(ctx context.Context, pageID int64) ([]store.Revision, error) {
	return c.store.ListRevisions(ctx, pageID)
}

// AddParentLink attaches a page under a parent after the configured cycle
// check passes.
func (c *Coordinator) AddParentLink(ctx context.Context, pageID, parentPageID, userID int64) error {
	if err := c.cycle(ctx, c.store, pageID, parentPageID); err != nil {
		return err
	}
	return c.store.InsertParentLink(ctx, store.ParentLink{
		PageID:       pageID,
		ParentPageID: parentPageID,
		ParentedBy:   userID,
	})
}

func (c *Coordinator) RemoveParentLink(ctx context.Context, pageID, parentPageID int64) error {
	return c.store.DeleteParentLink(ctx, pageID, parentPageID)
}

func (c *Coordinator) gate(ctx context.Context, pageID, userID int64) error {
	held, err := c.locks.Holds(ctx, pageID, userID)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("page %d user %d: %w", pageID, userID, ErrNotLocked)
	}
	return nil
}

// commitContent writes a page's content commit, repairing the one conflict
// the engine itself can cause: a writer that crashed after advancing the
// content head but before its metadata transaction. Such a head has no
// revision row, so it is an orphan; the ref is reset to the metadata head
// and the write retried. Any other conflict is a real lost race and is
// returned as is.
func (c *Coordinator) commitContent(ctx context.Context, wikiSlug string, page store.Page, input content.CommitInput) (string, error) {
	commitID, err := c.contents.Commit(wikiSlug, input)
	if err == nil || !errors.Is(err, content.ErrConflictingParent) {
		return commitID, err
	}

	contentHead, ok, headErr := c.contents.Head(wikiSlug, page.ContentKey)
	if headErr != nil || !ok {
		return "", err
	}
	if _, revErr := c.store.GetRevisionByCommit(ctx, contentHead); !errors.Is(revErr, store.ErrNotFound) {
		return "", err
	}

	c.log.Warn().
		Int64("page_id", page.ID).
		Str("orphan_commit", contentHead).
		Str("head", input.Parent).
		Msg("discarding orphaned content head")
	if resetErr := c.contents.ResetHead(wikiSlug, page.ContentKey, input.Parent); resetErr != nil {
		return "", fmt.Errorf("reset orphaned head: %w", resetErr)
	}
	return c.contents.Commit(wikiSlug, input)
}

// recoverCommitted detects the retry case where the metadata transaction had
// already committed before a crash: the unique git_commit constraint rejects
// the duplicate insert, and the existing row is the answer.
func (c *Coordinator) recoverCommitted(ctx context.Context, commitID string, commitErr error) (store.Revision, bool) {
	if !errors.Is(commitErr, store.ErrConstraintViolation) {
		return store.Revision{}, false
	}
	rev, err := c.store.GetRevisionByCommit(ctx, commitID)
	if err != nil {
		return store.Revision{}, false
	}
	return rev, true
}

// afterCommit runs the non-fatal tail of a commit: audit entry and search
// index update. Failures are joined into the result warning.
func (c *Coordinator) afterCommit(ctx context.Context, wiki store.Wiki, page store.Page, userID int64, body string, result Result, deleted bool) error {
	var warnings []error

	entryType := audit.EntryPageCommit
	if deleted {
		entryType = audit.EntryPageDeleted
	}
	if err := c.trail.Record(ctx, entryType, wiki.ID, &userID, map[string]any{
		"page_id":     result.PageID,
		"revision_id": result.RevisionID,
		"git_commit":  result.GitCommit,
		"change_type": string(result.ChangeType),
	}); err != nil {
		c.log.Warn().Err(err).Int64("page_id", result.PageID).Msg("audit write failed")
		warnings = append(warnings, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err))
	}

	if c.index != nil {
		var err error
		if deleted {
			err = c.index.DeletePage(ctx, result.PageID)
		} else {
			err = c.index.IndexPage(ctx, search.Document{
				ID:     strconv.FormatInt(result.PageID, 10),
				WikiID: wiki.ID,
				Slug:   page.Slug,
				Title:  page.Title,
				Tags:   page.Tags,
				Text:   body,
			})
		}
		if err != nil {
			c.log.Warn().Err(err).Int64("page_id", result.PageID).Msg("search index update failed")
			warnings = append(warnings, err)
		}
	}

	return errors.Join(warnings...)
}

func (c *Coordinator) resolveRevision(ctx context.Context, revisionID int64) (store.Revision, store.Wiki, error) {
	rev, err := c.store.GetRevision(ctx, revisionID)
	if err != nil {
		return store.Revision{}, store.Wiki{}, err
	}
	page, err := c.store.GetPage(ctx, rev.PageID)
	if err != nil {
		return store.Revision{}, store.Wiki{}, err
	}
	wiki, err := c.store.GetWiki(ctx, page.WikiID)
	if err != nil {
		return store.Revision{}, store.Wiki{}, err
	}
	return rev, wiki, nil
}

// classifyEdit picks the revision change type. Body changes dominate,
// renames come next, then tag-only edits; a title or alt-title change alone
// still counts as modify.
func classifyEdit(in EditInput, tagDelta *store.TagDelta) (store.ChangeType, error) {
	switch {
	case in.Body != nil:
		return store.ChangeModify, nil
	case in.NewSlug != nil:
		return store.ChangeRename, nil
	case tagDelta != nil:
		return store.ChangeTags, nil
	case in.NewTitle != nil || in.NewAltTitle != nil:
		return store.ChangeModify, nil
	case in.Tags != nil:
		// Desired tags equal current tags.
		return "", ErrNoChanges
	default:
		return "", ErrNoChanges
	}
}
