package revision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pagewell/engine/internal/audit"
	"pagewell/engine/internal/content"
	"pagewell/engine/internal/lock"
	"pagewell/engine/internal/store"
)

type fakeMeta struct {
	createWikiFn          func(context.Context, string, string, string) (store.Wiki, error)
	getWikiFn             func(context.Context, int64) (store.Wiki, error)
	listWikisFn           func(context.Context) ([]store.Wiki, error)
	getPageFn             func(context.Context, int64) (store.Page, error)
	commitRevisionFn      func(context.Context, store.RevisionDraft) (int64, int64, error)
	headCommitFn          func(context.Context, int64) (string, bool, error)
	getRevisionFn         func(context.Context, int64) (store.Revision, error)
	getRevisionByCommitFn func(context.Context, string) (store.Revision, error)
	listRevisionsFn       func(context.Context, int64) ([]store.Revision, error)
	insertParentLinkFn    func(context.Context, store.ParentLink) error
	deleteParentLinkFn    func(context.Context, int64, int64) error
	ancestorIDsFn         func(context.Context, int64) ([]int64, error)
}

func (f *fakeMeta) CreateWiki(ctx context.Context, slug, name, domain string) (store.Wiki, error) {
	if f.createWikiFn != nil {
		return f.createWikiFn(ctx, slug, name, domain)
	}
	return store.Wiki{ID: 1, Slug: slug, Name: name, Domain: domain}, nil
}
func (f *fakeMeta) GetWiki(ctx context.Context, wikiID int64) (store.Wiki, error) {
	if f.getWikiFn != nil {
		return f.getWikiFn(ctx, wikiID)
	}
	return store.Wiki{ID: wikiID, Slug: "sandbox"}, nil
}
func (f *fakeMeta) ListWikis(ctx context.Context) ([]store.Wiki, error) {
	if f.listWikisFn != nil {
		return f.listWikisFn(ctx)
	}
	return nil, nil
}
func (f *fakeMeta) GetPage(ctx context.Context, pageID int64) (store.Page, error) {
	if f.getPageFn != nil {
		return f.getPageFn(ctx, pageID)
	}
	return store.Page{ID: pageID, WikiID: 1, Slug: "start", Title: "Start", ContentKey: "page_key"}, nil
}
func (f *fakeMeta) CommitRevision(ctx context.Context, draft store.RevisionDraft) (int64, int64, error) {
	if f.commitRevisionFn != nil {
		return f.commitRevisionFn(ctx, draft)
	}
	return 1, 1, nil
}
func (f *fakeMeta) HeadCommit(ctx context.Context, pageID int64) (string, bool, error) {
	if f.headCommitFn != nil {
		return f.headCommitFn(ctx, pageID)
	}
	return strings.Repeat("a", 40), true, nil
}
func (f *fakeMeta) GetRevision(ctx context.Context, revisionID int64) (store.Revision, error) {
	if f.getRevisionFn != nil {
		return f.getRevisionFn(ctx, revisionID)
	}
	return store.Revision{ID: revisionID, PageID: 1, GitCommit: strings.Repeat("a", 40)}, nil
}
func (f *fakeMeta) GetRevisionByCommit(ctx context.Context, gitCommit string) (store.Revision, error) {
	if f.getRevisionByCommitFn != nil {
		return f.getRevisionByCommitFn(ctx, gitCommit)
	}
	return store.Revision{}, store.ErrNotFound
}
func (f *fakeMeta) ListRevisions(ctx context.Context, pageID int64) ([]store.Revision, error) {
	if f.listRevisionsFn != nil {
		return f.listRevisionsFn(ctx, pageID)
	}
	return nil, nil
}
func (f *fakeMeta) InsertParentLink(ctx context.Context, link store.ParentLink) error {
	if f.insertParentLinkFn != nil {
		return f.insertParentLinkFn(ctx, link)
	}
	return nil
}
func (f *fakeMeta) DeleteParentLink(ctx context.Context, pageID, parentPageID int64) error {
	if f.deleteParentLinkFn != nil {
		return f.deleteParentLinkFn(ctx, pageID, parentPageID)
	}
	return nil
}
func (f *fakeMeta) AncestorIDs(ctx context.Context, pageID int64) ([]int64, error) {
	if f.ancestorIDsFn != nil {
		return f.ancestorIDsFn(ctx, pageID)
	}
	return nil, nil
}

type fakeContents struct {
	ensureFn    func(string) error
	commitFn    func(string, content.CommitInput) (string, error)
	headFn      func(string, string) (string, bool, error)
	resetHeadFn func(string, string, string) error
	readFn      func(string, string) (string, error)
	diffFn      func(string, string, string) (string, error)
	blameFn     func(string, string) ([]content.BlameLine, error)
}

func (f *fakeContents) EnsureWikiRepo(wikiSlug string) error {
	if f.ensureFn != nil {
		return f.ensureFn(wikiSlug)
	}
	return nil
}
func (f *fakeContents) Commit(wikiSlug string, input content.CommitInput) (string, error) {
	if f.commitFn != nil {
		return f.commitFn(wikiSlug, input)
	}
	return strings.Repeat("b", 40), nil
}
func (f *fakeContents) Head(wikiSlug, contentKey string) (string, bool, error) {
	if f.headFn != nil {
		return f.headFn(wikiSlug, contentKey)
	}
	return "", false, nil
}
func (f *fakeContents) ResetHead(wikiSlug, contentKey, commitID string) error {
	if f.resetHeadFn != nil {
		return f.resetHeadFn(wikiSlug, contentKey, commitID)
	}
	return nil
}
func (f *fakeContents) Read(wikiSlug, commitID string) (string, error) {
	if f.readFn != nil {
		return f.readFn(wikiSlug, commitID)
	}
	return "stored body\n", nil
}
func (f *fakeContents) Diff(wikiSlug, fromID, toID string) (string, error) {
	if f.diffFn != nil {
		return f.diffFn(wikiSlug, fromID, toID)
	}
	return "", nil
}
func (f *fakeContents) Blame(wikiSlug, commitID string) ([]content.BlameLine, error) {
	if f.blameFn != nil {
		return f.blameFn(wikiSlug, commitID)
	}
	return nil, nil
}

type fakeLocks struct {
	acquireFn func(context.Context, int64, int64) (lock.Lock, error)
	releaseFn func(context.Context, int64, int64) error
	holdsFn   func(context.Context, int64, int64) (bool, error)
}

func (f *fakeLocks) Acquire(ctx context.Context, pageID, userID int64) (lock.Lock, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, pageID, userID)
	}
	return lock.Lock{PageID: pageID, UserID: userID}, nil
}
func (f *fakeLocks) Release(ctx context.Context, pageID, userID int64) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx, pageID, userID)
	}
	return nil
}
func (f *fakeLocks) Holds(ctx context.Context, pageID, userID int64) (bool, error) {
	if f.holdsFn != nil {
		return f.holdsFn(ctx, pageID, userID)
	}
	return true, nil
}

type fakeRecorder struct {
	insertFn func(context.Context, store.AuditEntry) (int64, error)
	entries  []store.AuditEntry
}

func (f *fakeRecorder) InsertAuditEntry(ctx context.Context, entry store.AuditEntry) (int64, error) {
	if f.insertFn != nil {
		return f.insertFn(ctx, entry)
	}
	f.entries = append(f.entries, entry)
	return int64(len(f.entries)), nil
}
func (f *fakeRecorder) ListAuditEntries(context.Context, int64, int) ([]store.AuditEntry, error) {
	return nil, nil
}

func newTestCoordinator(meta *fakeMeta, contents *fakeContents, locks *fakeLocks, recorder *fakeRecorder) *Coordinator {
	if meta == nil {
		meta = &fakeMeta{}
	}
	if contents == nil {
		contents = &fakeContents{}
	}
	if locks == nil {
		locks = &fakeLocks{}
	}
	if recorder == nil {
		recorder = &fakeRecorder{}
	}
	return NewCoordinator(meta, contents, locks, audit.NewLog(recorder), nil, SelfReferenceCheck, zerolog.Nop())
}

func TestEditRequiresLock(t *testing.T) {
	locks := &fakeLocks{
		holdsFn: func(context.Context, int64, int64) (bool, error) { return false, nil },
	}
	c := newTestCoordinator(nil, nil, locks, nil)

	body := "new body\n"
	_, err := c.Edit(context.Background(), EditInput{PageID: 1, UserID: 7, Body: &body})
	if !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked, got %v", err)
	}
}

func TestCreatePageBuildsCreateDraft(t *testing.T) {
	var committed store.RevisionDraft
	meta := &fakeMeta{
		commitRevisionFn: func(_ context.Context, draft store.RevisionDraft) (int64, int64, error) {
			committed = draft
			return 10, 20, nil
		},
	}
	var contentInput content.CommitInput
	contents := &fakeContents{
		commitFn: func(_ string, input content.CommitInput) (string, error) {
			contentInput = input
			return strings.Repeat("c", 40), nil
		},
	}
	recorder := &fakeRecorder{}
	c := newTestCoordinator(meta, contents, nil, recorder)

	result, err := c.CreatePage(context.Background(), CreateInput{
		WikiID:     1,
		UserID:     7,
		Slug:       "start",
		Title:      "Start",
		Tags:       []string{"hub", "admin", "hub"},
		Body:       "welcome\n",
		Message:    "first revision",
		AuthorName: "alice",
	})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	if result.Warning != nil {
		t.Fatalf("unexpected warning: %v", result.Warning)
	}
	if result.PageID != 10 || result.RevisionID != 20 {
		t.Fatalf("result ids = %d/%d", result.PageID, result.RevisionID)
	}
	if result.ChangeType != store.ChangeCreate {
		t.Fatalf("change type = %s", result.ChangeType)
	}

	if contentInput.Parent != "" {
		t.Errorf("create must commit without a parent, got %q", contentInput.Parent)
	}
	if committed.NewPage == nil {
		t.Fatal("draft missing new page")
	}
	if committed.NewPage.ContentKey == "" {
		t.Error("draft missing content key")
	}
	wantTags := []string{"admin", "hub"}
	if len(committed.FoldedTags) != 2 || committed.FoldedTags[0] != wantTags[0] || committed.FoldedTags[1] != wantTags[1] {
		t.Errorf("folded tags = %v, want %v", committed.FoldedTags, wantTags)
	}
	if committed.TagDelta == nil || len(committed.TagDelta.Added) != 2 {
		t.Errorf("tag delta = %+v", committed.TagDelta)
	}
	if len(committed.Authors) != 1 || committed.Authors[0].Type != store.AuthorAuthor {
		t.Errorf("authors = %+v", committed.Authors)
	}

	if len(recorder.entries) != 1 || recorder.entries[0].Type != audit.EntryPageCommit {
		t.Errorf("audit entries = %+v", recorder.entries)
	}
}

func TestEditWithUnchangedTagsIsNoOp(t *testing.T) {
	meta := &fakeMeta{
		getPageFn: func(_ context.Context, pageID int64) (store.Page, error) {
			return store.Page{ID: pageID, WikiID: 1, Tags: []string{"hub"}, ContentKey: "page_key"}, nil
		},
	}
	c := newTestCoordinator(meta, nil, nil, nil)

	tags := []string{"hub"}
	_, err := c.Edit(context.Background(), EditInput{PageID: 1, UserID: 7, Tags: &tags})
	if !errors.Is(err, ErrNoChanges) {
		t.Fatalf("expected ErrNoChanges, got %v", err)
	}
}

func TestEditRetryRecoversCommittedRevision(t *testing.T) {
	commitID := strings.Repeat("d", 40)
	meta := &fakeMeta{
		commitRevisionFn: func(context.Context, store.RevisionDraft) (int64, int64, error) {
			return 0, 0, fmt.Errorf("insert revision: %w", store.ErrConstraintViolation)
		},
		getRevisionByCommitFn: func(_ context.Context, gitCommit string) (store.Revision, error) {
			if gitCommit != commitID {
				return store.Revision{}, store.ErrNotFound
			}
			return store.Revision{ID: 33, PageID: 1, GitCommit: gitCommit}, nil
		},
	}
	contents := &fakeContents{
		commitFn: func(string, content.CommitInput) (string, error) { return commitID, nil },
	}
	c := newTestCoordinator(meta, contents, nil, nil)

	body := "retried body\n"
	result, err := c.Edit(context.Background(), EditInput{PageID: 1, UserID: 7, Body: &body})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if result.RevisionID != 33 {
		t.Fatalf("recovered revision id = %d, want 33", result.RevisionID)
	}
}

func TestEditRepairsOrphanedContentHead(t *testing.T) {
	// A prior writer advanced the page ref and crashed before its metadata
	// transaction, so the content head has no revision row.
	metaHead := strings.Repeat("a", 40)
	orphan := strings.Repeat("f", 40)
	repaired := strings.Repeat("9", 40)

	commits := 0
	var resetTo string
	contents := &fakeContents{
		commitFn: func(_ string, input content.CommitInput) (string, error) {
			commits++
			if commits == 1 {
				return "", fmt.Errorf("page %s at %s: %w", input.ContentKey, orphan, content.ErrConflictingParent)
			}
			return repaired, nil
		},
		headFn: func(string, string) (string, bool, error) {
			return orphan, true, nil
		},
		resetHeadFn: func(_, _, commitID string) error {
			resetTo = commitID
			return nil
		},
	}
	c := newTestCoordinator(nil, contents, nil, nil)

	body := "second attempt\n"
	result, err := c.Edit(context.Background(), EditInput{PageID: 1, UserID: 7, Body: &body})
	if err != nil {
		t.Fatalf("edit must repair the orphaned head, got %v", err)
	}
	if resetTo != metaHead {
		t.Fatalf("head reset to %q, want metadata head %q", resetTo, metaHead)
	}
	if commits != 2 {
		t.Fatalf("content commits = %d, want 2", commits)
	}
	if result.GitCommit != repaired {
		t.Fatalf("result commit = %q, want %q", result.GitCommit, repaired)
	}
}

func TestEditKeepsConflictWhenHeadHasRevision(t *testing.T) {
	// The content head belongs to a committed revision: a genuine lost race,
	// never repaired.
	other := strings.Repeat("f", 40)
	meta := &fakeMeta{
		getRevisionByCommitFn: func(_ context.Context, gitCommit string) (store.Revision, error) {
			if gitCommit == other {
				return store.Revision{ID: 44, PageID: 1, GitCommit: gitCommit}, nil
			}
			return store.Revision{}, store.ErrNotFound
		},
	}
	resets := 0
	contents := &fakeContents{
		commitFn: func(_ string, input content.CommitInput) (string, error) {
			return "", fmt.Errorf("page %s at %s: %w", input.ContentKey, other, content.ErrConflictingParent)
		},
		headFn: func(string, string) (string, bool, error) {
			return other, true, nil
		},
		resetHeadFn: func(string, string, string) error {
			resets++
			return nil
		},
	}
	c := newTestCoordinator(meta, contents, nil, nil)

	body := "stale edit\n"
	_, err := c.Edit(context.Background(), EditInput{PageID: 1, UserID: 7, Body: &body})
	if !errors.Is(err, content.ErrConflictingParent) {
		t.Fatalf("expected ErrConflictingParent, got %v", err)
	}
	if resets != 0 {
		t.Fatal("a real conflict must never reset the head")
	}
}

func TestAuditFailureIsWarningNotError(t *testing.T) {
	recorder := &fakeRecorder{
		insertFn: func(context.Context, store.AuditEntry) (int64, error) {
			return 0, errors.New("audit_log unreachable")
		},
	}
	c := newTestCoordinator(nil, nil, nil, recorder)

	body := "new body\n"
	result, err := c.Edit(context.Background(), EditInput{PageID: 1, UserID: 7, Body: &body})
	if err != nil {
		t.Fatalf("edit must survive audit failure, got %v", err)
	}
	if !errors.Is(result.Warning, ErrAuditWriteFailed) {
		t.Fatalf("expected ErrAuditWriteFailed warning, got %v", result.Warning)
	}
}

func TestDeleteBuildsDeleteCommit(t *testing.T) {
	var contentInput content.CommitInput
	contents := &fakeContents{
		commitFn: func(_ string, input content.CommitInput) (string, error) {
			contentInput = input
			return strings.Repeat("e", 40), nil
		},
	}
	var committed store.RevisionDraft
	meta := &fakeMeta{
		commitRevisionFn: func(_ context.Context, draft store.RevisionDraft) (int64, int64, error) {
			committed = draft
			return 1, 2, nil
		},
	}
	c := newTestCoordinator(meta, contents, nil, nil)

	result, err := c.Delete(context.Background(), 1, 7, "removing page", "alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !contentInput.Delete {
		t.Error("content commit must carry an empty tree")
	}
	if committed.ChangeType != store.ChangeDelete {
		t.Errorf("change type = %s", committed.ChangeType)
	}
	if result.ChangeType != store.ChangeDelete {
		t.Errorf("result change type = %s", result.ChangeType)
	}
}

func TestEditRejectsDeletedPage(t *testing.T) {
	now := time.Now()
	meta := &fakeMeta{
		getPageFn: func(_ context.Context, pageID int64) (store.Page, error) {
			return store.Page{ID: pageID, WikiID: 1, DeletedAt: &now, ContentKey: "page_key"}, nil
		},
	}
	c := newTestCoordinator(meta, nil, nil, nil)

	body := "body\n"
	_, err := c.Edit(context.Background(), EditInput{PageID: 1, UserID: 7, Body: &body})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted page, got %v", err)
	}
}

func TestAddParentLinkRejectsSelfReference(t *testing.T) {
	c := newTestCoordinator(nil, nil, nil, nil)
	err := c.AddParentLink(context.Background(), 5, 5, 7)
	if !errors.Is(err, ErrParentCycle) {
		t.Fatalf("expected ErrParentCycle, got %v", err)
	}
}

func TestAncestryCheckRejectsIndirectCycle(t *testing.T) {
	ancestry := &fakeMeta{
		ancestorIDsFn: func(_ context.Context, pageID int64) ([]int64, error) {
			// parent 3 descends from 2, which descends from 1.
			if pageID == 3 {
				return []int64{2, 1}, nil
			}
			return nil, nil
		},
	}

	err := AncestryCheck(context.Background(), ancestry, 1, 3)
	if !errors.Is(err, ErrParentCycle) {
		t.Fatalf("expected ErrParentCycle, got %v", err)
	}
	if err := AncestryCheck(context.Background(), ancestry, 9, 3); err != nil {
		t.Fatalf("unrelated page must link freely, got %v", err)
	}
}

func TestLockTakeoverIsAudited(t *testing.T) {
	previous := int64(3)
	locks := &fakeLocks{
		acquireFn: func(_ context.Context, pageID, userID int64) (lock.Lock, error) {
			return lock.Lock{PageID: pageID, UserID: userID, TakenFrom: &previous}, nil
		},
	}
	recorder := &fakeRecorder{}
	c := newTestCoordinator(nil, nil, locks, recorder)

	if _, err := c.AcquireLock(context.Background(), 1, 7); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Type != audit.EntryLockTakeover {
		t.Fatalf("audit entries = %+v", recorder.entries)
	}
}
