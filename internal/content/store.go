// Package content stores page bodies as git objects, one bare repository per
// wiki. Commits are built from plumbing objects with a fixed signature
// timestamp and a tree entry named after the page's content key, so
// identical inputs on the same page always produce the identical commit id
// while distinct pages never collide: a retried write lands on the same
// object and the store stays idempotent without any recovery log.
package content

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// contentPath is the single tracked path inside a page's tree. Deriving it
// from the content key puts the key into the hashed material, so two pages
// with identical bodies still get distinct commit ids.
func contentPath(contentKey string) string {
	return contentKey + ".ftml"
}

type Store struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitInput describes one content write. Parent is empty for the first
// commit of a page; Delete commits an empty tree in place of a body.
type CommitInput struct {
	ContentKey string
	Parent     string
	Body       string
	Delete     bool
	Message    string
	Author     string
}

// EnsureWikiRepo initializes the bare repository backing a wiki. Calling it
// for an existing wiki is a no-op.
func (s *Store) EnsureWikiRepo(wikiSlug string) error {
	lock := s.wikiLock(wikiSlug)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(wikiSlug)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	if _, err := git.PlainInit(path, true); err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	return nil
}

// Commit writes a page body as a new commit and advances the page's head
// ref. The commit id is computed before the ref moves: if the head already
// points at the computed id the write is a retry and succeeds with the same
// id; if the head differs from Parent the write lost a race and fails with
// ErrConflictingParent.
func (s *Store) Commit(wikiSlug string, input CommitInput) (string, error) {
	lock := s.wikiLock(wikiSlug)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(wikiSlug)
	if err != nil {
		return "", err
	}

	commitHash, err := buildCommit(repo, input)
	if err != nil {
		return "", err
	}

	refName := pageRef(input.ContentKey)
	ref, err := repo.Reference(refName, true)
	switch {
	case err == nil:
		head := ref.Hash()
		if head == commitHash {
			// Identical write already landed; nothing to advance.
			return commitHash.String(), nil
		}
		if head.String() != input.Parent {
			return "", fmt.Errorf("page %s at %s: %w", input.ContentKey, head.String(), ErrConflictingParent)
		}
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		if input.Parent != "" {
			return "", fmt.Errorf("page %s has no history: %w", input.ContentKey, ErrConflictingParent)
		}
	default:
		return "", fmt.Errorf("resolve page ref: %w", err)
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(refName, commitHash)); err != nil {
		return "", fmt.Errorf("advance page ref: %w", err)
	}
	return commitHash.String(), nil
}

// ResetHead points a page's head ref back at a known commit, discarding a
// head advanced by a writer that never finished. The discarded commit object
// stays in the store as a harmless orphan.
func (s *Store) ResetHead(wikiSlug, contentKey, commitID string) error {
	lock := s.wikiLock(wikiSlug)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(wikiSlug)
	if err != nil {
		return err
	}
	ref := plumbing.NewHashReference(pageRef(contentKey), plumbing.NewHash(commitID))
	if err := repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("reset page ref: %w", err)
	}
	return nil
}

// Head returns the current head commit of a page's history. ok is false when
// the page has never been committed.
func (s *Store) Head(wikiSlug, contentKey string) (string, bool, error) {
	lock := s.wikiLock(wikiSlug)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(wikiSlug)
	if err != nil {
		return "", false, err
	}
	ref, err := repo.Reference(pageRef(contentKey), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve page ref: %w", err)
	}
	return ref.Hash().String(), true, nil
}

// Read returns the page body stored at a commit. A delete commit reads back
// as the empty string.
func (s *Store) Read(wikiSlug, commitID string) (string, error) {
	lock := s.wikiLock(wikiSlug)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(wikiSlug)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return "", fmt.Errorf("commit %s: %w", commitID, ErrContentUnavailable)
		}
		return "", fmt.Errorf("read commit %s: %w", commitID, err)
	}

	tree, err := commitObj.Tree()
	if err != nil {
		return "", fmt.Errorf("load tree: %w", err)
	}
	if len(tree.Entries) == 0 {
		// Delete commits carry an empty tree.
		return "", nil
	}
	file, err := tree.TreeEntryFile(&tree.Entries[0])
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", tree.Entries[0].Name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return "", fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read content bytes: %w", err)
	}
	return string(body), nil
}

// Diff returns a unified diff of the page body between two commits.
func (s *Store) Diff(wikiSlug, fromID, toID string) (string, error) {
	lock := s.wikiLock(wikiSlug)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(wikiSlug)
	if err != nil {
		return "", err
	}
	fromTree, err := commitTree(repo, fromID)
	if err != nil {
		return "", err
	}
	toTree, err := commitTree(repo, toID)
	if err != nil {
		return "", err
	}

	patch, err := fromTree.Patch(toTree)
	if err != nil {
		return "", fmt.Errorf("compute patch: %w", err)
	}
	return patch.String(), nil
}

// BlameLine attributes one line of a page body to the commit that last
// changed it.
type BlameLine struct {
	Commit string
	Author string
	Text   string
}

// Blame attributes every line of the body at a commit.
func (s *Store) Blame(wikiSlug, commitID string) ([]BlameLine, error) {
	lock := s.wikiLock(wikiSlug)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(wikiSlug)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("commit %s: %w", commitID, ErrContentUnavailable)
		}
		return nil, fmt.Errorf("read commit %s: %w", commitID, err)
	}

	tree, err := commitObj.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	if len(tree.Entries) == 0 {
		return nil, nil
	}
	path := tree.Entries[0].Name
	result, err := git.Blame(commitObj, path)
	if err != nil {
		return nil, fmt.Errorf("blame %s: %w", path, err)
	}

	lines := make([]BlameLine, 0, len(result.Lines))
	for _, line := range result.Lines {
		lines = append(lines, BlameLine{
			Commit: line.Hash.String(),
			Author: line.AuthorName,
			Text:   line.Text,
		})
	}
	return lines, nil
}

func (s *Store) repoPath(wikiSlug string) string {
	return filepath.Join(s.baseDir, wikiSlug+".git")
}

func (s *Store) open(wikiSlug string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(wikiSlug))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("wiki %s: %w", wikiSlug, ErrContentUnavailable)
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Store) wikiLock(wikiSlug string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[wikiSlug]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[wikiSlug] = lock
	return lock
}

func pageRef(contentKey string) plumbing.ReferenceName {
	return plumbing.ReferenceName("refs/pages/" + contentKey)
}

// buildCommit writes the blob, tree and commit objects for one input.
// Everything that goes into the hash is derived from the input, including
// the zero signature time and the key-named tree entry, so the same input
// reproduces the same id and different pages never share one.
func buildCommit(repo *git.Repository, input CommitInput) (plumbing.Hash, error) {
	var entries []object.TreeEntry
	if !input.Delete {
		blobObj := repo.Storer.NewEncodedObject()
		blobObj.SetType(plumbing.BlobObject)
		writer, err := blobObj.Writer()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("open blob writer: %w", err)
		}
		if _, err := writer.Write([]byte(input.Body)); err != nil {
			writer.Close()
			return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
		}
		if err := writer.Close(); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("close blob writer: %w", err)
		}
		blobHash, err := repo.Storer.SetEncodedObject(blobObj)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("store blob: %w", err)
		}
		entries = append(entries, object.TreeEntry{
			Name: contentPath(input.ContentKey),
			Mode: filemode.Regular,
			Hash: blobHash,
		})
	}

	tree := &object.Tree{Entries: entries}
	treeObj := repo.Storer.NewEncodedObject()
	if err := tree.Encode(treeObj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	treeHash, err := repo.Storer.SetEncodedObject(treeObj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store tree: %w", err)
	}

	signature := object.Signature{
		Name:  input.Author,
		Email: fmt.Sprintf("%s@pages.local", sanitizeEmail(input.Author)),
		When:  time.Unix(0, 0).UTC(),
	}
	commit := &object.Commit{
		Author:    signature,
		Committer: signature,
		Message:   input.Message,
		TreeHash:  treeHash,
	}
	if input.Parent != "" {
		commit.ParentHashes = []plumbing.Hash{plumbing.NewHash(input.Parent)}
	}
	commitObj := repo.Storer.NewEncodedObject()
	if err := commit.Encode(commitObj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	commitHash, err := repo.Storer.SetEncodedObject(commitObj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store commit: %w", err)
	}
	return commitHash, nil
}

func commitTree(repo *git.Repository, commitID string) (*object.Tree, error) {
	commitObj, err := repo.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("commit %s: %w", commitID, ErrContentUnavailable)
		}
		return nil, fmt.Errorf("read commit %s: %w", commitID, err)
	}
	tree, err := commitObj.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	return tree, nil
}

func sanitizeEmail(input string) string {
	runes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			runes = append(runes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			runes = append(runes, '.')
		}
	}
	if len(runes) == 0 {
		return "user"
	}
	return string(runes)
}
