// Package gitmirror maintains a local git repository per document,
// with one commit per archived revision. The mirror is derived state:
// it can always be rebuilt from the revision archive.
package gitmirror

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"folio/api/internal/revision"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const contentFile = "content.md"

// revisionTrailer marks the archived revision a commit mirrors. It is
// the last line of every commit message so re-mirroring can tell which
// revisions are already present.
const revisionTrailer = "Revision-ID: "

// ErrNotMirrored reports that a document has no mirror repository yet.
var ErrNotMirrored = errors.New("document not mirrored")

// Commit describes one mirrored revision in a document's git log.
type Commit struct {
	Hash       string    `json:"hash"`
	RevisionID string    `json:"revisionId"`
	Author     string    `json:"author"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Service mirrors document histories into per-document git repositories
// under baseDir. Operations on the same document serialize on a
// per-document lock; different documents proceed concurrently.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Mirror brings the document's repository up to date with the given
// assembled history (newest first, as the assembler produces it) and
// returns the commits created by this call, oldest first. Revisions
// already mirrored are skipped, so Mirror is idempotent.
func (s *Service) Mirror(documentID string, history []revision.Revision) ([]Commit, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(documentID)
	if err != nil {
		return nil, err
	}

	mirrored, err := mirroredRevisionIDs(repo)
	if err != nil {
		return nil, err
	}

	var created []Commit
	for idx := len(history) - 1; idx >= 0; idx-- {
		rev := history[idx]
		if mirrored[rev.ID] {
			continue
		}
		commit, err := s.commitRevision(repo, rev)
		if err != nil {
			return nil, err
		}
		created = append(created, commit)
	}
	return created, nil
}

// Log returns the document's mirrored commit log, newest first.
func (s *Service) Log(documentID string, limit int) ([]Commit, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotMirrored, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("open mirror repo: %w", err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Initialized but never committed to; the log is empty.
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve mirror head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read mirror log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate mirror log: %w", err)
	}
	return items, nil
}

func (s *Service) openOrInit(documentID string) (*git.Repository, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open mirror repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create mirror dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init mirror repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) commitRevision(repo *git.Repository, rev revision.Revision) (Commit, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	content := rev.Content
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), []byte(content), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return Commit{}, fmt.Errorf("git add content: %w", err)
	}

	subject := rev.Title
	if subject == "" {
		subject = "Revision"
	}
	message := fmt.Sprintf("%s\n\n%s%s", subject, revisionTrailer, rev.ID)

	hash, err := worktree.Commit(message, &git.CommitOptions{
		// Consecutive revisions can carry identical content; the
		// commit still has to land so the log stays complete.
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  rev.AuthorID,
			Email: fmt.Sprintf("%s@local.folio.dev", sanitizeEmail(rev.AuthorID)),
			When:  rev.CreatedAt,
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit revision %s: %w", rev.ID, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// mirroredRevisionIDs walks the existing log and collects the revision
// ids recorded in commit trailers.
func mirroredRevisionIDs(repo *git.Repository) (map[string]bool, error) {
	ids := make(map[string]bool)

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return ids, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve mirror head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read mirror log: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(commitObj *object.Commit) error {
		if id := revisionIDFromMessage(commitObj.Message); id != "" {
			ids[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate mirror log: %w", err)
	}
	return ids, nil
}

func revisionIDFromMessage(message string) string {
	for _, line := range strings.Split(message, "\n") {
		if strings.HasPrefix(line, revisionTrailer) {
			return strings.TrimSpace(strings.TrimPrefix(line, revisionTrailer))
		}
	}
	return ""
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:       commitObj.Hash.String()[:7],
		RevisionID: revisionIDFromMessage(commitObj.Message),
		Author:     commitObj.Author.Name,
		Message:    commitObj.Message,
		CreatedAt:  commitObj.Author.When,
	}
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
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
