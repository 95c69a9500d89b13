// Package history keeps a git repository per workspace with one commit per
// synced version of its document.
package history

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"mindnote/api/internal/document"
)

const (
	snapshotFile = "workspace.json"
	branchName   = "main"
)

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

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

// Snapshot commits doc as the workspace's latest version. Binary payloads
// are stored as content hashes. It reports false when nothing changed.
func (s *Service) Snapshot(workspaceID string, doc document.Workspace, author, message string) (Commit, bool, error) {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()
	return s.snapshot(workspaceID, doc, author, message)
}

// SnapshotLatest calls load under the workspace lock and commits its
// result, so commits follow the order the state was read in. A load error
// is returned unchanged and nothing is written.
func (s *Service) SnapshotLatest(workspaceID, author, message string, load func() (document.Workspace, error)) (Commit, bool, error) {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := load()
	if err != nil {
		return Commit{}, false, err
	}
	return s.snapshot(workspaceID, doc, author, message)
}

func (s *Service) snapshot(workspaceID string, doc document.Workspace, author, message string) (Commit, bool, error) {
	payload, err := json.MarshalIndent(snapshotOf(doc), "", "  ")
	if err != nil {
		return Commit{}, false, fmt.Errorf("marshal snapshot: %w", err)
	}
	payload = append(payload, '\n')

	repo, fresh, err := s.openOrInit(workspaceID)
	if err != nil {
		return Commit{}, false, err
	}
	if !fresh {
		head, err := headSnapshot(repo)
		if err != nil {
			return Commit{}, false, err
		}
		if bytes.Equal(head, payload) {
			return Commit{}, false, nil
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, false, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), payload, 0o644); err != nil {
		return Commit{}, false, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Commit{}, false, fmt.Errorf("git add snapshot: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.mindnote.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Commit{}, false, fmt.Errorf("commit snapshot: %w", err)
	}
	if fresh {
		if err := pinMainBranch(repo, hash); err != nil {
			return Commit{}, false, err
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), true, nil
}

// History lists the workspace's commits, newest first. A workspace that was
// never snapshotted has no history.
func (s *Service) History(workspaceID string, limit int) ([]Commit, error) {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(workspaceID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Content returns the snapshot stored at hash.
func (s *Service) Content(workspaceID, hash string) (document.Workspace, error) {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(workspaceID))
	if err != nil {
		return document.Workspace{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return document.Workspace{}, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return document.Workspace{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	raw, err := readSnapshot(commitObj)
	if err != nil {
		return document.Workspace{}, err
	}
	var doc document.Workspace
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document.Workspace{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return doc, nil
}

// Remove deletes the workspace's repository.
func (s *Service) Remove(workspaceID string) error {
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(workspaceID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) openOrInit(workspaceID string) (*git.Repository, bool, error) {
	path := s.repoPath(workspaceID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func pinMainBranch(repo *git.Repository, hash plumbing.Hash) error {
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(branchName), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branchName))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

func headSnapshot(repo *git.Repository) ([]byte, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branchName, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return readSnapshot(commitObj)
}

func readSnapshot(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot bytes: %w", err)
	}
	return raw, nil
}

// snapshotOf returns the canonical form of doc with every binary payload
// replaced by its sha256.
func snapshotOf(doc document.Workspace) document.Workspace {
	out := document.Canonical(doc)
	out.Icon = digest(out.Icon)
	out.Banner = digest(out.Banner)
	out.Elements = digestElements(out.Elements)
	out.WalkPages(func(p *document.Page, _ int) {
		p.Icon = digest(p.Icon)
		p.Elements = digestElements(p.Elements)
	})
	return out
}

func digestElements(in document.Elements) document.Elements {
	for i := range in {
		in[i].Image = digest(in[i].Image)
		in[i].File = digest(in[i].File)
	}
	return in
}

func digest(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (s *Service) repoPath(workspaceID string) string {
	return filepath.Join(s.baseDir, workspaceID)
}

func (s *Service) workspaceLock(workspaceID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[workspaceID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[workspaceID] = lock
	return lock
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
