package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"micropub/api/internal/store"
)

// Service serves bare repositories under baseDir as a store.Remote.
type Service struct {
	baseDir string
	author  string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir, author string) *Service {
	if author == "" {
		author = "Micropub"
	}
	return &Service{
		baseDir: baseDir,
		author:  author,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

var _ store.Remote = (*Service)(nil)

// EnsureRepo creates a bare repository with an empty initial commit on branch.
// An existing repository is left untouched.
func (s *Service) EnsureRepo(repoName, branch string) error {
	repoPath, err := s.repoPath(repoName)
	if err != nil {
		return err
	}
	lock := s.repoLock(repoName)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(repoPath); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(repoPath, true)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	tree, err := storeTree(repo, nil)
	if err != nil {
		return err
	}
	hash, err := s.storeCommit(repo, "Initialize repository", tree, nil)
	if err != nil {
		return err
	}
	branchRef := plumbing.NewBranchReferenceName(branch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, hash)); err != nil {
		return fmt.Errorf("set %s branch ref: %w", branch, err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return nil
}

func (s *Service) RepositoryExists(ctx context.Context, repoName string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	repoPath, err := s.repoPath(repoName)
	if err != nil {
		return false, nil
	}
	if _, err := git.PlainOpen(repoPath); err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return false, nil
		}
		return false, fmt.Errorf("open repo: %w", err)
	}
	return true, nil
}

// PublishedBranch is the branch HEAD points at.
func (s *Service) PublishedBranch(ctx context.Context, repoName string) (string, error) {
	repo, unlock, err := s.open(ctx, repoName)
	if err != nil {
		return "", err
	}
	defer unlock()
	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference {
		return "", fmt.Errorf("HEAD is detached: %w", store.ErrUnprocessable)
	}
	return head.Target().Short(), nil
}

func (s *Service) BranchHead(ctx context.Context, repoName, branch string) (string, error) {
	repo, unlock, err := s.open(ctx, repoName)
	if err != nil {
		return "", err
	}
	defer unlock()
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", fmt.Errorf("resolve branch %s: %w", branch, notFound(err))
	}
	return ref.Hash().String(), nil
}

func (s *Service) CommitTree(ctx context.Context, repoName, commitSHA string) (string, error) {
	repo, unlock, err := s.open(ctx, repoName)
	if err != nil {
		return "", err
	}
	defer unlock()
	commit, err := repo.CommitObject(plumbing.NewHash(commitSHA))
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", commitSHA, notFound(err))
	}
	return commit.TreeHash.String(), nil
}

func (s *Service) CreateBlob(ctx context.Context, repoName string, content []byte) (string, error) {
	repo, unlock, err := s.open(ctx, repoName)
	if err != nil {
		return "", err
	}
	defer unlock()
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return "", fmt.Errorf("open blob writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return hash.String(), nil
}

// CreateTree writes entries over baseTree, creating intermediate directories.
func (s *Service) CreateTree(ctx context.Context, repoName, baseTree string, entries []store.TreeEntry) (string, error) {
	repo, unlock, err := s.open(ctx, repoName)
	if err != nil {
		return "", err
	}
	defer unlock()

	var base *object.Tree
	if baseTree != "" {
		base, err = repo.TreeObject(plumbing.NewHash(baseTree))
		if err != nil {
			return "", fmt.Errorf("read base tree: %w", notFound(err))
		}
	}
	files := make(map[string]object.TreeEntry, len(entries))
	for _, e := range entries {
		clean := strings.Trim(path.Clean("/"+e.Path), "/")
		if clean == "" {
			return "", fmt.Errorf("invalid path %q: %w", e.Path, store.ErrUnprocessable)
		}
		mode, err := filemode.New(e.Mode)
		if err != nil {
			return "", fmt.Errorf("mode %q: %w", e.Mode, store.ErrUnprocessable)
		}
		files[clean] = object.TreeEntry{Mode: mode, Hash: plumbing.NewHash(e.SHA)}
	}
	hash, err := mergeTree(repo, base, files)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (s *Service) CreateCommit(ctx context.Context, repoName, message, tree string, parents []string) (string, error) {
	repo, unlock, err := s.open(ctx, repoName)
	if err != nil {
		return "", err
	}
	defer unlock()
	parentHashes := make([]plumbing.Hash, 0, len(parents))
	for _, p := range parents {
		parentHashes = append(parentHashes, plumbing.NewHash(p))
	}
	hash, err := s.storeCommit(repo, message, plumbing.NewHash(tree), parentHashes)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// UpdateRef moves branch to commitSHA only when the branch head is one of
// the new commit's parents.
func (s *Service) UpdateRef(ctx context.Context, repoName, branch, commitSHA string) error {
	repo, unlock, err := s.open(ctx, repoName)
	if err != nil {
		return err
	}
	defer unlock()

	branchRef := plumbing.NewBranchReferenceName(branch)
	current, err := repo.Reference(branchRef, true)
	if err != nil {
		return fmt.Errorf("resolve branch %s: %w", branch, notFound(err))
	}
	commit, err := repo.CommitObject(plumbing.NewHash(commitSHA))
	if err != nil {
		return fmt.Errorf("read commit %s: %w", commitSHA, store.ErrUnprocessable)
	}
	fastForward := false
	for _, parent := range commit.ParentHashes {
		if parent == current.Hash() {
			fastForward = true
			break
		}
	}
	if !fastForward {
		return fmt.Errorf("%s is not a fast forward of %s: %w", commitSHA, branch, store.ErrRefConflict)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, commit.Hash)); err != nil {
		return fmt.Errorf("set branch ref: %w", err)
	}
	return nil
}

// SearchFilename returns head tree paths whose file name contains filename.
func (s *Service) SearchFilename(ctx context.Context, repoName, filename string) ([]string, error) {
	repo, unlock, err := s.open(ctx, repoName)
	if err != nil {
		return nil, err
	}
	defer unlock()
	tree, err := headTree(repo)
	if err != nil {
		return nil, err
	}
	var matches []string
	err = tree.Files().ForEach(func(f *object.File) error {
		if strings.Contains(path.Base(f.Name), filename) {
			matches = append(matches, f.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk head tree: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

func (s *Service) Contents(ctx context.Context, repoName, filePath string) ([]byte, error) {
	repo, unlock, err := s.open(ctx, repoName)
	if err != nil {
		return nil, err
	}
	defer unlock()
	tree, err := headTree(repo)
	if err != nil {
		return nil, err
	}
	file, err := tree.File(strings.TrimLeft(filePath, "/"))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filePath, notFound(err))
	}
	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}
	return []byte(content), nil
}

func (s *Service) open(ctx context.Context, repoName string) (*git.Repository, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	repoPath, err := s.repoPath(repoName)
	if err != nil {
		return nil, nil, err
	}
	lock := s.repoLock(repoName)
	lock.Lock()
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		lock.Unlock()
		return nil, nil, fmt.Errorf("open repo %s: %w", repoName, notFound(err))
	}
	return repo, lock.Unlock, nil
}

func (s *Service) repoPath(repoName string) (string, error) {
	clean := path.Clean("/" + repoName)
	if clean == "/" || strings.Contains(repoName, "..") {
		return "", fmt.Errorf("invalid repository name %q: %w", repoName, store.ErrNotFound)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *Service) repoLock(repoName string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[repoName]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[repoName] = lock
	return lock
}

func (s *Service) storeCommit(repo *git.Repository, message string, tree plumbing.Hash, parents []plumbing.Hash) (plumbing.Hash, error) {
	sig := object.Signature{
		Name:  s.author,
		Email: fmt.Sprintf("%s@local.micropub", sanitizeEmail(s.author)),
		When:  s.now(),
	}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store commit: %w", err)
	}
	return hash, nil
}

// mergeTree writes files (paths relative to base) over base and returns the
// new tree hash.
func mergeTree(repo *git.Repository, base *object.Tree, files map[string]object.TreeEntry) (plumbing.Hash, error) {
	entries := make(map[string]object.TreeEntry)
	if base != nil {
		for _, e := range base.Entries {
			entries[e.Name] = e
		}
	}
	subdirs := make(map[string]map[string]object.TreeEntry)
	for p, e := range files {
		dir, rest, nested := strings.Cut(p, "/")
		if !nested {
			e.Name = p
			entries[p] = e
			continue
		}
		if subdirs[dir] == nil {
			subdirs[dir] = make(map[string]object.TreeEntry)
		}
		subdirs[dir][rest] = e
	}
	for dir, sub := range subdirs {
		var subBase *object.Tree
		if existing, ok := entries[dir]; ok && existing.Mode == filemode.Dir {
			t, err := repo.TreeObject(existing.Hash)
			if err != nil {
				return plumbing.ZeroHash, fmt.Errorf("read tree %s: %w", dir, err)
			}
			subBase = t
		}
		hash, err := mergeTree(repo, subBase, sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries[dir] = object.TreeEntry{Name: dir, Mode: filemode.Dir, Hash: hash}
	}

	list := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	return storeTree(repo, list)
}

func storeTree(repo *git.Repository, entries []object.TreeEntry) (plumbing.Hash, error) {
	sort.Slice(entries, func(i, j int) bool {
		return treeSortKey(entries[i]) < treeSortKey(entries[j])
	})
	tree := &object.Tree{Entries: entries}
	obj := repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store tree: %w", err)
	}
	return hash, nil
}

// treeSortKey orders entries the way git does: directories sort as if their
// name ended in "/".
func treeSortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func headTree(repo *git.Repository) (*object.Tree, error) {
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", notFound(err))
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load head tree: %w", err)
	}
	return tree, nil
}

func notFound(err error) error {
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound),
		errors.Is(err, plumbing.ErrObjectNotFound),
		errors.Is(err, object.ErrFileNotFound),
		errors.Is(err, object.ErrDirectoryNotFound),
		errors.Is(err, git.ErrRepositoryNotExists):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return err
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
		return "micropub"
	}
	return string(out)
}
