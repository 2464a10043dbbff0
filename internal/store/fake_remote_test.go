package store

import (
	"context"
	"fmt"
	"sync"
)

// fakeRemote is an in-memory Remote; the fail hook injects errors by method.
type fakeRemote struct {
	mu      sync.Mutex
	exists  bool
	branch  string
	head    string
	updated []string
	blobs   map[string][]byte
	trees   map[string][]TreeEntry
	commits []fakeCommit
	files   map[string][]byte
	calls   []string
	fail    func(method string) error
}

type fakeCommit struct {
	SHA     string
	Message string
	Tree    string
	Parents []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		exists: true,
		branch: "gh-pages",
		head:   "head-0",
		blobs:  make(map[string][]byte),
		trees:  make(map[string][]TreeEntry),
		files:  make(map[string][]byte),
	}
}

func (f *fakeRemote) call(method string) error {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return fail(method)
	}
	return nil
}

func (f *fakeRemote) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeRemote) RepositoryExists(ctx context.Context, repo string) (bool, error) {
	if err := f.call("RepositoryExists"); err != nil {
		return false, err
	}
	return f.exists, nil
}

func (f *fakeRemote) PublishedBranch(ctx context.Context, repo string) (string, error) {
	if err := f.call("PublishedBranch"); err != nil {
		return "", err
	}
	return f.branch, nil
}

func (f *fakeRemote) BranchHead(ctx context.Context, repo, branch string) (string, error) {
	if err := f.call("BranchHead"); err != nil {
		return "", err
	}
	return f.head, nil
}

func (f *fakeRemote) CommitTree(ctx context.Context, repo, commitSHA string) (string, error) {
	if err := f.call("CommitTree"); err != nil {
		return "", err
	}
	return "tree-of-" + commitSHA, nil
}

func (f *fakeRemote) CreateBlob(ctx context.Context, repo string, content []byte) (string, error) {
	if err := f.call("CreateBlob"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := fmt.Sprintf("blob-%d", len(f.blobs))
	f.blobs[sha] = content
	return sha, nil
}

func (f *fakeRemote) CreateTree(ctx context.Context, repo, baseTree string, entries []TreeEntry) (string, error) {
	if err := f.call("CreateTree"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := fmt.Sprintf("tree-%d", len(f.trees))
	f.trees[sha] = entries
	return sha, nil
}

func (f *fakeRemote) CreateCommit(ctx context.Context, repo, message, tree string, parents []string) (string, error) {
	if err := f.call("CreateCommit"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := fmt.Sprintf("commit-%d", len(f.commits))
	f.commits = append(f.commits, fakeCommit{SHA: sha, Message: message, Tree: tree, Parents: parents})
	return sha, nil
}

func (f *fakeRemote) UpdateRef(ctx context.Context, repo, branch, commitSHA string) error {
	if err := f.call("UpdateRef"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = commitSHA
	f.updated = append(f.updated, branch)
	return nil
}

func (f *fakeRemote) SearchFilename(ctx context.Context, repo, filename string) ([]string, error) {
	if err := f.call("SearchFilename"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for p := range f.files {
		if containsFold(p, filename) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRemote) Contents(ctx context.Context, repo, path string) ([]byte, error) {
	if err := f.call("Contents"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return nil, ErrNotFound
	}
	return content, nil
}
