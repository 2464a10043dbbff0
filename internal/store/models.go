package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnprocessable = errors.New("unprocessable")
	// ErrRefConflict is returned when a ref update is not a fast-forward.
	ErrRefConflict = errors.New("ref update conflict")
)

// RateLimitError is a transient refusal; the call may be retried after Reset.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.Reset.Format(time.RFC3339))
}

// TreeEntry is one file of a new tree.
type TreeEntry struct {
	Path string
	Mode string
	SHA  string
}

// Batch is the set of files written by one commit. An empty Branch commits
// to the remote's published branch.
type Batch struct {
	Files   map[string][]byte
	Message string
	Branch  string
}

// Remote is a content-addressed repository host. Every method may return a
// *RateLimitError.
type Remote interface {
	RepositoryExists(ctx context.Context, repo string) (bool, error)
	PublishedBranch(ctx context.Context, repo string) (string, error)
	BranchHead(ctx context.Context, repo, branch string) (string, error)
	CommitTree(ctx context.Context, repo, commitSHA string) (string, error)
	CreateBlob(ctx context.Context, repo string, content []byte) (string, error)
	CreateTree(ctx context.Context, repo, baseTree string, entries []TreeEntry) (string, error)
	CreateCommit(ctx context.Context, repo, message, tree string, parents []string) (string, error)
	UpdateRef(ctx context.Context, repo, branch, commitSHA string) error
	SearchFilename(ctx context.Context, repo, filename string) ([]string, error)
	Contents(ctx context.Context, repo, path string) ([]byte, error)
}
