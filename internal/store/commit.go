package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"micropub/api/internal/micropub"
)

const fileMode = "100644"

// Committer writes batches as a single commit on the published branch.
type Committer struct {
	remote Remote
	logger *slog.Logger
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

func NewCommitter(remote Remote, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{
		remote: remote,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Commit writes every file of batch in one commit and returns its SHA.
// Rate limits wait for the reset and start over. A non-fast-forward ref
// update is retried up to conflictRetries times.
func (c *Committer) Commit(ctx context.Context, repo string, batch Batch, conflictRetries int) (string, error) {
	conflicts := 0
	for {
		sha, err := c.attempt(ctx, repo, batch)
		if err == nil {
			return sha, nil
		}

		var limited *RateLimitError
		switch {
		case errors.As(err, &limited):
			wait := limited.Reset.Sub(c.now())
			if wait < time.Second {
				wait = time.Second
			}
			c.logger.Info("rate limited by remote, waiting", "repo", repo, "wait", wait.String())
			if err := c.sleep(ctx, wait); err != nil {
				return "", err
			}
		case errors.Is(err, ErrRefConflict) && conflicts < conflictRetries:
			conflicts++
			c.logger.Warn("branch moved during commit, retrying", "repo", repo, "attempt", conflicts)
		case errors.Is(err, ErrRefConflict), errors.Is(err, ErrUnprocessable), errors.Is(err, ErrNotFound):
			return "", micropub.InvalidRepo(err)
		default:
			return "", err
		}
	}
}

func (c *Committer) attempt(ctx context.Context, repo string, batch Batch) (string, error) {
	exists, err := c.remote.RepositoryExists(ctx, repo)
	if err != nil {
		return "", fmt.Errorf("check repository: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("repository %s: %w", repo, ErrNotFound)
	}
	branch := batch.Branch
	if branch == "" {
		if branch, err = c.remote.PublishedBranch(ctx, repo); err != nil {
			return "", fmt.Errorf("published branch: %w", err)
		}
	}
	head, err := c.remote.BranchHead(ctx, repo, branch)
	if err != nil {
		return "", fmt.Errorf("branch head %s: %w", branch, err)
	}
	baseTree, err := c.remote.CommitTree(ctx, repo, head)
	if err != nil {
		return "", fmt.Errorf("base tree: %w", err)
	}

	entries := make([]TreeEntry, 0, len(batch.Files))
	for _, path := range slices.Sorted(maps.Keys(batch.Files)) {
		sha, err := c.remote.CreateBlob(ctx, repo, batch.Files[path])
		if err != nil {
			return "", fmt.Errorf("create blob %s: %w", path, err)
		}
		entries = append(entries, TreeEntry{Path: path, Mode: fileMode, SHA: sha})
	}

	tree, err := c.remote.CreateTree(ctx, repo, baseTree, entries)
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}
	commit, err := c.remote.CreateCommit(ctx, repo, batch.Message, tree, []string{head})
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}
	if err := c.remote.UpdateRef(ctx, repo, branch, commit); err != nil {
		return "", fmt.Errorf("update ref %s: %w", branch, err)
	}
	c.logger.Info("committed", "repo", repo, "branch", branch, "commit", commit, "files", len(entries))
	return commit, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
