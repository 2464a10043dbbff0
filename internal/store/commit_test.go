package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"micropub/api/internal/micropub"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestCommitter(remote Remote) (*Committer, *[]time.Duration) {
	slept := []time.Duration{}
	c := NewCommitter(remote, nil)
	c.now = func() time.Time { return epoch }
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

func sampleBatch() Batch {
	return Batch{
		Files: map[string][]byte{
			"_posts/2017-07-02-hello.md": []byte("---\nlayout: note\n---\n\nhi\n"),
			"img/a.jpg":                  []byte("jpeg"),
		},
		Message: "New note: 2017-07-02-hello.md",
	}
}

func TestCommitWritesOneCommit(t *testing.T) {
	remote := newFakeRemote()
	c, slept := newTestCommitter(remote)

	sha, err := c.Commit(context.Background(), "owner/site", sampleBatch(), 0)
	require.NoError(t, err)
	assert.Equal(t, "commit-0", sha)
	assert.Equal(t, "commit-0", remote.head)
	assert.Empty(t, *slept)

	require.Len(t, remote.commits, 1)
	commit := remote.commits[0]
	assert.Equal(t, "New note: 2017-07-02-hello.md", commit.Message)
	assert.Equal(t, []string{"head-0"}, commit.Parents)

	entries := remote.trees[commit.Tree]
	require.Len(t, entries, 2)
	assert.Equal(t, "_posts/2017-07-02-hello.md", entries[0].Path)
	assert.Equal(t, "img/a.jpg", entries[1].Path)
	assert.Equal(t, "100644", entries[0].Mode)
	assert.Equal(t, []byte("jpeg"), remote.blobs[entries[1].SHA])
}

func TestCommitBranchOverride(t *testing.T) {
	remote := newFakeRemote()
	c, _ := newTestCommitter(remote)

	_, err := c.Commit(context.Background(), "owner/site", sampleBatch(), 0)
	require.NoError(t, err)
	batch := sampleBatch()
	batch.Branch = "main"
	_, err = c.Commit(context.Background(), "owner/site", batch, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"gh-pages", "main"}, remote.updated)
	assert.Equal(t, 1, remote.count("PublishedBranch"))
}

func TestCommitMissingRepository(t *testing.T) {
	remote := newFakeRemote()
	remote.exists = false
	c, _ := newTestCommitter(remote)

	_, err := c.Commit(context.Background(), "owner/missing", sampleBatch(), 0)
	code, ok := micropub.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, micropub.CodeInvalidRepo, code)
	assert.Equal(t, 0, remote.count("CreateBlob"))
}

func TestCommitWaitsOutRateLimit(t *testing.T) {
	remote := newFakeRemote()
	limited := 0
	remote.fail = func(method string) error {
		if method == "CreateTree" && limited < 2 {
			limited++
			return &RateLimitError{Reset: epoch.Add(30 * time.Second)}
		}
		return nil
	}
	c, slept := newTestCommitter(remote)

	sha, err := c.Commit(context.Background(), "owner/site", sampleBatch(), 0)
	require.NoError(t, err)
	assert.Equal(t, "commit-0", sha)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, *slept)
	assert.Equal(t, 3, remote.count("RepositoryExists"), "each retry starts from the top")
}

func TestCommitRateLimitHonorsCancellation(t *testing.T) {
	remote := newFakeRemote()
	remote.fail = func(method string) error {
		return &RateLimitError{Reset: epoch.Add(time.Hour)}
	}
	c, _ := newTestCommitter(remote)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Commit(ctx, "owner/site", sampleBatch(), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommitRejectionIsInvalidRepo(t *testing.T) {
	for _, rejection := range []error{ErrUnprocessable, ErrNotFound, ErrRefConflict} {
		t.Run(rejection.Error(), func(t *testing.T) {
			remote := newFakeRemote()
			remote.fail = func(method string) error {
				if method == "UpdateRef" {
					return rejection
				}
				return nil
			}
			c, _ := newTestCommitter(remote)

			_, err := c.Commit(context.Background(), "owner/site", sampleBatch(), 0)
			code, ok := micropub.CodeOf(err)
			require.True(t, ok)
			assert.Equal(t, micropub.CodeInvalidRepo, code)
			assert.ErrorIs(t, err, rejection)
		})
	}
}

func TestCommitRetriesRefConflict(t *testing.T) {
	remote := newFakeRemote()
	conflicts := 0
	remote.fail = func(method string) error {
		if method == "UpdateRef" && conflicts < 1 {
			conflicts++
			return ErrRefConflict
		}
		return nil
	}
	c, _ := newTestCommitter(remote)

	sha, err := c.Commit(context.Background(), "owner/site", sampleBatch(), 2)
	require.NoError(t, err)
	assert.Equal(t, "commit-1", sha)
	assert.Equal(t, 2, remote.count("BranchHead"))
}

func TestCommitPropagatesUnexpectedErrors(t *testing.T) {
	boom := errors.New("connection reset")
	remote := newFakeRemote()
	remote.fail = func(method string) error {
		if method == "CreateBlob" {
			return boom
		}
		return nil
	}
	c, _ := newTestCommitter(remote)

	_, err := c.Commit(context.Background(), "owner/site", sampleBatch(), 0)
	assert.ErrorIs(t, err, boom)
	_, isMicropub := micropub.CodeOf(err)
	assert.False(t, isMicropub)
}
