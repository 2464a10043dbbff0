// Package github implements store.Remote over the GitHub REST API.
package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"micropub/api/internal/store"
)

const DefaultBaseURL = "https://api.github.com"

type Client struct {
	api *gh.Client
}

// New builds a client for baseURL, which may point at a GitHub Enterprise or
// test server.
func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	api := gh.NewClient(httpClient)
	if token != "" {
		api = api.WithAuthToken(token)
	}
	if base := strings.TrimRight(baseURL, "/"); base != "" && base != DefaultBaseURL {
		u, err := url.Parse(base + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		api.BaseURL = u
	}
	return &Client{api: api}, nil
}

var _ store.Remote = (*Client)(nil)

func (c *Client) RepositoryExists(ctx context.Context, repo string) (bool, error) {
	owner, name, ok := splitRepo(repo)
	if !ok {
		return false, nil
	}
	_, _, err := c.api.Repositories.Get(ctx, owner, name)
	err = mapError(err)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// PublishedBranch returns the GitHub Pages source branch, or the default
// branch when Pages is not configured.
func (c *Client) PublishedBranch(ctx context.Context, repo string) (string, error) {
	owner, name, err := mustSplit(repo)
	if err != nil {
		return "", err
	}
	pages, _, err := c.api.Repositories.GetPagesInfo(ctx, owner, name)
	if err = mapError(err); err == nil {
		if branch := pages.GetSource().GetBranch(); branch != "" {
			return branch, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	info, _, err := c.api.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", mapError(err)
	}
	if info.GetDefaultBranch() == "" {
		return "", fmt.Errorf("repository %s has no default branch: %w", repo, store.ErrNotFound)
	}
	return info.GetDefaultBranch(), nil
}

func (c *Client) BranchHead(ctx context.Context, repo, branch string) (string, error) {
	owner, name, err := mustSplit(repo)
	if err != nil {
		return "", err
	}
	ref, _, err := c.api.Git.GetRef(ctx, owner, name, "heads/"+branch)
	if err != nil {
		return "", mapError(err)
	}
	return ref.GetObject().GetSHA(), nil
}

func (c *Client) CommitTree(ctx context.Context, repo, commitSHA string) (string, error) {
	owner, name, err := mustSplit(repo)
	if err != nil {
		return "", err
	}
	commit, _, err := c.api.Git.GetCommit(ctx, owner, name, commitSHA)
	if err != nil {
		return "", mapError(err)
	}
	return commit.GetTree().GetSHA(), nil
}

func (c *Client) CreateBlob(ctx context.Context, repo string, content []byte) (string, error) {
	owner, name, err := mustSplit(repo)
	if err != nil {
		return "", err
	}
	blob, _, err := c.api.Git.CreateBlob(ctx, owner, name, &gh.Blob{
		Content:  gh.String(base64.StdEncoding.EncodeToString(content)),
		Encoding: gh.String("base64"),
	})
	if err != nil {
		return "", mapError(err)
	}
	return blob.GetSHA(), nil
}

func (c *Client) CreateTree(ctx context.Context, repo, baseTree string, entries []store.TreeEntry) (string, error) {
	owner, name, err := mustSplit(repo)
	if err != nil {
		return "", err
	}
	tree := make([]*gh.TreeEntry, 0, len(entries))
	for _, e := range entries {
		tree = append(tree, &gh.TreeEntry{
			Path: gh.String(e.Path),
			Mode: gh.String(e.Mode),
			Type: gh.String("blob"),
			SHA:  gh.String(e.SHA),
		})
	}
	out, _, err := c.api.Git.CreateTree(ctx, owner, name, baseTree, tree)
	if err != nil {
		return "", mapError(err)
	}
	return out.GetSHA(), nil
}

func (c *Client) CreateCommit(ctx context.Context, repo, message, tree string, parents []string) (string, error) {
	owner, name, err := mustSplit(repo)
	if err != nil {
		return "", err
	}
	commit := &gh.Commit{Message: gh.String(message), Tree: &gh.Tree{SHA: gh.String(tree)}}
	for _, p := range parents {
		commit.Parents = append(commit.Parents, &gh.Commit{SHA: gh.String(p)})
	}
	out, _, err := c.api.Git.CreateCommit(ctx, owner, name, commit, nil)
	if err != nil {
		return "", mapError(err)
	}
	return out.GetSHA(), nil
}

// UpdateRef moves the branch without forcing; a rejected update is a
// store.ErrRefConflict.
func (c *Client) UpdateRef(ctx context.Context, repo, branch, commitSHA string) error {
	owner, name, err := mustSplit(repo)
	if err != nil {
		return err
	}
	_, _, err = c.api.Git.UpdateRef(ctx, owner, name, &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.String(commitSHA)},
	}, false)
	err = mapError(err)
	if errors.Is(err, store.ErrUnprocessable) {
		return fmt.Errorf("%w: %v", store.ErrRefConflict, err)
	}
	return err
}

func (c *Client) SearchFilename(ctx context.Context, repo, filename string) ([]string, error) {
	result, _, err := c.api.Search.Code(ctx, "filename:"+filename+" repo:"+repo, nil)
	if err != nil {
		return nil, mapError(err)
	}
	paths := make([]string, 0, len(result.CodeResults))
	for _, item := range result.CodeResults {
		paths = append(paths, item.GetPath())
	}
	return paths, nil
}

func (c *Client) Contents(ctx context.Context, repo, path string) ([]byte, error) {
	owner, name, err := mustSplit(repo)
	if err != nil {
		return nil, err
	}
	file, _, _, err := c.api.Repositories.GetContents(ctx, owner, name, strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return nil, mapError(err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is a directory: %w", path, store.ErrNotFound)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode contents of %s: %w", path, err)
	}
	return []byte(content), nil
}

func splitRepo(repo string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}

func mustSplit(repo string) (string, string, error) {
	owner, name, ok := splitRepo(repo)
	if !ok {
		return "", "", fmt.Errorf("repository %q is not owner/name: %w", repo, store.ErrNotFound)
	}
	return owner, name, nil
}

// mapError translates go-github errors into the store error vocabulary.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var limited *gh.RateLimitError
	if errors.As(err, &limited) {
		return &store.RateLimitError{Reset: limited.Rate.Reset.Time}
	}
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		wait := time.Minute
		if abuse.RetryAfter != nil {
			wait = *abuse.RetryAfter
		}
		return &store.RateLimitError{Reset: time.Now().Add(wait)}
	}
	var resp *gh.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil {
		switch resp.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", store.ErrNotFound, resp.Message)
		case http.StatusUnprocessableEntity, http.StatusConflict:
			return fmt.Errorf("%w: %s", store.ErrUnprocessable, resp.Message)
		}
	}
	return fmt.Errorf("github: %w", err)
}
