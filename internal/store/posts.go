package store

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"micropub/api/internal/micropub"
)

const notFoundDescription = "The post with the requested URL was not found"

// Posts reads published documents back from a remote.
type Posts struct {
	remote Remote
}

func NewPosts(remote Remote) *Posts {
	return &Posts{remote: remote}
}

// Find locates the document behind a public post URL. The last path segment
// of the URL must identify exactly one file.
func (p *Posts) Find(ctx context.Context, repo, postURL string) (*micropub.Post, error) {
	name := fuzzyFilename(postURL)
	if name == "" {
		return nil, micropub.InvalidRequest(notFoundDescription)
	}
	paths, err := p.remote.SearchFilename(ctx, repo, name)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", name, err)
	}
	paths = narrow(paths, name)
	if len(paths) != 1 {
		return nil, micropub.InvalidRequest(notFoundDescription)
	}

	content, err := p.remote.Contents(ctx, repo, paths[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", paths[0], err)
	}
	post, err := micropub.DecodeDocument(content)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", paths[0], err)
	}
	post.Path = paths[0]
	post.URL = postURL
	return post, nil
}

func fuzzyFilename(postURL string) string {
	p := postURL
	if u, err := url.Parse(postURL); err == nil {
		p = u.Path
	}
	parts := strings.Split(p, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return ""
}

// narrow prefers files named <date>-<name>.<ext> or <name>.<ext> when the
// search matched several.
func narrow(paths []string, name string) []string {
	if len(paths) < 2 {
		return paths
	}
	var exact []string
	for _, p := range paths {
		base := strings.TrimSuffix(path.Base(p), path.Ext(p))
		if base == name || strings.HasSuffix(base, "-"+name) {
			exact = append(exact, p)
		}
	}
	return exact
}
