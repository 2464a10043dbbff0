// Package photo resolves post photos into repository files.
package photo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"micropub/api/internal/micropub"
	"micropub/api/internal/util"
)

const maxPhotoBytes = 25 << 20

// ErrTooLarge marks a download that exceeds the size limit.
var ErrTooLarge = errors.New("photo exceeds size limit")

// FetchError is a failed download. Only fetch errors are absorbed by the
// resolver; the photo then keeps its original URL.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Site carries the per-site photo settings.
type Site struct {
	URL           string
	ImageDir      string
	FullImageURLs bool
	MaxWidth      int
	Download      bool
}

// Result holds the rewritten photos and the files to commit with the post.
type Result struct {
	Photos []micropub.Photo
	Files  map[string][]byte
}

type Resolver struct {
	client   *http.Client
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
	maxBytes int64
}

func NewResolver(client *http.Client, logger *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, logger: logger, attempts: 3, backoff: 500 * time.Millisecond, maxBytes: maxPhotoBytes}
}

// Resolve downloads or reads every photo that should live in the repository
// and rewrites its URL to the committed path.
func (r *Resolver) Resolve(ctx context.Context, site Site, photos []micropub.Photo) (Result, error) {
	res := Result{Photos: make([]micropub.Photo, 0, len(photos)), Files: make(map[string][]byte)}
	for _, ph := range photos {
		var (
			data     []byte
			filename string
		)
		switch {
		case ph.Upload != nil:
			data = ph.Upload.Data
			filename = uploadName(ph.Upload)
		case r.local(site, ph.URL) || !site.Download:
			res.Photos = append(res.Photos, ph)
			continue
		default:
			fetched, err := r.fetch(ctx, ph.URL)
			var fetchErr *FetchError
			if errors.As(err, &fetchErr) {
				r.logger.Warn("photo download failed, keeping remote url", "url", ph.URL, "error", err)
				res.Photos = append(res.Photos, ph)
				continue
			}
			if err != nil {
				return Result{}, err
			}
			data = fetched
			filename = urlName(ph.URL)
		}

		if site.MaxWidth > 0 {
			data = Downscale(data, site.MaxWidth)
		}
		repoPath := strings.Trim(path.Join(site.ImageDir, filename), "/")
		res.Files[repoPath] = data
		res.Photos = append(res.Photos, micropub.Photo{URL: PublicURL(site, repoPath), Alt: ph.Alt})
	}
	return res, nil
}

// PublicURL is the URL a committed file is served from.
func PublicURL(site Site, repoPath string) string {
	u := "/" + strings.TrimLeft(repoPath, "/")
	if site.FullImageURLs {
		return strings.TrimRight(site.URL, "/") + u
	}
	return u
}

func (r *Resolver) local(site Site, raw string) bool {
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return true
	}
	return site.URL != "" && strings.HasPrefix(raw, strings.TrimRight(site.URL, "/")+"/")
}

func (r *Resolver) fetch(ctx context.Context, raw string) ([]byte, error) {
	var lastErr *FetchError
	for attempt := 1; attempt <= r.attempts; attempt++ {
		data, err := r.get(ctx, raw)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.As(err, &lastErr) {
			return nil, err
		}
		if lastErr.Status != 0 && lastErr.Status < 500 || errors.Is(lastErr, ErrTooLarge) {
			break
		}
		if attempt < r.attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
	}
	return nil, lastErr
}

func (r *Resolver) get(ctx context.Context, raw string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, &FetchError{URL: raw, Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: raw, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{URL: raw, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: raw, Err: err}
	}
	if int64(len(data)) > r.maxBytes {
		return nil, &FetchError{URL: raw, Err: fmt.Errorf("%w of %d bytes", ErrTooLarge, r.maxBytes)}
	}
	return data, nil
}

func uploadName(up *micropub.Upload) string {
	if name := safeName(up.Filename); name != "" {
		return name
	}
	ext := ""
	if exts, _ := mime.ExtensionsByType(up.ContentType); len(exts) > 0 {
		ext = exts[0]
	}
	return util.UnguessableName(ext)
}

func urlName(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	if name := safeName(path.Base(p)); name != "" {
		return name
	}
	return util.UnguessableName(".jpg")
}

func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
