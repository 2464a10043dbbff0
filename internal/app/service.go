package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"micropub/api/internal/auth"
	"micropub/api/internal/config"
	"micropub/api/internal/micropub"
	"micropub/api/internal/photo"
	"micropub/api/internal/rbac"
	"micropub/api/internal/render"
	"micropub/api/internal/store"
	"micropub/api/internal/util"
)

// ErrSiteNotFound is returned for a site name missing from the sites config.
var ErrSiteNotFound = errors.New("site not found")

type sitesSource interface {
	Sites() *config.Sites
}

type mediaStore interface {
	Put(ctx context.Context, bucket, baseURL, key string, data []byte, contentType string) (string, error)
}

type syndicator interface {
	Enqueue(location string, silos []string)
}

// Options wires the service collaborators. Media and Syndicator are optional.
type Options struct {
	Sites      sitesSource
	Remotes    map[string]store.Remote
	Renderer   *render.Renderer
	Photos     *photo.Resolver
	Media      mediaStore
	Syndicator syndicator
	Logger     *slog.Logger
}

// Outcome is the result of a POST: a created entry has a Location.
type Outcome struct {
	Location string
	Created  bool
}

type Service struct {
	sites      sitesSource
	remotes    map[string]store.Remote
	renderer   *render.Renderer
	photos     *photo.Resolver
	media      mediaStore
	syndicator syndicator
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	photos := opts.Photos
	if photos == nil {
		photos = photo.NewResolver(nil, logger)
	}
	return &Service{
		sites:      opts.Sites,
		remotes:    opts.Remotes,
		renderer:   opts.Renderer,
		photos:     photos,
		media:      opts.Media,
		syndicator: opts.Syndicator,
		logger:     logger,
		now:        time.Now,
	}
}

// HasSite reports whether name is configured.
func (s *Service) HasSite(name string) bool {
	_, ok := s.sites.Sites().Site(name)
	return ok
}

func (s *Service) site(name string) (config.Site, store.Remote, error) {
	site, ok := s.sites.Sites().Site(name)
	if !ok {
		return config.Site{}, nil, ErrSiteNotFound
	}
	remote, ok := s.remotes[site.Backend]
	if !ok {
		return config.Site{}, nil, fmt.Errorf("site %q: backend %q is not configured", name, site.Backend)
	}
	return site, remote, nil
}

// Post handles a create or an action for siteName.
func (s *Service) Post(ctx context.Context, siteName string, identity auth.Identity, req *micropub.Request) (Outcome, error) {
	site, remote, err := s.site(siteName)
	if err != nil {
		return Outcome{}, err
	}
	post, err := micropub.Normalize(req, s.now())
	if err != nil {
		return Outcome{}, err
	}
	if post.IsAction() {
		return Outcome{}, s.act(ctx, site, remote, identity, post)
	}
	location, err := s.create(ctx, site, remote, identity, post)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Location: location, Created: true}, nil
}

func (s *Service) create(ctx context.Context, site config.Site, remote store.Remote, identity auth.Identity, post *micropub.Post) (string, error) {
	if err := authorize(identity, rbac.ActionCreate); err != nil {
		return "", err
	}

	resolved, err := s.photos.Resolve(ctx, photo.Site{
		URL:           site.SiteURL,
		ImageDir:      site.ImageDir,
		FullImageURLs: site.FullImageURLs,
		MaxWidth:      site.MaxPhotoWidth,
		Download:      s.sites.Sites().DownloadPhotos,
	}, post.Photos)
	if err != nil {
		return "", fmt.Errorf("resolve photos: %w", err)
	}
	post.Photos = resolved.Photos

	slug, err := micropub.Slug(post)
	if err != nil {
		return "", err
	}
	post.Slug = slug
	permalink, err := micropub.PermalinkFor(post, site.PermalinkStyle)
	if err != nil {
		return "", err
	}
	post.Permalink = permalink
	published, err := micropub.ParsePublished(post.Published)
	if err != nil {
		return "", err
	}

	doc, err := s.renderer.Render(post)
	if err != nil {
		return "", fmt.Errorf("render post: %w", err)
	}
	filename := published.Format("2006-01-02") + "-" + slug + ".md"
	files := resolved.Files
	files["_posts/"+filename] = doc

	committer := store.NewCommitter(remote, s.logger)
	batch := store.Batch{Files: files, Message: commitMessage(post, filename), Branch: site.Branch}
	if _, err := committer.Commit(ctx, site.GitHubRepo, batch, site.CommitRetries); err != nil {
		return "", err
	}

	location := site.SiteURL + permalink
	if s.syndicator != nil && len(post.SyndicateTo) > 0 {
		if silos := s.sites.Sites().Silos(post.SyndicateTo); len(silos) > 0 {
			s.syndicator.Enqueue(location, silos)
		}
	}
	s.logger.Info("post created", "site", site.GitHubRepo, "kind", post.Kind, "location", location)
	return location, nil
}

func (s *Service) act(ctx context.Context, site config.Site, remote store.Remote, identity auth.Identity, post *micropub.Post) error {
	if err := authorize(identity, rbac.Action(post.Action)); err != nil {
		return err
	}
	existing, err := store.NewPosts(remote).Find(ctx, site.GitHubRepo, post.URL)
	if err != nil {
		return err
	}

	var updated *micropub.Post
	switch post.Action {
	case micropub.ActionUpdate:
		updated, err = micropub.Reconcile(existing, post.Update)
	case micropub.ActionDelete:
		updated, err = micropub.DeletePost(existing)
	case micropub.ActionUndelete:
		updated, err = micropub.UndeletePost(existing)
	default:
		err = micropub.InvalidRequest("Unsupported action: " + string(post.Action))
	}
	if err != nil {
		return err
	}

	doc, err := s.renderer.Render(updated)
	if err != nil {
		return fmt.Errorf("render post: %w", err)
	}
	batch := store.Batch{
		Files:   map[string][]byte{existing.Path: doc},
		Message: commitMessage(updated, path.Base(existing.Path)),
		Branch:  site.Branch,
	}
	if _, err := store.NewCommitter(remote, s.logger).Commit(ctx, site.GitHubRepo, batch, site.CommitRetries); err != nil {
		return err
	}
	s.logger.Info("post changed", "site", site.GitHubRepo, "action", updated.Action, "path", existing.Path)
	return nil
}

// UploadMedia stores a media endpoint upload and returns its public URL.
func (s *Service) UploadMedia(ctx context.Context, siteName string, identity auth.Identity, upload *micropub.Upload) (string, error) {
	site, remote, err := s.site(siteName)
	if err != nil {
		return "", err
	}
	if err := authorize(identity, rbac.ActionMedia); err != nil {
		return "", err
	}
	if upload == nil || len(upload.Data) == 0 {
		return "", micropub.InvalidRequest("Missing file")
	}

	name := util.UnguessableName(path.Ext(upload.Filename))
	if site.MediaBucket != "" && s.media != nil {
		location, err := s.media.Put(ctx, site.MediaBucket, site.MediaBaseURL, name, upload.Data, upload.ContentType)
		if err != nil {
			return "", fmt.Errorf("store media: %w", err)
		}
		return location, nil
	}

	repoPath := strings.Trim(path.Join(site.ImageDir, name), "/")
	batch := store.Batch{
		Files:   map[string][]byte{repoPath: upload.Data},
		Message: "New media: " + name,
		Branch:  site.Branch,
	}
	if _, err := store.NewCommitter(remote, s.logger).Commit(ctx, site.GitHubRepo, batch, site.CommitRetries); err != nil {
		return "", err
	}
	return site.SiteURL + "/" + repoPath, nil
}

// Source answers q=source for the post published at postURL.
func (s *Service) Source(ctx context.Context, siteName, postURL string, properties []string) (map[string]any, error) {
	site, remote, err := s.site(siteName)
	if err != nil {
		return nil, err
	}
	if postURL == "" {
		return nil, micropub.InvalidRequest("Missing url")
	}
	post, err := store.NewPosts(remote).Find(ctx, site.GitHubRepo, postURL)
	if err != nil {
		return nil, err
	}
	return post.Source(properties), nil
}

// Config answers q=config across all sites.
func (s *Service) Config(baseURL string) map[string]any {
	sites := s.sites.Sites()
	names := sites.Names()
	destinations := make([]map[string]string, 0, len(names))
	for _, name := range names {
		site, _ := sites.Site(name)
		destinations = append(destinations, map[string]string{"uid": name, "name": site.SiteURL})
	}
	mediaEndpoint := ""
	if len(names) > 0 {
		mediaEndpoint = mediaEndpointFor(baseURL, names[0])
	}
	return map[string]any{
		"media-endpoint": mediaEndpoint,
		"destination":    destinations,
		"post-types":     postTypes(),
		"syndicate-to":   sites.Destinations(),
	}
}

// SiteConfig answers q=config for one site.
func (s *Service) SiteConfig(baseURL, siteName string) map[string]any {
	return map[string]any{
		"media-endpoint": mediaEndpointFor(baseURL, siteName),
		"syndicate-to":   s.sites.Sites().Destinations(),
	}
}

// SyndicateTo answers q=syndicate-to.
func (s *Service) SyndicateTo() map[string]any {
	return map[string]any{"syndicate-to": s.sites.Sites().Destinations()}
}

func mediaEndpointFor(baseURL, siteName string) string {
	return strings.TrimRight(baseURL, "/") + "/micropub/" + siteName + "/media"
}

func postTypes() []map[string]string {
	kinds := []micropub.Kind{
		micropub.KindNote, micropub.KindArticle, micropub.KindReply, micropub.KindRepost,
		micropub.KindBookmark, micropub.KindPhoto, micropub.KindEvent,
	}
	out := make([]map[string]string, 0, len(kinds))
	for _, k := range kinds {
		name := string(k)
		out = append(out, map[string]string{"type": name, "name": strings.ToUpper(name[:1]) + name[1:]})
	}
	return out
}

func authorize(identity auth.Identity, action rbac.Action) error {
	if !rbac.Can(identity.Scopes, action) {
		return micropub.InsufficientScope("")
	}
	return nil
}

// commitMessage is "<Action> <kind>: <filename>"; creates read "New".
func commitMessage(post *micropub.Post, filename string) string {
	verb := "New"
	if post.Action != micropub.ActionNone {
		a := string(post.Action)
		verb = strings.ToUpper(a[:1]) + a[1:]
	}
	kind := post.Kind
	if kind == "" {
		kind = micropub.Classify(post)
	}
	return fmt.Sprintf("%s %s: %s", verb, kind, filename)
}
