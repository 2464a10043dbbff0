package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"micropub/api/internal/syndicate"
)

const (
	BackendGitHub = "github"
	BackendGit    = "git"
)

const (
	defaultImageDir       = "images"
	defaultPermalinkStyle = "/:categories/:year/:month/:day/:title"
)

// Destination is a syndication target advertised to clients.
type Destination struct {
	UID  string `yaml:"uid" json:"uid"`
	Name string `yaml:"name" json:"name"`
	// Silo is the Bridgy publish target, e.g. "twitter".
	Silo string `yaml:"silo" json:"-"`
}

// Site is one publishable repository.
type Site struct {
	GitHubRepo     string `yaml:"github_repo"`
	Backend        string `yaml:"backend"`
	Branch         string `yaml:"branch"`
	SiteURL        string `yaml:"site_url"`
	PermalinkStyle string `yaml:"permalink_style"`
	ImageDir       string `yaml:"image_dir"`
	FullImageURLs  bool   `yaml:"full_image_urls"`
	MaxPhotoWidth  int    `yaml:"max_photo_width"`
	CommitRetries  int    `yaml:"commit_retries"`
	MediaBucket    string `yaml:"media_bucket"`
	MediaBaseURL   string `yaml:"media_base_url"`
}

// Sites is the parsed sites file.
type Sites struct {
	Micropub struct {
		TokenEndpoint string `yaml:"token_endpoint"`
	} `yaml:"micropub"`
	DownloadPhotos bool                   `yaml:"download_photos"`
	SyndicateTo    map[string]Destination `yaml:"syndicate_to"`
	Bridgy         syndicate.Options      `yaml:"bridgy"`
	Sites          map[string]Site        `yaml:"sites"`
}

// ParseSites decodes a YAML or JSON sites document and applies defaults.
func ParseSites(data []byte) (*Sites, error) {
	var s Sites
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse sites config: %w", err)
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadSites loads the sites document. inline, when set, wins over the file.
func ReadSites(path, inline string) (*Sites, error) {
	if strings.TrimSpace(inline) != "" {
		return ParseSites([]byte(inline))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites config: %w", err)
	}
	return ParseSites(data)
}

func (s *Sites) normalize() error {
	if len(s.Sites) == 0 {
		return errors.New("sites config: no sites defined")
	}
	var errs []error
	for name, site := range s.Sites {
		if site.Backend == "" {
			site.Backend = BackendGitHub
		}
		if site.ImageDir == "" {
			site.ImageDir = defaultImageDir
		}
		site.ImageDir = strings.Trim(site.ImageDir, "/")
		if site.PermalinkStyle == "" {
			site.PermalinkStyle = defaultPermalinkStyle
		}
		site.SiteURL = strings.TrimRight(site.SiteURL, "/")

		switch {
		case site.GitHubRepo == "":
			errs = append(errs, fmt.Errorf("site %q: github_repo is required", name))
		case site.SiteURL == "":
			errs = append(errs, fmt.Errorf("site %q: site_url is required", name))
		case site.Backend != BackendGitHub && site.Backend != BackendGit:
			errs = append(errs, fmt.Errorf("site %q: unknown backend %q", name, site.Backend))
		case site.CommitRetries < 0 || site.MaxPhotoWidth < 0:
			errs = append(errs, fmt.Errorf("site %q: commit_retries and max_photo_width must not be negative", name))
		}
		s.Sites[name] = site
	}
	for key, dest := range s.SyndicateTo {
		if dest.UID == "" {
			errs = append(errs, fmt.Errorf("syndicate_to %q: uid is required", key))
		}
		if dest.Silo == "" {
			dest.Silo = key
		}
		s.SyndicateTo[key] = dest
	}
	return errors.Join(errs...)
}

// Site looks up a site by name.
func (s *Sites) Site(name string) (Site, bool) {
	site, ok := s.Sites[name]
	return site, ok
}

// Names returns the site names in sorted order.
func (s *Sites) Names() []string {
	return slices.Sorted(maps.Keys(s.Sites))
}

// Destinations returns the syndication targets ordered by key.
func (s *Sites) Destinations() []Destination {
	out := make([]Destination, 0, len(s.SyndicateTo))
	for _, key := range slices.Sorted(maps.Keys(s.SyndicateTo)) {
		out = append(out, s.SyndicateTo[key])
	}
	return out
}

// Silos maps requested destination uids to Bridgy silos. Unknown uids are dropped.
func (s *Sites) Silos(uids []string) []string {
	var silos []string
	for _, uid := range uids {
		for _, dest := range s.Destinations() {
			if dest.UID == uid {
				silos = append(silos, dest.Silo)
				break
			}
		}
	}
	return silos
}
