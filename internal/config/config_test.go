package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sitesYAML = `
micropub:
  token_endpoint: https://tokens.example.com/token
download_photos: true
syndicate_to:
  twitter:
    uid: https://twitter.com/example
    name: Twitter
  gh:
    uid: https://github.com/example
    name: GitHub
    silo: github
bridgy:
  bridgy_omit_link: maybe
sites:
  testsite:
    github_repo: example/example.github.io
    site_url: https://example.com/
    permalink_style: /:year/:month/:title
    image_dir: /img/
    commit_retries: 2
  local:
    github_repo: notes
    backend: git
    site_url: https://notes.example.com
`

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MICROPUB_ADDR", "")
	t.Setenv("TOKEN_CACHE_TTL_SECONDS", "")
	t.Setenv("MEDIA_S3_USE_SSL", "")

	cfg := Load()
	if cfg.Addr != ":4567" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.TokenCacheTTL != 5*time.Minute {
		t.Fatalf("expected 5m cache ttl, got %s", cfg.TokenCacheTTL)
	}
	if !cfg.MediaUseSSL {
		t.Fatal("expected ssl to default on")
	}
	if cfg.Development() {
		t.Fatal("expected production by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MICROPUB_ADDR", ":9000")
	t.Setenv("MICROPUB_ENV", "development")
	t.Setenv("TOKEN_CACHE_TTL_SECONDS", "60")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("MEDIA_S3_USE_SSL", "false")

	cfg := Load()
	if cfg.Addr != ":9000" || !cfg.Development() {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.TokenCacheTTL != time.Minute {
		t.Fatalf("expected 1m, got %s", cfg.TokenCacheTTL)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("expected fallback timeout, got %s", cfg.HTTPTimeout)
	}
	if cfg.MediaUseSSL {
		t.Fatal("expected ssl off")
	}
}

func TestParseSites(t *testing.T) {
	sites, err := ParseSites([]byte(sitesYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	site, ok := sites.Site("testsite")
	if !ok {
		t.Fatal("testsite missing")
	}
	if site.Backend != BackendGitHub || site.SiteURL != "https://example.com" || site.ImageDir != "img" {
		t.Fatalf("defaults not applied: %+v", site)
	}
	if site.CommitRetries != 2 {
		t.Fatalf("expected retries 2, got %d", site.CommitRetries)
	}
	local, _ := sites.Site("local")
	if local.Backend != BackendGit || local.ImageDir != "images" || local.PermalinkStyle != defaultPermalinkStyle {
		t.Fatalf("defaults not applied: %+v", local)
	}
	if got := strings.Join(sites.Names(), ","); got != "local,testsite" {
		t.Fatalf("unexpected names %q", got)
	}
	if sites.Micropub.TokenEndpoint != "https://tokens.example.com/token" || !sites.DownloadPhotos {
		t.Fatalf("unexpected globals: %+v", sites)
	}
	if sites.Bridgy.OmitLink != "maybe" {
		t.Fatalf("expected bridgy option, got %+v", sites.Bridgy)
	}

	dests := sites.Destinations()
	if len(dests) != 2 || dests[0].Name != "GitHub" || dests[1].Silo != "twitter" {
		t.Fatalf("unexpected destinations: %+v", dests)
	}
	silos := sites.Silos([]string{"https://github.com/example", "https://unknown.example"})
	if len(silos) != 1 || silos[0] != "github" {
		t.Fatalf("unexpected silos: %v", silos)
	}
}

func TestParseSitesJSON(t *testing.T) {
	sites, err := ParseSites([]byte(`{"sites":{"blog":{"github_repo":"a/b","site_url":"https://b.example"}}}`))
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if _, ok := sites.Site("blog"); !ok {
		t.Fatal("blog missing")
	}
}

func TestParseSitesValidation(t *testing.T) {
	cases := map[string]string{
		"no sites":        `micropub: {}`,
		"no repo":         `sites: {a: {site_url: "https://a"}}`,
		"no url":          `sites: {a: {github_repo: a/b}}`,
		"bad backend":     `sites: {a: {github_repo: a/b, site_url: "https://a", backend: svn}}`,
		"negative retry":  `sites: {a: {github_repo: a/b, site_url: "https://a", commit_retries: -1}}`,
		"destination uid": "sites: {a: {github_repo: a/b, site_url: \"https://a\"}}\nsyndicate_to: {t: {name: T}}",
		"invalid yaml":    `sites: [`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseSites([]byte(doc)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestReadSitesPrefersInline(t *testing.T) {
	sites, err := ReadSites(filepath.Join(t.TempDir(), "missing.yml"), `{"sites":{"inline":{"github_repo":"a/b","site_url":"https://i"}}}`)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, ok := sites.Site("inline"); !ok {
		t.Fatal("inline site missing")
	}
}

func TestRegistryReloadKeepsLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeFile(t, path, sitesYAML)

	reg, err := LoadRegistry(path, "", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	writeFile(t, path, "sites: [")
	if err := reg.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if _, ok := reg.Sites().Site("testsite"); !ok {
		t.Fatal("previous config should remain active")
	}
}

func TestRegistryWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeFile(t, path, sitesYAML)

	reg, err := LoadRegistry(path, "", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, "sites: [")
	time.Sleep(300 * time.Millisecond)
	if _, ok := reg.Sites().Site("testsite"); !ok {
		t.Fatal("invalid config must not replace the active one")
	}

	writeFile(t, path, `sites: {fresh: {github_repo: a/b, site_url: "https://fresh.example"}}`)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Sites().Site("fresh"); ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watcher did not reload the config")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
