package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"micropub/api/internal/gitrepo"
)

const sitesDoc = `
sites:
  blog:
    github_repo: example/blog
    site_url: https://blog.example.com
  notes:
    github_repo: notes
    backend: git
    branch: main
    site_url: https://notes.example.com
`

func writeSites(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(sitesDoc), 0o644); err != nil {
		t.Fatalf("write sites: %v", err)
	}
	t.Setenv("SITES_CONFIG", "")
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSitesCommandListsSites(t *testing.T) {
	path := writeSites(t)
	out, err := run(t, "sites", "--sites", path, "--log-level", "error")
	if err != nil {
		t.Fatalf("sites: %v", err)
	}
	for _, want := range []string{"blog", "github", "example/blog", "notes", "git", "https://notes.example.com"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSitesCommandRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("sites: {broken: {}}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SITES_CONFIG", "")
	if _, err := run(t, "sites", "--sites", path); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestInitRepoCreatesGitBackedSite(t *testing.T) {
	path := writeSites(t)
	reposDir := t.TempDir()
	t.Setenv("REPOS_DIR", reposDir)

	if _, err := run(t, "init-repo", "notes", "--sites", path, "--log-level", "error"); err != nil {
		t.Fatalf("init-repo: %v", err)
	}
	branch, err := gitrepo.New(reposDir, "").PublishedBranch(context.Background(), "notes")
	if err != nil {
		t.Fatalf("published branch: %v", err)
	}
	if branch != "main" {
		t.Fatalf("expected main, got %s", branch)
	}

	if _, err := run(t, "init-repo", "blog", "--sites", path); err == nil {
		t.Fatal("expected github backed site to be refused")
	}
	if _, err := run(t, "init-repo", "missing", "--sites", path); err == nil {
		t.Fatal("expected unknown site error")
	}
}
