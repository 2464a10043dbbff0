package render

import (
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"micropub/api/internal/micropub"
)

const published = "2017-07-02 02:56:22 -0700"

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New("")
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return r
}

func samplePosts() map[string]*micropub.Post {
	return map[string]*micropub.Post{
		"note": {
			Type:      "entry",
			Kind:      micropub.KindNote,
			Published: published,
			Category:  []string{"go", "micropub"},
			Permalink: "/2017/07/hello-world",
			Content:   "Hello world",
			Extra:     map[string]micropub.Value{"fm_mood": micropub.ScalarOf("happy")},
		},
		"article": {
			Type:      "entry",
			Kind:      micropub.KindArticle,
			Name:      "Go: a retrospective",
			Published: published,
			Permalink: "/2017/07/go-a-retrospective",
			Photos: []micropub.Photo{
				{URL: "/img/a.jpg"},
				{URL: "https://example.com/b.jpg", Alt: "A cat"},
			},
			Content: "Body text.",
		},
		"reply": {
			Type:      "entry",
			Kind:      micropub.KindReply,
			Published: published,
			Permalink: "/2017/07/agreed",
			Content:   "Agreed!",
			Extra: map[string]micropub.Value{
				"in-reply-to":  micropub.ListOf("https://example.com/original"),
				"fm_published": micropub.ListOf("false"),
			},
		},
		"dump_all": {
			Type:        "card",
			Kind:        micropub.KindDumpAll,
			Published:   published,
			SyndicateTo: []string{"https://brid.gy/publish/mastodon"},
			Extra: map[string]micropub.Value{
				"nickname": micropub.ScalarOf("ed"),
				"rating":   micropub.ScalarOf(5.0),
			},
		},
	}
}

func TestRenderGolden(t *testing.T) {
	r := newRenderer(t)
	g := goldie.New(t)
	for name, post := range samplePosts() {
		t.Run(name, func(t *testing.T) {
			out, err := r.Render(post)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			g.Assert(t, name, out)
		})
	}
}

func TestRenderReadBackRoundTrip(t *testing.T) {
	r := newRenderer(t)
	for _, name := range []string{"note", "reply", "article"} {
		t.Run(name, func(t *testing.T) {
			post := samplePosts()[name]
			out, err := r.Render(post)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			back, err := micropub.DecodeDocument(out)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if back.Kind != post.Kind {
				t.Fatalf("expected kind %s, got %s", post.Kind, back.Kind)
			}
			if back.Published != post.Published || back.Content != post.Content || back.Name != post.Name {
				t.Fatalf("fields changed: %+v", back)
			}
			if !slices.Equal(back.Category, post.Category) {
				t.Fatalf("expected category %v, got %v", post.Category, back.Category)
			}
			if want := path.Base(post.Permalink); back.Slug != want {
				t.Fatalf("expected slug %s, got %s", want, back.Slug)
			}
			again, err := r.Render(back)
			if err != nil {
				t.Fatalf("render again: %v", err)
			}
			if string(again) != string(out) {
				t.Fatalf("round trip changed document:\n%s\n---- vs ----\n%s", out, again)
			}
		})
	}
}

func TestTemplateOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.tmpl"), []byte("custom {{ .Content }}"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	r, err := New(dir)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	out, err := r.Render(&micropub.Post{Kind: micropub.KindNote, Content: "hi"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(out) != "custom hi" {
		t.Fatalf("expected override output, got %q", out)
	}
	out, err = r.Render(&micropub.Post{Kind: micropub.KindArticle, Name: "T", Published: published})
	if err != nil {
		t.Fatalf("render article: %v", err)
	}
	if !strings.HasPrefix(string(out), "---\nlayout: article\n") {
		t.Fatalf("article should use the built-in template")
	}
}

func TestScalarEncoding(t *testing.T) {
	tests := map[string]string{
		"plain":       "plain",
		"false":       "false",
		"False":       `"False"`,
		"yes":         `"yes"`,
		"null":        `"null"`,
		"42":          `"42"`,
		"0x10":        `"0x10"`,
		"0o17":        `"0o17"`,
		".inf":        `".inf"`,
		".NaN":        `".NaN"`,
		"1:20":        `"1:20"`,
		"a: b":        `'a: b'`,
		"#tag":        `'#tag'`,
		"- item":      `'- item'`,
		" padded":     `' padded'`,
		"ends with:":  `'ends with:'`,
		"<b>html</b>": "<b>html</b>",
		"a & b":       "a & b",
	}
	for in, want := range tests {
		got, err := scalar("title", in)
		if err != nil {
			t.Fatalf("scalar(%q): %v", in, err)
		}
		if got != "title: "+want+"\n" {
			t.Errorf("scalar(%q) = %q, want %q", in, got, "title: "+want+"\n")
		}
	}
}

func TestAmbiguousValuesReadBackAsStrings(t *testing.T) {
	r := newRenderer(t)
	values := []string{"0x10", ".inf", "0o17", ".NaN", "1e3", "null", "yes", "2017-07-02", "1:20"}
	post := &micropub.Post{
		Type:      "entry",
		Kind:      micropub.KindArticle,
		Name:      "0x10",
		Published: published,
		Category:  values,
		Permalink: "/2017/07/0x10",
		Content:   "Body",
	}
	out, err := r.Render(post)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	back, err := micropub.DecodeDocument(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Name != "0x10" {
		t.Fatalf("expected title 0x10, got %q", back.Name)
	}
	if !slices.Equal(back.Category, values) {
		t.Fatalf("categories changed:\n%v\n%v\n%s", values, back.Category, out)
	}
}
