// Package render turns canonical posts into Jekyll documents.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	"micropub/api/internal/micropub"
)

//go:embed templates/*.tmpl
var builtin embed.FS

// Renderer holds one parsed template per post kind.
type Renderer struct {
	templates map[micropub.Kind]*template.Template
}

// New parses the built-in templates. A template named <kind>.tmpl in dir
// replaces the built-in one for that kind.
func New(dir string) (*Renderer, error) {
	r := &Renderer{templates: make(map[micropub.Kind]*template.Template, len(micropub.Kinds))}
	for _, kind := range micropub.Kinds {
		name := string(kind) + ".tmpl"
		src, err := readTemplate(dir, name)
		if err != nil {
			return nil, err
		}
		tmpl, err := template.New(name).Funcs(funcs).Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[kind] = tmpl
	}
	return r, nil
}

func readTemplate(dir, name string) ([]byte, error) {
	if dir != "" {
		src, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return src, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
	}
	return builtin.ReadFile("templates/" + name)
}

// Render executes the template for the post's kind.
func (r *Renderer) Render(p *micropub.Post) ([]byte, error) {
	kind := p.Kind
	if kind == "" {
		kind = micropub.Classify(p)
	}
	tmpl, ok := r.templates[kind]
	if !ok {
		return nil, fmt.Errorf("no template for kind %q", kind)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("render %s: %w", kind, err)
	}
	return buf.Bytes(), nil
}

var funcs = template.FuncMap{
	"scalar":     scalar,
	"list":       list,
	"field":      field,
	"photos":     photos,
	"value":      value,
	"extensions": extensions,
	"extras":     extras,
}

func value(p *micropub.Post, key string) micropub.Value {
	v, _ := p.Get(key)
	return v
}

func extensions(p *micropub.Post) (string, error) {
	var b strings.Builder
	for _, f := range p.Extensions() {
		out, err := field(f.Key, f.Value)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

// extras writes every unmapped property that is not an fm_ extension.
func extras(p *micropub.Post) (string, error) {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(p.Extra)) {
		if strings.HasPrefix(k, "fm_") {
			continue
		}
		out, err := field(k, p.Extra[k])
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}
