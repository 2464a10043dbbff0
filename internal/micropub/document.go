package micropub

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMalformedDocument marks a stored file that cannot be read back as a post.
var ErrMalformedDocument = errors.New("malformed document")

var frontMatter = regexp.MustCompile(`(?ms)\A(---\s*\n.*?\n?)^((---|\.\.\.)\s*$\n?)(.*)`)

// passthroughKeys are front matter keys written under their property name.
var passthroughKeys = map[string]struct{}{
	"in-reply-to": {},
	"repost-of":   {},
	"bookmark-of": {},
	"photo":       {},
}

// DecodeDocument reads a Jekyll style document back into a post. Keys without
// a property mapping become fm_<key> extensions.
func DecodeDocument(doc []byte) (*Post, error) {
	m := frontMatter.FindSubmatch(doc)
	if m == nil {
		return nil, fmt.Errorf("%w: no front matter", ErrMalformedDocument)
	}
	var fields map[string]any
	if err := yaml.Unmarshal(m[1], &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	post := &Post{Type: "entry", Extra: make(map[string]Value)}
	switch layout := itemString(fields["layout"]); layout {
	case "event", "cite":
		post.Type = layout
	}
	delete(fields, "layout")

	for _, key := range slices.Sorted(maps.Keys(fields)) {
		raw := plainValue(fields[key])
		switch key {
		case "title":
			post.Name = itemString(raw)
		case "date":
			post.Published = itemString(raw)
		case "permalink":
			post.Permalink = itemString(raw)
			post.Slug = lastSegment(post.Permalink)
		case "tags":
			post.Category = nonEmpty(valueOf(raw).Strings())
		default:
			name := key
			if _, ok := passthroughKeys[key]; !ok {
				name = extensionPrefix + key
			}
			post.Set(name, valueOf(raw))
		}
	}
	post.Content = strings.TrimSpace(string(m[4]))
	post.Kind = Classify(post)
	return post, nil
}

// plainValue reduces decoded YAML to strings, lists and maps.
func plainValue(raw any) any {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(PublishedLayout)
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, plainValue(item))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = plainValue(item)
		}
		return out
	default:
		return fmt.Sprint(v)
	}
}
