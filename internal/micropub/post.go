package micropub

import (
	"maps"
	"slices"
	"strings"
)

// Kind is the semantic post type that selects a template.
type Kind string

const (
	KindArticle  Kind = "article"
	KindNote     Kind = "note"
	KindReply    Kind = "reply"
	KindRepost   Kind = "repost"
	KindBookmark Kind = "bookmark"
	KindPhoto    Kind = "photo"
	KindEvent    Kind = "event"
	KindCite     Kind = "cite"
	KindDumpAll  Kind = "dump_all"
)

// Kinds lists every kind with a template.
var Kinds = []Kind{KindArticle, KindNote, KindReply, KindRepost, KindBookmark, KindPhoto, KindEvent, KindCite, KindDumpAll}

// Action is a Micropub action verb.
type Action string

const (
	ActionNone     Action = ""
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionUndelete Action = "undelete"
)

// Upload is a file received as a multipart part.
type Upload struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Photo is an attached image. Upload is set for multipart photos until the
// resolver assigns a repository path.
type Photo struct {
	URL    string
	Alt    string
	Upload *Upload
}

// Deletion is the delete operation of an update: bare property names, or
// values to remove from list properties.
type Deletion struct {
	Keys   []string
	Values map[string]Value
}

func (d Deletion) IsZero() bool { return len(d.Keys) == 0 && len(d.Values) == 0 }

// Update holds the operations of an update action.
type Update struct {
	Replace map[string]Value
	Add     map[string]Value
	Delete  Deletion
}

func (u *Update) IsZero() bool {
	return u == nil || (len(u.Replace) == 0 && len(u.Add) == 0 && u.Delete.IsZero())
}

// Post is the canonical record threaded through the publishing pipeline.
type Post struct {
	Type   string
	Kind   Kind
	Action Action

	// URL is the public URL of an existing post; Path its repository path.
	URL  string
	Path string

	Name        string
	Content     string
	Slug        string
	Permalink   string
	Published   string
	Category    []string
	Photos      []Photo
	SyndicateTo []string

	// Extra keeps every property without a dedicated field, including
	// fm_<key> front matter extensions.
	Extra map[string]Value

	Update *Update

	// Properties restricts a q=source answer.
	Properties []string
}

const extensionPrefix = "fm_"

// IsAction reports whether the post describes an action rather than a new entry.
func (p *Post) IsAction() bool { return p.Action != ActionNone }

// Has reports whether key holds a non-empty value.
func (p *Post) Has(key string) bool {
	v, ok := p.Get(key)
	if !ok {
		return false
	}
	for _, s := range v.Strings() {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	for _, item := range v.items {
		if _, ok := item.(map[string]any); ok {
			return true
		}
	}
	return false
}

// Get returns the property named key in mf2 naming.
func (p *Post) Get(key string) (Value, bool) {
	switch key {
	case "name":
		return scalarIfSet(p.Name)
	case "content":
		return scalarIfSet(p.Content)
	case "published":
		return scalarIfSet(p.Published)
	case "slug", "mp-slug":
		return scalarIfSet(p.Slug)
	case "category":
		if len(p.Category) == 0 {
			return Value{}, false
		}
		return Strings(p.Category), true
	case "photo":
		if len(p.Photos) == 0 {
			return Value{}, false
		}
		items := make([]any, 0, len(p.Photos))
		for _, ph := range p.Photos {
			items = append(items, ph.item())
		}
		return ListOf(items...), true
	case "syndicate-to", "mp-syndicate-to":
		if len(p.SyndicateTo) == 0 {
			return Value{}, false
		}
		return Strings(p.SyndicateTo), true
	}
	v, ok := p.Extra[key]
	if !ok || v.IsZero() {
		return Value{}, false
	}
	return v, true
}

// Set assigns key, routing known properties to their typed fields.
func (p *Post) Set(key string, v Value) {
	switch key {
	case "name":
		p.Name = v.String()
	case "content":
		p.Content = contentString(v)
	case "published":
		p.Published = v.String()
	case "slug", "mp-slug":
		p.Slug = v.String()
	case "category":
		p.Category = nonEmpty(v.Strings())
	case "photo":
		p.Photos = photosFrom(v, nil)
	case "syndicate-to", "mp-syndicate-to":
		p.SyndicateTo = nonEmpty(v.Strings())
	default:
		if p.Extra == nil {
			p.Extra = make(map[string]Value)
		}
		p.Extra[key] = v
	}
}

// Delete removes key entirely.
func (p *Post) Delete(key string) {
	switch key {
	case "name":
		p.Name = ""
	case "content":
		p.Content = ""
	case "published":
		p.Published = ""
	case "slug", "mp-slug":
		p.Slug = ""
	case "category":
		p.Category = nil
	case "photo":
		p.Photos = nil
	case "syndicate-to", "mp-syndicate-to":
		p.SyndicateTo = nil
	default:
		delete(p.Extra, key)
	}
}

// Params returns every set property in mf2 naming.
func (p *Post) Params() map[string]Value {
	out := make(map[string]Value, len(p.Extra)+8)
	for _, key := range []string{"name", "content", "published", "slug", "category", "photo", "syndicate-to"} {
		if v, ok := p.Get(key); ok {
			out[key] = v
		}
	}
	for k, v := range p.Extra {
		if !v.IsZero() {
			out[k] = v
		}
	}
	return out
}

// Extensions returns the fm_ extension fields keyed by front matter name,
// sorted by key.
func (p *Post) Extensions() []Field {
	keys := slices.Sorted(maps.Keys(p.Extra))
	out := make([]Field, 0, len(keys))
	for _, k := range keys {
		name, ok := strings.CutPrefix(k, extensionPrefix)
		if !ok || name == "" {
			continue
		}
		out = append(out, Field{Key: name, Value: p.Extra[k]})
	}
	return out
}

// Field is a named value in a stable order.
type Field struct {
	Key   string
	Value Value
}

// Source renders the post as an mf2 JSON object. A non-empty filter keeps
// only those properties and omits the type.
func (p *Post) Source(filter []string) map[string]any {
	params := p.Params()
	props := make(map[string]any, len(params))
	if len(filter) > 0 {
		for _, key := range filter {
			if v, ok := params[key]; ok {
				props[key] = v.Interface()
			}
		}
		return map[string]any{"properties": props}
	}
	for k, v := range params {
		props[k] = v.Interface()
	}
	typ := p.Type
	if typ == "" {
		typ = "entry"
	}
	return map[string]any{
		"type":       []string{"h-" + typ},
		"properties": props,
	}
}

// Clone returns a deep enough copy for the reconciler to mutate.
func (p *Post) Clone() *Post {
	c := *p
	c.Category = slices.Clone(p.Category)
	c.Photos = slices.Clone(p.Photos)
	c.SyndicateTo = slices.Clone(p.SyndicateTo)
	c.Properties = slices.Clone(p.Properties)
	c.Extra = maps.Clone(p.Extra)
	return &c
}

func (ph Photo) item() any {
	if ph.Alt == "" {
		return ph.URL
	}
	return map[string]any{"value": ph.URL, "alt": ph.Alt}
}

func scalarIfSet(s string) (Value, bool) {
	if s == "" {
		return Value{}, false
	}
	return ScalarOf(s), true
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// contentString unwraps {html: ...} objects to their HTML.
func contentString(v Value) string {
	switch item := v.First().(type) {
	case map[string]any:
		if html, ok := item["html"].(string); ok {
			return html
		}
		if text, ok := item["value"].(string); ok {
			return text
		}
		return ""
	default:
		return itemString(item)
	}
}

// photosFrom builds photos from a photo value, zipping alt texts by index.
func photosFrom(v Value, alts []string) []Photo {
	photos := make([]Photo, 0, v.Len())
	for i, item := range v.items {
		ph := Photo{}
		switch it := item.(type) {
		case map[string]any:
			ph.URL = itemString(it["value"])
			if ph.URL == "" {
				ph.URL = itemString(it["url"])
			}
			ph.Alt = itemString(it["alt"])
		default:
			ph.URL = itemString(it)
		}
		if i < len(alts) && alts[i] != "" {
			ph.Alt = alts[i]
		}
		if ph.URL == "" {
			continue
		}
		photos = append(photos, ph)
	}
	return photos
}
