package micropub

import (
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PublishedLayout is the timestamp layout written to front matter.
const PublishedLayout = "2006-01-02 15:04:05 -0700"

var (
	hashtagPattern = regexp.MustCompile(`\B#(\w+)`)
	spaceRuns      = regexp.MustCompile(` {2,}`)
	// looseHeading accepts "#Title", which CommonMark does not treat as a heading.
	looseHeading = regexp.MustCompile(`^#+([^#\s].*)$`)
)

var creationMarkers = []string{"content", "name", "photo", "in-reply-to", "repost-of", "bookmark-of"}

// Normalize turns a decoded request into a canonical post. now supplies the
// default published time of new entries.
func Normalize(req *Request, now time.Time) (*Post, error) {
	if req == nil {
		return nil, InvalidRequest("Empty request")
	}
	props := make(map[string]Value, len(req.Properties))
	for k, v := range req.Properties {
		if _, skip := internalKeys[k]; skip {
			continue
		}
		props[strings.TrimSuffix(k, "[]")] = v
	}

	typ := req.Type
	if h, ok := props["h"]; ok {
		if typ == "" {
			typ = strings.TrimPrefix(h.String(), "h-")
		}
		delete(props, "h")
	}

	if req.Action == "" && typ == "" && len(props) == 0 && len(req.Uploads) == 0 {
		return nil, InvalidRequest("Empty request")
	}

	if req.Action != "" {
		return normalizeAction(req, typ, props)
	}

	if typ == "" && !hasCreationMarker(props, req.Uploads) {
		return nil, InvalidRequest("Request is neither a new entry nor an action")
	}

	post := fromProperties(props, req.Uploads)
	post.Type = typ
	if post.Type == "" {
		post.Type = "entry"
	}

	if len(post.Category) == 0 && post.Content != "" {
		if tags := ParseHashtags(post.Content); len(tags) > 0 {
			post.Category = tags
			post.Content = StripHashtags(post.Content)
		}
	}
	if post.Name == "" && post.Content != "" {
		if title, rest, ok := extractHeading(post.Content); ok {
			post.Name = title
			post.Content = rest
		}
	}

	post.Kind = Classify(post)
	if post.Published == "" {
		post.Published = now.Format(PublishedLayout)
	}
	return post, nil
}

func normalizeAction(req *Request, typ string, props map[string]Value) (*Post, error) {
	action := Action(req.Action)
	switch action {
	case ActionUpdate:
		if req.Update.IsZero() {
			return nil, InvalidRequest("Update requires add, replace or delete")
		}
	case ActionDelete, ActionUndelete:
	default:
		return nil, InvalidRequest("Unsupported action: " + req.Action)
	}
	if req.URL == "" {
		return nil, InvalidRequest("Action requires a url")
	}
	post := fromProperties(props, nil)
	post.Type = typ
	post.Action = action
	post.URL = req.URL
	post.Update = req.Update
	return post, nil
}

func hasCreationMarker(props map[string]Value, uploads []Upload) bool {
	if len(uploads) > 0 {
		return true
	}
	for _, key := range creationMarkers {
		if _, ok := props[key]; ok {
			return true
		}
	}
	return false
}

// fromProperties maps a flat property map onto the typed post fields.
func fromProperties(props map[string]Value, uploads []Upload) *Post {
	post := &Post{}
	var alts []string
	if v, ok := props["mp-photo-alt"]; ok {
		alts = v.Strings()
	}
	for k, v := range props {
		switch k {
		case "mp-photo-alt", "photo":
		case "syndicate-to", "mp-syndicate-to":
			post.SyndicateTo = append(post.SyndicateTo, nonEmpty(v.Strings())...)
		case "properties":
			post.Properties = nonEmpty(v.Strings())
		default:
			post.Set(k, v)
		}
	}

	if v, ok := props["photo"]; ok {
		post.Photos = photosFrom(v, alts)
	}
	for i := range uploads {
		up := uploads[i]
		ph := Photo{Upload: &up}
		if idx := len(post.Photos); idx < len(alts) {
			ph.Alt = alts[idx]
		}
		post.Photos = append(post.Photos, ph)
	}
	return post
}

// ParseHashtags returns the #tags found in content, in order.
func ParseHashtags(content string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(content, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}

// StripHashtags removes #tags and squeezes the spaces they leave behind.
func StripHashtags(content string) string {
	stripped := hashtagPattern.ReplaceAllString(content, "")
	return strings.TrimSpace(spaceRuns.ReplaceAllString(stripped, " "))
}

// extractHeading returns the text of a leading heading and the content
// that follows it. The space after the hashes is optional.
func extractHeading(content string) (title, rest string, ok bool) {
	lines := strings.SplitAfter(content, "\n")
	idx := 0
	for idx < len(lines) && strings.TrimSpace(lines[idx]) == "" {
		idx++
	}
	// Setext headings span two lines and are left alone.
	if idx == len(lines) || !strings.HasPrefix(strings.TrimLeft(lines[idx], " "), "#") {
		return "", "", false
	}

	src := []byte(content)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))
	if heading, isHeading := doc.FirstChild().(*ast.Heading); isHeading && heading.Lines().Len() > 0 {
		seg := heading.Lines().At(0)
		title = strings.TrimSpace(string(seg.Value(src)))
	} else if m := looseHeading.FindStringSubmatch(strings.TrimRight(lines[idx], "\r\n")); m != nil {
		title = strings.TrimSpace(m[1])
	}
	if title == "" {
		return "", "", false
	}
	rest = strings.TrimLeft(strings.Join(lines[idx+1:], ""), "\r\n")
	return title, rest, true
}
