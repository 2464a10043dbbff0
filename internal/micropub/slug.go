package micropub

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	htmlTags       = regexp.MustCompile(`<[^>]*>`)
	punctuation    = regexp.MustCompile(`[^\w\s-]`)
	slugNonWord    = regexp.MustCompile(`[^a-z0-9_\s\p{Zs}-]`)
	slugSeparators = regexp.MustCompile(`[\s\p{Zs}-]+`)
	lineBreak      = regexp.MustCompile(`\r?\n`)
	permalinkToken = regexp.MustCompile(`:[a-z_]+`)
)

var publishedLayouts = []string{
	time.RFC3339,
	PublishedLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParsePublished parses a published timestamp in any accepted layout.
func ParsePublished(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, InvalidRequest(fmt.Sprintf("Invalid published date %q", s))
}

// Slugify folds accents, lowercases and joins the remaining words with hyphens.
func Slugify(s string) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	s = slugNonWord.ReplaceAllString(s, "")
	s = slugSeparators.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Slug picks the first usable candidate: mp-slug, title, name, the opening
// words of the content, then the second of the day the post was published.
func Slug(p *Post) (string, error) {
	if p.Slug != "" {
		if s := Slugify(lastSegment(p.Slug)); s != "" {
			return s, nil
		}
	}
	if title, ok := p.Extra["title"]; ok {
		if s := Slugify(punctuation.ReplaceAllString(title.String(), "")); s != "" {
			return s, nil
		}
	}
	if p.Name != "" {
		if s := Slugify(p.Name); s != "" {
			return s, nil
		}
	}
	if p.Content != "" {
		if s := Slugify(contentWords(p.Content, 5)); s != "" {
			return s, nil
		}
	}
	published, err := ParsePublished(p.Published)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(published.Unix()%86400, 10), nil
}

func contentWords(content string, n int) string {
	plain := StripHashtags(htmlTags.ReplaceAllString(content, ""))
	first := lineBreak.Split(plain, 2)[0]
	words := strings.Fields(punctuation.ReplaceAllString(first, ""))
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func lastSegment(path string) string {
	parts := strings.Split(path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return ""
}

// PermalinkFor expands a permalink style such as "/:year/:month/:title".
// Unknown tokens expand to nothing.
func PermalinkFor(p *Post, style string) (string, error) {
	published, err := ParsePublished(p.Published)
	if err != nil {
		return "", err
	}
	slug, err := Slug(p)
	if err != nil {
		return "", err
	}
	tokens := map[string]string{
		":year":       published.Format("2006"),
		":month":      published.Format("01"),
		":i_month":    strconv.Itoa(int(published.Month())),
		":day":        published.Format("02"),
		":i_day":      strconv.Itoa(published.Day()),
		":short_year": published.Format("06"),
		":hour":       published.Format("15"),
		":minute":     published.Format("04"),
		":second":     published.Format("05"),
		":title":      slug,
		":categories": "",
	}
	out := permalinkToken.ReplaceAllStringFunc(style, func(tok string) string {
		return tokens[tok]
	})
	for strings.Contains(out, "//") {
		out = strings.ReplaceAll(out, "//", "/")
	}
	return out, nil
}
