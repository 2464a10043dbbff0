package render

import (
	"bytes"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"micropub/api/internal/micropub"
)

// sexagesimal matches YAML 1.1 base 60 numbers such as 1:20.
var sexagesimal = regexp.MustCompile(`^[-+]?[0-9][0-9_]*(:[0-5]?[0-9])+(\.[0-9_]*)?$`)

// fragment encodes a single key/value pair as block front matter lines.
func fragment(key string, value *yaml.Node) (string, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{keyNode(key), value}}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	return buf.String(), nil
}

func keyNode(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
}

// strNode tags s as a string so the encoder quotes anything that would read
// back as another type. "true" and "false" stay booleans, which Jekyll needs
// for published: false. Words only YAML 1.1 readers treat as booleans or
// numbers are quoted as well.
func strNode(s string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	switch {
	case s == "true" || s == "false":
		n.Tag = "!!bool"
	case yaml11Only(s):
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}

func yaml11Only(s string) bool {
	switch strings.ToLower(s) {
	case "y", "yes", "n", "no", "on", "off":
		return true
	}
	return sexagesimal.MatchString(s)
}

func itemNode(v any) *yaml.Node {
	switch it := v.(type) {
	case nil:
		return strNode("")
	case string:
		return strNode(it)
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(it)}
	case float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: strconv.FormatFloat(it, 'f', -1, 64)}
	case []any:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range it {
			seq.Content = append(seq.Content, itemNode(item))
		}
		return seq
	case map[string]any:
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range slices.Sorted(maps.Keys(it)) {
			m.Content = append(m.Content, keyNode(k), itemNode(it[k]))
		}
		return m
	default:
		return strNode(fmt.Sprint(it))
	}
}

// scalar writes "key: value", or nothing when value is empty.
func scalar(key, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return fragment(key, strNode(value))
}

// list writes a block sequence, or nothing when items is empty.
func list(key string, items []string) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, item := range items {
		seq.Content = append(seq.Content, strNode(item))
	}
	return fragment(key, seq)
}

// field writes an arbitrary property value. Single values are written
// inline since mf2 wraps every value in a list.
func field(key string, v micropub.Value) (string, error) {
	if v.IsZero() {
		return "", nil
	}
	if v.Len() == 1 {
		return fragment(key, itemNode(v.First()))
	}
	return fragment(key, itemNode(v.Items()))
}

// photos writes the photo list; photos with alt text become url/alt mappings.
func photos(list []micropub.Photo) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, ph := range list {
		if ph.Alt == "" {
			seq.Content = append(seq.Content, strNode(ph.URL))
			continue
		}
		seq.Content = append(seq.Content, &yaml.Node{
			Kind:    yaml.MappingNode,
			Tag:     "!!map",
			Content: []*yaml.Node{keyNode("url"), strNode(ph.URL), keyNode("alt"), strNode(ph.Alt)},
		})
	}
	return fragment("photo", seq)
}
