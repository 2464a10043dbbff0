package micropub

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Request is a decoded but not yet normalized Micropub payload.
type Request struct {
	// Type is the object type from a JSON "type" envelope, without "h-".
	Type       string
	Action     string
	URL        string
	Properties map[string]Value
	Update     *Update

	// Uploads are multipart photo parts; Media is a "file" part meant for
	// the media endpoint.
	Uploads []Upload
	Media   *Upload
}

// internalKeys are routing and transport artifacts that never reach a post.
var internalKeys = map[string]struct{}{
	"access_token": {},
	"site":         {},
	"splat":        {},
	"captures":     {},
}

// DecodeJSON decodes an mf2 JSON body, flattening the type/properties envelope.
func DecodeJSON(body []byte) (*Request, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, InvalidRequest("Invalid JSON body")
	}
	req := &Request{Properties: make(map[string]Value)}

	if types, ok := raw["type"].([]any); ok && len(types) > 0 {
		req.Type = strings.TrimPrefix(itemString(types[0]), "h-")
	} else if typ, ok := raw["type"].(string); ok {
		req.Type = strings.TrimPrefix(typ, "h-")
	}
	delete(raw, "type")

	if props, ok := raw["properties"].(map[string]any); ok {
		for k, v := range props {
			req.Properties[k] = valueOf(v)
		}
	}
	delete(raw, "properties")

	req.Action = itemString(raw["action"])
	req.URL = itemString(raw["url"])
	delete(raw, "action")
	delete(raw, "url")

	if req.Action != "" {
		req.Update = decodeOperations(raw)
		delete(raw, "replace")
		delete(raw, "add")
		delete(raw, "delete")
	}

	// Non-standard clients post flat objects; keep their remaining keys.
	for k, v := range raw {
		if _, exists := req.Properties[k]; !exists {
			req.Properties[k] = valueOf(v)
		}
	}
	return req, nil
}

func decodeOperations(raw map[string]any) *Update {
	op := &Update{}
	if replace, ok := raw["replace"].(map[string]any); ok {
		op.Replace = make(map[string]Value, len(replace))
		for k, v := range replace {
			op.Replace[k] = valueOf(v)
		}
	}
	if add, ok := raw["add"].(map[string]any); ok {
		op.Add = make(map[string]Value, len(add))
		for k, v := range add {
			op.Add[k] = valueOf(v).AsList()
		}
	}
	switch del := raw["delete"].(type) {
	case []any:
		for _, key := range del {
			if s, ok := key.(string); ok && s != "" {
				op.Delete.Keys = append(op.Delete.Keys, s)
			}
		}
	case map[string]any:
		op.Delete.Values = make(map[string]Value, len(del))
		for k, v := range del {
			op.Delete.Values[k] = valueOf(v).AsList()
		}
	}
	return op
}

// DecodeForm decodes form-encoded or multipart fields. Keys ending in "[]"
// and repeated keys become lists.
func DecodeForm(form url.Values, uploads []Upload) (*Request, error) {
	req := &Request{Properties: make(map[string]Value)}
	for key, values := range form {
		name, isList := strings.CutSuffix(key, "[]")
		if name == "" {
			continue
		}
		var v Value
		if isList || len(values) > 1 {
			v = Strings(values)
		} else if len(values) == 1 {
			v = ScalarOf(values[0])
		}
		if existing, ok := req.Properties[name]; ok {
			v = existing.Append(v)
		}
		req.Properties[name] = v
	}

	if v, ok := req.Properties["action"]; ok {
		req.Action = v.String()
		delete(req.Properties, "action")
	}
	if v, ok := req.Properties["url"]; ok {
		req.URL = v.String()
		delete(req.Properties, "url")
	}
	if req.Action != "" {
		// Form updates only carry bare delete keys.
		op := &Update{}
		if v, ok := req.Properties["delete"]; ok {
			op.Delete.Keys = nonEmpty(v.Strings())
			delete(req.Properties, "delete")
		}
		req.Update = op
	}

	for i := range uploads {
		up := uploads[i]
		switch strings.TrimSuffix(up.Field, "[]") {
		case "file":
			req.Media = &up
		case "photo":
			req.Uploads = append(req.Uploads, up)
		default:
			return nil, InvalidRequest(fmt.Sprintf("Unsupported upload field %q", up.Field))
		}
	}
	return req, nil
}
