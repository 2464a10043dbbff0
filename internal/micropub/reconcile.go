package micropub

const publishedFlag = extensionPrefix + "published"

var listProperties = map[string]struct{}{
	"category":     {},
	"photo":        {},
	"syndicate-to": {},
}

// Reconcile applies an update's operations to an existing post in the order
// replace, add, delete and returns the post to republish.
func Reconcile(existing *Post, op *Update) (*Post, error) {
	if op.IsZero() {
		return nil, InvalidRequest("Update requires add, replace or delete")
	}
	params := existing.Params()

	for k, v := range op.Replace {
		params[k] = v
	}
	for k, v := range op.Add {
		cur, ok := params[k]
		if _, list := listProperties[k]; ok && (list || cur.Kind == List) {
			params[k] = cur.Append(v)
			continue
		}
		params[k] = v
	}
	for _, k := range op.Delete.Keys {
		delete(params, k)
	}
	for k, v := range op.Delete.Values {
		cur, ok := params[k]
		if !ok {
			continue
		}
		if kept := cur.Without(v); kept.IsZero() {
			delete(params, k)
		} else {
			params[k] = kept
		}
	}

	post := fromProperties(params, nil)
	post.Type = existing.Type
	post.Action = ActionUpdate
	post.URL = existing.URL
	post.Path = existing.Path
	post.Permalink = existing.Permalink
	post.Kind = Classify(post)
	return post, nil
}

// DeletePost soft-deletes by unpublishing the document.
func DeletePost(existing *Post) (*Post, error) {
	post, err := Reconcile(existing, &Update{Replace: map[string]Value{publishedFlag: ListOf("false")}})
	if err != nil {
		return nil, err
	}
	post.Action = ActionDelete
	return post, nil
}

// UndeletePost removes the unpublished flag set by DeletePost.
func UndeletePost(existing *Post) (*Post, error) {
	post, err := Reconcile(existing, &Update{Delete: Deletion{Keys: []string{publishedFlag}}})
	if err != nil {
		return nil, err
	}
	post.Action = ActionUndelete
	return post, nil
}
