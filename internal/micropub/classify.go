package micropub

// Classify derives the template kind from the post's populated fields.
func Classify(p *Post) Kind {
	switch p.Type {
	case "", "entry":
	case "event":
		return KindEvent
	case "cite":
		return KindCite
	default:
		return KindDumpAll
	}
	switch {
	case p.Has("name"):
		return KindArticle
	case p.Has("in-reply-to"):
		return KindReply
	case p.Has("repost-of"):
		return KindRepost
	case p.Has("bookmark-of"):
		return KindBookmark
	case p.Has("photo"):
		return KindPhoto
	case p.Has("content"):
		return KindNote
	}
	return KindDumpAll
}
