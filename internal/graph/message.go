package graph

import (
	"net/url"
	"path"
	"strings"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".wmv": true, ".flv": true,
	".webm": true, ".mkv": true, ".m4v": true, ".3gp": true,
}

// FormatMessage joins a caption and hashtags into the text sent to both
// platforms. Tags are written with a single leading '#'.
func FormatMessage(caption string, hashtags []string) string {
	caption = strings.TrimSpace(caption)
	tags := make([]string, 0, len(hashtags))
	for _, h := range hashtags {
		h = strings.TrimLeft(strings.TrimSpace(h), "#")
		if h != "" {
			tags = append(tags, "#"+h)
		}
	}
	if len(tags) == 0 {
		return caption
	}
	if caption == "" {
		return strings.Join(tags, " ")
	}
	return caption + " " + strings.Join(tags, " ")
}

// IsVideoURL reports whether a URL or object key points at a video, judged by
// its extension. Query strings (presigned URLs) are ignored.
func IsVideoURL(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	} else if i := strings.IndexAny(raw, "?#"); i >= 0 {
		p = raw[:i]
	}
	return videoExtensions[strings.ToLower(path.Ext(p))]
}
