package static

import (
	"path/filepath"
	"strings"
)

const (
	defaultContentType = "text/html"
	unknownContentType = "application/misc"
)

var contentTypes = map[string]string{
	"txt":  "text/plain",
	"c":    "text/plain",
	"h":    "text/plain",
	"html": "text/html",
	"htm":  "text/htm",
	"css":  "text/css",
	"gif":  "image/gif",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"js":   "text/javascript",
	"png":  "image/png",
	"pdf":  "application/pdf",
	"ps":   "application/postscript",
}

// ContentType looks up the type for path by extension, case-insensitively.
func ContentType(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return unknownContentType
	}
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return unknownContentType
}
