// Package pathutil converts file-service paths to their canonical form and
// derives the identifiers the realtime backends key documents by.
package pathutil

import "strings"

// DocumentNamespace is prepended to a normalized path to form a document ID.
// The sync backend derives the same ID from the websocket URL, so the value
// and the concatenation rule must not change.
const DocumentNamespace = "yjs"

// RootLabel is the display name of the root directory.
const RootLabel = "Home"

// Normalize converts a path to its canonical absolute Unix form:
//
//	folder//sub\file.txt → /folder/sub/file.txt
//	/docs/               → /docs
//	""                   → /
//
// Backslashes become slashes, runs of slashes collapse to one, a leading
// slash is forced and a trailing slash is dropped unless the result is the
// root. Segments are otherwise kept verbatim; "." and ".." are not resolved.
func Normalize(path string) string {
	var b strings.Builder
	b.Grow(len(path) + 1)
	b.WriteByte('/')

	lastSlash := true
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '\\' {
			c = '/'
		}
		if c == '/' {
			if lastSlash {
				continue
			}
			lastSlash = true
		} else {
			lastSlash = false
		}
		b.WriteByte(c)
	}

	out := b.String()
	if len(out) > 1 && lastSlash {
		out = out[:len(out)-1]
	}
	return out
}

// DocumentID returns the sync-backend document identifier for path.
func DocumentID(path string) string {
	return DocumentNamespace + Normalize(path)
}

// DisplayName returns the last segment of path, or RootLabel for the root.
func DisplayName(path string) string {
	p := Normalize(path)
	if p == "/" {
		return RootLabel
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

// Parent returns the normalized parent directory of path. The parent of the
// root is the root.
func Parent(path string) string {
	p := Normalize(path)
	idx := strings.LastIndexByte(p, '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Join appends name to dir and normalizes the result.
func Join(dir, name string) string {
	return Normalize(dir + "/" + name)
}

// IsRoot reports whether path normalizes to the root directory.
func IsRoot(path string) bool {
	return Normalize(path) == "/"
}
