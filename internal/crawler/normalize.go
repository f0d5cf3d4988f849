// Package crawler drives the recursive download of a site's archived
// snapshot: it keeps the frontier of page URLs, classifies discovered
// links and maps remote URLs onto the local mirror tree.
package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ExtKind describes how a URL's path maps onto the mirror tree.
type ExtKind int

const (
	// ExtStatic is a concrete file (stylesheet, image, archive, plain
	// .html page); the path is kept as-is.
	ExtStatic ExtKind = iota

	// ExtDynamic is a server-generated page (.php, .asp, ...); the
	// path becomes a directory holding an index.html leaf.
	ExtDynamic

	// ExtDirIndex is a directory-style path (trailing slash or no
	// extension) that also gets an index.html leaf.
	ExtDirIndex
)

// dynamicExtensions are server-side page extensions that cannot be
// served as files from a static mirror.
var dynamicExtensions = map[string]bool{
	"php":    true,
	"php3":   true,
	"php4":   true,
	"php5":   true,
	"phtml":  true,
	"asp":    true,
	"aspx":   true,
	"jsp":    true,
	"jspx":   true,
	"cgi":    true,
	"pl":     true,
	"py":     true,
	"rb":     true,
	"cfm":    true,
	"shtml":  true,
	"do":     true,
	"action": true,
}

// Normalize canonicalizes a URL so that equivalent spellings collapse
// to one frontier key: lowercased scheme and host, default ports and
// fragments removed, trailing slash trimmed. Normalizing an already
// normalized URL returns it unchanged.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)

	// Drop default ports
	if (u.Scheme == "http" && u.Port() == "80") ||
		(u.Scheme == "https" && u.Port() == "443") {
		u.Host = u.Hostname()
	}

	// All trailing slashes go, not just one: the result must be a
	// fixed point of Normalize or the frontier's dedup key drifts.
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return u.String(), nil
}

// ClassifyExtension reports how the final path segment of p should be
// laid out on disk.
func ClassifyExtension(p string) ExtKind {
	if p == "" || strings.HasSuffix(p, "/") {
		return ExtDirIndex
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(path.Base(p)), "."))
	if ext == "" {
		return ExtDirIndex
	}
	if dynamicExtensions[ext] {
		return ExtDynamic
	}
	return ExtStatic
}

// MapToPath converts a URL into a relative, slash-separated path under
// the mirror root. Dot segments are resolved against a stack so the
// result can never escape the root, query strings are flattened into a
// directory component, and dynamic or extensionless paths gain an
// index.html leaf. The same URL always maps to the same path.
func MapToPath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	segments := resolveSegments(u.Path)
	queryDir := flattenQuery(u.RawQuery)

	switch ClassifyExtension(u.Path) {
	case ExtStatic:
		// file.ext?v=2 -> v_2/file.ext
		file := segments[len(segments)-1]
		dirs := segments[:len(segments)-1]
		if queryDir != "" {
			dirs = append(dirs, queryDir)
		}
		return path.Join(append(dirs, file)...), nil
	default:
		// page.php?id=3 -> page.php/id_3/index.html
		dirs := segments
		if queryDir != "" {
			dirs = append(dirs, queryDir)
		}
		return path.Join(append(dirs, "index.html")...), nil
	}
}

// resolveSegments splits a URL path and resolves "." and ".." entries
// against a stack, never popping past the root.
func resolveSegments(p string) []string {
	var stack []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, sanitizeSegment(seg))
		}
	}
	return stack
}

// flattenQuery turns ?a=1&b=2 into the directory name "a_1_b_2",
// preserving the parameter order of the raw query string.
func flattenQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	var parts []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, val, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(val); err == nil {
			val = v
		}
		if key == "" && val == "" {
			continue
		}
		if val == "" {
			parts = append(parts, sanitizeSegment(key))
			continue
		}
		parts = append(parts, sanitizeSegment(key)+"_"+sanitizeSegment(val))
	}
	return strings.Join(parts, "_")
}

// sanitizeSegment replaces characters that are unsafe in file names on
// common filesystems.
func sanitizeSegment(seg string) string {
	if decoded, err := url.PathUnescape(seg); err == nil {
		seg = decoded
	}
	var b strings.Builder
	b.Grow(len(seg))
	for _, r := range seg {
		switch {
		case r < 0x20, r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`<>:"\|?*/`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "_"
	}
	return out
}
