package crawler

import (
	"io"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// RefKind says what role a discovered URL plays on the page.
type RefKind int

const (
	KindPage       RefKind = iota // <a href>, <area>, <frame>, <iframe>, <form action>
	KindStylesheet                // <link rel="stylesheet">, css @import
	KindScript                    // <script src>
	KindImage                     // <img src>, <source srcset>, poster
	KindMedia                     // <video>, <audio>, <source>, <embed>, <object>
	KindTrack                     // <track src>
)

// String returns string representation of the kind
func (k RefKind) String() string {
	switch k {
	case KindPage:
		return "page"
	case KindStylesheet:
		return "stylesheet"
	case KindScript:
		return "script"
	case KindImage:
		return "image"
	case KindMedia:
		return "media"
	case KindTrack:
		return "track"
	default:
		return "other"
	}
}

// IsResource reports whether the reference is a page requisite rather
// than a page to crawl.
func (k RefKind) IsResource() bool {
	return k != KindPage
}

// Ref is a URL discovered in fetched content, resolved to absolute
// form and unwrapped from any archive replay prefix.
type Ref struct {
	URL  string
	Kind RefKind
}

// replayURLRe matches archive replay wrappers and captures the
// original URL: https://web.archive.org/web/20150101000000if_/<original>
var replayURLRe = regexp.MustCompile(`(?i)^(?:https?:)?//web\.archive\.org/web/\d{1,14}[a-z_]*/(.+)$`)

// replayPathRe matches the path-only form of the same wrapper.
var replayPathRe = regexp.MustCompile(`(?i)^/web/\d{1,14}[a-z_]*/(.+)$`)

// UnwrapReplay strips the archive replay prefix from a URL, returning
// the original target. URLs without a wrapper come back unchanged.
func UnwrapReplay(raw string) string {
	if m := replayURLRe.FindStringSubmatch(raw); m != nil {
		return ensureScheme(m[1])
	}
	if m := replayPathRe.FindStringSubmatch(raw); m != nil {
		return ensureScheme(m[1])
	}
	return raw
}

// ensureScheme repairs scheme-mangled originals like
// "https:/example.com/x" that replay servers sometimes emit.
func ensureScheme(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if rest, ok := strings.CutPrefix(raw, "https:/"); ok {
		return "https://" + strings.TrimPrefix(rest, "/")
	}
	if rest, ok := strings.CutPrefix(raw, "http:/"); ok {
		return "http://" + strings.TrimPrefix(rest, "/")
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

// ExtractHTML parses an HTML document and returns every reference it
// links to, resolved against base (honoring a <base href> tag if the
// document carries one).
func ExtractHTML(r io.Reader, base *url.URL) ([]Ref, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	effective := base

	// First pass: <base href> overrides the resolution base
	var findBase func(*html.Node)
	findBase = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "base" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					if parsed, err := url.Parse(UnwrapReplay(strings.TrimSpace(attr.Val))); err == nil {
						effective = base.ResolveReference(parsed)
					}
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findBase(c)
		}
	}
	findBase(doc)

	var refs []Ref
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode {
			refs = append(refs, nodeRefs(n, effective)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)

	return refs, nil
}

// nodeRefs pulls the URL-bearing attributes out of a single element.
func nodeRefs(n *html.Node, base *url.URL) []Ref {
	tag := strings.ToLower(n.Data)

	var specs []struct {
		attr string
		kind RefKind
	}
	add := func(attr string, kind RefKind) {
		specs = append(specs, struct {
			attr string
			kind RefKind
		}{attr, kind})
	}

	switch tag {
	case "a", "area":
		add("href", KindPage)
	case "link":
		if linkRelStylesheet(n) {
			add("href", KindStylesheet)
		} else if linkRelIcon(n) {
			add("href", KindImage)
		}
	case "script":
		add("src", KindScript)
	case "img":
		add("src", KindImage)
	case "input":
		if attrValue(n, "type") == "image" {
			add("src", KindImage)
		}
	case "frame", "iframe":
		add("src", KindPage)
	case "form":
		add("action", KindPage)
	case "object":
		add("data", KindMedia)
	case "embed":
		add("src", KindMedia)
	case "video":
		add("src", KindMedia)
		add("poster", KindImage)
	case "audio", "source":
		add("src", KindMedia)
	case "track":
		add("src", KindTrack)
	default:
		return nil
	}

	var refs []Ref
	for _, spec := range specs {
		raw := attrValue(n, spec.attr)
		if resolved, ok := resolveRef(raw, base); ok {
			refs = append(refs, Ref{URL: resolved, Kind: spec.kind})
		}
	}
	return refs
}

func linkRelStylesheet(n *html.Node) bool {
	return strings.Contains(strings.ToLower(attrValue(n, "rel")), "stylesheet")
}

func linkRelIcon(n *html.Node) bool {
	rel := strings.ToLower(attrValue(n, "rel"))
	return strings.Contains(rel, "icon")
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return strings.TrimSpace(attr.Val)
		}
	}
	return ""
}

// resolveRef normalizes a raw attribute value into an absolute URL:
// unwraps archive replay prefixes, upgrades protocol-relative
// references and resolves relative paths against base. Pseudo-scheme
// links are dropped.
func resolveRef(raw string, base *url.URL) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}

	lower := strings.ToLower(raw)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:", "about:", "blob:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}

	raw = UnwrapReplay(raw)
	if strings.HasPrefix(raw, "//") {
		raw = base.Scheme + ":" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}

// cssURLRe matches url(...) tokens; cssImportRe matches the bare
// string form of @import that skips url().
var (
	cssURLRe    = regexp.MustCompile(`(?i)url\(\s*(['"]?)([^)'"]+)(['"]?)\s*\)`)
	cssImportRe = regexp.MustCompile(`(?i)@import\s+(['"])([^'"]+)(['"])`)
)

// ExtractCSS scans a stylesheet for url(...) and @import references.
// All CSS references are page requisites, never crawlable pages.
func ExtractCSS(content string, base *url.URL) []Ref {
	var refs []Ref
	seen := make(map[string]bool)

	appendRef := func(raw string, kind RefKind) {
		resolved, ok := resolveRef(raw, base)
		if !ok || seen[resolved] {
			return
		}
		seen[resolved] = true
		refs = append(refs, Ref{URL: resolved, Kind: kind})
	}

	for _, m := range cssURLRe.FindAllStringSubmatch(content, -1) {
		appendRef(m[2], cssRefKind(m[2]))
	}
	for _, m := range cssImportRe.FindAllStringSubmatch(content, -1) {
		appendRef(m[2], KindStylesheet)
	}

	return refs
}

// cssRefKind guesses the requisite kind from the referenced path.
func cssRefKind(raw string) RefKind {
	trimmed := raw
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if strings.HasSuffix(strings.ToLower(trimmed), ".css") {
		return KindStylesheet
	}
	return KindImage
}

// IsHTMLContentType checks if content type indicates HTML
func IsHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// IsCSSContentType checks if content type indicates CSS
func IsCSSContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/css")
}
