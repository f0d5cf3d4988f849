package crawler

import (
	"bytes"
	"net/url"
	"path/filepath"
	"regexp"
)

// Rewriter rewrites links inside saved HTML and CSS so the mirror
// browses offline: internal references become relative local paths,
// archive replay wrappers are unwrapped, everything else is left
// untouched.
type Rewriter struct {
	classifier *Classifier
}

// NewRewriter creates a rewriter for the given site classifier.
func NewRewriter(classifier *Classifier) *Rewriter {
	return &Rewriter{classifier: classifier}
}

// attribute patterns that carry URLs
var htmlAttrRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(href\s*=\s*["'])([^"']+)(["'])`),
	regexp.MustCompile(`(?i)(src\s*=\s*["'])([^"']+)(["'])`),
	regexp.MustCompile(`(?i)(action\s*=\s*["'])([^"']+)(["'])`),
	regexp.MustCompile(`(?i)(data\s*=\s*["'])([^"']+)(["'])`),
	regexp.MustCompile(`(?i)(poster\s*=\s*["'])([^"']+)(["'])`),
}

var styleAttrRe = regexp.MustCompile(`(?i)(style\s*=\s*["'])([^"']*)(["'])`)

// RewriteHTML rewrites link attributes in an HTML document saved at
// localPath (relative to the mirror root), resolving references
// against base.
func (rw *Rewriter) RewriteHTML(content []byte, base *url.URL, localPath string) []byte {
	result := content
	for _, re := range htmlAttrRes {
		result = re.ReplaceAllFunc(result, func(match []byte) []byte {
			parts := re.FindSubmatch(match)
			if len(parts) < 4 {
				return match
			}
			replacement := rw.rewriteRef(string(parts[2]), base, localPath)
			if replacement == "" {
				return match
			}
			var buf bytes.Buffer
			buf.Write(parts[1])
			buf.WriteString(replacement)
			buf.Write(parts[3])
			return buf.Bytes()
		})
	}

	// url() inside inline style attributes
	result = styleAttrRe.ReplaceAllFunc(result, func(match []byte) []byte {
		parts := styleAttrRe.FindSubmatch(match)
		if len(parts) < 4 {
			return match
		}
		rewritten := rw.RewriteCSS(parts[2], base, localPath)
		var buf bytes.Buffer
		buf.Write(parts[1])
		buf.Write(rewritten)
		buf.Write(parts[3])
		return buf.Bytes()
	})

	return result
}

// RewriteCSS rewrites url(...) and @import references in a stylesheet
// saved at localPath.
func (rw *Rewriter) RewriteCSS(content []byte, base *url.URL, localPath string) []byte {
	result := cssURLRe.ReplaceAllFunc(content, func(match []byte) []byte {
		parts := cssURLRe.FindSubmatch(match)
		if len(parts) < 4 {
			return match
		}
		replacement := rw.rewriteRef(string(parts[2]), base, localPath)
		if replacement == "" {
			return match
		}
		var buf bytes.Buffer
		buf.WriteString("url(")
		buf.Write(parts[1])
		buf.WriteString(replacement)
		buf.Write(parts[3])
		buf.WriteString(")")
		return buf.Bytes()
	})

	result = cssImportRe.ReplaceAllFunc(result, func(match []byte) []byte {
		parts := cssImportRe.FindSubmatch(match)
		if len(parts) < 4 {
			return match
		}
		replacement := rw.rewriteRef(string(parts[2]), base, localPath)
		if replacement == "" {
			return match
		}
		var buf bytes.Buffer
		buf.WriteString("@import ")
		buf.Write(parts[1])
		buf.WriteString(replacement)
		buf.Write(parts[3])
		return buf.Bytes()
	})

	return result
}

// rewriteRef maps one attribute value to its replacement, or "" to
// keep the original text.
func (rw *Rewriter) rewriteRef(raw string, base *url.URL, localPath string) string {
	hadWrapper := UnwrapReplay(raw) != raw

	resolved, ok := resolveRef(raw, base)
	if !ok {
		return ""
	}

	switch rw.classifier.Classify(resolved) {
	case ClassInternal:
		target, err := MapToPath(resolved)
		if err != nil {
			return ""
		}
		return relativeTo(localPath, target)
	default:
		// A wrapper pointing off-site still gets unwrapped so the
		// mirror never links back into the archive.
		if hadWrapper {
			return resolved
		}
		return ""
	}
}

// relativeTo computes the relative link from the file at fromPath to
// targetPath, both slash-separated paths under the mirror root.
func relativeTo(fromPath, targetPath string) string {
	fromDir := filepath.Dir(filepath.FromSlash(fromPath))
	rel, err := filepath.Rel(fromDir, filepath.FromSlash(targetPath))
	if err != nil {
		return targetPath
	}
	return filepath.ToSlash(rel)
}
