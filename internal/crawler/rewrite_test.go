package crawler

import (
	"strings"
	"testing"
)

func newTestRewriter() *Rewriter {
	return NewRewriter(NewClassifier("example.com", nil))
}

func TestRewriteHTML(t *testing.T) {
	rw := newTestRewriter()
	base := mustParse(t, "https://example.com/blog/post")

	tests := []struct {
		name      string
		localPath string
		in        string
		want      string
	}{
		{
			name:      "internal link becomes relative",
			localPath: "blog/post/index.html",
			in:        `<a href="/about">About</a>`,
			want:      `<a href="../../about/index.html">About</a>`,
		},
		{
			name:      "sibling page",
			localPath: "blog/post/index.html",
			in:        `<a href="https://example.com/blog/other">x</a>`,
			want:      `<a href="../other/index.html">x</a>`,
		},
		{
			name:      "stylesheet href",
			localPath: "blog/post/index.html",
			in:        `<link rel="stylesheet" href="/css/main.css">`,
			want:      `<link rel="stylesheet" href="../../css/main.css">`,
		},
		{
			name:      "external link untouched",
			localPath: "index.html",
			in:        `<a href="https://other.org/page">ext</a>`,
			want:      `<a href="https://other.org/page">ext</a>`,
		},
		{
			name:      "replay wrapper to internal page",
			localPath: "index.html",
			in:        `<a href="https://web.archive.org/web/20150101000000/https://example.com/about">a</a>`,
			want:      `<a href="about/index.html">a</a>`,
		},
		{
			name:      "replay wrapper to external unwrapped",
			localPath: "index.html",
			in:        `<a href="https://web.archive.org/web/20150101000000/https://other.org/x">a</a>`,
			want:      `<a href="https://other.org/x">a</a>`,
		},
		{
			name:      "anchor-only href untouched",
			localPath: "index.html",
			in:        `<a href="#section">s</a>`,
			want:      `<a href="#section">s</a>`,
		},
		{
			name:      "mailto untouched",
			localPath: "index.html",
			in:        `<a href="mailto:x@example.com">m</a>`,
			want:      `<a href="mailto:x@example.com">m</a>`,
		},
		{
			name:      "dynamic page with query",
			localPath: "index.html",
			in:        `<a href="/page.php?id=3">p</a>`,
			want:      `<a href="page.php/id_3/index.html">p</a>`,
		},
		{
			name:      "inline style url",
			localPath: "index.html",
			in:        `<div style="background: url(/img/bg.png)">x</div>`,
			want:      `<div style="background: url(img/bg.png)">x</div>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(rw.RewriteHTML([]byte(tt.in), base, tt.localPath))
			if got != tt.want {
				t.Errorf("RewriteHTML(%q)\n got %q\nwant %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRewriteCSS(t *testing.T) {
	rw := newTestRewriter()
	base := mustParse(t, "https://example.com/css/main.css")

	in := `@import "reset.css";
body { background: url('/img/bg.png'); }
.logo { background: url(https://cdn.other.org/l.png); }`

	got := string(rw.RewriteCSS([]byte(in), base, "css/main.css"))

	if !strings.Contains(got, `@import "reset.css"`) {
		t.Errorf("same-directory import should stay put, got:\n%s", got)
	}
	if !strings.Contains(got, `url('../img/bg.png')`) {
		t.Errorf("absolute path not relativized, got:\n%s", got)
	}
	if !strings.Contains(got, "https://cdn.other.org/l.png") {
		t.Errorf("external url must survive untouched, got:\n%s", got)
	}
}

func TestRelativeTo(t *testing.T) {
	tests := []struct {
		from   string
		target string
		want   string
	}{
		{"index.html", "css/main.css", "css/main.css"},
		{"blog/post/index.html", "index.html", "../../index.html"},
		{"blog/post/index.html", "blog/other/index.html", "../other/index.html"},
		{"css/main.css", "css/main.css", "main.css"},
	}

	for _, tt := range tests {
		if got := relativeTo(tt.from, tt.target); got != tt.want {
			t.Errorf("relativeTo(%q, %q) = %q, want %q", tt.from, tt.target, got, tt.want)
		}
	}
}
