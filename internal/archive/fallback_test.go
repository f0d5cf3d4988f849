package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeArchive bundles replay, CDX and availability endpoints on one
// httptest server so resolver tests can script full scenarios. It
// routes on the raw path itself: replay paths embed "https://", which
// http.ServeMux would mangle with its path cleaning.
type fakeArchive struct {
	t         *testing.T
	server    *httptest.Server
	snapshots map[string]string
	availBody string
	cdxFn     http.HandlerFunc
	requests  []string
}

func newFakeArchive(t *testing.T) *fakeArchive {
	fa := &fakeArchive{t: t, snapshots: make(map[string]string)}
	fa.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fa.requests = append(fa.requests, r.URL.Path)
		switch {
		case strings.HasPrefix(r.URL.Path, "/cdx/search/cdx"):
			if fa.cdxFn != nil {
				fa.cdxFn(w, r)
				return
			}
		case strings.HasPrefix(r.URL.Path, "/wayback/available"):
			if fa.availBody != "" {
				fmt.Fprint(w, fa.availBody)
				return
			}
		default:
			if body, ok := fa.snapshots[r.URL.Path]; ok {
				w.Header().Set("Content-Type", "text/html")
				fmt.Fprint(w, body)
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(fa.server.Close)
	return fa
}

func (fa *fakeArchive) resolver(attempts int) *Resolver {
	client := NewClient(WithTimeout(5 * time.Second))
	fetcher := NewFetcher(client, testPolicy(attempts), fa.server.URL, nil)
	index := NewIndex(client, fa.server.URL+"/cdx/search/cdx", fa.server.URL+"/wayback/available", nil)
	return NewResolver(fetcher, index, nil)
}

func (fa *fakeArchive) snapshot(ts, format, target, body string) {
	fa.snapshots["/web/"+ts+format+"/"+target] = body
}

func (fa *fakeArchive) availability(body string) {
	fa.availBody = body
}

func (fa *fakeArchive) cdx(handler http.HandlerFunc) {
	fa.cdxFn = handler
}

func (fa *fakeArchive) countRequests() int {
	return len(fa.requests)
}

// Stage 1: the stripped format exists at the exact timestamp, so no
// index queries should go out.
func TestResolveAlternateFormat(t *testing.T) {
	fa := newFakeArchive(t)
	fa.snapshot("20150101000000", FormatStripped, "https://example.com/page", "stripped body")

	r := fa.resolver(1)
	snap, err := r.Resolve(context.Background(), "https://example.com/page", "20150101000000")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if snap.Format != FormatStripped {
		t.Errorf("Format = %q, want %q", snap.Format, FormatStripped)
	}
	for _, p := range fa.requests {
		if strings.HasPrefix(p, "/cdx/") || strings.HasPrefix(p, "/wayback/") {
			t.Errorf("index queried (%s) though an alternate format sufficed", p)
		}
	}
}

// Stage 2: nothing at the exact timestamp, availability points at a
// nearby capture.
func TestResolveViaAvailability(t *testing.T) {
	fa := newFakeArchive(t)
	fa.availability(`{"archived_snapshots":{"closest":{"available":true,"timestamp":"20141230120000","status":"200"}}}`)
	fa.snapshot("20141230120000", FormatIdentity, "https://example.com/page", "older capture")

	r := fa.resolver(1)
	snap, err := r.Resolve(context.Background(), "https://example.com/page", "20150101000000")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if snap.Timestamp != "20141230120000" {
		t.Errorf("Timestamp = %q, want the availability capture", snap.Timestamp)
	}
	if !strings.Contains(string(snap.Body), "older capture") {
		t.Errorf("body = %q", snap.Body)
	}
}

// Stage 3: availability is empty, the CDX index knows a capture.
func TestResolveViaCDX(t *testing.T) {
	fa := newFakeArchive(t)
	fa.availability(`{"archived_snapshots":{}}`)
	fa.cdx(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[["urlkey","timestamp","original","mimetype","statuscode","digest","length"],
["com,example)/page","20140601000000","https://example.com/page","text/html","200","CCCC","100"]]`)
	})
	fa.snapshot("20140601000000", FormatIdentity, "https://example.com/page", "cdx capture")

	r := fa.resolver(1)
	snap, err := r.Resolve(context.Background(), "https://example.com/page", "20150101000000")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if snap.Timestamp != "20140601000000" {
		t.Errorf("Timestamp = %q, want the CDX capture", snap.Timestamp)
	}
}

// Exhaustion: every endpoint comes up empty. The second Resolve for
// the same URL must short-circuit on the negative cache without any
// network traffic.
func TestResolveExhaustionNegativeCache(t *testing.T) {
	fa := newFakeArchive(t)
	fa.availability(`{"archived_snapshots":{}}`)
	fa.cdx(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	})

	r := fa.resolver(1)
	_, err := r.Resolve(context.Background(), "https://example.com/lost", "20150101000000")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("error = %v, want ErrExhausted", err)
	}
	if !r.KnownFailed("https://example.com/lost") {
		t.Error("exhausted URL missing from negative cache")
	}

	before := fa.countRequests()
	_, err = r.Resolve(context.Background(), "https://example.com/lost", "20150101000000")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("cached error = %v, want ErrExhausted", err)
	}
	if fa.countRequests() != before {
		t.Errorf("negative cache missed: %d new requests", fa.countRequests()-before)
	}
}

// A broader CDX query may only run when the narrower one returned no
// candidates at all.
func TestResolveCDXWidening(t *testing.T) {
	fa := newFakeArchive(t)
	fa.availability(`{"archived_snapshots":{}}`)

	queries := 0
	fa.cdx(func(w http.ResponseWriter, r *http.Request) {
		queries++
		// First (date-bounded) query: nothing. Second (unbounded):
		// one capture.
		if r.URL.Query().Get("to") != "" {
			fmt.Fprint(w, "[]")
			return
		}
		fmt.Fprint(w, `[["urlkey","timestamp","original","mimetype","statuscode","digest","length"],
["com,example)/page","20160301000000","https://example.com/page","text/html","200","DDDD","100"]]`)
	})
	fa.snapshot("20160301000000", FormatIdentity, "https://example.com/page", "later capture")

	r := fa.resolver(1)
	snap, err := r.Resolve(context.Background(), "https://example.com/page", "20150101000000")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if snap.Timestamp != "20160301000000" {
		t.Errorf("Timestamp = %q", snap.Timestamp)
	}
	if queries != 2 {
		t.Errorf("cdx queries = %d, want 2 (widened exactly once)", queries)
	}
}

// A capture whose body is the Wayback replay wrapper (toolbar markup,
// wombat.js) is not page content. The resolver must keep trying other
// formats, and exhaust rather than hand the wrapper back.
func TestResolveRejectsReplayWrapper(t *testing.T) {
	wrapper := `<html><head><script src="https://web.archive.org/web/20150101000000/wombat.js"></script></head><div id="wm-ipp"></div></html>`

	t.Run("prefers clean format", func(t *testing.T) {
		fa := newFakeArchive(t)
		fa.snapshot("20150101000000", FormatIdentity, "https://example.com/page", wrapper)
		fa.snapshot("20150101000000", FormatStripped, "https://example.com/page", "clean body")

		r := fa.resolver(1)
		snap, err := r.Resolve(context.Background(), "https://example.com/page", "20150101000000")
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if snap.Format != FormatStripped {
			t.Errorf("Format = %q, want %q", snap.Format, FormatStripped)
		}
		if !strings.Contains(string(snap.Body), "clean body") {
			t.Errorf("body = %q", snap.Body)
		}
	})

	t.Run("exhausts on wrapper-only capture", func(t *testing.T) {
		fa := newFakeArchive(t)
		fa.snapshot("20150101000000", FormatRaw, "https://example.com/page", wrapper)
		fa.availability(`{"archived_snapshots":{}}`)
		fa.cdx(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "[]")
		})

		r := fa.resolver(1)
		_, err := r.Resolve(context.Background(), "https://example.com/page", "20150101000000")
		if !errors.Is(err, ErrExhausted) {
			t.Fatalf("error = %v, want ErrExhausted", err)
		}
	})
}

func TestParentPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/a/b/page.html", "https://example.com/a/b/"},
		{"https://example.com/a/", "https://example.com/"},
		{"https://example.com/a", ""},
		{"https://example.com/", ""},
		{"https://example.com", ""},
	}

	for _, tt := range tests {
		if got := parentPrefix(tt.in); got != tt.want {
			t.Errorf("parentPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
