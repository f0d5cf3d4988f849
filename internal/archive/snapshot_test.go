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

// testPolicy keeps retries fast in tests.
func testPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Backoff:     []time.Duration{time.Millisecond},
	}
}

func newTestFetcher(t *testing.T, base string, policy RetryPolicy) *Fetcher {
	t.Helper()
	client := NewClient(WithTimeout(5 * time.Second))
	return NewFetcher(client, policy, base, nil)
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/web/20150101000000id_/https://example.com/page" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>archived content</body></html>")
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, testPolicy(1))
	snap, err := f.Fetch(context.Background(), "https://example.com/page", "20150101000000", FormatIdentity)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if snap.Timestamp != "20150101000000" {
		t.Errorf("Timestamp = %q, want requested timestamp", snap.Timestamp)
	}
	if snap.Format != FormatIdentity {
		t.Errorf("Format = %q, want %q", snap.Format, FormatIdentity)
	}
	if !strings.Contains(string(snap.Body), "archived content") {
		t.Errorf("unexpected body %q", snap.Body)
	}
}

// Replay redirects to the nearest capture; the snapshot must report
// the timestamp that actually served it.
func TestFetchFollowsReplayRedirect(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/web/20150101000000id_/https://example.com/":
			http.Redirect(w, r, server.URL+"/web/20141230120000id_/https://example.com/", http.StatusFound)
		case "/web/20141230120000id_/https://example.com/":
			fmt.Fprint(w, "content")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, testPolicy(1))
	snap, err := f.Fetch(context.Background(), "https://example.com/", "20150101000000", FormatIdentity)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if snap.Timestamp != "20141230120000" {
		t.Errorf("Timestamp = %q, want redirect target's", snap.Timestamp)
	}
}

// HTTP failures must not burn retry attempts; they belong to the
// fallback resolver.
func TestFetchHTTPErrorNoRetry(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, testPolicy(6))
	_, err := f.Fetch(context.Background(), "https://example.com/gone", "20150101000000", FormatIdentity)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if httpErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", httpErr.Status)
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (no retry on HTTP errors)", requests)
	}
}

// Aborted connections are transport failures and retry up to the
// attempt limit.
func TestFetchRetriesTransportError(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Fatal(err)
		}
		conn.Close()
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, testPolicy(3))
	_, err := f.Fetch(context.Background(), "https://example.com/", "20150101000000", FormatIdentity)
	if err == nil {
		t.Fatal("Fetch succeeded against dead server")
	}
	if requests != 3 {
		t.Errorf("requests = %d, want 3 (all attempts used)", requests)
	}
}

func TestFetchEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, testPolicy(1))
	_, err := f.Fetch(context.Background(), "https://example.com/", "20150101000000", FormatIdentity)
	if !errors.Is(err, ErrEmptyBody) {
		t.Errorf("error = %v, want ErrEmptyBody", err)
	}
}

func TestFetchNotArchivedPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Wayback Machine has not archived that URL.</body></html>")
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, testPolicy(1))
	_, err := f.Fetch(context.Background(), "https://example.com/never", "20150101000000", FormatIdentity)
	if !errors.Is(err, ErrNotArchived) {
		t.Errorf("error = %v, want ErrNotArchived", err)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 1 * time.Second},
		{3, 3 * time.Second},
		{4, 15 * time.Second},
		{5, 30 * time.Second},
		{6, 60 * time.Second},
		{7, 60 * time.Second}, // past the schedule, reuse the last entry
		{20, 60 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestTimestampFromReplayURL(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/web/20150101000000id_/https://example.com/", "20150101000000"},
		{"/web/20150101000000/https://example.com/", "20150101000000"},
		{"/web/2015if_/https://example.com/", "2015"},
		{"/cdx/search/cdx", ""},
		{"/", ""},
	}

	for _, tt := range tests {
		if got := timestampFromReplayURL(tt.path); got != tt.want {
			t.Errorf("timestampFromReplayURL(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestContainsReplayMarkup(t *testing.T) {
	wrapped := []byte(`<html><head><script src="/web/20150101/wombat.js"></script></head><!-- WAYBACK TOOLBAR INSERT --></html>`)
	if !ContainsReplayMarkup(wrapped) {
		t.Error("wrapper page not detected")
	}

	clean := []byte(`<html><body><a href="/about">plain site</a></body></html>`)
	if ContainsReplayMarkup(clean) {
		t.Error("clean page flagged as wrapper")
	}

	// A page merely mentioning the archive is not a wrapper.
	mention := []byte(`<p>See https://web.archive.org/web/2015 for history.</p>`)
	if ContainsReplayMarkup(mention) {
		t.Error("archive mention flagged as wrapper")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&TransportError{Op: "GET", Err: errors.New("refused")}) {
		t.Error("TransportError must be transient")
	}
	if IsTransient(&HTTPError{Status: 503}) {
		t.Error("HTTPError must not be transient")
	}
	if IsTransient(ErrNotArchived) {
		t.Error("ErrNotArchived must not be transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("cancellation must not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil must not be transient")
	}
}
