package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/charmbracelet/log"
)

// Snapshot format flags. The flag selects how the replay server
// renders the capture.
const (
	// FormatIdentity returns the capture byte-for-byte.
	FormatIdentity = "id_"

	// FormatStripped returns the capture with archive chrome removed
	// but links rewritten.
	FormatStripped = "if_"

	// FormatRaw returns the archive's full replay wrapper.
	FormatRaw = ""
)

// Formats in preference order: raw bytes first, progressively more
// processed renderings after.
var Formats = []string{FormatIdentity, FormatStripped, FormatRaw}

// DefaultReplayBase is the public replay endpoint.
const DefaultReplayBase = "https://web.archive.org"

// maxBodySize caps a single snapshot download.
const maxBodySize = 100 << 20 // 100 MB

// Snapshot is one successfully fetched capture.
type Snapshot struct {
	URL         string // the original site URL
	Timestamp   string // the capture timestamp actually served
	Format      string // format flag that produced the body
	Status      int
	ContentType string
	Body        []byte
}

// RetryPolicy drives retries of transient transport failures. The
// backoff schedule is positional; attempts past its end reuse the
// final entry.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// DefaultRetryPolicy matches the archive's tolerance: six attempts
// with rapidly growing pauses.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		Backoff: []time.Duration{
			1 * time.Second,
			1 * time.Second,
			3 * time.Second,
			15 * time.Second,
			30 * time.Second,
			60 * time.Second,
		},
	}
}

// Delay returns the pause before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.Backoff) {
		attempt = len(p.Backoff)
	}
	return p.Backoff[attempt-1]
}

// Fetcher downloads snapshots from the replay endpoint.
type Fetcher struct {
	client *Client
	policy RetryPolicy
	base   string
	log    *log.Logger
}

// NewFetcher creates a snapshot fetcher. An empty base means
// DefaultReplayBase.
func NewFetcher(client *Client, policy RetryPolicy, base string, logger *log.Logger) *Fetcher {
	if base == "" {
		base = DefaultReplayBase
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Fetcher{
		client: client,
		policy: policy,
		base:   base,
		log:    logger,
	}
}

// SnapshotURL builds the replay URL for a capture of target at
// timestamp in the given format.
func (f *Fetcher) SnapshotURL(target, timestamp, format string) string {
	return fmt.Sprintf("%s/web/%s%s/%s", f.base, timestamp, format, target)
}

// Fetch downloads the capture of target at timestamp in the given
// format. Transient transport failures are retried per the policy;
// HTTP errors, empty bodies and not-archived pages are returned
// immediately for the fallback resolver to handle.
func (f *Fetcher) Fetch(ctx context.Context, target, timestamp, format string) (*Snapshot, error) {
	snapURL := f.SnapshotURL(target, timestamp, format)

	var lastErr error
	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := f.policy.Delay(attempt - 1)
			f.log.Debug("retrying snapshot fetch",
				"url", snapURL, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		snap, err := f.fetchOnce(ctx, target, timestamp, format, snapURL)
		if err == nil {
			return snap, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("snapshot %s: %w", snapURL, lastErr)
}

// fetchOnce performs a single attempt.
func (f *Fetcher) fetchOnce(ctx context.Context, target, timestamp, format, snapURL string) (*Snapshot, error) {
	resp, err := f.client.Get(ctx, snapURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{Status: resp.StatusCode, URL: snapURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Op: "read " + snapURL, Err: err}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%s: %w", snapURL, ErrEmptyBody)
	}

	contentType := resp.Header.Get("Content-Type")
	if isHTML(contentType) && looksNotArchived(body) {
		return nil, fmt.Errorf("%s: %w", snapURL, ErrNotArchived)
	}

	// Replay redirects to the nearest capture; report the timestamp
	// that actually served the content.
	served := timestamp
	if resp.Request != nil && resp.Request.URL != nil {
		if ts := timestampFromReplayURL(resp.Request.URL.Path); ts != "" {
			served = ts
		}
	}

	return &Snapshot{
		URL:         target,
		Timestamp:   served,
		Format:      format,
		Status:      resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// replayTimestampRe pulls the capture timestamp out of a replay path.
var replayTimestampRe = regexp.MustCompile(`^/web/(\d{4,14})[a-z_]*/`)

func timestampFromReplayURL(path string) string {
	if m := replayTimestampRe.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return ""
}

// notArchivedMarkers identify the archive's own error pages, which it
// serves with status 200.
var notArchivedMarkers = [][]byte{
	[]byte("Wayback Machine has not archived that URL"),
	[]byte("Wayback Machine doesn't have that page archived"),
	[]byte("Page cannot be crawled or displayed due to robots.txt"),
	[]byte("This URL has been excluded from the Wayback Machine"),
	[]byte("Snapshot cannot be displayed due to an internal error"),
}

func looksNotArchived(body []byte) bool {
	head := body
	if len(head) > 64<<10 {
		head = head[:64<<10]
	}
	for _, marker := range notArchivedMarkers {
		if bytes.Contains(head, marker) {
			return true
		}
	}
	return false
}

// ContainsReplayMarkup reports whether a supposedly raw capture still
// carries the archive's replay scaffolding, meaning the replay server
// returned its wrapper instead of the original bytes.
func ContainsReplayMarkup(body []byte) bool {
	head := body
	if len(head) > 64<<10 {
		head = head[:64<<10]
	}
	return bytes.Contains(head, []byte("/web/2")) &&
		(bytes.Contains(head, []byte("wombat.js")) ||
			bytes.Contains(head, []byte("wm-ipp")) ||
			bytes.Contains(head, []byte("__wm.init")) ||
			bytes.Contains(head, []byte("WAYBACK TOOLBAR INSERT")))
}

func isHTML(contentType string) bool {
	return bytes.Contains(bytes.ToLower([]byte(contentType)), []byte("text/html"))
}
