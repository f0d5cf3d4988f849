package archive

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/charmbracelet/log"
)

// maxCandidates bounds how many CDX rows one resolution will try.
const maxCandidates = 8

// Resolver hunts down a usable capture once the direct fetch failed:
// alternate formats first, then the availability API, then
// progressively broader CDX queries. URLs that exhaust every
// candidate are remembered for the life of the process and never
// retried.
type Resolver struct {
	fetcher *Fetcher
	index   *Index
	failed  map[string]bool
	log     *log.Logger
}

// NewResolver creates a fallback resolver.
func NewResolver(fetcher *Fetcher, index *Index, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		fetcher: fetcher,
		index:   index,
		failed:  make(map[string]bool),
		log:     logger,
	}
}

// KnownFailed reports whether target already exhausted the fallback
// chain earlier in this run.
func (r *Resolver) KnownFailed(target string) bool {
	return r.failed[target]
}

// Resolve tries every fallback stage in order and returns the first
// snapshot that fetches cleanly. The chain short-circuits: a hit at
// any stage skips the rest. On exhaustion the target enters the
// negative cache and ErrExhausted is returned.
func (r *Resolver) Resolve(ctx context.Context, target, timestamp string) (*Snapshot, error) {
	if r.failed[target] {
		return nil, fmt.Errorf("%s: %w", target, ErrExhausted)
	}

	tried := map[string]bool{
		timestamp + FormatIdentity: true, // the direct fetch the caller already made
	}

	// Stage 1: same timestamp, alternate formats.
	if snap := r.tryFormats(ctx, target, timestamp, tried); snap != nil {
		return snap, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Stage 2: availability API for the closest capture.
	if ts, ok, err := r.index.Closest(ctx, target, timestamp); err != nil {
		r.log.Debug("availability lookup failed", "url", target, "err", err)
	} else if ok {
		if snap := r.tryFormats(ctx, target, ts, tried); snap != nil {
			return snap, nil
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Stages 3+: CDX queries, narrowest first. A broader query runs
	// only when the narrower one surfaced no candidates at all.
	for _, q := range r.cdxPlan(target, timestamp) {
		records, err := r.index.Search(ctx, q)
		if err != nil {
			r.log.Debug("cdx query failed", "url", q.URL, "err", err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		if snap := r.tryRecords(ctx, target, records, tried); snap != nil {
			return snap, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Candidates existed but none fetched; broadening further
		// would only resurface the same captures.
		break
	}

	r.failed[target] = true
	return nil, fmt.Errorf("%s: %w", target, ErrExhausted)
}

// cdxPlan builds the widening sequence of CDX queries for a target.
func (r *Resolver) cdxPlan(target, timestamp string) []CDXQuery {
	date := timestamp
	if len(date) > 8 {
		date = date[:8]
	}

	plan := []CDXQuery{
		{URL: target, To: date, Filter: "statuscode:200", Limit: maxCandidates, Reverse: true},
		{URL: target, Filter: "statuscode:200", Limit: maxCandidates, Reverse: true},
		{URL: target, Limit: maxCandidates, Reverse: true},
	}

	if parent := parentPrefix(target); parent != "" {
		plan = append(plan, CDXQuery{
			URL:       parent,
			MatchType: "prefix",
			Filter:    "statuscode:200",
			Collapse:  "urlkey",
			Limit:     maxCandidates,
			Reverse:   true,
		})
	}
	return plan
}

// tryFormats attempts every snapshot format at one timestamp.
func (r *Resolver) tryFormats(ctx context.Context, target, timestamp string, tried map[string]bool) *Snapshot {
	for _, format := range Formats {
		key := timestamp + format
		if tried[key] {
			continue
		}
		tried[key] = true

		snap, err := r.fetcher.Fetch(ctx, target, timestamp, format)
		if err != nil {
			r.log.Debug("fallback candidate failed",
				"url", target, "timestamp", timestamp, "format", format, "err", err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		// The bare replay format wraps the capture in the Wayback
		// toolbar and rewriting scripts; that wrapper is not usable
		// as page content.
		if ContainsReplayMarkup(snap.Body) {
			r.log.Debug("fallback candidate carries replay markup",
				"url", target, "timestamp", timestamp, "format", format)
			continue
		}
		return snap
	}
	return nil
}

// tryRecords attempts the captures a CDX query returned.
func (r *Resolver) tryRecords(ctx context.Context, target string, records []CDXRecord, tried map[string]bool) *Snapshot {
	count := 0
	for _, rec := range records {
		if rec.Timestamp == "" {
			continue
		}
		if count >= maxCandidates {
			break
		}
		count++
		if snap := r.tryFormats(ctx, target, rec.Timestamp, tried); snap != nil {
			return snap
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// parentPrefix returns the parent directory of the target's path for
// prefix matching, or "" when the target is already at the root.
func parentPrefix(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	dir := path.Dir(strings.TrimRight(u.Path, "/"))
	if dir == "." || dir == "/" || dir == "" {
		return ""
	}
	u.Path = dir + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
