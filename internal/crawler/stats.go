package crawler

import (
	"sort"
	"time"
)

// FailedURL records one permanently failed download for missing.log
// and the final summary.
type FailedURL struct {
	URL    string
	Reason string
	At     time.Time
}

// Stats accumulates run counters. The crawl loop is the only writer.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time

	Pages            int // pages that entered the fetch state
	Saved            int // pages and resources written to disk
	Resources        int // page requisites written to disk
	NotFound         int // permanently failed downloads
	FoundViaFallback int // downloads that needed the fallback resolver
	SkippedExisting  int // files kept from a previous run
	SkippedPattern   int // URLs matching a skip pattern

	Sitemap []string // pages saved this run, in crawl order
	Failed  []FailedURL

	external map[string]bool
	skipped  []string
}

// NewStats creates run counters stamped with the current time.
func NewStats() *Stats {
	return &Stats{
		StartTime: time.Now(),
		external:  make(map[string]bool),
	}
}

// AddPage records one page saved to the mirror.
func (s *Stats) AddPage(url string) {
	s.Saved++
	s.Sitemap = append(s.Sitemap, url)
}

// AddResource records one page requisite saved to the mirror.
func (s *Stats) AddResource() {
	s.Saved++
	s.Resources++
}

// AddFailed records a permanently failed URL.
func (s *Stats) AddFailed(url, reason string) {
	s.NotFound++
	s.Failed = append(s.Failed, FailedURL{URL: url, Reason: reason, At: time.Now()})
}

// AddExternal records an external URL. Duplicates collapse.
func (s *Stats) AddExternal(url string) {
	s.external[url] = true
}

// AddSkipped records a URL excluded by a skip pattern.
func (s *Stats) AddSkipped(url string) {
	s.SkippedPattern++
	s.skipped = append(s.skipped, url)
}

// External returns the recorded external URLs, sorted.
func (s *Stats) External() []string {
	out := make([]string, 0, len(s.external))
	for u := range s.external {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Skipped returns the URLs excluded by skip patterns, in discovery order.
func (s *Stats) Skipped() []string {
	return s.skipped
}

// Finish stamps the end time.
func (s *Stats) Finish() {
	s.EndTime = time.Now()
}

// Elapsed returns the run duration.
func (s *Stats) Elapsed() time.Duration {
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartTime)
}
