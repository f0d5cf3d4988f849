package crawler

import (
	"net/url"
	"regexp"
	"strings"
)

// Class is the routing decision for a discovered URL.
type Class int

const (
	// ClassInternal belongs to the mirrored site and is eligible for download.
	ClassInternal Class = iota

	// ClassExternal points at another site; recorded but never fetched.
	ClassExternal

	// ClassArchiveNoise is archive-service chrome (toolbar, analytics,
	// /web/<timestamp>/ wrappers) that must not reach the mirror.
	ClassArchiveNoise

	// ClassSkippedPattern matched a user-supplied skip pattern.
	ClassSkippedPattern

	// ClassInvalid cannot be fetched at all (mailto:, javascript:, malformed).
	ClassInvalid
)

// String returns string representation of the class
func (c Class) String() string {
	switch c {
	case ClassInternal:
		return "internal"
	case ClassExternal:
		return "external"
	case ClassArchiveNoise:
		return "archive_noise"
	case ClassSkippedPattern:
		return "skipped_pattern"
	case ClassInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// archiveHosts are hosts serving the archive itself rather than the
// archived site.
var archiveHosts = map[string]bool{
	"web.archive.org":        true,
	"archive.org":            true,
	"web-static.archive.org": true,
	"analytics.archive.org":  true,
}

// wrapperPathRe matches replay-wrapper paths like /web/20150101000000if_/...
var wrapperPathRe = regexp.MustCompile(`^/web/\d{4,14}[a-z_]*/`)

// Classifier routes discovered URLs by ownership and skip rules.
type Classifier struct {
	// Domain is the site being mirrored, as given on the command line.
	Domain string

	// SkipPatterns are substrings; a URL containing any of them is skipped.
	SkipPatterns []string
}

// NewClassifier creates a classifier for the given site domain.
func NewClassifier(domain string, skipPatterns []string) *Classifier {
	return &Classifier{
		Domain:       strings.ToLower(strings.TrimSpace(domain)),
		SkipPatterns: skipPatterns,
	}
}

// Classify decides what to do with a discovered absolute URL.
func (c *Classifier) Classify(raw string) Class {
	u, err := url.Parse(raw)
	if err != nil {
		return ClassInvalid
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ClassInvalid
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ClassInvalid
	}

	if archiveHosts[host] || wrapperPathRe.MatchString(u.Path) {
		return ClassArchiveNoise
	}

	for _, pattern := range c.SkipPatterns {
		if pattern != "" && strings.Contains(raw, pattern) {
			return ClassSkippedPattern
		}
	}

	if SameSite(host, c.Domain) {
		return ClassInternal
	}
	return ClassExternal
}

// SameSite reports whether host and domain name the same site. A
// leading "www." is ignored on either side, but only when the
// remainder still has a dot: "www.example.com" equals "example.com",
// while "wwwexample.com" and hosts like "www.localhost" are compared
// literally. Subdomains are distinct sites.
func SameSite(host, domain string) bool {
	return stripWWW(strings.ToLower(host)) == stripWWW(strings.ToLower(domain))
}

// stripWWW removes a "www." prefix when what remains is still a
// dotted name.
func stripWWW(h string) string {
	rest, ok := strings.CutPrefix(h, "www.")
	if ok && strings.Contains(rest, ".") {
		return rest
	}
	return h
}
