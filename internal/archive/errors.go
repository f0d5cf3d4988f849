// Package archive talks to the Wayback Machine: snapshot replay,
// the availability API and the CDX index, with retry and fallback
// resolution for snapshots that moved or never existed.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportError is a network-layer failure (connect, DNS, timeout).
// Transport errors are the only class retried against the same
// snapshot URL; everything else escalates to the fallback resolver.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-200 reply from the archive.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Status, e.URL)
}

var (
	// ErrEmptyBody means the archive replied 200 with no content.
	ErrEmptyBody = errors.New("empty response body")

	// ErrNotArchived means the reply was the archive's own "not in
	// the archive" page rather than site content.
	ErrNotArchived = errors.New("url not archived")

	// ErrExhausted means every fallback candidate was tried and failed.
	ErrExhausted = errors.New("all snapshot candidates exhausted")

	// ErrNoHomepage means no variant of the site root could be
	// resolved; the crawl cannot start.
	ErrNoHomepage = errors.New("homepage not found in archive")
)

// IsTransient reports whether err is worth retrying against the same
// URL. Only transport-level failures qualify; context cancellation
// never does.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
