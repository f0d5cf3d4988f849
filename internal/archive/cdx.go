package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/charmbracelet/log"
)

// Default index endpoints.
const (
	DefaultCDXBase          = "https://web.archive.org/cdx/search/cdx"
	DefaultAvailabilityBase = "https://archive.org/wayback/available"
)

// CDXRecord is one row of the CDX index.
type CDXRecord struct {
	URLKey     string
	Timestamp  string
	Original   string
	MimeType   string
	StatusCode string
	Digest     string
	Length     string
}

// CDXQuery describes one index search.
type CDXQuery struct {
	URL       string
	MatchType string // "", "exact", "prefix", "domain"
	From      string // YYYYMMDD lower bound
	To        string // YYYYMMDD upper bound
	Filter    string // e.g. "statuscode:200"
	Collapse  string // e.g. "urlkey"
	Limit     int
	Reverse   bool // newest first
}

// Index queries the CDX search API and the availability API.
type Index struct {
	client    *Client
	cdxBase   string
	availBase string
	log       *log.Logger
}

// NewIndex creates an index client. Empty bases mean the public
// endpoints.
func NewIndex(client *Client, cdxBase, availBase string, logger *log.Logger) *Index {
	if cdxBase == "" {
		cdxBase = DefaultCDXBase
	}
	if availBase == "" {
		availBase = DefaultAvailabilityBase
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Index{
		client:    client,
		cdxBase:   cdxBase,
		availBase: availBase,
		log:       logger,
	}
}

// Search runs a CDX query and returns the matching capture records.
func (ix *Index) Search(ctx context.Context, q CDXQuery) ([]CDXRecord, error) {
	params := url.Values{}
	params.Set("url", q.URL)
	params.Set("output", "json")
	if q.MatchType != "" {
		params.Set("matchType", q.MatchType)
	}
	if q.From != "" {
		params.Set("from", q.From)
	}
	if q.To != "" {
		params.Set("to", q.To)
	}
	if q.Filter != "" {
		params.Set("filter", q.Filter)
	}
	if q.Collapse != "" {
		params.Set("collapse", q.Collapse)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Reverse {
		// The API's fastLatest gives newest-first without a full
		// index scan.
		params.Set("fastLatest", "true")
	}

	queryURL := ix.cdxBase + "?" + params.Encode()
	ix.log.Debug("cdx search", "url", queryURL)

	resp, err := ix.client.Get(ctx, queryURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{Status: resp.StatusCode, URL: queryURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Op: "read cdx response", Err: err}
	}

	return parseCDX(body)
}

// parseCDX decodes the output=json format: a JSON array of string
// arrays whose first row is the column header.
func parseCDX(body []byte) ([]CDXRecord, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding cdx response: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[name] = i
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	records := make([]CDXRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		records = append(records, CDXRecord{
			URLKey:     field(row, "urlkey"),
			Timestamp:  field(row, "timestamp"),
			Original:   field(row, "original"),
			MimeType:   field(row, "mimetype"),
			StatusCode: field(row, "statuscode"),
			Digest:     field(row, "digest"),
			Length:     field(row, "length"),
		})
	}
	return records, nil
}

// availabilityResponse mirrors the availability API's JSON shape.
type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// Closest asks the availability API for the capture nearest to
// timestamp. Returns the capture's timestamp and false when the
// archive has nothing.
func (ix *Index) Closest(ctx context.Context, target, timestamp string) (string, bool, error) {
	params := url.Values{}
	params.Set("url", target)
	if timestamp != "" {
		params.Set("timestamp", timestamp)
	}

	queryURL := ix.availBase + "?" + params.Encode()
	ix.log.Debug("availability lookup", "url", queryURL)

	resp, err := ix.client.Get(ctx, queryURL)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", false, &HTTPError{Status: resp.StatusCode, URL: queryURL}
	}

	var decoded availabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", false, fmt.Errorf("decoding availability response: %w", err)
	}

	closest := decoded.ArchivedSnapshots.Closest
	if !closest.Available || closest.Timestamp == "" {
		return "", false, nil
	}
	return closest.Timestamp, true, nil
}

// PagesAt lists the distinct HTML pages of a domain captured on or
// before date. This seeds the crawl frontier.
func (ix *Index) PagesAt(ctx context.Context, domain, date string, limit int) ([]CDXRecord, error) {
	return ix.Search(ctx, CDXQuery{
		URL:      domain + "/*",
		To:       date,
		Filter:   "statuscode:200",
		Collapse: "urlkey",
		Limit:    limit,
	})
}
