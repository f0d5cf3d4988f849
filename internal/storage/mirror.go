// Package storage persists the downloaded site: the mirror file tree
// plus the sitemap, missing-URL log and checksum manifest that
// describe a run.
package storage

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// run artifact file names inside the mirror root
const (
	SitemapName  = "sitemap.txt"
	MissingName  = "missing.log"
	ManifestName = "manifest.txt"
)

// Mirror is the on-disk output of one run: outputDir/<domain>/ with
// the site files below it and the run artifacts at its top.
type Mirror struct {
	root   string
	domain string
	date   string

	sitemap  *os.File
	missing  *os.File
	manifest *os.File

	missingCount int
}

// OpenMirror creates (or reuses) the mirror directory for domain and
// opens fresh run artifacts. Site files from earlier runs stay in
// place so skip-existing mode can keep them.
func OpenMirror(outputDir, domain, date string) (*Mirror, error) {
	root := filepath.Join(outputDir, domain)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating mirror root %s: %w", root, err)
	}

	m := &Mirror{root: root, domain: domain, date: date}

	var err error
	if m.sitemap, err = os.Create(filepath.Join(root, SitemapName)); err != nil {
		return nil, fmt.Errorf("creating sitemap: %w", err)
	}
	if m.missing, err = os.Create(filepath.Join(root, MissingName)); err != nil {
		m.sitemap.Close()
		return nil, fmt.Errorf("creating missing log: %w", err)
	}
	if m.manifest, err = os.Create(filepath.Join(root, ManifestName)); err != nil {
		m.sitemap.Close()
		m.missing.Close()
		return nil, fmt.Errorf("creating manifest: %w", err)
	}

	header := fmt.Sprintf("=== Missing URLs for %s (%s) ===\n", domain, date)
	header += "format: url | error | timestamp\n"
	header += strings.Repeat("-", 48) + "\n"
	if _, err := m.missing.WriteString(header); err != nil {
		m.Close()
		return nil, fmt.Errorf("writing missing log header: %w", err)
	}

	return m, nil
}

// Root returns the mirror root directory.
func (m *Mirror) Root() string {
	return m.root
}

// Path resolves a relative mirror path to its absolute location.
func (m *Mirror) Path(relPath string) string {
	return filepath.Join(m.root, filepath.FromSlash(relPath))
}

// Save writes one downloaded file under the mirror root and appends
// its checksum to the manifest.
func (m *Mirror) Save(relPath string, body []byte) error {
	abs := m.Path(relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(abs, body, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}

	sum := blake3.Sum256(body)
	if _, err := fmt.Fprintf(m.manifest, "%s  %s\n", hex.EncodeToString(sum[:]), relPath); err != nil {
		return fmt.Errorf("appending manifest: %w", err)
	}
	return nil
}

// ExistsNonEmpty reports whether a previous run left a usable file at
// relPath. Zero-byte files count as missing so broken downloads get
// refetched.
func (m *Mirror) ExistsNonEmpty(relPath string) bool {
	info, err := os.Stat(m.Path(relPath))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// ReadFile returns the saved file at relPath, for re-parsing links in
// skip-existing mode.
func (m *Mirror) ReadFile(relPath string) ([]byte, error) {
	return os.ReadFile(m.Path(relPath))
}

// AppendSitemap records a saved page URL, one per line in crawl order.
func (m *Mirror) AppendSitemap(url string) error {
	_, err := fmt.Fprintln(m.sitemap, url)
	return err
}

// LogMissing records a permanently failed URL with its reason.
func (m *Mirror) LogMissing(url, reason string, at time.Time) error {
	m.missingCount++
	_, err := fmt.Fprintf(m.missing, "%s | %s | %s\n", url, reason, at.Format(time.RFC3339))
	return err
}

// MissingCount returns how many URLs were logged as missing.
func (m *Mirror) MissingCount() int {
	return m.missingCount
}

// VerifyManifest re-hashes every file listed in the manifest of an
// earlier run under root and returns the relative paths whose contents
// no longer match. A missing manifest means nothing to verify. It must
// run before OpenMirror, which starts the manifest afresh.
func VerifyManifest(root string) ([]string, error) {
	f, err := os.Open(filepath.Join(root, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	var bad []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sum, relPath, ok := strings.Cut(line, "  ")
		if !ok {
			continue
		}
		body, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
		if err != nil {
			bad = append(bad, relPath)
			continue
		}
		actual := blake3.Sum256(body)
		if hex.EncodeToString(actual[:]) != sum {
			bad = append(bad, relPath)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return bad, nil
}

// Close flushes and closes the run artifacts.
func (m *Mirror) Close() error {
	var firstErr error
	for _, f := range []*os.File{m.sitemap, m.missing, m.manifest} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
