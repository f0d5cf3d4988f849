package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sapientpro/wayback-machine-downloader/internal/archive"
	"github.com/sapientpro/wayback-machine-downloader/internal/storage"
)

// Config holds the parameters of one crawl run.
type Config struct {
	Domain       string
	Date         string // YYYYMMDD
	OutputDir    string
	MaxPages     int // 0 means unlimited
	SkipExisting bool
	SkipPatterns []string
	Delay        time.Duration // pause between page fetches
	SeedLimit    int           // cap on discovery results, 0 means server default
	FrontierLim  int           // 0 means DefaultFrontierLimit
}

// Crawler walks a site's archived snapshot breadth-first and writes
// the mirror.
type Crawler struct {
	cfg        Config
	fetcher    *archive.Fetcher
	resolver   *archive.Resolver
	index      *archive.Index
	classifier *Classifier
	rewriter   *Rewriter
	frontier   *Frontier
	stats      *Stats
	mirror     *storage.Mirror
	log        *log.Logger
}

// New creates a crawler. The mirror directory is created when Run
// starts, once the crawl is known to be viable.
func New(cfg Config, fetcher *archive.Fetcher, resolver *archive.Resolver, index *archive.Index, logger *log.Logger) *Crawler {
	if logger == nil {
		logger = log.Default()
	}
	classifier := NewClassifier(cfg.Domain, cfg.SkipPatterns)
	return &Crawler{
		cfg:        cfg,
		fetcher:    fetcher,
		resolver:   resolver,
		index:      index,
		classifier: classifier,
		rewriter:   NewRewriter(classifier),
		frontier:   NewFrontier(cfg.FrontierLim),
		stats:      NewStats(),
		log:        logger,
	}
}

// Stats returns the run counters. The crawl loop is the only writer,
// so reads are safe after Run returns.
func (c *Crawler) Stats() *Stats {
	return c.stats
}

// Run executes the crawl: discover the pages captured at the target
// date, then drain the frontier until it empties or the page cap is
// hit. Cancelling ctx stops cleanly after the current item.
func (c *Crawler) Run(ctx context.Context) error {
	defer c.stats.Finish()

	seeds := c.discover(ctx)

	// With nothing discovered, probe homepage variants directly. If
	// none resolves there is no crawl to run and no mirror directory
	// is created.
	var probed *archive.Snapshot
	var probedURL string
	var probedVia bool
	if len(seeds) == 0 {
		c.log.Info("discovery returned nothing, trying homepage variants")
		probed, probedURL, probedVia = c.probeHomepage(ctx)
		if probed == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s at %s: %w", c.cfg.Domain, c.cfg.Date, archive.ErrNoHomepage)
		}
	}

	// A resumed run only keeps files whose checksums still match the
	// previous manifest. Mismatches are removed here, before OpenMirror
	// starts the manifest over, so they re-fetch below.
	if c.cfg.SkipExisting {
		c.scrubCorrupted()
	}

	mirror, err := storage.OpenMirror(c.cfg.OutputDir, c.cfg.Domain, c.cfg.Date)
	if err != nil {
		return err
	}
	c.mirror = mirror
	defer mirror.Close()

	for _, seed := range seeds {
		c.frontier.Push(seed)
	}
	if probed != nil {
		c.frontier.MarkSeen(probedURL)
		c.stats.Pages++
		c.savePage(ctx, probedURL, probed, probedVia)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.cfg.MaxPages > 0 && c.stats.Pages >= c.cfg.MaxPages {
			c.log.Info("page cap reached", "pages", c.stats.Pages)
			break
		}
		pageURL, ok := c.frontier.Pop()
		if !ok {
			break
		}

		c.processPage(ctx, pageURL)

		if c.cfg.Delay > 0 && c.frontier.Len() > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.Delay):
			}
		}
	}

	if dropped := c.frontier.Dropped(); dropped > 0 {
		c.log.Warn("frontier overflowed", "dropped", dropped)
	}
	c.log.Info("crawl finished",
		"pages", c.stats.Pages, "missing", c.mirror.MissingCount())
	return nil
}

// discover seeds the frontier from the index: every distinct page of
// the domain captured on or before the target date, in index order.
func (c *Crawler) discover(ctx context.Context) []string {
	records, err := c.index.PagesAt(ctx, c.cfg.Domain, c.cfg.Date, c.cfg.SeedLimit)
	if err != nil {
		c.log.Warn("page discovery failed", "err", err)
		return nil
	}

	var seeds []string
	for _, rec := range records {
		if rec.Original == "" {
			continue
		}
		// Keep HTML-ish captures; a stylesheet or image in the index
		// will be picked up as a requisite of whatever page uses it.
		if !strings.Contains(rec.MimeType, "html") && ClassifyExtension(rec.Original) == ExtStatic {
			continue
		}
		switch c.classifier.Classify(rec.Original) {
		case ClassInternal:
			normalized, err := Normalize(rec.Original)
			if err != nil {
				continue
			}
			seeds = append(seeds, normalized)
		case ClassSkippedPattern:
			c.recordSkipped(rec.Original)
		}
	}
	c.log.Info("discovered pages", "count", len(seeds))
	return seeds
}

func (c *Crawler) homepageVariants() []string {
	d := c.classifier.Domain
	bases := []string{
		"https://" + d,
		"https://www." + d,
		"http://" + d,
		"http://www." + d,
	}
	variants := make([]string, 0, len(bases)*2)
	variants = append(variants, bases...)
	for _, b := range bases {
		variants = append(variants, b+"/index.html")
	}
	return variants
}

// probeHomepage fetches homepage variants until one resolves. The
// returned bool reports whether fallback resolution found the capture.
func (c *Crawler) probeHomepage(ctx context.Context) (*archive.Snapshot, string, bool) {
	for _, variant := range c.homepageVariants() {
		if ctx.Err() != nil {
			return nil, "", false
		}
		snap, viaFallback, err := c.fetchWithFallback(ctx, variant)
		if err != nil {
			c.log.Debug("homepage variant failed", "url", variant, "err", err)
			continue
		}
		c.log.Info("homepage resolved", "url", variant, "timestamp", snap.Timestamp)
		return snap, variant, viaFallback
	}
	return nil, "", false
}

// scrubCorrupted removes mirror files whose contents no longer match
// the previous run's manifest, so skip-existing mode re-fetches them.
func (c *Crawler) scrubCorrupted() {
	root := filepath.Join(c.cfg.OutputDir, c.cfg.Domain)
	bad, err := storage.VerifyManifest(root)
	if err != nil {
		c.log.Warn("manifest verification failed", "err", err)
		return
	}
	for _, relPath := range bad {
		c.log.Warn("checksum mismatch, re-fetching", "path", relPath)
		if err := os.Remove(filepath.Join(root, filepath.FromSlash(relPath))); err != nil && !os.IsNotExist(err) {
			c.log.Error("removing corrupted file failed", "path", relPath, "err", err)
		}
	}
}

// processPage runs one frontier URL through the page state machine.
func (c *Crawler) processPage(ctx context.Context, pageURL string) {
	relPath, err := MapToPath(pageURL)
	if err != nil {
		c.log.Debug("unmappable url", "url", pageURL, "err", err)
		return
	}

	if c.cfg.SkipExisting && c.mirror.ExistsNonEmpty(relPath) {
		c.stats.SkippedExisting++
		c.log.Debug("kept existing page", "url", pageURL, "path", relPath)
		c.reparseExisting(ctx, pageURL, relPath)
		return
	}

	c.stats.Pages++
	snap, viaFallback, err := c.fetchWithFallback(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.failPermanent(pageURL, err)
		return
	}

	c.savePage(ctx, pageURL, snap, viaFallback)
}

// savePage extracts references, rewrites links and persists the page.
func (c *Crawler) savePage(ctx context.Context, pageURL string, snap *archive.Snapshot, viaFallback bool) {
	relPath, err := MapToPath(pageURL)
	if err != nil {
		return
	}
	if viaFallback {
		c.stats.FoundViaFallback++
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return
	}

	body := snap.Body
	if IsHTMLContentType(snap.ContentType) {
		c.routeRefs(ctx, c.extractPageRefs(body, base))
		body = c.rewriter.RewriteHTML(body, base, relPath)
	}

	if err := c.mirror.Save(relPath, body); err != nil {
		c.log.Error("saving page failed", "url", pageURL, "err", err)
		c.failPermanent(pageURL, err)
		return
	}
	if err := c.mirror.AppendSitemap(pageURL); err != nil {
		c.log.Error("sitemap append failed", "err", err)
	}
	c.stats.AddPage(pageURL)
	c.log.Info("saved page", "url", pageURL, "timestamp", snap.Timestamp, "bytes", len(body))
}

// reparseExisting feeds the links of an already-downloaded page back
// into the frontier without re-fetching the page itself.
func (c *Crawler) reparseExisting(ctx context.Context, pageURL, relPath string) {
	body, err := c.mirror.ReadFile(relPath)
	if err != nil {
		c.log.Debug("re-parsing existing file failed", "path", relPath, "err", err)
		return
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	c.routeRefs(ctx, c.extractPageRefs(body, base))
}

// extractPageRefs parses HTML, tolerating parse failures: pages in
// the wild are rarely well-formed.
func (c *Crawler) extractPageRefs(body []byte, base *url.URL) []Ref {
	refs, err := ExtractHTML(bytes.NewReader(body), base)
	if err != nil {
		c.log.Debug("html parse failed", "url", base.String(), "err", err)
		return nil
	}
	return refs
}

// routeRefs sends each discovered reference where it belongs: pages
// to the frontier, requisites to immediate download, externals and
// skips to the report.
func (c *Crawler) routeRefs(ctx context.Context, refs []Ref) {
	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		switch c.classifier.Classify(ref.URL) {
		case ClassInternal:
			if ref.Kind.IsResource() {
				c.processResource(ctx, ref.URL, ref.Kind)
				continue
			}
			if normalized, err := Normalize(ref.URL); err == nil {
				c.frontier.Push(normalized)
			}
		case ClassExternal:
			c.stats.AddExternal(ref.URL)
		case ClassSkippedPattern:
			c.recordSkipped(ref.URL)
		case ClassArchiveNoise, ClassInvalid:
			// dropped
		}
	}
}

// recordSkipped reports a pattern-skipped URL once.
func (c *Crawler) recordSkipped(rawURL string) {
	key := rawURL
	if normalized, err := Normalize(rawURL); err == nil {
		key = normalized
	}
	if c.frontier.Seen(key) {
		return
	}
	c.frontier.MarkSeen(key)
	c.stats.AddSkipped(rawURL)
}

// processResource downloads one page requisite. Stylesheets are
// scanned for nested requisites, which download recursively; the
// visited set breaks import cycles.
func (c *Crawler) processResource(ctx context.Context, rawURL string, kind RefKind) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return
	}
	if c.frontier.Seen(normalized) {
		return
	}
	c.frontier.MarkSeen(normalized)

	relPath, err := MapToPath(normalized)
	if err != nil {
		return
	}
	if c.mirror.ExistsNonEmpty(relPath) {
		if c.cfg.SkipExisting {
			c.stats.SkippedExisting++
		}
		return
	}

	snap, viaFallback, err := c.fetchWithFallback(ctx, normalized)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.failPermanent(normalized, err)
		return
	}
	if viaFallback {
		c.stats.FoundViaFallback++
	}

	body := snap.Body
	if kind == KindStylesheet || IsCSSContentType(snap.ContentType) {
		if base, err := url.Parse(normalized); err == nil {
			c.routeRefs(ctx, ExtractCSS(string(body), base))
			body = c.rewriter.RewriteCSS(body, base, relPath)
		}
	}

	if err := c.mirror.Save(relPath, body); err != nil {
		c.log.Error("saving resource failed", "url", normalized, "err", err)
		c.failPermanent(normalized, err)
		return
	}
	c.stats.AddResource()
	c.log.Debug("saved resource", "url", normalized, "kind", kind, "bytes", len(body))
}

// fetchWithFallback fetches one URL: the direct snapshot first, the
// fallback resolver on any failure, including a nominally successful
// fetch that returned the archive's replay wrapper instead of site
// content.
func (c *Crawler) fetchWithFallback(ctx context.Context, target string) (*archive.Snapshot, bool, error) {
	if c.resolver.KnownFailed(target) {
		return nil, false, fmt.Errorf("%s: %w", target, archive.ErrExhausted)
	}

	snap, err := c.fetcher.Fetch(ctx, target, c.cfg.Date, archive.FormatIdentity)
	if err == nil {
		if !archive.ContainsReplayMarkup(snap.Body) {
			return snap, false, nil
		}
		c.log.Debug("got replay wrapper instead of content", "url", target)
	} else {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, false, err
		}
		c.log.Debug("direct fetch failed", "url", target, "err", err)
	}

	snap, rerr := c.resolver.Resolve(ctx, target, c.cfg.Date)
	if rerr != nil {
		return nil, false, rerr
	}
	return snap, true, nil
}

// failPermanent records a URL that survived neither fetch nor fallback.
func (c *Crawler) failPermanent(target string, err error) {
	reason := err.Error()
	c.stats.AddFailed(target, reason)
	if logErr := c.mirror.LogMissing(target, reason, time.Now()); logErr != nil {
		c.log.Error("missing log append failed", "err", logErr)
	}
	c.log.Warn("permanently failed", "url", target, "reason", reason)
}
