// Package ui provides terminal user interface components.
package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sapientpro/wayback-machine-downloader/internal/crawler"
)

// Summary renders the end-of-run report in the terminal
type Summary struct {
	noColor  bool
	maxItems int // cap on listed URLs per section
}

// SummaryOption configures a Summary
type SummaryOption func(*Summary)

// WithNoColor disables colored output
func WithNoColor(noColor bool) SummaryOption {
	return func(s *Summary) {
		s.noColor = noColor
	}
}

// WithMaxItems caps how many URLs each list section shows; 0 lists all
func WithMaxItems(n int) SummaryOption {
	return func(s *Summary) {
		s.maxItems = n
	}
}

// NewSummary creates a new Summary
func NewSummary(opts ...SummaryOption) *Summary {
	s := &Summary{
		noColor:  false,
		maxItems: 20,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Render writes the full report: counters, then the external, skipped
// and failed URL lists, then where the mirror landed.
func (s *Summary) Render(w io.Writer, stats *crawler.Stats, mirrorPath string) {
	var sb strings.Builder

	sb.WriteString(s.color(colorBold, "Download complete") + "\n\n")

	sb.WriteString(fmt.Sprintf("  Pages:              %s\n", s.color(colorGreen, fmt.Sprintf("%d", stats.Pages))))
	sb.WriteString(fmt.Sprintf("  Files saved:        %d\n", stats.Saved))
	sb.WriteString(fmt.Sprintf("  Resources:          %d\n", stats.Resources))
	if stats.FoundViaFallback > 0 {
		sb.WriteString(fmt.Sprintf("  Found via fallback: %s\n", s.color(colorCyan, fmt.Sprintf("%d", stats.FoundViaFallback))))
	}
	if stats.SkippedExisting > 0 {
		sb.WriteString(fmt.Sprintf("  Kept existing:      %d\n", stats.SkippedExisting))
	}
	if stats.SkippedPattern > 0 {
		sb.WriteString(fmt.Sprintf("  Skipped by pattern: %d\n", stats.SkippedPattern))
	}
	if stats.NotFound > 0 {
		sb.WriteString(fmt.Sprintf("  Not found:          %s\n", s.color(colorYellow, fmt.Sprintf("%d", stats.NotFound))))
	}
	sb.WriteString(fmt.Sprintf("  Elapsed:            %s\n", formatDuration(stats.Elapsed())))

	s.renderList(&sb, "External links (not downloaded)", stats.External())
	s.renderList(&sb, "Skipped by pattern", stats.Skipped())

	if len(stats.Failed) > 0 {
		sb.WriteString("\n" + s.color(colorYellow, "Failed downloads") + "\n")
		for i, f := range stats.Failed {
			if s.maxItems > 0 && i >= s.maxItems {
				sb.WriteString(fmt.Sprintf("  ... and %d more (see missing.log)\n", len(stats.Failed)-i))
				break
			}
			sb.WriteString(fmt.Sprintf("  %s %s (%s)\n", s.color(colorYellow, "✗"), f.URL, f.Reason))
		}
	}

	sb.WriteString(fmt.Sprintf("\nMirror written to %s\n", s.color(colorBold, mirrorPath)))

	fmt.Fprint(w, sb.String())
}

// renderList writes one URL section, truncated at maxItems.
func (s *Summary) renderList(sb *strings.Builder, title string, urls []string) {
	if len(urls) == 0 {
		return
	}
	sb.WriteString("\n" + s.color(colorBold, title) + "\n")
	for i, u := range urls {
		if s.maxItems > 0 && i >= s.maxItems {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(urls)-i))
			break
		}
		sb.WriteString("  " + u + "\n")
	}
}

// RenderError renders a run-level failure message
func (s *Summary) RenderError(w io.Writer, err error) {
	cross := s.color(colorYellow, "✗")
	fmt.Fprintf(w, "%s %s: %v\n", cross, s.color(colorBold, "download failed"), err)
}

// color wraps text in ANSI color codes
func (s *Summary) color(code, text string) string {
	if s.noColor {
		return text
	}
	return code + text + colorReset
}

// formatDuration formats a duration as mm:ss or hh:mm:ss
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "00:00"
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}
