package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sapientpro/wayback-machine-downloader/internal/archive"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Network.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Network.Timeout)
	}

	if cfg.Network.Retries != 6 {
		t.Errorf("Retries = %d, want 6", cfg.Network.Retries)
	}

	if cfg.Archive.ReplayBase != "https://web.archive.org" {
		t.Errorf("ReplayBase = %s", cfg.Archive.ReplayBase)
	}

	if cfg.Crawl.FrontierLimit != 100000 {
		t.Errorf("FrontierLimit = %d, want 100000", cfg.Crawl.FrontierLimit)
	}

	if cfg.Output.Directory != "websites" {
		t.Errorf("Directory = %s, want websites", cfg.Output.Directory)
	}
}

// The default replay base must compose with the fetcher's /web/<ts><flag>/
// path scheme into a valid archive URL, without doubling path segments.
func TestDefaultReplayBaseComposes(t *testing.T) {
	cfg := DefaultConfig()
	f := archive.NewFetcher(archive.NewClient(), archive.DefaultRetryPolicy(), cfg.Archive.ReplayBase, nil)

	got := f.SnapshotURL("https://example.com/", "20150101000000", archive.FormatIdentity)
	want := "https://web.archive.org/web/20150101000000id_/https://example.com/"
	if got != want {
		t.Errorf("SnapshotURL = %q, want %q", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Create test config
	content := `
network:
  timeout: 60s
  retries: 3
  user_agent: "TestAgent/1.0"
  proxy: "socks5://127.0.0.1:9050"
  http3: true
  headers:
    Accept-Language: "tr-TR"

crawl:
  delay: 2s
  max_pages: 500
  skip_existing: true
  skip_patterns:
    - "/wp-admin/"
    - "?replytocom="

output:
  directory: "mirror"
  colors: false
`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(configPath); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Network.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.Network.Timeout)
	}

	if cfg.Network.UserAgent != "TestAgent/1.0" {
		t.Errorf("UserAgent = %s, want TestAgent/1.0", cfg.Network.UserAgent)
	}

	if cfg.Network.Proxy != "socks5://127.0.0.1:9050" {
		t.Errorf("Proxy = %s", cfg.Network.Proxy)
	}

	if !cfg.Network.HTTP3 {
		t.Error("HTTP3 should be true")
	}

	if cfg.Network.Headers["Accept-Language"] != "tr-TR" {
		t.Errorf("Headers = %v", cfg.Network.Headers)
	}

	if cfg.Crawl.Delay != 2*time.Second {
		t.Errorf("Delay = %v, want 2s", cfg.Crawl.Delay)
	}

	if cfg.Crawl.MaxPages != 500 {
		t.Errorf("MaxPages = %d, want 500", cfg.Crawl.MaxPages)
	}

	if len(cfg.Crawl.SkipPatterns) != 2 || cfg.Crawl.SkipPatterns[0] != "/wp-admin/" {
		t.Errorf("SkipPatterns = %v", cfg.Crawl.SkipPatterns)
	}

	// Defaults survive for unmentioned fields.
	if cfg.Archive.CDXBase != "https://web.archive.org/cdx/search/cdx" {
		t.Errorf("CDXBase = %s", cfg.Archive.CDXBase)
	}

	if cfg.Output.Colors {
		t.Error("Colors should be false")
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Crawl.MaxPages = 42
	cfg.Network.Proxy = "http://proxy:8080"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Load it back
	loaded := DefaultConfig()
	if err := loaded.LoadFile(configPath); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if loaded.Crawl.MaxPages != 42 {
		t.Errorf("Loaded MaxPages = %d, want 42", loaded.Crawl.MaxPages)
	}

	if loaded.Network.Proxy != "http://proxy:8080" {
		t.Errorf("Loaded Proxy = %s, want http://proxy:8080", loaded.Network.Proxy)
	}
}

func TestConfigPaths(t *testing.T) {
	paths := ConfigPaths()

	if len(paths) == 0 {
		t.Error("ConfigPaths() returned empty slice")
	}

	// Should contain at least current directory config
	found := false
	for _, p := range paths {
		if p == ".waybackdl.yaml" || p == ".waybackdl.yml" {
			found = true
			break
		}
	}

	if !found {
		t.Error("ConfigPaths() should contain .waybackdl.yaml")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Load should return defaults when no config file exists
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Network.Retries != 6 {
		t.Errorf("Default Retries = %d, want 6", cfg.Network.Retries)
	}
}

func TestGenerateDefaultConfig(t *testing.T) {
	content := GenerateDefaultConfig()

	if content == "" {
		t.Error("GenerateDefaultConfig() returned empty string")
	}

	// Should contain key sections
	sections := []string{
		"archive:",
		"network:",
		"crawl:",
		"output:",
		"logging:",
	}

	for _, section := range sections {
		if !strings.Contains(content, section) {
			t.Errorf("GenerateDefaultConfig() should contain %s", section)
		}
	}
}
