// Package config provides configuration management for the downloader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete downloader configuration
type Config struct {
	Archive ArchiveConfig `yaml:"archive"`
	Network NetworkConfig `yaml:"network"`
	Crawl   CrawlConfig   `yaml:"crawl"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
}

// ArchiveConfig holds the Wayback Machine endpoints
type ArchiveConfig struct {
	ReplayBase       string `yaml:"replay_base"` // host only; /web/<timestamp> paths are appended
	CDXBase          string `yaml:"cdx_base"`
	AvailabilityBase string `yaml:"availability_base"`
}

// NetworkConfig holds transport settings
type NetworkConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	Retries            int           `yaml:"retries"`
	UserAgent          string        `yaml:"user_agent"` // empty means rotate browser fingerprints
	Proxy              string        `yaml:"proxy"`      // http://, https:// or socks5:// URL
	HTTP3              bool          `yaml:"http3"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`

	// Headers are sent verbatim on every request, e.g. a custom
	// Accept-Language or an archive.org authorization cookie.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// CrawlConfig holds crawl behavior settings
type CrawlConfig struct {
	Delay         time.Duration `yaml:"delay"`     // pause between page fetches
	MaxPages      int           `yaml:"max_pages"` // 0 means unlimited
	SkipExisting  bool          `yaml:"skip_existing"`
	SkipPatterns  []string      `yaml:"skip_patterns,omitempty"`
	FrontierLimit int           `yaml:"frontier_limit"`
}

// OutputConfig holds output settings
type OutputConfig struct {
	Directory string `yaml:"directory"`
	Colors    bool   `yaml:"colors"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			ReplayBase:       "https://web.archive.org",
			CDXBase:          "https://web.archive.org/cdx/search/cdx",
			AvailabilityBase: "https://archive.org/wayback/available",
		},
		Network: NetworkConfig{
			Timeout: 30 * time.Second,
			Retries: 6,
		},
		Crawl: CrawlConfig{
			Delay:         500 * time.Millisecond,
			MaxPages:      0,
			FrontierLimit: 100000,
		},
		Output: OutputConfig{
			Directory: "websites",
			Colors:    true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigPaths returns the list of config file paths in priority order
func ConfigPaths() []string {
	paths := make([]string, 0, 6)

	// 1. Environment variable
	if envPath := os.Getenv("WAYBACKDL_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	// 2. Current directory
	paths = append(paths, ".waybackdl.yaml")
	paths = append(paths, ".waybackdl.yml")

	// 3. User config directory (XDG on Linux, AppData on Windows)
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "waybackdl", "config.yaml"))
		paths = append(paths, filepath.Join(configDir, "waybackdl", "config.yml"))
	}

	// 4. Home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".waybackdlrc"))
		paths = append(paths, filepath.Join(homeDir, ".waybackdl.yaml"))
	}

	// 5. System-wide (Unix only)
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/waybackdl/config.yaml")
	}

	return paths
}

// Load loads configuration from the first available config file
func Load() (*Config, error) {
	config := DefaultConfig()

	// Try each config path
	for _, path := range ConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := config.LoadFile(path); err != nil {
				return nil, fmt.Errorf("loading config from %s: %w", path, err)
			}
			return config, nil
		}
	}

	// No config file found, return defaults
	return config, nil
}

// LoadFile loads configuration from a specific file
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default path for saving user config
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "waybackdl", "config.yaml"), nil
}

// GenerateDefaultConfig generates a default config file content
func GenerateDefaultConfig() string {
	return `# waybackdl Configuration File

# Wayback Machine endpoints (rarely need changing)
archive:
  replay_base: "https://web.archive.org"
  cdx_base: "https://web.archive.org/cdx/search/cdx"
  availability_base: "https://archive.org/wayback/available"

# Network settings
network:
  timeout: 30s            # Per-request timeout
  retries: 6              # Attempts per snapshot on transport errors
  user_agent: ""          # Fixed User-Agent (empty = rotate browser fingerprints)
  proxy: ""               # http://, https:// or socks5:// proxy URL
  http3: false            # Use HTTP/3 (QUIC) transport
  insecure_skip_verify: false
  # headers:              # Extra headers sent on every request
  #   Accept-Language: "en-US"

# Crawl behavior
crawl:
  delay: 500ms            # Pause between page fetches
  max_pages: 0            # Page cap (0 = unlimited)
  skip_existing: false    # Keep files from a previous run
  # skip_patterns:        # URL substrings to exclude
  #   - "/wp-admin/"
  #   - "?replytocom="
  frontier_limit: 100000  # Queue size cap

# Output settings
output:
  directory: "websites"   # Mirror root (a per-domain directory is created inside)
  colors: true            # Enable colored output

# Logging settings
logging:
  level: "info"           # Log level: debug, info, warn, error
  file: ""                # Log file path (empty = stderr only)
`
}
