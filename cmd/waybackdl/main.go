// waybackdl - Wayback Machine website downloader
// Reconstructs a browsable local mirror of a site as the Internet
// Archive captured it on a given date.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sapientpro/wayback-machine-downloader/internal/archive"
	"github.com/sapientpro/wayback-machine-downloader/internal/config"
	"github.com/sapientpro/wayback-machine-downloader/internal/crawler"
	"github.com/sapientpro/wayback-machine-downloader/internal/ui"
	"github.com/sapientpro/wayback-machine-downloader/internal/version"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitParseError   = 2
	ExitNetworkError = 3
	ExitInterrupted  = 8
)

// CLIConfig holds CLI configuration
type CLIConfig struct {
	OutputDir    string
	MaxPages     int
	SkipExisting bool
	SkipPatterns string // comma-separated substrings
	Delay        time.Duration
	Timeout      time.Duration
	UserAgent    string
	Proxy        string
	HTTP3        bool
	NoCheckCert  bool
	NoColor      bool
	LogLevel     string
	ConfigFile   string
	InitConfig   bool
	ShowVersion  bool
	ShowHelp     bool
}

func main() {
	cliConfig := parseFlags()

	if cliConfig.ShowVersion {
		fmt.Println(version.Full())
		os.Exit(ExitSuccess)
	}

	if cliConfig.InitConfig {
		os.Exit(initConfig())
	}

	if cliConfig.ShowHelp || flag.NArg() < 2 {
		printUsage()
		if flag.NArg() < 2 && !cliConfig.ShowHelp {
			os.Exit(ExitParseError)
		}
		os.Exit(ExitSuccess)
	}

	domain := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	date := flag.Arg(1)
	if domain == "" {
		fmt.Fprintln(os.Stderr, "Error: DOMAIN is required")
		printUsage()
		os.Exit(ExitParseError)
	}
	if _, err := time.Parse("20060102", date); err != nil {
		fmt.Fprintf(os.Stderr, "Error: DATE must be YYYYMMDD: %v\n", err)
		os.Exit(ExitParseError)
	}

	os.Exit(run(cliConfig, domain, date))
}

func parseFlags() CLIConfig {
	cfg := CLIConfig{}

	flag.StringVar(&cfg.OutputDir, "P", "", "Output directory (mirror root)")
	flag.StringVar(&cfg.OutputDir, "dir", "", "Output directory (mirror root)")
	flag.IntVar(&cfg.MaxPages, "max-pages", 0, "Stop after N pages (0 = unlimited)")
	flag.BoolVar(&cfg.SkipExisting, "c", false, "Keep files from a previous run")
	flag.BoolVar(&cfg.SkipExisting, "skip-existing", false, "Keep files from a previous run")
	flag.StringVar(&cfg.SkipPatterns, "skip", "", "Comma-separated URL substrings to exclude")
	flag.DurationVar(&cfg.Delay, "delay", 0, "Pause between page fetches (default from config)")
	flag.DurationVar(&cfg.Timeout, "T", 0, "Per-request timeout (default from config)")
	flag.DurationVar(&cfg.Timeout, "timeout", 0, "Per-request timeout (default from config)")
	flag.StringVar(&cfg.UserAgent, "user-agent", "", "Fixed User-Agent (default: rotate browser fingerprints)")
	flag.StringVar(&cfg.Proxy, "proxy", "", "Proxy URL (http://host:port or socks5://host:port)")
	flag.BoolVar(&cfg.HTTP3, "http3", false, "Use HTTP/3 (QUIC) transport")
	flag.BoolVar(&cfg.NoCheckCert, "no-check-certificate", false, "Skip TLS certificate verification")
	flag.BoolVar(&cfg.NoColor, "no-color", false, "Disable colored output")
	flag.StringVar(&cfg.LogLevel, "debug", "", "Log verbosity: debug, info, warn, error")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Use custom config file")
	flag.BoolVar(&cfg.InitConfig, "init-config", false, "Generate default config file")
	flag.BoolVar(&cfg.ShowVersion, "V", false, "Show version")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help")

	flag.Usage = printUsage
	flag.Parse()

	return cfg
}

func run(cliCfg CLIConfig, domain, date string) int {
	// Graceful shutdown: first Ctrl+C cancels the crawl, which stops
	// after the current item and still writes the summary.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, finishing current item...")
		cancel()
	}()

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitParseError
	}
	applyCLIOverrides(cliCfg, cfg)

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	defer closeLog()

	client := archive.NewClient(buildClientOptions(cfg)...)

	policy := archive.DefaultRetryPolicy()
	if cfg.Network.Retries > 0 {
		policy.MaxAttempts = cfg.Network.Retries
	}

	fetcher := archive.NewFetcher(client, policy, cfg.Archive.ReplayBase, logger)
	index := archive.NewIndex(client, cfg.Archive.CDXBase, cfg.Archive.AvailabilityBase, logger)
	resolver := archive.NewResolver(fetcher, index, logger)

	c := crawler.New(crawler.Config{
		Domain:       domain,
		Date:         date,
		OutputDir:    cfg.Output.Directory,
		MaxPages:     cfg.Crawl.MaxPages,
		SkipExisting: cfg.Crawl.SkipExisting,
		SkipPatterns: cfg.Crawl.SkipPatterns,
		Delay:        cfg.Crawl.Delay,
		FrontierLim:  cfg.Crawl.FrontierLimit,
	}, fetcher, resolver, index, logger)

	logger.Info("starting download", "domain", domain, "date", date, "dir", cfg.Output.Directory)

	summaryOpts := []ui.SummaryOption{ui.WithNoColor(cliCfg.NoColor || !cfg.Output.Colors)}
	if strings.EqualFold(cfg.Logging.Level, "debug") {
		// debug runs get the untruncated external/skipped lists
		summaryOpts = append(summaryOpts, ui.WithMaxItems(0))
	}
	summary := ui.NewSummary(summaryOpts...)

	runErr := c.Run(ctx)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			summary.Render(os.Stdout, c.Stats(), filepath.Join(cfg.Output.Directory, domain))
			return ExitInterrupted
		}
		summary.RenderError(os.Stdout, runErr)
		if errors.Is(runErr, archive.ErrNoHomepage) {
			return ExitNetworkError
		}
		return ExitGeneralError
	}

	summary.Render(os.Stdout, c.Stats(), filepath.Join(cfg.Output.Directory, domain))
	return ExitSuccess
}

// loadConfig loads configuration from file and applies CLI overrides
func loadConfig(cliCfg CLIConfig) (*config.Config, error) {
	if cliCfg.ConfigFile != "" {
		cfg := config.DefaultConfig()
		if err := cfg.LoadFile(cliCfg.ConfigFile); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load()
}

// applyCLIOverrides lets flags win over the config file.
func applyCLIOverrides(cliCfg CLIConfig, cfg *config.Config) {
	if cliCfg.OutputDir != "" {
		cfg.Output.Directory = cliCfg.OutputDir
	}
	if cliCfg.MaxPages > 0 {
		cfg.Crawl.MaxPages = cliCfg.MaxPages
	}
	if cliCfg.SkipExisting {
		cfg.Crawl.SkipExisting = true
	}
	if cliCfg.SkipPatterns != "" {
		for _, p := range strings.Split(cliCfg.SkipPatterns, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Crawl.SkipPatterns = append(cfg.Crawl.SkipPatterns, p)
			}
		}
	}
	if cliCfg.Delay > 0 {
		cfg.Crawl.Delay = cliCfg.Delay
	}
	if cliCfg.Timeout > 0 {
		cfg.Network.Timeout = cliCfg.Timeout
	}
	if cliCfg.UserAgent != "" {
		cfg.Network.UserAgent = cliCfg.UserAgent
	}
	if cliCfg.Proxy != "" {
		cfg.Network.Proxy = cliCfg.Proxy
	}
	if cliCfg.HTTP3 {
		cfg.Network.HTTP3 = true
	}
	if cliCfg.NoCheckCert {
		cfg.Network.InsecureSkipVerify = true
	}
	if cliCfg.NoColor {
		cfg.Output.Colors = false
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
}

// setupLogger builds the structured logger from config. The returned
// closer flushes an optional log file.
func setupLogger(cfg *config.Config) (*log.Logger, func(), error) {
	out := os.Stderr
	closeFn := func() {}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
	})

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	return logger, closeFn, nil
}

// buildClientOptions creates HTTP client options from config
func buildClientOptions(cfg *config.Config) []archive.ClientOption {
	opts := []archive.ClientOption{
		archive.WithTimeout(cfg.Network.Timeout),
	}

	if cfg.Network.UserAgent != "" {
		opts = append(opts, archive.WithUserAgent(cfg.Network.UserAgent))
	}

	if cfg.Network.Proxy != "" {
		if strings.HasPrefix(cfg.Network.Proxy, "socks5://") {
			opts = append(opts, archive.WithSOCKS5Proxy(cfg.Network.Proxy, nil))
		} else {
			opts = append(opts, archive.WithProxy(cfg.Network.Proxy))
		}
	}

	for key, value := range cfg.Network.Headers {
		opts = append(opts, archive.WithHeader(key, value))
	}

	if cfg.Network.InsecureSkipVerify {
		opts = append(opts, archive.WithInsecureSkipVerify(true))
	}

	if cfg.Network.HTTP3 {
		opts = append(opts, archive.WithHTTP3(true))
	}

	return opts
}

// initConfig generates a default configuration file
func initConfig() int {
	configPath, err := config.GetDefaultConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Cannot determine config path: %v\n", err)
		return ExitGeneralError
	}

	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(os.Stderr, "Config file already exists: %s\n", configPath)
		fmt.Fprintf(os.Stderr, "Use --config to specify a different file.\n")
		return ExitGeneralError
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create config directory: %v\n", err)
		return ExitGeneralError
	}
	if err := os.WriteFile(configPath, []byte(config.GenerateDefaultConfig()), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to save config: %v\n", err)
		return ExitGeneralError
	}

	fmt.Printf("Created default config file: %s\n", configPath)
	fmt.Println("\nYou can customize your settings there.")
	return ExitSuccess
}

func printUsage() {
	fmt.Printf(`%s

Usage:
  waybackdl [OPTIONS] DOMAIN DATE

Downloads a website from the Wayback Machine as it was captured on
DATE (YYYYMMDD), rewriting links so the mirror browses locally.

Options:
  -P, --dir DIR          Mirror root directory (default: websites)
      --max-pages N      Stop after N pages (0 = unlimited)
  -c, --skip-existing    Keep files from a previous run, fetch only new ones
      --skip LIST        Comma-separated URL substrings to exclude
      --delay DUR        Pause between page fetches (default: 500ms)
  -T, --timeout DUR      Per-request timeout (default: 30s)
      --user-agent UA    Fixed User-Agent (default: rotate browser fingerprints)
      --proxy URL        Use proxy (http://host:port or socks5://host:port)
      --http3            Use HTTP/3 (QUIC) transport
      --no-check-certificate  Skip TLS certificate verification
      --no-color         Disable colored output
      --debug LEVEL      Log verbosity: debug, info, warn, error (default: info)
      --config FILE      Use custom config file
      --init-config      Generate default config file
  -h, --help             Show this help message
  -V, --version          Show version information

Exit Codes:
  0  Success
  1  General error
  2  Parse/config error
  3  Network error (including no archived homepage)
  8  Interrupted (Ctrl+C)

Examples:
  waybackdl example.com 20150101
  waybackdl -P /mirrors example.com 20150101
  waybackdl --max-pages 200 --delay 1s example.com 20150101
  waybackdl -c example.com 20150101
  waybackdl --skip "/wp-admin/,?replytocom=" example.com 20150101
  waybackdl --proxy socks5://127.0.0.1:9050 example.com 20150101
`, version.Full())
}
