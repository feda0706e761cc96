package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/text-scraper/pkg/config"
	"github.com/Sriram-PR/text-scraper/pkg/fetch"
	"github.com/Sriram-PR/text-scraper/pkg/metrics"
	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/orchestrate"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "version":
		fmt.Printf("text-scraper %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `text-scraper - Depth-bounded website text crawler

Usage:
  text-scraper <command> [options]

Commands:
  crawl       Crawl one or more configured sites
  validate    Validate configuration file
  list-sites  List available site keys
  version     Show version info

Run 'text-scraper <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// parseSiteKeys turns the -site/-sites flags into a key list.
// A nil result with allSites set means every configured site.
func parseSiteKeys(site, sites string, allSites bool) ([]string, error) {
	switch {
	case allSites:
		return nil, nil
	case sites != "":
		var keys []string
		for _, s := range strings.Split(sites, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				keys = append(keys, s)
			}
		}
		if len(keys) == 0 {
			return nil, errors.New("-sites contains no site keys")
		}
		return keys, nil
	case site != "":
		return []string{site}, nil
	default:
		return nil, errors.New("one of -site, -sites, or --all-sites is required")
	}
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys for parallel crawling")
	allSites := fs.Bool("all-sites", false, "Crawl all configured sites in parallel")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics at http://<addr>/metrics (disabled by default)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	reportFile := fs.String("report", "", "Write per-site crawl reports as YAML to this file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: text-scraper crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  text-scraper crawl -site go_blog\n")
		fmt.Fprintf(os.Stderr, "  text-scraper crawl -sites go_blog,go_docs -metrics-addr :9100\n")
		fmt.Fprintf(os.Stderr, "  text-scraper crawl --all-sites -report report.yaml\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	siteKeys, err := parseSiteKeys(*siteKey, *sites, *allSites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)

	if *allSites {
		siteKeys = appCfg.SiteKeys()
		if len(siteKeys) == 0 {
			log.Fatal("No sites configured")
		}
	} else if err := appCfg.CheckSiteKeys(siteKeys); err != nil {
		log.Fatal(err)
	}

	logAppConfig(appCfg, log)
	startPprof(*pprofAddr, log)

	// ===========================================================
	// == Setup Global Context & Signal Handling ==
	// ===========================================================
	var crawlCtx context.Context
	var cancelCrawl context.CancelFunc

	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Setting global crawl timeout: %v", appCfg.GlobalCrawlTimeout)
		crawlCtx, cancelCrawl = context.WithTimeout(context.Background(), appCfg.GlobalCrawlTimeout)
	} else {
		log.Info("No global crawl timeout set.")
		crawlCtx, cancelCrawl = context.WithCancel(context.Background())
	}
	defer cancelCrawl()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		sig, ok := <-sigChan
		if !ok {
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelCrawl()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	// ===========================================================
	// == Metrics ==
	// ===========================================================
	recorder, err := metrics.NewRecorder()
	if err != nil {
		log.Fatalf("Failed to create metrics recorder: %v", err)
	}
	stopMetrics := startMetricsServer(*metricsAddr, recorder, log)
	defer stopMetrics()

	// ===========================================================
	// == Crawl ==
	// ===========================================================
	results := executeCrawl(crawlCtx, appCfg, siteKeys, recorder, log.WithField("component", "crawl"))

	if *reportFile != "" {
		if err := writeReport(*reportFile, results); err != nil {
			log.Errorf("Failed to write report: %v", err)
		} else {
			log.Infof("Crawl report written to %s", *reportFile)
		}
	}

	code := exitCode(results, crawlCtx.Err(), log)
	stopMetrics()
	cancelCrawl()
	os.Exit(code)
}

// executeCrawl runs every requested site through the orchestrator with metrics attached.
func executeCrawl(ctx context.Context, appCfg *config.AppConfig, siteKeys []string, recorder *metrics.Recorder, log *logrus.Entry) []orchestrate.SiteResult {
	opts := &orchestrate.Options{}
	if recorder != nil {
		opts.Observer = recorder
		opts.RetryObserver = func(siteKey string) fetch.RetryObserver { return recorder.RetryObserver(siteKey) }
	}
	orch := orchestrate.NewOrchestrator(appCfg, siteKeys, log, opts)
	return orch.Run(ctx)
}

// exitCode maps crawl results to the process exit status.
// An interrupted crawl exits 0; a timeout or any failed site exits 1.
func exitCode(results []orchestrate.SiteResult, ctxErr error, log *logrus.Logger) int {
	switch {
	case errors.Is(ctxErr, context.Canceled):
		log.Warn("Crawl cancelled gracefully.")
		return 0
	case errors.Is(ctxErr, context.DeadlineExceeded):
		log.Error("Crawl timed out (global timeout).")
		return 1
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		log.Errorf("%d of %d sites failed", failed, len(results))
		return 1
	}
	log.Info("Crawl completed successfully.")
	return 0
}

// siteReport is one entry of the -report file
type siteReport struct {
	SiteKey  string             `yaml:"site_key"`
	Success  bool               `yaml:"success"`
	Error    string             `yaml:"error,omitempty"`
	Duration time.Duration      `yaml:"duration"`
	Report   models.CrawlReport `yaml:"report"`
}

// writeReport writes the per-site results as a YAML list
func writeReport(path string, results []orchestrate.SiteResult) error {
	entries := make([]siteReport, 0, len(results))
	for _, r := range results {
		entry := siteReport{
			SiteKey:  r.SiteKey,
			Success:  r.Success,
			Duration: r.Duration,
			Report:   r.Report,
		}
		if r.Error != nil {
			entry.Error = r.Error.Error()
		}
		entries = append(entries, entry)
	}

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: text-scraper validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *siteKey, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := appCfg.SiteKeys()
	if siteKey != "" {
		if _, ok := appCfg.Sites[siteKey]; !ok {
			fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
			return 1
		}
		keys = []string{siteKey}
	}

	hasError := false
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: text-scraper list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListSites(*configFile, os.Stdout, os.Stderr))
}

// doListSites lists configured sites and writes output to provided writers.
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range appCfg.SiteKeys() {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    Start URL: %s\n", site.StartURL)
		fmt.Fprintf(stdout, "    Scope: %s\n", site.ScopePattern)
		fmt.Fprintf(stdout, "    Depth: %d\n", config.GetEffectiveDepth(site, *appCfg))
		fmt.Fprintln(stdout)
	}
	return 0
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Infof("Setting log level to: %s", level.String())
	}

	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	return appCfg
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// startMetricsServer serves the recorder at /metrics when addr is non-empty.
// The returned func shuts the server down and is safe to call more than once.
func startMetricsServer(addr string, recorder *metrics.Recorder, log *logrus.Logger) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Infof("Serving metrics at http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server error: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warnf("metrics server shutdown: %v", err)
		}
	}
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	maxRetries := config.DefaultMaxRetries
	if appCfg.MaxRetries != nil {
		maxRetries = *appCfg.MaxRetries
	}
	log.Infof("Global Config: Workers:%d, MaxReqs:%d, Depth:%d, MaxRetries:%d",
		appCfg.NumWorkers, appCfg.MaxRequests, appCfg.Depth, maxRetries)
	log.Infof("Global Config: DefaultDelay:%v, Sink:%s, OutputDir:%s, StateDir:%s",
		appCfg.DefaultDelayPerHost, appCfg.Sink, appCfg.OutputBaseDir, appCfg.StateDir)
	log.Infof("Global Config Backoff: Base:%.1f, Unit:%v, Noise:N(%.1f, %.1f) floor %.1f, MaxDelay:%v",
		appCfg.Backoff.Base, appCfg.Backoff.Unit, appCfg.Backoff.NoiseMean,
		appCfg.Backoff.NoiseStdDev, appCfg.Backoff.NoiseFloor, appCfg.Backoff.MaxDelay)
	log.Infof("Global Config Timeouts: SemaphoreAcquire:%v, GlobalCrawl:%v, MaxPageSize:%d bytes",
		appCfg.SemaphoreAcquireTimeout, appCfg.GlobalCrawlTimeout, appCfg.MaxPageSizeBytes)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
	log.Infof("Global Config Output Mapping: Enabled Globally:%t, Default Global Filename:'%s'",
		appCfg.EnableOutputMapping, appCfg.OutputMappingFilename)
	log.Infof("Global Config YAML Metadata: Enabled Globally:%t, Default Global Filename:'%s'",
		appCfg.EnableMetadataYAML, appCfg.MetadataYAMLFilename)
}
