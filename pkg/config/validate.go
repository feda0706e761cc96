package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Depth
	if c.Depth < 0 {
		warnings = append(warnings, fmt.Sprintf("depth cannot be negative, defaulting to %d", DefaultDepth))
		c.Depth = DefaultDepth
	} else if c.Depth == 0 {
		c.Depth = DefaultDepth
	}

	// MaxRetries
	if c.MaxRetries == nil {
		retries := DefaultMaxRetries
		c.MaxRetries = &retries
	} else if *c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		zero := 0
		c.MaxRetries = &zero
	}

	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './crawled_text'")
		c.OutputBaseDir = "./crawled_text"
	}

	// Sink
	switch c.Sink {
	case "":
		c.Sink = SinkFiles
	case SinkFiles, SinkBadger:
	default:
		return warnings, fmt.Errorf("%w: unknown sink '%s' (expected '%s' or '%s')",
			utils.ErrConfigValidation, c.Sink, SinkFiles, SinkBadger)
	}

	// StateDir
	if c.StateDir == "" {
		if c.Sink == SinkBadger {
			warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		}
		c.StateDir = "./crawler_state"
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// MaxPageSizeBytes
	if c.MaxPageSizeBytes < 0 {
		warnings = append(warnings, "max_page_size_bytes cannot be negative, setting to 0 (default limit)")
		c.MaxPageSizeBytes = 0
	}
	if c.MaxPageSizeBytes == 0 {
		c.MaxPageSizeBytes = 10 * 1024 * 1024
	}

	// DefaultDelayPerHost
	if c.DefaultDelayPerHost < 0 {
		warnings = append(warnings, "default_delay_per_host cannot be negative, disabling politeness delay")
		c.DefaultDelayPerHost = 0
	}

	warnings = append(warnings, c.validateBackoff()...)

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	// Output mapping filename
	if c.EnableOutputMapping && c.OutputMappingFilename == "" {
		warnings = append(warnings,
			"Global 'enable_output_mapping' is true but 'output_mapping_filename' is empty. "+
				"Defaulting to 'url_to_file_map.tsv'")
		c.OutputMappingFilename = "url_to_file_map.tsv"
	}

	// Metadata YAML filename
	if c.EnableMetadataYAML && c.MetadataYAMLFilename == "" {
		warnings = append(warnings,
			"Global 'enable_metadata_yaml' is true but 'metadata_yaml_filename' is empty. "+
				"Defaulting to 'metadata.yaml'")
		c.MetadataYAMLFilename = "metadata.yaml"
	}

	return warnings, nil
}

// validateBackoff applies the default retry delay distribution.
// The noise parameters are defaulted together, only when all three are unset.
func (c *AppConfig) validateBackoff() (warnings []string) {
	b := &c.Backoff
	if b.Base <= 1 {
		if b.Base != 0 {
			warnings = append(warnings, fmt.Sprintf("backoff.base (%v) must be > 1, defaulting to 10", b.Base))
		}
		b.Base = 10
	}
	if b.Unit <= 0 {
		b.Unit = time.Second
	}
	if b.NoiseMean == 0 && b.NoiseStdDev == 0 && b.NoiseFloor == 0 {
		b.NoiseMean = 5
		b.NoiseStdDev = 2
		b.NoiseFloor = 0.1
	}
	if b.NoiseStdDev < 0 {
		warnings = append(warnings, "backoff.noise_stddev cannot be negative, using its absolute value")
		b.NoiseStdDev = -b.NoiseStdDev
	}
	if b.NoiseFloor < 0 {
		warnings = append(warnings, "backoff.noise_floor cannot be negative, setting to 0")
		b.NoiseFloor = 0
	}
	if b.MaxDelay < 0 {
		warnings = append(warnings, "backoff.max_delay cannot be negative, disabling cap")
		b.MaxDelay = 0
	}
	return warnings
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields.
// Returns collected warnings and any fatal error.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: StartURL
	if c.StartURL == "" {
		return nil, fmt.Errorf("%w: site has no start_url", utils.ErrConfigValidation)
	}
	parsed, parseErr := url.Parse(c.StartURL)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: start_url '%s' is not an absolute URL", utils.ErrConfigValidation, c.StartURL)
	}

	// Required: ScopePattern, must compile
	scope, err := utils.CompileScopePattern(c.ScopePattern)
	if err != nil {
		return nil, err
	}
	if !scope.MatchString(c.StartURL) {
		warnings = append(warnings, fmt.Sprintf(
			"scope_pattern '%s' does not match start_url; only the start page will be crawled", c.ScopePattern))
	}

	// Depth
	if c.Depth < 0 {
		warnings = append(warnings, "Site depth cannot be negative, using global depth")
		c.Depth = 0
	}

	// MaxRetries (pointer)
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		warnings = append(warnings, "Site max_retries cannot be negative, setting to 0")
		zero := 0
		c.MaxRetries = &zero
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "Site delay_per_host cannot be negative, using global delay")
		c.DelayPerHost = 0
	}

	return warnings, nil
}
