package config

import "time"

// SiteConfig holds configuration specific to a single website crawl
type SiteConfig struct {
	StartURL              string        `yaml:"start_url"`
	ScopePattern          string        `yaml:"scope_pattern"` // Regex searched anywhere in a candidate URL
	Depth                 int           `yaml:"depth,omitempty"`
	MaxRetries            *int          `yaml:"max_retries,omitempty"`
	UserAgent             string        `yaml:"user_agent,omitempty"`
	DelayPerHost          time.Duration `yaml:"delay_per_host,omitempty"`
	RetryOnStatus         *bool         `yaml:"retry_on_status,omitempty"`
	EnableOutputMapping   *bool         `yaml:"enable_output_mapping,omitempty"`
	OutputMappingFilename string        `yaml:"output_mapping_filename,omitempty"`
	EnableMetadataYAML    *bool         `yaml:"enable_metadata_yaml,omitempty"`
	MetadataYAMLFilename  string        `yaml:"metadata_yaml_filename,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string                `yaml:"default_user_agent"`
	DefaultDelayPerHost     time.Duration         `yaml:"default_delay_per_host"`
	Depth                   int                   `yaml:"depth,omitempty"`
	MaxRetries              *int                  `yaml:"max_retries,omitempty"`
	NumWorkers              int                   `yaml:"num_workers"`
	MaxRequests             int                   `yaml:"max_requests"`
	OutputBaseDir           string                `yaml:"output_base_dir"`
	Sink                    string                `yaml:"sink,omitempty"` // "files" or "badger"
	StateDir                string                `yaml:"state_dir"`
	SemaphoreAcquireTimeout time.Duration         `yaml:"semaphore_acquire_timeout,omitempty"`
	GlobalCrawlTimeout      time.Duration         `yaml:"global_crawl_timeout,omitempty"`
	MaxPageSizeBytes        int64                 `yaml:"max_page_size_bytes,omitempty"`
	RetryOnStatus           bool                  `yaml:"retry_on_status,omitempty"` // Also retry 5xx and 429 responses
	Backoff                 BackoffConfig         `yaml:"backoff,omitempty"`
	HTTPClientSettings      HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites                   map[string]SiteConfig `yaml:"sites"`
	EnableOutputMapping     bool                  `yaml:"enable_output_mapping,omitempty"`
	OutputMappingFilename   string                `yaml:"output_mapping_filename,omitempty"`
	EnableMetadataYAML      bool                  `yaml:"enable_metadata_yaml,omitempty"`
	MetadataYAMLFilename    string                `yaml:"metadata_yaml_filename,omitempty"`
}

// BackoffConfig parameterizes the randomized exponential retry delay:
// (Base^attempt + max(NoiseFloor, N(NoiseMean, NoiseStdDev))) * Unit
type BackoffConfig struct {
	Base        float64       `yaml:"base,omitempty"`
	Unit        time.Duration `yaml:"unit,omitempty"`
	NoiseMean   float64       `yaml:"noise_mean,omitempty"`
	NoiseStdDev float64       `yaml:"noise_stddev,omitempty"`
	NoiseFloor  float64       `yaml:"noise_floor,omitempty"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty"` // 0 = uncapped
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

const (
	DefaultDepth      = 3
	DefaultMaxRetries = 5
	SinkFiles         = "files"
	SinkBadger        = "badger"
)

// GetEffectiveDepth returns the site depth if set, otherwise the global depth.
func GetEffectiveDepth(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.Depth > 0 {
		return siteCfg.Depth
	}
	if appCfg.Depth > 0 {
		return appCfg.Depth
	}
	return DefaultDepth
}

// GetEffectiveMaxRetries lets an explicit site value (including 0) win over the global one.
func GetEffectiveMaxRetries(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.MaxRetries != nil {
		return *siteCfg.MaxRetries
	}
	if appCfg.MaxRetries != nil {
		return *appCfg.MaxRetries
	}
	return DefaultMaxRetries
}

// GetEffectiveUserAgent determines the User-Agent header for a site
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveDelayPerHost determines the politeness interval between requests to one host
func GetEffectiveDelayPerHost(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	if siteCfg.DelayPerHost > 0 {
		return siteCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}

// GetEffectiveRetryOnStatus reports whether 5xx and 429 responses are retried for a site.
func GetEffectiveRetryOnStatus(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.RetryOnStatus != nil {
		return *siteCfg.RetryOnStatus
	}
	return appCfg.RetryOnStatus
}

// GetEffectiveEnableOutputMapping determines the effective setting for enabling the mapping file
func GetEffectiveEnableOutputMapping(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.EnableOutputMapping != nil {
		return *siteCfg.EnableOutputMapping
	}
	return appCfg.EnableOutputMapping
}

// GetEffectiveOutputMappingFilename determines the effective filename for the mapping file.
// Site config (if non-empty) overrides global.
func GetEffectiveOutputMappingFilename(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.OutputMappingFilename != "" {
		return siteCfg.OutputMappingFilename
	}
	if appCfg.OutputMappingFilename != "" {
		return appCfg.OutputMappingFilename
	}
	return "url_to_file_map.tsv"
}

// GetEffectiveEnableMetadataYAML determines if YAML metadata should be generated.
func GetEffectiveEnableMetadataYAML(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.EnableMetadataYAML != nil {
		return *siteCfg.EnableMetadataYAML
	}
	return appCfg.EnableMetadataYAML
}

// GetEffectiveMetadataYAMLFilename determines the filename for the YAML metadata.
func GetEffectiveMetadataYAMLFilename(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.MetadataYAMLFilename != "" {
		return siteCfg.MetadataYAMLFilename
	}
	if appCfg.MetadataYAMLFilename != "" {
		return appCfg.MetadataYAMLFilename
	}
	return "metadata.yaml"
}
