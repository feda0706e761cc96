package models

import (
	"regexp"
	"time"
)

// CrawlJob is the immutable, fully resolved description of one site crawl
type CrawlJob struct {
	SiteID       string
	RunID        string // Unique per run, used in logs and stored records
	StartURL     string
	ScopePattern string
	Scope        *regexp.Regexp // Compiled ScopePattern; matched as an unanchored search
	Depth        int            // Number of level transitions to perform
	MaxRetries   int            // Additional attempts after the first one
	NumWorkers   int
	DelayPerHost time.Duration
	UserAgent    string

	RetryOnStatus bool // Treat 5xx and 429 responses as transient failures
}

// ExtractedPage is the transient result of fetching and extracting one URL
type ExtractedPage struct {
	SiteID string
	URL    string
	Text   string
	Links  []string
	Level  int // 1-based level at which the URL was active
}

// CrawlReport summarizes a finished (or interrupted) crawl of one site
type CrawlReport struct {
	SiteID            string        `yaml:"site_id"`
	RunID             string        `yaml:"run_id"`
	Levels            int           `yaml:"levels"`             // Level transitions performed
	Checked           int           `yaml:"checked"`            // Size of the checked set after the final fold
	Fetched           int           `yaml:"fetched"`            // Successful fetches
	PagesStored       int           `yaml:"pages_stored"`       // Successful sink writes
	PermanentFailures int           `yaml:"permanent_failures"` // URLs abandoned after the retry budget
	StoreFailures     int           `yaml:"store_failures"`
	Discovered        int           `yaml:"discovered"` // URLs newly accepted into the queue
	Unvisited         int           `yaml:"unvisited"`  // URLs left queued when the depth bound was reached
	Skipped           int           `yaml:"skipped"`    // Active URLs not processed due to cancellation
	Duration          time.Duration `yaml:"duration"`
}

// PageRecord is the persisted form of one stored page in the key-value sink
type PageRecord struct {
	SiteID      string    `json:"site_id"`
	RunID       string    `json:"run_id"`
	URL         string    `json:"url"`
	Text        string    `json:"text"`
	ContentHash string    `json:"content_hash"` // SHA256 hex of Text
	Level       int       `json:"level"`
	StoredAt    time.Time `json:"stored_at"`
}

// CrawlMetadata holds all metadata for a single crawl session of a site.
type CrawlMetadata struct {
	SiteKey         string         `yaml:"site_key"`
	RunID           string         `yaml:"run_id"`
	StartURL        string         `yaml:"start_url"`
	ScopePattern    string         `yaml:"scope_pattern"`
	Depth           int            `yaml:"depth"`
	CrawlStartTime  time.Time      `yaml:"crawl_start_time"`
	CrawlEndTime    time.Time      `yaml:"crawl_end_time"`
	TotalPagesSaved int            `yaml:"total_pages_saved"`
	Pages           []PageMetadata `yaml:"pages"`
}

// PageMetadata holds metadata for a single stored page.
type PageMetadata struct {
	URL           string    `yaml:"url"`
	LocalFilePath string    `yaml:"local_file_path"` // Relative to the site output dir
	Level         int       `yaml:"level"`
	ProcessedAt   time.Time `yaml:"processed_at"`
	ContentHash   string    `yaml:"content_hash"`
	TextLength    int       `yaml:"text_length"`
}
