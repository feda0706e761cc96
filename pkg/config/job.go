package config

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

// BuildJob resolves the effective settings for siteKey and compiles its scope.
// AppConfig.Validate should have been called first so global defaults are in place.
func (c *AppConfig) BuildJob(siteKey string) (models.CrawlJob, []string, error) {
	siteCfg, ok := c.Sites[siteKey]
	if !ok {
		return models.CrawlJob{}, nil, fmt.Errorf("%w: site key '%s' not found", utils.ErrConfigValidation, siteKey)
	}

	warnings, err := siteCfg.Validate()
	if err != nil {
		return models.CrawlJob{}, warnings, fmt.Errorf("site '%s': %w", siteKey, err)
	}

	scope, err := utils.CompileScopePattern(siteCfg.ScopePattern)
	if err != nil {
		return models.CrawlJob{}, warnings, fmt.Errorf("site '%s': %w", siteKey, err)
	}

	job := models.CrawlJob{
		SiteID:       siteKey,
		RunID:        uuid.New().String(),
		StartURL:     siteCfg.StartURL,
		ScopePattern: siteCfg.ScopePattern,
		Scope:        scope,
		Depth:        GetEffectiveDepth(siteCfg, *c),
		MaxRetries:   GetEffectiveMaxRetries(siteCfg, *c),
		NumWorkers:   c.NumWorkers,
		DelayPerHost: GetEffectiveDelayPerHost(siteCfg, *c),
		UserAgent:    GetEffectiveUserAgent(siteCfg, *c),

		RetryOnStatus: GetEffectiveRetryOnStatus(siteCfg, *c),
	}
	if job.NumWorkers <= 0 {
		job.NumWorkers = 1
	}
	return job, warnings, nil
}

// SiteKeys returns all configured site keys, sorted.
func (c *AppConfig) SiteKeys() []string {
	keys := make([]string, 0, len(c.Sites))
	for key := range c.Sites {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// CheckSiteKeys returns an error naming every requested key missing from the config.
func (c *AppConfig) CheckSiteKeys(siteKeys []string) error {
	var missing []string
	for _, key := range siteKeys {
		if _, ok := c.Sites[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: site keys not found in config: %v", utils.ErrConfigValidation, missing)
	}
	return nil
}
