package orchestrate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/text-scraper/pkg/config"
	"github.com/Sriram-PR/text-scraper/pkg/crawler"
	"github.com/Sriram-PR/text-scraper/pkg/fetch"
	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/storage"
)

// SiteResult contains the result of crawling a single site
type SiteResult struct {
	SiteKey  string
	Success  bool
	Error    error
	Report   models.CrawlReport
	Duration time.Duration
}

// Options contains optional collaborators for NewOrchestrator
type Options struct {
	// Observer receives every site's crawl events in addition to the log observer
	Observer crawler.Observer
	// RetryObserver builds a per-site retry observer, e.g. metrics.Recorder.RetryObserver
	RetryObserver func(siteKey string) fetch.RetryObserver
	// Sleeper replaces real-time backoff sleeps
	Sleeper fetch.Sleeper
}

// Orchestrator manages parallel crawling of multiple sites
type Orchestrator struct {
	appCfg   *config.AppConfig
	log      *logrus.Entry
	siteKeys []string
	opts     Options

	// Shared resources
	httpClient      *http.Client
	hostLimiter     *fetch.HostLimiter
	globalSemaphore *semaphore.Weighted
	backoff         fetch.BackoffPolicy

	// Results
	results   []SiteResult
	resultsMu sync.Mutex

	// Coordination
	cancelMu sync.Mutex
	cancel   context.CancelFunc
	canceled bool
}

// NewOrchestrator creates a new orchestrator for parallel site crawling.
// appCfg must already be validated.
func NewOrchestrator(appCfg *config.AppConfig, siteKeys []string, log *logrus.Entry, opts *Options) *Orchestrator {
	o := &Orchestrator{
		appCfg:      appCfg,
		log:         log,
		siteKeys:    siteKeys,
		httpClient:  fetch.NewClient(appCfg.HTTPClientSettings, log),
		hostLimiter: fetch.NewHostLimiter(appCfg.DefaultDelayPerHost, log),
		backoff:     fetch.BackoffFromConfig(appCfg.Backoff),
		results:     make([]SiteResult, 0, len(siteKeys)),
	}
	if appCfg.MaxRequests > 0 {
		o.globalSemaphore = semaphore.NewWeighted(int64(appCfg.MaxRequests))
	}
	if opts != nil {
		o.opts = *opts
	}
	return o
}

// siteRun is a site whose job, sink and crawler were built before any crawl started
type siteRun struct {
	key     string
	job     models.CrawlJob
	sink    storage.Sink
	crawler *crawler.Crawler
	log     *logrus.Entry
	started time.Time
}

// Run crawls all sites in parallel and waits for completion.
// Every site is configured first, so configuration errors surface before any fetching begins.
// Results are sorted by site key.
func (o *Orchestrator) Run(ctx context.Context) []SiteResult {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.cancelMu.Lock()
	o.cancel = cancel
	if o.canceled {
		cancel()
	}
	o.cancelMu.Unlock()

	startTime := time.Now()
	o.log.Infof("Preparing %d sites: %v", len(o.siteKeys), o.siteKeys)

	var runs []*siteRun
	for _, siteKey := range o.siteKeys {
		run, failed := o.prepareSite(siteKey)
		if run == nil {
			o.addResult(failed)
			continue
		}
		runs = append(runs, run)
	}
	o.applyHostIntervals(runs)

	o.log.Infof("Starting parallel crawl of %d sites", len(runs))
	var wg sync.WaitGroup
	for _, run := range runs {
		wg.Add(1)
		go func(r *siteRun) {
			defer wg.Done()
			o.addResult(o.crawlSite(runCtx, r))
		}(run)
	}
	wg.Wait()

	o.resultsMu.Lock()
	sort.Slice(o.results, func(i, j int) bool { return o.results[i].SiteKey < o.results[j].SiteKey })
	results := make([]SiteResult, len(o.results))
	copy(results, o.results)
	o.resultsMu.Unlock()

	o.logSummary(results, time.Since(startTime))
	return results
}

func (o *Orchestrator) addResult(r SiteResult) {
	o.resultsMu.Lock()
	o.results = append(o.results, r)
	o.resultsMu.Unlock()
}

// prepareSite builds the job, sink, fetcher and crawler for one site.
// On failure it returns a nil run and the failed result.
func (o *Orchestrator) prepareSite(siteKey string) (*siteRun, SiteResult) {
	startTime := time.Now()
	siteLog := o.log.WithField("site_key", siteKey)

	fail := func(err error) (*siteRun, SiteResult) {
		siteLog.Errorf("Crawl failed for site '%s': %v", siteKey, err)
		return nil, SiteResult{SiteKey: siteKey, Error: err, Duration: time.Since(startTime)}
	}

	job, warnings, err := o.appCfg.BuildJob(siteKey)
	for _, w := range warnings {
		siteLog.Warnf("Config warning: %s", w)
	}
	if err != nil {
		return fail(err)
	}
	siteLog = siteLog.WithField("run_id", job.RunID)

	siteCfg := o.appCfg.Sites[siteKey]
	sink, err := storage.Open(*o.appCfg, siteCfg, job, siteLog)
	if err != nil {
		return fail(fmt.Errorf("failed to open sink for '%s': %w", siteKey, err))
	}

	fetchOpts := []fetch.Option{
		fetch.WithBackoff(o.backoff),
		fetch.WithHostLimiter(o.hostLimiter),
		fetch.WithUserAgent(job.UserAgent),
		fetch.WithMaxBodyBytes(o.appCfg.MaxPageSizeBytes),
		fetch.WithSleeper(o.opts.Sleeper),
		fetch.WithStatusRetry(job.RetryOnStatus),
	}
	if o.opts.RetryObserver != nil {
		fetchOpts = append(fetchOpts, fetch.WithRetryObserver(o.opts.RetryObserver(siteKey)))
	}
	fetcher := fetch.NewFetcher(o.httpClient, job.MaxRetries, siteLog, fetchOpts...)

	var obs crawler.Observer = crawler.NewLogObserver(o.log)
	if o.opts.Observer != nil {
		obs = crawler.MultiObserver{obs, o.opts.Observer}
	}

	c, err := crawler.NewCrawler(job, fetcher, sink, o.log, &crawler.CrawlerOptions{
		SharedSemaphore:  o.globalSemaphore,
		SemaphoreTimeout: o.appCfg.SemaphoreAcquireTimeout,
		Observer:         obs,
	})
	if err != nil {
		sink.Close()
		return fail(fmt.Errorf("failed to create crawler for '%s': %w", siteKey, err))
	}

	return &siteRun{key: siteKey, job: job, sink: sink, crawler: c, log: siteLog, started: startTime}, SiteResult{}
}

// applyHostIntervals sets each start host's politeness interval.
// Sites sharing a host with different intervals get the longest one and a warning.
func (o *Orchestrator) applyHostIntervals(runs []*siteRun) {
	type hostSetting struct {
		interval time.Duration
		sites    []string
		conflict bool
	}
	hosts := make(map[string]*hostSetting)
	var order []string
	for _, r := range runs {
		u, err := url.Parse(r.job.StartURL)
		if err != nil || u.Host == "" {
			continue
		}
		h, ok := hosts[u.Host]
		if !ok {
			h = &hostSetting{interval: r.job.DelayPerHost}
			hosts[u.Host] = h
			order = append(order, u.Host)
		} else if h.interval != r.job.DelayPerHost {
			h.conflict = true
			if r.job.DelayPerHost > h.interval {
				h.interval = r.job.DelayPerHost
			}
		}
		h.sites = append(h.sites, r.key)
	}

	for _, host := range order {
		h := hosts[host]
		if h.conflict {
			o.log.WithFields(logrus.Fields{"host": host, "sites": h.sites, "interval": h.interval}).
				Warn("Sites sharing a host configure different delay_per_host values, using the longest")
		}
		if h.interval != o.appCfg.DefaultDelayPerHost {
			o.hostLimiter.SetInterval(host, h.interval)
		}
	}
}

// crawlSite runs one prepared site and closes its sink
func (o *Orchestrator) crawlSite(ctx context.Context, r *siteRun) SiteResult {
	result := SiteResult{SiteKey: r.key}

	r.log.Infof("Starting crawl for site '%s'", r.key)
	report, runErr := r.crawler.Run(ctx)
	result.Report = report

	closeErr := r.sink.Close()
	if closeErr != nil {
		r.log.Errorf("Error closing sink: %v", closeErr)
	}
	result.Duration = time.Since(r.started)

	switch {
	case runErr != nil:
		result.Error = runErr
	case closeErr != nil:
		result.Error = fmt.Errorf("closing sink for '%s': %w", r.key, closeErr)
	default:
		result.Success = true
		r.log.Infof("Crawl completed for site '%s'", r.key)
		return result
	}
	r.log.Errorf("Crawl failed for site '%s': %v", r.key, result.Error)
	return result
}

// Cancel cancels all running crawls. Calling it before Run makes Run stop immediately.
func (o *Orchestrator) Cancel() {
	o.log.Info("Cancelling all crawls...")
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	o.canceled = true
	if o.cancel != nil {
		o.cancel()
	}
}

// logSummary logs a summary of all crawl results
func (o *Orchestrator) logSummary(results []SiteResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Parallel crawl completed in %v", totalDuration)
	o.log.Info("Site Results:")

	totalPages := 0
	successCount := 0
	failCount := 0

	for _, r := range results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalPages += r.Report.PagesStored

		o.log.Infof("  %s: %s - %d pages stored, %d failed, %d levels in %v",
			r.SiteKey, status, r.Report.PagesStored, r.Report.PermanentFailures, r.Report.Levels, r.Duration)
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d success, %d failed), %d pages stored",
		len(results), successCount, failCount, totalPages)
	o.log.Info("============================================")
}
