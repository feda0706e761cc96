package crawler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/text-scraper/pkg/frontier"
	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/process"
	"github.com/Sriram-PR/text-scraper/pkg/storage"
	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

// PageFetcher retrieves and parses one URL. *fetch.Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// CrawlerOptions contains optional parameters for NewCrawler
type CrawlerOptions struct {
	// SharedSemaphore caps in-flight fetches across every crawler holding it. nil disables the cap.
	SharedSemaphore  *semaphore.Weighted
	SemaphoreTimeout time.Duration // Max wait for a semaphore slot; <= 0 waits until ctx is done
	Observer         Observer      // nil uses a LogObserver on the crawler's logger
}

// Crawler runs a depth-bounded, level-by-level crawl of a single site
type Crawler struct {
	job      models.CrawlJob
	log      *logrus.Entry // Logger contextualized with site_key and run_id
	frontier *frontier.Frontier
	fetcher  PageFetcher
	sink     storage.Sink
	obs      Observer

	globalSemaphore  *semaphore.Weighted
	semaphoreTimeout time.Duration
}

// NewCrawler creates a Crawler for job. The sink is not closed by the crawler.
func NewCrawler(job models.CrawlJob, fetcher PageFetcher, sink storage.Sink, baseLogger *logrus.Entry, opts *CrawlerOptions) (*Crawler, error) {
	if job.StartURL == "" {
		return nil, fmt.Errorf("%w: site '%s' has no start URL", utils.ErrConfigValidation, job.SiteID)
	}
	if fetcher == nil || sink == nil {
		return nil, fmt.Errorf("%w: site '%s' needs both a fetcher and a sink", utils.ErrConfigValidation, job.SiteID)
	}
	if job.NumWorkers <= 0 {
		job.NumWorkers = 1
	}
	if job.Depth < 0 {
		job.Depth = 0
	}

	logger := baseLogger.WithFields(logrus.Fields{"site_key": job.SiteID, "run_id": job.RunID})
	c := &Crawler{
		job:      job,
		log:      logger,
		frontier: frontier.New(job.Scope, logger),
		fetcher:  fetcher,
		sink:     sink,
		obs:      NewLogObserver(baseLogger),
	}
	if opts != nil {
		c.globalSemaphore = opts.SharedSemaphore
		c.semaphoreTimeout = opts.SemaphoreTimeout
		if opts.Observer != nil {
			c.obs = opts.Observer
		}
	}
	return c, nil
}

// Frontier exposes the crawler's URL sets, e.g. for inspection after Run.
func (c *Crawler) Frontier() *frontier.Frontier {
	return c.frontier
}

// levelCounters are updated concurrently by the workers of one level
type levelCounters struct {
	fetched       atomic.Int64
	stored        atomic.Int64
	fetchFailures atomic.Int64
	storeFailures atomic.Int64
	discovered    atomic.Int64
	skipped       atomic.Int64
}

// Run seeds the frontier with the start URL and performs job.Depth level transitions,
// processing each level's active set with a bounded worker pool.
//
// A failing page never aborts the crawl. The only error returned is the context's,
// together with the partial report.
func (c *Crawler) Run(ctx context.Context) (models.CrawlReport, error) {
	startTime := time.Now()
	report := models.CrawlReport{SiteID: c.job.SiteID, RunID: c.job.RunID}

	c.log.WithFields(logrus.Fields{"start_url": c.job.StartURL, "depth": c.job.Depth}).
		Infof("Crawl starting with %d worker(s)...", c.job.NumWorkers)

	if err := c.frontier.Seed(c.job.StartURL); err != nil {
		return report, err
	}

	for level := 1; level <= c.job.Depth; level++ {
		if ctx.Err() != nil {
			c.log.Warnf("Crawl context done before level %d: %v", level, ctx.Err())
			break
		}
		active := c.frontier.AdvanceLevel()
		report.Levels++
		c.obs.LevelStarted(c.job.SiteID, level, len(active))

		stats := c.runLevel(ctx, level, active)
		report.Fetched += stats.Fetched
		report.PagesStored += stats.Stored
		report.PermanentFailures += stats.FetchFailures
		report.StoreFailures += stats.StoreFailures
		report.Discovered += stats.Discovered
		report.Skipped += stats.Skipped
		c.obs.LevelFinished(c.job.SiteID, stats)
	}

	c.frontier.Finish()
	fs := c.frontier.Stats()
	report.Checked = fs.Checked
	report.Unvisited = fs.Queued
	report.Duration = time.Since(startTime)
	c.obs.CrawlFinished(report)

	return report, ctx.Err()
}

// runLevel processes every active URL and returns once all workers are done.
func (c *Crawler) runLevel(ctx context.Context, level int, active []string) LevelStats {
	levelStart := time.Now()
	var counters levelCounters

	g := new(errgroup.Group)
	g.SetLimit(c.job.NumWorkers)
	for _, pageURL := range active {
		if ctx.Err() != nil {
			counters.skipped.Add(1)
			continue
		}
		pageURL := pageURL
		g.Go(func() error {
			c.processURL(ctx, level, pageURL, &counters)
			return nil
		})
	}
	_ = g.Wait()

	return LevelStats{
		Level:         level,
		Active:        len(active),
		Fetched:       int(counters.fetched.Load()),
		Stored:        int(counters.stored.Load()),
		FetchFailures: int(counters.fetchFailures.Load()),
		StoreFailures: int(counters.storeFailures.Load()),
		Discovered:    int(counters.discovered.Load()),
		Skipped:       int(counters.skipped.Load()),
		Duration:      time.Since(levelStart),
	}
}

// processURL fetches one URL, stores its text and records its links.
func (c *Crawler) processURL(ctx context.Context, level int, pageURL string, counters *levelCounters) {
	taskLog := c.log.WithFields(logrus.Fields{"url": pageURL, "level": level})
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			counters.fetchFailures.Add(1)
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"duration":    time.Since(startTime).String(),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in processURL")
			c.obs.FetchFailed(c.job.SiteID, pageURL, level, fmt.Errorf("panic: %v", r))
		}
	}()

	if ctx.Err() != nil {
		counters.skipped.Add(1)
		return
	}

	doc, err := c.fetch(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, utils.ErrPermanentFetch) {
			counters.skipped.Add(1)
			return
		}
		counters.fetchFailures.Add(1)
		c.obs.FetchFailed(c.job.SiteID, pageURL, level, err)
		return
	}
	counters.fetched.Add(1)

	text, links := process.Extract(doc, c.job.StartURL)
	if text == "" {
		taskLog.Debug("No paragraph text extracted")
	}

	page := models.ExtractedPage{
		SiteID: c.job.SiteID,
		URL:    pageURL,
		Text:   text,
		Links:  links,
		Level:  level,
	}
	location, err := c.sink.Store(ctx, page)
	if err != nil {
		counters.storeFailures.Add(1)
		c.obs.StoreFailed(c.job.SiteID, pageURL, level, err)
	} else {
		counters.stored.Add(1)
		c.obs.PageStored(c.job.SiteID, pageURL, location, level)
	}

	queued := 0
	for _, link := range links {
		if c.frontier.RecordDiscovery(link) {
			queued++
		}
	}
	counters.discovered.Add(int64(queued))
	c.obs.LinksDiscovered(c.job.SiteID, pageURL, len(links), queued)

	taskLog.WithField("duration", time.Since(startTime).String()).Debug("Task completed")
}

// fetch holds a shared semaphore slot, if any, for the duration of one Fetch call.
func (c *Crawler) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	release, err := c.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.fetcher.Fetch(ctx, pageURL)
}

// acquireSlot takes one unit of the shared semaphore, if any, and returns its release func.
func (c *Crawler) acquireSlot(ctx context.Context) (release func(), err error) {
	if c.globalSemaphore == nil {
		return func() {}, nil
	}

	acquireCtx := ctx
	if c.semaphoreTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, c.semaphoreTimeout)
		defer cancel()
	}
	if err := c.globalSemaphore.Acquire(acquireCtx, 1); err != nil {
		return nil, fmt.Errorf("%w: acquire global semaphore: %w", utils.ErrSemaphoreTimeout, err)
	}
	return func() { c.globalSemaphore.Release(1) }, nil
}
