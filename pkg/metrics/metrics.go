// Package metrics exposes Prometheus collectors for crawl runs.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sriram-PR/text-scraper/pkg/crawler"
	"github.com/Sriram-PR/text-scraper/pkg/fetch"
	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

// Recorder counts crawl events in Prometheus. It implements crawler.Observer;
// RetryObserver returns a per-site fetch.RetryObserver.
type Recorder struct {
	registry *prometheus.Registry

	levels          *prometheus.CounterVec
	activeURLs      *prometheus.CounterVec
	pagesStored     *prometheus.CounterVec
	fetchFailures   *prometheus.CounterVec
	storeFailures   *prometheus.CounterVec
	linksFound      *prometheus.CounterVec
	linksQueued     *prometheus.CounterVec
	retries         *prometheus.CounterVec
	retryDelay      *prometheus.HistogramVec
	levelDuration   *prometheus.HistogramVec
	crawlsFinished  *prometheus.CounterVec
	unvisitedAtStop *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry, which also carries the Go and process collectors.
func NewRecorder() (*Recorder, error) {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		levels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "text_scraper_levels_total",
			Help: "Level transitions performed, labeled by site.",
		}, []string{"site"}),
		activeURLs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "text_scraper_active_urls_total",
			Help: "URLs promoted to an active level, labeled by site.",
		}, []string{"site"}),
		pagesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "text_scraper_pages_stored_total",
			Help: "Pages whose text reached the sink, labeled by site.",
		}, []string{"site"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "text_scraper_fetch_failures_total",
			Help: "URLs abandoned after fetching failed, labeled by site and error category.",
		}, []string{"site", "category"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "text_scraper_store_failures_total",
			Help: "Failed sink writes, labeled by site and error category.",
		}, []string{"site", "category"}),
		linksFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "text_scraper_links_found_total",
			Help: "Anchor links extracted from pages, labeled by site.",
		}, []string{"site"}),
		linksQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "text_scraper_links_queued_total",
			Help: "Links newly accepted into the queue, labeled by site.",
		}, []string{"site"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "text_scraper_fetch_retries_total",
			Help: "Fetch retries, labeled by site and error category of the failed attempt.",
		}, []string{"site", "category"}),
		retryDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "text_scraper_retry_delay_seconds",
			Help:    "Backoff delay before each retry.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"site"}),
		levelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "text_scraper_level_duration_seconds",
			Help:    "Wall time per crawl level.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1200},
		}, []string{"site"}),
		crawlsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "text_scraper_crawls_finished_total",
			Help: "Completed site crawls.",
		}, []string{"site"}),
		unvisitedAtStop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "text_scraper_unvisited_urls",
			Help: "URLs left queued when the last crawl of the site stopped.",
		}, []string{"site"}),
	}

	for _, collector := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.levels,
		r.activeURLs,
		r.pagesStored,
		r.fetchFailures,
		r.storeFailures,
		r.linksFound,
		r.linksQueued,
		r.retries,
		r.retryDelay,
		r.levelDuration,
		r.crawlsFinished,
		r.unvisitedAtStop,
	} {
		if err := r.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register crawl collector: %w", err)
		}
	}
	return r, nil
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) LevelStarted(site string, _ int, active int) {
	r.levels.WithLabelValues(site).Inc()
	r.activeURLs.WithLabelValues(site).Add(float64(active))
}

func (r *Recorder) PageStored(site, _, _ string, _ int) {
	r.pagesStored.WithLabelValues(site).Inc()
}

func (r *Recorder) LinksDiscovered(site, _ string, found, queued int) {
	r.linksFound.WithLabelValues(site).Add(float64(found))
	r.linksQueued.WithLabelValues(site).Add(float64(queued))
}

func (r *Recorder) FetchFailed(site, _ string, _ int, err error) {
	r.fetchFailures.WithLabelValues(site, utils.CategorizeError(err)).Inc()
}

func (r *Recorder) StoreFailed(site, _ string, _ int, err error) {
	r.storeFailures.WithLabelValues(site, utils.CategorizeError(err)).Inc()
}

func (r *Recorder) LevelFinished(site string, stats crawler.LevelStats) {
	if stats.Duration > 0 {
		r.levelDuration.WithLabelValues(site).Observe(stats.Duration.Seconds())
	}
}

func (r *Recorder) CrawlFinished(report models.CrawlReport) {
	r.crawlsFinished.WithLabelValues(report.SiteID).Inc()
	r.unvisitedAtStop.WithLabelValues(report.SiteID).Set(float64(report.Unvisited))
}

// RetryObserver returns a fetch.RetryObserver that records retries under site.
func (r *Recorder) RetryObserver(site string) fetch.RetryObserver {
	return siteRetries{r: r, site: site}
}

type siteRetries struct {
	r    *Recorder
	site string
}

func (s siteRetries) ObserveRetry(_ string, _ int, delay time.Duration, err error) {
	s.r.retries.WithLabelValues(s.site, utils.CategorizeError(err)).Inc()
	s.r.retryDelay.WithLabelValues(s.site).Observe(delay.Seconds())
}

var _ crawler.Observer = (*Recorder)(nil)
